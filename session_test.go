package tftp

import (
	"net"
	"testing"
	"time"
)

func TestApplyOptionsDefaults(t *testing.T) {
	accepted, err := applyOptions(nil, nil)
	if err != nil {
		t.Fatalf("applyOptions: %v", err)
	}
	if accepted.blksize != DefaultBlockSize {
		t.Fatalf("blksize = %d, want %d", accepted.blksize, DefaultBlockSize)
	}
	if len(accepted.toAck) != 0 {
		t.Fatalf("toAck = %+v, want empty", accepted.toAck)
	}
}

func TestApplyOptionsBlksize(t *testing.T) {
	accepted, err := applyOptions(map[string]string{"blksize": "1024"}, nil)
	if err != nil {
		t.Fatalf("applyOptions: %v", err)
	}
	if accepted.blksize != 1024 {
		t.Fatalf("blksize = %d, want 1024", accepted.blksize)
	}
	if accepted.toAck["blksize"] != "1024" {
		t.Fatalf("toAck[blksize] = %q, want 1024", accepted.toAck["blksize"])
	}
}

func TestApplyOptionsBlksizeOutOfRange(t *testing.T) {
	for _, v := range []string{"0", "7", "65465", "100000"} {
		_, err := applyOptions(map[string]string{"blksize": v}, nil)
		if err == nil {
			t.Fatalf("blksize %q: expected error", v)
		}
		if err.Code != ErrorCodeInvalidOptions {
			t.Fatalf("blksize %q: code = %d, want %d", v, err.Code, ErrorCodeInvalidOptions)
		}
	}
}

func TestApplyOptionsBlksizeNotANumber(t *testing.T) {
	_, err := applyOptions(map[string]string{"blksize": "abc"}, nil)
	if err == nil {
		t.Fatal("expected error for non-numeric blksize")
	}
	want := "invalid block size abc."
	if err.Message != want {
		t.Fatalf("message = %q, want %q", err.Message, want)
	}
}

func TestApplyOptionsTimeout(t *testing.T) {
	accepted, err := applyOptions(map[string]string{"timeout": "10"}, nil)
	if err != nil {
		t.Fatalf("applyOptions: %v", err)
	}
	if accepted.timeout != 10*time.Second {
		t.Fatalf("timeout = %v, want 10s", accepted.timeout)
	}
	if accepted.toAck["timeout"] != "10" {
		t.Fatalf("toAck[timeout] = %q, want 10", accepted.toAck["timeout"])
	}
}

func TestApplyOptionsTimeoutOutOfRange(t *testing.T) {
	for _, v := range []string{"0", "256"} {
		_, err := applyOptions(map[string]string{"timeout": v}, nil)
		if err == nil {
			t.Fatalf("timeout %q: expected error", v)
		}
		if err.Code != ErrorCodeInvalidOptions {
			t.Fatalf("timeout %q: code = %d, want %d", v, err.Code, ErrorCodeInvalidOptions)
		}
	}
}

func TestApplyOptionsTsizeFromSizeFn(t *testing.T) {
	sizeFn := func() (uint64, bool) { return 4096, true }
	accepted, err := applyOptions(map[string]string{"tsize": "0"}, sizeFn)
	if err != nil {
		t.Fatalf("applyOptions: %v", err)
	}
	if accepted.toAck["tsize"] != "4096" {
		t.Fatalf("toAck[tsize] = %q, want 4096", accepted.toAck["tsize"])
	}
}

func TestApplyOptionsTsizeUnknownSizeOmitted(t *testing.T) {
	sizeFn := func() (uint64, bool) { return 0, false }
	accepted, err := applyOptions(map[string]string{"tsize": "0"}, sizeFn)
	if err != nil {
		t.Fatalf("applyOptions: %v", err)
	}
	if _, ok := accepted.toAck["tsize"]; ok {
		t.Fatalf("tsize should be omitted when size is unknown, got %+v", accepted.toAck)
	}
}

func TestApplyOptionsTsizeWriteEchoesVerbatim(t *testing.T) {
	accepted, err := applyOptions(map[string]string{"tsize": "10"}, nil)
	if err != nil {
		t.Fatalf("applyOptions: %v", err)
	}
	if accepted.toAck["tsize"] != "10" {
		t.Fatalf("toAck[tsize] = %q, want 10", accepted.toAck["tsize"])
	}
}

func TestApplyOptionsUnknownOptionIgnored(t *testing.T) {
	accepted, err := applyOptions(map[string]string{"rollover": "1"}, nil)
	if err != nil {
		t.Fatalf("applyOptions: %v", err)
	}
	if len(accepted.toAck) != 0 {
		t.Fatalf("toAck = %+v, want empty", accepted.toAck)
	}
}

func TestNextBlockNumberWraps(t *testing.T) {
	if got := nextBlockNumber(65535); got != 1 {
		t.Fatalf("nextBlockNumber(65535) = %d, want 1", got)
	}
	if got := nextBlockNumber(1); got != 2 {
		t.Fatalf("nextBlockNumber(1) = %d, want 2", got)
	}
	if got := nextBlockNumber(0); got != 1 {
		t.Fatalf("nextBlockNumber(0) = %d, want 1", got)
	}
}

func TestNormalizeUDPAddrStripsV4MappedV6(t *testing.T) {
	mapped := &net.UDPAddr{IP: net.ParseIP("::ffff:192.0.2.1"), Port: 69}
	got := normalizeUDPAddr(mapped)
	if got.IP.String() != "192.0.2.1" {
		t.Fatalf("normalized IP = %s, want 192.0.2.1", got.IP)
	}
	if got.Port != 69 {
		t.Fatalf("normalized port = %d, want 69", got.Port)
	}
}

func TestNormalizeUDPAddrLeavesV6Alone(t *testing.T) {
	addr := &net.UDPAddr{IP: net.ParseIP("2001:db8::1"), Port: 69}
	got := normalizeUDPAddr(addr)
	if !got.IP.Equal(addr.IP) {
		t.Fatalf("normalized IP = %s, want %s", got.IP, addr.IP)
	}
}

func TestAddrEqual(t *testing.T) {
	a := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1234}
	b := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1234}
	c := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5678}

	if !addrEqual(a, b) {
		t.Fatal("expected equal addrs to compare equal")
	}
	if addrEqual(a, c) {
		t.Fatal("expected different ports to compare unequal")
	}
}
