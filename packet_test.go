package tftp

import (
	"reflect"
	"testing"
)

func TestParseRequestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		op      Opcode
		file    string
		mode    Mode
		options map[string]string
	}{
		{name: "read, no options", op: OpcodeRead, file: "a", mode: ModeOctet},
		{name: "write, netascii", op: OpcodeWrite, file: "b.txt", mode: ModeNetASCII},
		{
			name: "read, blksize option",
			op:   OpcodeRead, file: "big.bin", mode: ModeOctet,
			options: map[string]string{"blksize": "1024"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := EncodeRequest(tt.op, tt.file, tt.mode, tt.options)
			got, err := Parse(raw)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}

			rp, ok := got.(*RequestPacket)
			if !ok {
				t.Fatalf("Parse returned %T, want *RequestPacket", got)
			}

			want := &RequestPacket{Opcode: tt.op, Filename: tt.file, Mode: tt.mode, Options: tt.options}
			if !reflect.DeepEqual(want, rp) {
				t.Fatalf("unexpected packet:\n- want: %+v\n-  got: %+v", want, rp)
			}
		})
	}
}

func TestParseRequestOptionKeysAreLowercased(t *testing.T) {
	raw := EncodeRequest(OpcodeRead, "f", ModeOctet, map[string]string{"BLKSIZE": "1024"})
	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	rp := got.(*RequestPacket)
	if _, ok := rp.Options["blksize"]; !ok {
		t.Fatalf("expected lowercased option key \"blksize\", got %v", rp.Options)
	}
}

func TestParseRequestMalformed(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"too short", []byte{0, 1}},
		{"bad opcode", []byte{0, 9, 'a', 0, 'o', 'c', 't', 'e', 't', 0}},
		{"no nul after filename", []byte{0, 1, 'a', 'b', 'c'}},
		{"invalid mode", []byte{0, 1, 'a', 0, 'x', 'x', 'x', 0}},
		{"odd option count", []byte{0, 1, 'a', 0, 'o', 'c', 't', 'e', 't', 0, 'k', 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.buf); err != ErrInvalidPacket {
				t.Fatalf("Parse(%v) = %v, want ErrInvalidPacket", tt.buf, err)
			}
		})
	}
}

func TestParseDataRoundTrip(t *testing.T) {
	tests := []struct {
		block   uint16
		payload []byte
	}{
		{block: 1, payload: []byte("hello")},
		{block: 65535, payload: nil},
		{block: 2, payload: make([]byte, 512)},
	}

	for _, tt := range tests {
		raw := EncodeData(tt.block, tt.payload)
		got, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}

		dp, ok := got.(*DataPacket)
		if !ok {
			t.Fatalf("Parse returned %T, want *DataPacket", got)
		}
		if dp.Block != tt.block {
			t.Fatalf("block = %d, want %d", dp.Block, tt.block)
		}
		if len(dp.Payload) != len(tt.payload) {
			t.Fatalf("payload len = %d, want %d", len(dp.Payload), len(tt.payload))
		}
	}
}

func TestParseDataBlockZeroInvalid(t *testing.T) {
	raw := EncodeData(0, []byte("x"))
	if _, err := Parse(raw); err != ErrInvalidPacket {
		t.Fatalf("Parse block 0 = %v, want ErrInvalidPacket", err)
	}
}

func TestParseAckRoundTrip(t *testing.T) {
	for _, block := range []uint16{0, 1, 65535} {
		raw := EncodeAck(block)
		got, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}

		ap, ok := got.(*AckPacket)
		if !ok {
			t.Fatalf("Parse returned %T, want *AckPacket", got)
		}
		if ap.Block != block {
			t.Fatalf("block = %d, want %d", ap.Block, block)
		}
	}
}

func TestParseAckWrongLength(t *testing.T) {
	if _, err := Parse([]byte{0, 4, 0, 1, 0}); err != ErrInvalidPacket {
		t.Fatalf("expected ErrInvalidPacket for 5-byte ACK")
	}
}

func TestParseErrorRoundTrip(t *testing.T) {
	raw := EncodeError(ErrorCodeFileNotFound, "no such file")
	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	ep, ok := got.(*ErrorPacket)
	if !ok {
		t.Fatalf("Parse returned %T, want *ErrorPacket", got)
	}
	if ep.Code != ErrorCodeFileNotFound || ep.Message != "no such file" {
		t.Fatalf("unexpected packet: %+v", ep)
	}
}

func TestParseErrorInvalidCode(t *testing.T) {
	raw := []byte{0, 5, 0, 99, 0}
	if _, err := Parse(raw); err != ErrInvalidPacket {
		t.Fatalf("expected ErrInvalidPacket for out-of-range error code")
	}
}

func TestParseOackRoundTrip(t *testing.T) {
	opts := map[string]string{"blksize": "1024", "tsize": "100"}
	raw := EncodeOack(opts)
	got, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	op, ok := got.(*OackPacket)
	if !ok {
		t.Fatalf("Parse returned %T, want *OackPacket", got)
	}
	if !reflect.DeepEqual(opts, op.Options) {
		t.Fatalf("unexpected options: %+v", op.Options)
	}
}

func TestParseOackEmptyInvalid(t *testing.T) {
	raw := []byte{0, 6}
	if _, err := Parse(raw); err != ErrInvalidPacket {
		t.Fatalf("expected ErrInvalidPacket for empty OACK")
	}
}

func TestParseNeverPanics(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		{0},
		{0, 0},
		{255, 255, 1, 2, 3},
		{0, 1},
		{0, 3, 0, 0},
		{0, 4},
		{0, 5, 0},
		{0, 6},
	}

	for _, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Fatalf("Parse(%v) panicked: %v", in, r)
				}
			}()
			_, _ = Parse(in)
		}()
	}
}
