package tftp

import (
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// maxDatagram is large enough to hold any DATA packet the server will ever
// receive on a session socket: a 4-byte header plus the largest negotiable
// blksize (65464), comfortably under the 65507-byte UDP payload ceiling.
const maxDatagram = 65464 + 4

// session holds the state and behavior shared by readSession and
// writeSession: the bound ephemeral socket, the fixed peer, negotiated
// options, and the retransmit/wait primitives that drive the lock-step
// exchange (§3 Session state, §4.4/§4.5).
type session struct {
	conn *net.UDPConn
	peer *net.UDPAddr

	serverIP net.IP

	blksize     int
	timeout     time.Duration
	retries     uint32
	retransmits uint32
	lastSent    []byte

	log     *zap.Logger
	metrics *Metrics
	kind    string // "read" or "write", for metric labels
}

func newSession(serverIP net.IP, peer *net.UDPAddr, retries uint32, timeout time.Duration, kind string, log *zap.Logger, metrics *Metrics) *session {
	return &session{
		peer:     normalizeUDPAddr(peer),
		serverIP: serverIP,
		blksize:  DefaultBlockSize,
		timeout:  timeout,
		retries:  retries,
		log:      log,
		metrics:  metrics,
		kind:     kind,
	}
}

// bind opens the session's dedicated ephemeral UDP socket, per §4.4/§4.5
// step 1. Address family follows serverIP.
func (s *session) bind() error {
	conn, err := net.ListenUDP(udpNetwork(s.serverIP), &net.UDPAddr{IP: s.serverIP, Port: 0})
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

// close releases the session socket. It is safe to call multiple times.
func (s *session) close() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

func udpNetwork(ip net.IP) string {
	if ip.To4() != nil {
		return "udp4"
	}
	return "udp6"
}

// normalizeUDPAddr strips an IPv4-mapped IPv6 prefix from a peer address, so
// later comparisons and log output are stable regardless of which family
// the listening socket accepted the request on (§4.4 step 1, §9).
func normalizeUDPAddr(a *net.UDPAddr) *net.UDPAddr {
	if a == nil {
		return nil
	}
	if v4 := a.IP.To4(); v4 != nil {
		return &net.UDPAddr{IP: v4, Port: a.Port, Zone: a.Zone}
	}
	return a
}

func addrEqual(a, b *net.UDPAddr) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

// transmit sends raw to the session peer and remembers it as lastSent for
// retransmission.
func (s *session) transmit(raw []byte) error {
	s.lastSent = raw
	_, err := s.conn.WriteToUDP(raw, s.peer)
	return err
}

// retransmit resends lastSent, counting against the retransmit budget.
// It returns a *TransmitTimeout once the budget is exhausted (§4.4 step 4,
// §7).
func (s *session) retransmit() error {
	if s.retransmits >= s.retries {
		return &TransmitTimeout{Retries: s.retries}
	}
	s.retransmits++
	s.metrics.retransmit(s.kind)
	if s.log != nil {
		s.log.Warn("retransmitting", zap.Uint32("attempt", s.retransmits))
	}
	_, err := s.conn.WriteToUDP(s.lastSent, s.peer)
	return err
}

// isTimeout reports whether err is a deadline expiry on the session socket.
func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// recvFrom blocks until a datagram arrives or the session's timeout
// deadline (set once by the caller via setDeadline) expires. It validates
// the sender is the session peer, per §4.4's strict peer-isolation policy:
// any other sender yields a local Error (ERROR code 0) that terminates the
// session.
func (s *session) recvFrom(buf []byte) (int, error) {
	n, addr, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, err
	}
	if !addrEqual(s.peer, addr) {
		return 0, NewError(ErrorCodeUndefined, "packet received from unexpected peer %s", addr)
	}
	return n, nil
}

func (s *session) setDeadline() error {
	return s.conn.SetReadDeadline(time.Now().Add(s.timeout))
}

// sendLocalError transmits a locally-raised Error to the peer, per §7: "local
// errors surface to the peer exactly once".
func (s *session) sendLocalError(e *Error) {
	_, _ = s.conn.WriteToUDP(EncodeError(e.Code, e.Message), s.peer)
}

// acceptedOptions is the result of applying a request's option list: the
// subset to echo back in an OACK, plus the (possibly still-default) session
// parameters it produced.
type acceptedOptions struct {
	toAck   map[string]string
	blksize int
	timeout time.Duration
}

// applyOptions validates and applies blksize/timeout/tsize, per §4.6.
// sizeFn, when non-nil, supplies the RRQ target's size for the tsize
// option; it is nil for WRQ, where tsize is informational only and is echoed
// back in canonical decimal form once validated.
func applyOptions(options map[string]string, sizeFn func() (uint64, bool)) (*acceptedOptions, *Error) {
	out := &acceptedOptions{
		toAck:   make(map[string]string),
		blksize: DefaultBlockSize,
	}

	for k, v := range options {
		switch k {
		case "blksize":
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, NewError(ErrorCodeInvalidOptions, "invalid block size %s.", v)
			}
			if n < 8 || n > 65464 {
				return nil, NewError(ErrorCodeInvalidOptions, "block size value (%d) is out of range(8-65464).", n)
			}
			out.blksize = n
			out.toAck["blksize"] = v

		case "tsize":
			if sizeFn != nil {
				if size, ok := sizeFn(); ok {
					out.toAck["tsize"] = strconv.FormatUint(size, 10)
				}
				// Target can't report size: option is silently omitted.
				continue
			}

			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return nil, NewError(ErrorCodeInvalidOptions, "invalid tsize %s", v)
			}
			out.toAck["tsize"] = strconv.FormatUint(n, 10)

		case "timeout":
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, NewError(ErrorCodeInvalidOptions, "invalid timeout %s", v)
			}
			if n < 1 || n > 255 {
				return nil, NewError(ErrorCodeInvalidOptions, "timeout value (%d) is out of range(1, 255)", n)
			}
			out.timeout = time.Duration(n) * time.Second
			out.toAck["timeout"] = v

			// Unknown options are silently ignored, per RFC 2347.
		}
	}

	return out, nil
}

// nextBlockNumber computes the block number following cur, wrapping 65535
// back to 1 and never to 0 (§3, §4.4: "this implementation wraps to 1").
func nextBlockNumber(cur uint16) uint16 {
	if cur == 65535 {
		return 1
	}
	return cur + 1
}
