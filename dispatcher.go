package tftp

import (
	"net"
	"time"

	"go.uber.org/zap"
)

// requestBufferSize is the maximum size of an RRQ/WRQ datagram the
// dispatcher will accept, per §4.7.
const requestBufferSize = 512

// Server represents a TFTP server bound to a single well-known UDP port. It
// parses incoming RRQ/WRQ datagrams and spawns one session per valid
// request, each on its own ephemeral port (§4.7).
type Server struct {
	// Addr is the host:port pair the dispatcher's well-known socket binds
	// to. The default, per RFC 1350 Section 4, is ":69".
	Addr string

	// Handler resolves a parsed Request into the Session that will serve
	// it. Handler must not be nil.
	Handler Handler

	// Retries is the retransmit budget handed to every spawned session.
	Retries uint32

	// Timeout is the default per-packet wait deadline handed to every
	// spawned session, before any timeout option negotiation.
	Timeout time.Duration

	// Concurrency bounds the number of sessions in flight at once. Zero
	// means unbounded. Requests arriving while the bound is saturated are
	// dropped, not queued (§5, §6).
	Concurrency int

	Logger  *zap.Logger
	Metrics *Metrics

	sem chan struct{}
}

// ListenAndServe is a convenience wrapper around (&Server{...}).ListenAndServe.
func ListenAndServe(addr string, handler Handler) error {
	return (&Server{Addr: addr, Handler: handler}).ListenAndServe()
}

// ListenAndServe binds s.Addr and serves until a fatal socket error occurs.
func (s *Server) ListenAndServe() error {
	addr := s.Addr
	if addr == "" {
		addr = ":69"
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP(udpNetwork(udpAddr.IP), udpAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	return s.Serve(conn)
}

// Serve reads requests from conn and spawns a goroutine per valid request.
// conn's local address supplies the IP new sessions bind their ephemeral
// sockets to.
func (s *Server) Serve(conn *net.UDPConn) error {
	if s.Concurrency > 0 {
		s.sem = make(chan struct{}, s.Concurrency)
	}

	localAddr, _ := conn.LocalAddr().(*net.UDPAddr)

	buf := make([]byte, requestBufferSize)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}

		req, ok := parseRequestDatagram(buf[:n])
		if !ok {
			if s.Logger != nil {
				s.Logger.Debug("discarding malformed or non-request datagram", zap.String("peer", peer.String()))
			}
			continue
		}

		s.Metrics.requestReceived(req.Opcode)

		if !s.acquire() {
			if s.Logger != nil {
				s.Logger.Warn("dropping request, concurrency limit reached", zap.String("peer", peer.String()))
			}
			continue
		}

		go s.spawn(req, localAddr, peer)
	}
}

func (s *Server) spawn(req *Request, localAddr, peer *net.UDPAddr) {
	defer s.release()

	req.RemoteAddr = peer.String()

	sess, err := s.Handler.Handle(req, localAddr, peer, s.Retries, s.Timeout)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error("handler failed to produce a session", zap.Error(err))
		}
		return
	}

	sess.Run()
}

func (s *Server) acquire() bool {
	if s.sem == nil {
		return true
	}
	select {
	case s.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Server) release() {
	if s.sem == nil {
		return
	}
	<-s.sem
}

// parseRequestDatagram parses b as an RRQ/WRQ. Any other opcode, or any
// malformed datagram, is rejected (§4.7: "a non-RRQ/non-WRQ opcode on the
// well-known port is discarded").
func parseRequestDatagram(b []byte) (*Request, bool) {
	pkt, err := Parse(b)
	if err != nil {
		return nil, false
	}

	rp, ok := pkt.(*RequestPacket)
	if !ok {
		return nil, false
	}

	return &Request{
		Opcode:   rp.Opcode,
		Filename: rp.Filename,
		Mode:     rp.Mode,
		Options:  rp.Options,
	}, true
}
