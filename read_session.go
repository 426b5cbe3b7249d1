package tftp

import (
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/zap"
)

// readSession serves a single RRQ to completion, failure, or retransmit
// exhaustion (§4.4).
type readSession struct {
	*session

	req       *Request
	getTarget ReadTargetFactory
	target    ReadTarget

	lastBlock uint16 // block number of the most recently sent DATA
}

// NewReadSession constructs a session that will serve req as a read
// transfer once Run is called.
func NewReadSession(req *Request, serverIP net.IP, peer *net.UDPAddr, retries uint32, timeout time.Duration, getTarget ReadTargetFactory, log *zap.Logger, metrics *Metrics) Session {
	return &readSession{
		session:   newSession(serverIP, peer, retries, timeout, "read", log, metrics),
		req:       req,
		getTarget: getTarget,
	}
}

// Run drives the RRQ to completion. It never panics and always releases its
// socket and target before returning (§4.4 step 7).
func (s *readSession) Run() {
	s.metrics.sessionStarted()
	outcome := "error"
	defer func() {
		if s.target != nil {
			_ = s.target.Close()
		}
		s.close()
		s.metrics.sessionEnded("read", outcome)
	}()

	if err := s.bind(); err != nil {
		if s.log != nil {
			s.log.Error("bind failed", zap.Error(err))
		}
		return
	}

	if err := s.acquireTarget(); err != nil {
		s.reportFailure(err)
		outcome = failureOutcome(err)
		return
	}

	if err := s.start(); err != nil {
		s.reportFailure(err)
		outcome = failureOutcome(err)
		return
	}

	if err := s.loop(); err != nil {
		s.reportFailure(err)
		outcome = failureOutcome(err)
		return
	}

	outcome = "ok"
	if s.log != nil {
		s.log.Info("transfer complete")
	}
}

func (s *readSession) acquireTarget() error {
	t, err := s.getTarget(s.req.Filename)
	if err != nil {
		return mapTargetError(err)
	}
	s.target = wrapReadTarget(t, s.req.Mode)
	return nil
}

// start applies options and, when any option is accepted, sends an OACK and
// waits for its ACK(0), per §4.4 step 3. Otherwise it sends nothing and loop
// sends DATA block 1.
func (s *readSession) start() error {
	accepted, oerr := applyOptions(s.req.Options, s.target.Size)
	if oerr != nil {
		return oerr
	}

	s.blksize = accepted.blksize
	if accepted.timeout > 0 {
		s.timeout = accepted.timeout
	}

	if len(accepted.toAck) > 0 {
		if err := s.transmit(EncodeOack(accepted.toAck)); err != nil {
			return err
		}
		return s.waitAck(0)
	}

	// lastBlock is still 0, so loop numbers the first DATA block 1 and a
	// short first block ends the transfer like any other short block.
	return nil
}

// loop implements §4.4 steps 4-5: send DATA on each ACK until a short block
// has been sent and acknowledged.
func (s *readSession) loop() error {
	for {
		block, err := s.readBlock()
		if err != nil {
			return err
		}

		s.lastBlock = nextBlockNumber(s.lastBlock)
		if err := s.transmit(EncodeData(s.lastBlock, block)); err != nil {
			return err
		}
		s.metrics.bytesTransferred("tx", len(block))

		if err := s.waitAck(s.lastBlock); err != nil {
			return err
		}

		if len(block) < s.blksize {
			return nil
		}
	}
}

// readBlock accumulates exactly blksize bytes from the target, or fewer at
// EOF, per §4.4 "Reading a block".
func (s *readSession) readBlock() ([]byte, error) {
	block := make([]byte, 0, s.blksize)
	for len(block) < s.blksize {
		buf := make([]byte, s.blksize-len(block))
		n, err := s.target.Read(buf)
		if n > 0 {
			block = append(block, buf[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, NewError(ErrorCodeUndefined, "read failed: %v", err)
		}
		if n == 0 {
			break
		}
	}
	return block, nil
}

// waitAck blocks for the ACK of block, retransmitting lastSent on timeout,
// until the budget in s.retries is exhausted (§4.4 step 4, §4.7 wait loop
// rules in §4.4's "ACK filtering" paragraph).
func (s *readSession) waitAck(block uint16) error {
	if err := s.setDeadline(); err != nil {
		return err
	}

	buf := make([]byte, maxDatagram)
	for {
		n, err := s.recvFrom(buf)
		if err != nil {
			if isTimeout(err) {
				if rerr := s.retransmit(); rerr != nil {
					return rerr
				}
				if derr := s.setDeadline(); derr != nil {
					return derr
				}
				continue
			}
			if le, ok := err.(*Error); ok {
				return le
			}
			return err
		}

		pkt, perr := Parse(buf[:n])
		if perr != nil {
			return NewError(ErrorCodeIllegalOperation, "unparseable packet")
		}

		switch p := pkt.(type) {
		case *AckPacket:
			if p.Block != block {
				// Duplicate or delayed ACK; discard and keep waiting
				// within the same deadline.
				continue
			}
			s.retransmits = 0
			return nil
		case *ErrorPacket:
			return &PeerError{Code: p.Code, Message: p.Message}
		default:
			return NewError(ErrorCodeIllegalOperation, "expected ACK")
		}
	}
}

// reportFailure transmits local errors to the peer (never peer-sent ones,
// never timeouts) and logs every terminal failure, per §7.
func (s *readSession) reportFailure(err error) {
	switch e := err.(type) {
	case *Error:
		s.sendLocalError(e)
		if s.log != nil {
			s.log.Error("session ended with local error", zap.Uint16("code", uint16(e.Code)), zap.String("message", e.Message))
		}
	case *PeerError:
		if s.log != nil {
			s.log.Warn("session ended by peer error", zap.Uint16("code", uint16(e.Code)), zap.String("message", e.Message))
		}
	case *TransmitTimeout:
		if s.log != nil {
			s.log.Warn("session timed out", zap.Uint32("retries", e.Retries))
		}
	default:
		if s.log != nil {
			s.log.Error("session ended with unexpected error", zap.Error(err))
		}
	}
}

func failureOutcome(err error) string {
	switch err.(type) {
	case *PeerError:
		return "peer_error"
	case *TransmitTimeout:
		return "timeout"
	case *Error:
		return "local_error"
	default:
		return "error"
	}
}

// mapTargetError translates a Target factory failure into the local Error
// wire representation it must be reported as (§4.3, §7).
func mapTargetError(err error) *Error {
	var te *TargetError
	if errors.As(err, &te) {
		return NewError(te.Code, "%s", te.Err)
	}
	return NewError(ErrorCodeUndefined, "%s", err)
}
