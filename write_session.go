package tftp

import (
	"net"
	"time"

	"go.uber.org/zap"
)

// writeSession serves a single WRQ to completion, failure, or retransmit
// exhaustion (§4.5). It mirrors readSession with DATA and ACK roles
// reversed.
type writeSession struct {
	*session

	req       *Request
	getTarget WriteTargetFactory
	target    WriteTarget

	expected uint16 // block number of the DATA packet we're waiting for
}

// NewWriteSession constructs a session that will serve req as a write
// transfer once Run is called.
func NewWriteSession(req *Request, serverIP net.IP, peer *net.UDPAddr, retries uint32, timeout time.Duration, getTarget WriteTargetFactory, log *zap.Logger, metrics *Metrics) Session {
	return &writeSession{
		session:   newSession(serverIP, peer, retries, timeout, "write", log, metrics),
		req:       req,
		getTarget: getTarget,
	}
}

func (s *writeSession) Run() {
	s.metrics.sessionStarted()
	outcome := "error"
	defer func() {
		if s.target != nil {
			_ = s.target.Close()
		}
		s.close()
		s.metrics.sessionEnded("write", outcome)
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

func (s *writeSession) acquireTarget() error {
	t, err := s.getTarget(s.req.Filename)
	if err != nil {
		return mapTargetError(err)
	}
	s.target = wrapWriteTarget(t, s.req.Mode)
	return nil
}

// start applies options and sends either an OACK or ACK(0), per §4.5 step 2.
// Either way, the first DATA block the peer sends is block 1.
func (s *writeSession) start() error {
	accepted, oerr := applyOptions(s.req.Options, nil)
	if oerr != nil {
		return oerr
	}

	s.blksize = accepted.blksize
	if accepted.timeout > 0 {
		s.timeout = accepted.timeout
	}
	s.expected = 1

	if len(accepted.toAck) > 0 {
		return s.transmit(EncodeOack(accepted.toAck))
	}
	return s.transmit(EncodeAck(0))
}

// loop implements §4.5 steps 3-4: wait for each expected DATA block, write
// it, ACK it, and stop once a short block has been written and ACKed.
func (s *writeSession) loop() error {
	for {
		payload, err := s.waitData(s.expected)
		if err != nil {
			return err
		}

		if _, err := s.target.Write(payload); err != nil {
			return NewError(ErrorCodeUndefined, "write failed: %v", err)
		}
		s.metrics.bytesTransferred("rx", len(payload))

		if err := s.transmit(EncodeAck(s.expected)); err != nil {
			return err
		}

		if len(payload) < s.blksize {
			return nil
		}

		s.expected = nextBlockNumber(s.expected)
	}
}

// waitData blocks for the DATA packet numbered block, retransmitting the
// last ACK/OACK on timeout (§4.5 step 3).
func (s *writeSession) waitData(block uint16) ([]byte, error) {
	if err := s.setDeadline(); err != nil {
		return nil, err
	}

	buf := make([]byte, maxDatagram)
	for {
		n, err := s.recvFrom(buf)
		if err != nil {
			if isTimeout(err) {
				if rerr := s.retransmit(); rerr != nil {
					return nil, rerr
				}
				if derr := s.setDeadline(); derr != nil {
					return nil, derr
				}
				continue
			}
			if le, ok := err.(*Error); ok {
				return nil, le
			}
			return nil, err
		}

		pkt, perr := Parse(buf[:n])
		if perr != nil {
			return nil, NewError(ErrorCodeIllegalOperation, "unparseable packet")
		}

		switch p := pkt.(type) {
		case *DataPacket:
			if p.Block != block {
				// Duplicate or out-of-order DATA; discard and keep
				// waiting within the same deadline.
				continue
			}
			s.retransmits = 0
			return p.Payload, nil
		case *ErrorPacket:
			return nil, &PeerError{Code: p.Code, Message: p.Message}
		default:
			return nil, NewError(ErrorCodeIllegalOperation, "expected DATA")
		}
	}
}

func (s *writeSession) reportFailure(err error) {
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
