package tftp

import "fmt"

// Error represents a fault raised locally during a session. Unlike
// ErrorPacket (the wire encoding), Error is the Go value sessions raise
// internally; it is translated to an ERROR packet exactly once, at the
// point the session gives up (§7).
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("tftp: local error %d: %s", e.Code, e.Message)
}

// NewError constructs a local Error with a formatted message.
func NewError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// PeerError represents an ERROR packet received from the peer. It is never
// echoed back; it only terminates the session and is logged (§7).
type PeerError struct {
	Code    ErrorCode
	Message string
}

func (e *PeerError) Error() string {
	return fmt.Sprintf("tftp: peer error %d: %s", e.Code, e.Message)
}

// TransmitTimeout is raised when a session exhausts its retransmit budget
// without receiving the packet it was waiting for (§7).
type TransmitTimeout struct {
	Retries uint32
}

func (e *TransmitTimeout) Error() string {
	return fmt.Sprintf("tftp: no response after %d retransmissions", e.Retries)
}
