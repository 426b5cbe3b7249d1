package tftp

import "io"

// ReadTarget is the read side of the embedder-supplied Target contract
// (§4.3): a byte source for an RRQ transfer, plus an optional advertised
// total size used to answer the tsize option.
type ReadTarget interface {
	io.Reader
	io.Closer

	// Size reports the target's total size in bytes, if known. The second
	// return value is false when the size cannot be determined (e.g. a
	// non-seekable stream), in which case tsize is silently omitted from
	// any OACK.
	Size() (size uint64, ok bool)
}

// WriteTarget is the write side of the embedder-supplied Target contract
// (§4.3): a byte sink for a WRQ transfer.
type WriteTarget interface {
	io.Writer
	io.Closer
}

// TargetError classifies a failure from a Target factory so the dispatcher
// or session can map it onto the correct wire ERROR code (§4.3, §7).
type TargetError struct {
	Code ErrorCode
	Err  error
}

func (e *TargetError) Error() string { return e.Err.Error() }
func (e *TargetError) Unwrap() error { return e.Err }

// ErrFileNotFound wraps err as a TargetError mapped to ERROR code 1.
func ErrFileNotFound(err error) error {
	return &TargetError{Code: ErrorCodeFileNotFound, Err: err}
}

// ErrAccessViolation wraps err as a TargetError mapped to ERROR code 2.
func ErrAccessViolation(err error) error {
	return &TargetError{Code: ErrorCodeAccessViolation, Err: err}
}

// ErrFileExists wraps err as a TargetError mapped to ERROR code 6.
func ErrFileExists(err error) error {
	return &TargetError{Code: ErrorCodeFileExists, Err: err}
}

// ReadTargetFactory resolves a readable Target for a request's filename. The
// read session wraps the result with a netASCII encoder (wrapReadTarget) when
// the request's mode requires it.
type ReadTargetFactory func(filename string) (ReadTarget, error)

// WriteTargetFactory resolves a writable Target for a request's filename.
// The write session wraps the result with a netASCII decoder
// (wrapWriteTarget) when the request's mode requires it.
type WriteTargetFactory func(filename string) (WriteTarget, error)

// wrapReadTarget applies the netASCII encode transform when mode requires
// it, per §4.3.
func wrapReadTarget(t ReadTarget, mode Mode) ReadTarget {
	if mode != ModeNetASCII {
		return t
	}
	return newNetASCIIEncoder(t)
}

// wrapWriteTarget applies the netASCII decode transform when mode requires
// it, per §4.3.
func wrapWriteTarget(t WriteTarget, mode Mode) WriteTarget {
	if mode != ModeNetASCII {
		return t
	}
	return newNetASCIIDecoder(t)
}
