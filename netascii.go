package tftp

import (
	"bytes"
	"io"
)

// netASCIIEncoder wraps a ReadTarget, transforming plain bytes read from it
// into netascii form on the fly (§4.2, read side):
//
//	'\n' -> "\r\n"
//	'\r' -> "\r\x00"
//
// Expansion can overflow the caller's requested read size, so any overflow
// is held in a residual buffer and drained before producing new output.
type netASCIIEncoder struct {
	src ReadTarget

	residual []byte

	// slurp holds the fully materialized encoded stream once Size has been
	// called; subsequent reads are served from it instead of src.
	slurp    []byte
	slurpPos int
	slurped  bool
}

func newNetASCIIEncoder(src ReadTarget) *netASCIIEncoder {
	return &netASCIIEncoder{src: src}
}

func (e *netASCIIEncoder) Read(p []byte) (int, error) {
	if e.slurped {
		if e.slurpPos >= len(e.slurp) {
			return 0, io.EOF
		}
		n := copy(p, e.slurp[e.slurpPos:])
		e.slurpPos += n
		return n, nil
	}

	return e.read(p)
}

// read drains the residual buffer first, then reads and encodes fresh bytes
// from src until p is full or src is exhausted.
func (e *netASCIIEncoder) read(p []byte) (int, error) {
	out := make([]byte, 0, len(p))

	if len(e.residual) > 0 {
		n := copy(out[:cap(out)], e.residual)
		out = out[:n]
		e.residual = e.residual[n:]
	}

	var srcErr error
	if len(out) < len(p) {
		raw := make([]byte, len(p))
		n, err := e.src.Read(raw)
		srcErr = err
		if n > 0 {
			encoded := encodeNetASCII(raw[:n])

			room := len(p) - len(out)
			take := encoded
			if len(take) > room {
				take = encoded[:room]
				e.residual = append(e.residual, encoded[room:]...)
			}
			out = append(out, take...)
		}
	}

	copy(p, out)

	if srcErr != nil && srcErr != io.EOF {
		return len(out), srcErr
	}
	if len(out) == 0 && srcErr == io.EOF {
		return 0, io.EOF
	}

	return len(out), nil
}

// Close closes the underlying target.
func (e *netASCIIEncoder) Close() error { return e.src.Close() }

// Size materializes the entire encoded stream once, caching it so both Size
// and subsequent Read calls are consistent (§4.2: "size() must materialize
// the fully transformed byte count").
func (e *netASCIIEncoder) Size() (uint64, bool) {
	if !e.slurped {
		var buf bytes.Buffer
		chunk := make([]byte, DefaultBlockSize)
		for {
			n, err := e.read(chunk)
			if n > 0 {
				buf.Write(chunk[:n])
			}
			if n == 0 || err != nil {
				break
			}
		}
		e.slurp = buf.Bytes()
		e.slurped = true
		e.slurpPos = 0
	}

	return uint64(len(e.slurp)), true
}

// encodeNetASCII performs the plain-to-netascii byte expansion.
func encodeNetASCII(p []byte) []byte {
	out := make([]byte, 0, len(p))
	for _, b := range p {
		switch b {
		case '\n':
			out = append(out, '\r', '\n')
		case '\r':
			out = append(out, '\r', 0)
		default:
			out = append(out, b)
		}
	}
	return out
}

// netASCIIDecoder wraps a WriteTarget, transforming netascii bytes written
// to it back into plain form (§4.2, write side):
//
//	"\r\n"   -> '\n'
//	"\r\x00" -> '\r'
//
// A '\r' observed at the end of a Write call defers resolution until the
// next byte arrives, so a CR split across two Write calls at a buffer
// boundary is still decoded correctly.
type netASCIIDecoder struct {
	dst       WriteTarget
	pendingCR bool
}

func newNetASCIIDecoder(dst WriteTarget) *netASCIIDecoder {
	return &netASCIIDecoder{dst: dst}
}

func (d *netASCIIDecoder) Write(p []byte) (int, error) {
	out := make([]byte, 0, len(p))

	for _, b := range p {
		if d.pendingCR {
			d.pendingCR = false
			switch b {
			case '\n':
				out = append(out, '\n')
				continue
			case 0:
				out = append(out, '\r')
				continue
			default:
				// Not a recognized escape; emit the held CR verbatim and
				// fall through to process b normally.
				out = append(out, '\r')
			}
		}

		if b == '\r' {
			d.pendingCR = true
			continue
		}

		out = append(out, b)
	}

	if _, err := d.dst.Write(out); err != nil {
		return 0, err
	}

	return len(p), nil
}

func (d *netASCIIDecoder) Close() error { return d.dst.Close() }
