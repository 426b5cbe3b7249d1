package tftp

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DirHandler is the in-tree Handler implementation that serves RRQ/WRQ
// requests against files rooted at a single directory (SPEC_FULL §2 item
// 12, §4.3 "Filesystem target"). It rejects paths that would resolve
// outside Dir and refuses to overwrite an existing file on WRQ.
type DirHandler struct {
	Dir string

	Logger  *zap.Logger
	Metrics *Metrics
}

// Handle implements Handler, dispatching to a read or write session
// depending on the request's opcode.
func (h *DirHandler) Handle(req *Request, serverAddr, peer net.Addr, retries uint32, timeout time.Duration) (Session, error) {
	serverUDP, _ := serverAddr.(*net.UDPAddr)
	peerUDP, _ := peer.(*net.UDPAddr)

	var log *zap.Logger
	if h.Logger != nil {
		log = sessionLogger(h.Logger, req, peer)
	}

	switch req.Opcode {
	case OpcodeRead:
		return NewReadSession(req, serverUDP.IP, peerUDP, retries, timeout, h.readTarget, log, h.Metrics), nil
	case OpcodeWrite:
		return NewWriteSession(req, serverUDP.IP, peerUDP, retries, timeout, h.writeTarget, log, h.Metrics), nil
	default:
		return nil, NewError(ErrorCodeIllegalOperation, "unsupported opcode %d", req.Opcode)
	}
}

// resolve maps a request filename onto a path confined to h.Dir, rejecting
// any path that would escape it (SPEC_FULL §4.3).
func (h *DirHandler) resolve(filename string) (string, error) {
	clean := filepath.Clean(filename)
	full := filepath.Join(h.Dir, clean)

	root, err := filepath.Abs(h.Dir)
	if err != nil {
		return "", ErrAccessViolation(err)
	}
	absFull, err := filepath.Abs(full)
	if err != nil {
		return "", ErrAccessViolation(err)
	}
	if absFull != root && !strings.HasPrefix(absFull, root+string(filepath.Separator)) {
		return "", ErrAccessViolation(errors.Errorf("path %q escapes served directory", filename))
	}

	return absFull, nil
}

func (h *DirHandler) readTarget(filename string) (ReadTarget, error) {
	path, err := h.resolve(filename)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound(err)
		}
		if os.IsPermission(err) {
			return nil, ErrAccessViolation(err)
		}
		return nil, errors.Wrap(err, "open file for read")
	}

	return &dirReadTarget{f: f}, nil
}

func (h *DirHandler) writeTarget(filename string) (WriteTarget, error) {
	path, err := h.resolve(filename)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); err == nil {
		return nil, ErrFileExists(errors.Errorf("%s already exists", filename))
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsPermission(err) {
			return nil, ErrAccessViolation(err)
		}
		return nil, errors.Wrap(err, "create file for write")
	}

	return &dirWriteTarget{f: f}, nil
}

// dirReadTarget is a ReadTarget backed by an *os.File.
type dirReadTarget struct {
	f *os.File
}

func (t *dirReadTarget) Read(p []byte) (int, error) { return t.f.Read(p) }
func (t *dirReadTarget) Close() error               { return t.f.Close() }

func (t *dirReadTarget) Size() (uint64, bool) {
	info, err := t.f.Stat()
	if err != nil {
		return 0, false
	}
	return uint64(info.Size()), true
}

// dirWriteTarget is a WriteTarget backed by an *os.File.
type dirWriteTarget struct {
	f *os.File
}

func (t *dirWriteTarget) Write(p []byte) (int, error) { return t.f.Write(p) }
func (t *dirWriteTarget) Close() error                { return t.f.Close() }
