package tftp

import (
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NewProductionLogger returns a zap logger configured for JSON output,
// suitable as the default for cmd/tftpd.
func NewProductionLogger() (*zap.Logger, error) {
	return zap.NewProduction()
}

// NewDevelopmentLogger returns a zap logger configured for human-readable
// console output, used under cmd/tftpd's -dev flag.
func NewDevelopmentLogger() (*zap.Logger, error) {
	return zap.NewDevelopment()
}

// sessionLogger returns a child logger carrying a fresh session ID and the
// fields every session log line needs: peer address, filename and transfer
// mode. The session ID never appears on the wire or in any metric; it exists
// purely to correlate the log lines of one transfer (SPEC_FULL §2, item 11).
func sessionLogger(base *zap.Logger, req *Request, peer net.Addr) *zap.Logger {
	return base.With(
		zap.String("session_id", uuid.NewString()),
		zap.String("peer", peer.String()),
		zap.String("filename", req.Filename),
		zap.String("mode", string(req.Mode)),
	)
}
