// Command tftpd is a TFTP server which serves and accepts files from a
// single directory, with RFC 2347 option negotiation and an optional
// Prometheus metrics endpoint.
package main

import (
	"net/http"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/tftp-go/tftpd"
)

var (
	addr        = flag.String("addr", ":69", "host:port pair for the TFTP server to listen on")
	dir         = flag.String("dir", ".", "directory to serve reads from and accept writes into")
	retries     = flag.Uint32("retries", 3, "per-session retransmit budget")
	timeout     = flag.Duration("timeout", 5*time.Second, "default per-packet wait timeout")
	concurrency = flag.Int("concurrency", 0, "maximum concurrent sessions (0 = unbounded)")
	dev         = flag.Bool("dev", false, "use a human-readable console logger instead of JSON")
	metricsAddr = flag.String("metrics-addr", "", "if set, host:port to expose Prometheus metrics on")
)

func main() {
	flag.Parse()

	logger, err := newLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	metrics := tftp.NewMetrics(prometheus.DefaultRegisterer)

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("metrics server exited", zap.Error(err))
			}
		}()
	}

	d := filepath.Clean(*dir)
	handler := &tftp.DirHandler{
		Dir:     d,
		Logger:  logger,
		Metrics: metrics,
	}

	server := &tftp.Server{
		Addr:        *addr,
		Handler:     handler,
		Retries:     *retries,
		Timeout:     *timeout,
		Concurrency: *concurrency,
		Logger:      logger,
		Metrics:     metrics,
	}

	logger.Info("serving TFTP directory",
		zap.String("dir", d),
		zap.String("addr", *addr),
	)

	if err := server.ListenAndServe(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func newLogger() (*zap.Logger, error) {
	if *dev {
		return tftp.NewDevelopmentLogger()
	}
	return tftp.NewProductionLogger()
}
