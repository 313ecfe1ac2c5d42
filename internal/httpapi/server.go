package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"

	"github.com/pauricg23/SOIL-TEMP/internal/config"
	"github.com/pauricg23/SOIL-TEMP/internal/metrics"
)

// Handler wraps mux with request id, recovery, compression and logging.
func Handler(mux http.Handler, logger *slog.Logger, m *metrics.Metrics) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := handlers.CompressHandler(mux)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{logger: logger}),
		handlers.PrintRecoveryStack(false),
	)(h)
	h = requestLogger(logger, m, h)
	return requestID(h)
}

func NewServer(cfg config.Config, mux *http.ServeMux, logger *slog.Logger, m *metrics.Metrics) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           Handler(mux, logger, m),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
