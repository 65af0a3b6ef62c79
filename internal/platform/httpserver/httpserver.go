package httpserver

import (
	"net/http"
	"time"

	"matrix/internal/platform/config"
)

// New builds the HTTP server. The write timeout leaves room past the request timeout so
// a timed-out handler can still write its 504 envelope.
func New(cfg config.Server, handler http.Handler) *http.Server {
	writeTimeout := 30 * time.Second
	if cfg.RequestTimeout > 0 {
		writeTimeout = cfg.RequestTimeout + 5*time.Second
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
}
