// Package logging builds the service's slog logger from configuration.
package logging

import (
	"io"
	"log/slog"

	"github.com/meur/mistbook/internal/config"
)

// New returns a logger writing cfg.Format records at cfg.Level to w.
func New(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}
