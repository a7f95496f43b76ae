package hostapi

import (
	"time"

	"go.uber.org/zap"
)

// Options configure the admin API server.
type Options struct {
	// Addr is the listen address. Defaults to 127.0.0.1:8000.
	Addr string
	// ShutdownTimeout bounds graceful shutdown when the serve context is
	// cancelled. Defaults to 5s.
	ShutdownTimeout time.Duration
	// Logger defaults to a nop logger.
	Logger *zap.Logger
}

func (o *Options) withDefaults() Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.Addr == "" {
		out.Addr = "127.0.0.1:8000"
	}
	if out.ShutdownTimeout <= 0 {
		out.ShutdownTimeout = 5 * time.Second
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return out
}
