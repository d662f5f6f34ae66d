package auth

import (
	"crypto/rand"
	"io"
	"log/slog"

	"github.com/MGallo-Code/warden/internal/clock"
)

// Option configures the shared dependencies of Hasher, AttemptTracker, and SessionManager.
type Option func(*options)

type options struct {
	clk    clock.Clock
	log    *slog.Logger
	random io.Reader
}

// WithClock sets the time source. Defaults to the wall clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clk = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRandom sets the random source for salts and tokens. Defaults to crypto/rand.
// Tests use it to simulate an unavailable RNG.
func WithRandom(r io.Reader) Option {
	return func(o *options) { o.random = r }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	o.clk = clock.OrReal(o.clk)
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.random == nil {
		o.random = rand.Reader
	}
	return o
}
