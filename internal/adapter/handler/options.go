package handler

import (
	"context"
	"time"
)

type Option func(*options)

type options struct {
	requestTimeout time.Duration
}

// WithRequestTimeout bounds every service call made by a handler. Zero
// leaves the caller's deadline in place.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

func newOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.requestTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.requestTimeout)
}
