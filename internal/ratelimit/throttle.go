package ratelimit

import (
	"context"
	"io"
)

// ThrottledReader meters reads against a shared Limiter. Each Read charges
// the limiter for the bytes actually read, so the combined throughput of
// every reader sharing one limiter stays at or under the configured rate.
type ThrottledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *Limiter
}

// NewThrottledReader wraps r. A nil limiter disables throttling.
func NewThrottledReader(ctx context.Context, r io.Reader, limiter *Limiter) *ThrottledReader {
	return &ThrottledReader{ctx: ctx, r: r, limiter: limiter}
}

func (t *ThrottledReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 && t.limiter != nil {
		if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
