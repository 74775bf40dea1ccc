package download

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrIdleTimeout reports a response body that stopped delivering data.
var ErrIdleTimeout = errors.New("body read idle timeout")

// idleReader cancels the request when no Read completes within timeout.
type idleReader struct {
	ctx   context.Context
	r     io.Reader
	idle  time.Duration
	timer *time.Timer
}

func newIdleReader(ctx context.Context, cancel context.CancelCauseFunc, r io.Reader, idle time.Duration) *idleReader {
	return &idleReader{
		ctx:   ctx,
		r:     r,
		idle:  idle,
		timer: time.AfterFunc(idle, func() { cancel(ErrIdleTimeout) }),
	}
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.timer.Reset(r.idle)
	}
	if err != nil && errors.Is(context.Cause(r.ctx), ErrIdleTimeout) {
		return n, ErrIdleTimeout
	}
	return n, err
}

func (r *idleReader) stop() {
	r.timer.Stop()
}
