package reliability

import (
	"context"
	"time"

	"github.com/astraguard/astraguard/internal/errs"
)

// WithTimeout runs op with a derived context that is cancelled after d
// elapses. If op does not return before the deadline, a TimeoutError is
// returned; op is expected to observe ctx.Done() and abandon its work
// cooperatively.
func WithTimeout(ctx context.Context, d time.Duration, op func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(cctx)
	}()

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		return errs.Timeout("reliability.WithTimeout", cctx.Err())
	}
}
