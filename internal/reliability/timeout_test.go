package reliability

import (
	"context"
	"testing"
	"time"

	"github.com/astraguard/astraguard/internal/errs"
	"github.com/stretchr/testify/require"
)

func TestWithTimeoutSucceeds(t *testing.T) {
	err := WithTimeout(context.Background(), 50*time.Millisecond, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestWithTimeoutExpires(t *testing.T) {
	err := WithTimeout(context.Background(), 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.True(t, errs.Is(err, errs.KindTimeout))
}
