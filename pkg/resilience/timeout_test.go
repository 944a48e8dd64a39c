package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTimeoutExpires(t *testing.T) {
	err := WithTimeout(context.Background(), "store", 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "store: no response within 5ms")
}

func TestWithTimeoutPassesThrough(t *testing.T) {
	called := false
	err := WithTimeout(context.Background(), "store", 0, func(ctx context.Context) error {
		called = true
		_, hasDeadline := ctx.Deadline()
		assert.False(t, hasDeadline)
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, called)
}
