package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRescheduleElapses(t *testing.T) {
	start := time.Now()
	err := Reschedule(context.Background(), 10*time.Millisecond)
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestRescheduleContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Reschedule(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
