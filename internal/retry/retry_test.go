package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_BoundedAttempts(t *testing.T) {
	b := New(Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second})

	var n int
	for b.Next() {
		n++
		assert.Equal(t, n == 3, b.Exhausted())
	}
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, b.Attempt())
	assert.False(t, b.Next())
}

func TestBackoff_Delay(t *testing.T) {
	b := New(Policy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond})

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		500 * time.Millisecond,
		500 * time.Millisecond,
	}
	for _, w := range want {
		assert.True(t, b.Next())
		assert.Equal(t, w, b.Delay())
	}
}

func TestBackoff_WaitCancelled(t *testing.T) {
	b := New(Policy{MaxAttempts: 2, BaseDelay: time.Hour, MaxDelay: time.Hour})
	b.Next()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := b.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNew_Defaults(t *testing.T) {
	b := New(Policy{})
	assert.True(t, b.Next())
	assert.False(t, b.Next())
	assert.Equal(t, 200*time.Millisecond, b.Delay())
}
