package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitEnforcesMinimumInterval(t *testing.T) {
	l := NewLimiter(nil, Policy{MinInterval: 40 * time.Millisecond})

	start := time.Now()
	assert.NoError(t, l.Wait(context.Background(), "example.com"))
	assert.NoError(t, l.Wait(context.Background(), "example.com"))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	l := NewLimiter(nil, Policy{MinInterval: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	assert.NoError(t, l.Wait(context.Background(), "first-call.example"))
	err := l.Wait(ctx, "first-call.example")
	assert.Error(t, err)
}

func TestDifferentDomainsAreIndependent(t *testing.T) {
	l := NewLimiter(nil, Policy{MinInterval: time.Second})

	assert.NoError(t, l.Wait(context.Background(), "a.example"))
	start := time.Now()
	assert.NoError(t, l.Wait(context.Background(), "b.example"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
