package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureRPS_IntervalMath(t *testing.T) {
	tests := []struct {
		name string
		rps  int
		want time.Duration
	}{
		{name: "10 rps", rps: 10, want: 115 * time.Millisecond},
		{name: "3 rps rounds up", rps: 3, want: 349 * time.Millisecond},
		{name: "1 rps", rps: 1, want: 1015 * time.Millisecond},
		{name: "1000 rps", rps: 1000, want: 16 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New()
			l.EnsureRPS(tt.rps)
			assert.Equal(t, tt.want, l.Interval())
		})
	}
}

func TestEnsureInterval_OnlyRatchetsUp(t *testing.T) {
	l := New()

	l.EnsureInterval(50 * time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, l.Interval())

	// A looser request is ignored.
	l.EnsureInterval(20 * time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, l.Interval())

	// A stricter request wins.
	l.EnsureInterval(80 * time.Millisecond)
	assert.Equal(t, 80*time.Millisecond, l.Interval())
}

func TestEnsureRPS_IgnoresNonPositive(t *testing.T) {
	l := New()
	l.EnsureRPS(0)
	l.EnsureRPS(-3)
	assert.Equal(t, time.Duration(0), l.Interval())
}

func TestWait_UnconfiguredAdmitsImmediately(t *testing.T) {
	l := New()

	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestWait_SpacesAdmissions(t *testing.T) {
	l := New()
	l.EnsureInterval(30 * time.Millisecond)

	// Act: first admission is free, the next two pay the interval each.
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	elapsed := time.Since(start)

	// Assert
	assert.GreaterOrEqual(t, elapsed, 60*time.Millisecond)
}

func TestWait_CancelledContext(t *testing.T) {
	l := New()
	l.EnsureInterval(time.Minute)

	// Burn the free token so the next waiter actually blocks.
	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx)
	require.Error(t, err)
}

func TestWait_ObserverSeesBlockedDuration(t *testing.T) {
	l := New()
	l.EnsureInterval(25 * time.Millisecond)

	var waits []time.Duration
	l.SetWaitObserver(func(d time.Duration) {
		waits = append(waits, d)
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}

	require.Len(t, waits, 3)
	// The second and third admissions block for roughly the interval.
	assert.GreaterOrEqual(t, waits[2], 10*time.Millisecond)
}

func TestDefault_ReturnsSharedInstance(t *testing.T) {
	a := Default()
	b := Default()
	assert.Same(t, a, b)
}
