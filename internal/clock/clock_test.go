package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name   string
		nsecs  int64
		res    int64
		want   int64
		wantOK bool
	}{
		{"below minimum", 1_999, 1, 0, false},
		{"above maximum", MaxPeriod + 1, 1, 0, false},
		{"exact nanosecond resolution", 1_000_000, 1, 1_000_000, true},
		{"rounded down to resolution", 1_000_500, 1_000, 1_000_000, true},
		{"never below one step", 2_000, 5_000, 5_000, true},
		{"upper bound inclusive", MaxPeriod, 1, MaxPeriod, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Negotiate(tt.nsecs, tt.res)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuantizeRoundsUp(t *testing.T) {
	assert.Equal(t, int64(1_000_000), Quantize(1_000_000, 1_000_000))
	assert.Equal(t, int64(2_000_000), Quantize(1_000_001, 1_000_000))
	assert.Equal(t, int64(1_000_000), Quantize(10, 1_000_000))
	assert.Equal(t, int64(3_000), Quantize(2_500, 1_000))
	assert.Equal(t, int64(777), Quantize(777, 0))
}

func TestMonotonicNeverGoesBackwards(t *testing.T) {
	clk := NewMonotonic()
	prev := clk.Now()
	for i := 0; i < 1000; i++ {
		now := clk.Now()
		require.GreaterOrEqual(t, now, prev)
		prev = now
	}
	assert.Positive(t, clk.Resolution())
	assert.Positive(t, clk.Cycles())
}

func TestMonotonicSleepUntil(t *testing.T) {
	clk := NewMonotonic()
	deadline := clk.Now() + int64(2*time.Millisecond)

	require.NoError(t, clk.SleepUntil(context.Background(), deadline))
	assert.GreaterOrEqual(t, clk.Now(), deadline)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, clk.SleepUntil(ctx, clk.Now()+int64(time.Second)), context.Canceled)
}

func TestBusyWait(t *testing.T) {
	clk := NewMonotonic()
	start := clk.Now()
	BusyWait(clk, 50_000)
	assert.GreaterOrEqual(t, clk.Now()-start, int64(50_000))
}
