package throttle

import (
	"context"
	"testing"
	"time"

	"fab/enumerator/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacer_DelayWithinRange(t *testing.T) {
	short := config.DelayRange{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond}
	long := config.DelayRange{Min: time.Second, Max: 2 * time.Second}
	p := NewPacer(short, long)

	for i := 0; i < 200; i++ {
		d := p.Delay(Short)
		assert.GreaterOrEqual(t, d, short.Min)
		assert.LessOrEqual(t, d, short.Max)

		d = p.Delay(Long)
		assert.GreaterOrEqual(t, d, long.Min)
		assert.LessOrEqual(t, d, long.Max)
	}
}

func TestPacer_FixedRange(t *testing.T) {
	fixed := config.DelayRange{Min: 5 * time.Millisecond, Max: 5 * time.Millisecond}
	p := NewPacer(fixed, fixed)
	assert.Equal(t, 5*time.Millisecond, p.Delay(Short))
}

func TestPacer_NoDelayReturnsImmediately(t *testing.T) {
	p := NoDelay()
	start := time.Now()
	require.NoError(t, p.Wait(context.Background(), Long))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestPacer_WaitHonoursCancellation(t *testing.T) {
	long := config.DelayRange{Min: time.Hour, Max: time.Hour}
	p := NewPacer(long, long)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := p.Wait(ctx, Short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestPace_String(t *testing.T) {
	assert.Equal(t, "short", Short.String())
	assert.Equal(t, "long", Long.String())
}
