package pacing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/wacampaign-backend/internal/pacing"
)

func TestHorizon(t *testing.T) {
	assert.Equal(t, 5*time.Minute, pacing.Horizon(100, 20))
	assert.Equal(t, 1*time.Minute, pacing.Horizon(20, 20))
	assert.Equal(t, 1*time.Minute, pacing.Horizon(1, 20))
	assert.Equal(t, 2*time.Minute, pacing.Horizon(21, 20))
	assert.Equal(t, time.Duration(0), pacing.Horizon(0, 20))
}

func TestDelayLinearSchedule(t *testing.T) {
	const total, perMinute = 100, 20

	// horizon 5 minutes, so consecutive jobs are 3s apart
	step := pacing.Horizon(total, perMinute) / total
	assert.Equal(t, 3*time.Second, step)

	prev := time.Duration(-1)
	for i := 0; i < total; i++ {
		d := pacing.Delay(total, perMinute, i)
		assert.Greater(t, d, prev, "delays must be strictly increasing")
		if i > 0 {
			assert.Equal(t, step, d-pacing.Delay(total, perMinute, i-1))
		}
		prev = d
	}

	assert.Equal(t, time.Duration(0), pacing.Delay(total, perMinute, 0))
}

func TestBackoffCurve(t *testing.T) {
	assert.Equal(t, 5*time.Second, pacing.Backoff(1))
	assert.Equal(t, 10*time.Second, pacing.Backoff(2))
	assert.Equal(t, 20*time.Second, pacing.Backoff(3))
	assert.Equal(t, 5*time.Second, pacing.Backoff(0))
}

func TestGovernorAdmitRespectsContext(t *testing.T) {
	g := pacing.NewGovernor(1) // one grant per minute

	// first grant comes from the initial burst
	_, err := g.Admit(context.Background())
	require.NoError(t, err)

	// second grant would block ~a minute; a canceled context must bail out
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = g.Admit(ctx)
	assert.Error(t, err)
}

func TestGovernorSetRate(t *testing.T) {
	g := pacing.NewGovernor(1)
	g.SetRate(60000) // effectively unlimited

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := g.Admit(ctx)
		cancel()
		require.NoError(t, err)
	}
}
