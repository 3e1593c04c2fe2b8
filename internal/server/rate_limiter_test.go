package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowsBurstThenBlocks(t *testing.T) {
	rl := newRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		require.True(t, rl.allow(), "message %d should pass", i)
	}
	require.False(t, rl.allow())
}

func TestRateLimiterRefills(t *testing.T) {
	rl := newRateLimiter(2, 100*time.Millisecond)
	require.True(t, rl.allow())
	require.True(t, rl.allow())
	require.False(t, rl.allow())

	require.Eventually(t, rl.allow, time.Second, 10*time.Millisecond)
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := newRateLimiter(0, 0)
	require.True(t, rl.allow())
	require.False(t, rl.allow())
}
