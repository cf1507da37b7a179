package raceguard

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGuardDefaultsToCancel(t *testing.T) {
	t.Parallel()

	var g Guard
	require.False(t, g.Armed(0))
	_, d := g.OnResume(0)
	require.Equal(t, CancelEntry, d)

	g = Begin(false, 100, 0)
	_, d = g.OnResume(100)
	require.Equal(t, CancelEntry, d)
}

func TestGuardSuppressesExactlyOnce(t *testing.T) {
	t.Parallel()

	g := Begin(true, 1_000, 500)
	require.True(t, g.Armed(1_200))

	g, d := g.OnResume(1_200)
	require.Equal(t, SuppressCancel, d)

	_, d = g.OnResume(1_250)
	require.Equal(t, CancelEntry, d)
}

func TestGuardBroadcastDisarms(t *testing.T) {
	t.Parallel()

	g := Begin(true, 0, 0).OnBroadcastReceived()
	require.False(t, g.Armed(1))
	_, d := g.OnResume(1)
	require.Equal(t, CancelEntry, d)
}

func TestGuardWindowLapses(t *testing.T) {
	t.Parallel()

	g := Begin(true, 0, 100)
	require.True(t, g.Armed(100))
	require.False(t, g.Armed(101))
	_, d := g.OnResume(101)
	require.Equal(t, CancelEntry, d)

	g = Begin(true, 0, 0)
	require.True(t, g.Armed(DefaultTTLMs))
	require.False(t, g.Reset().Armed(1))
}
