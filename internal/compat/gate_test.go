package compat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingProber struct {
	calls atomic.Int32
	info  VersionInfo
	err   error
	delay time.Duration
}

func (p *countingProber) ProbeVersion(ctx context.Context) (VersionInfo, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return VersionInfo{}, ctx.Err()
		}
	}
	return p.info, p.err
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		info VersionInfo
		err  error
		want Compatibility
	}{
		{name: "probe failure", err: ErrUnavailable, want: NotInstalled},
		{name: "probe failure wins over unsupported", info: VersionInfo{Unsupported: true}, err: errors.New("x"), want: NotInstalled},
		{name: "unsupported hardware", info: VersionInfo{Version: 99, Unsupported: true}, want: NotSupported},
		{name: "too old", info: VersionInfo{Version: 3}, want: OutOfDate},
		{name: "exact minimum", info: VersionInfo{Version: 4}, want: Ready},
		{name: "newer", info: VersionInfo{Version: 10}, want: Ready},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Classify(tt.info, tt.err, 4))
		})
	}
}

func TestCompatibilityPolicy(t *testing.T) {
	t.Parallel()

	require.True(t, Ready.PermitsEntry())
	require.False(t, Ready.NeedsPrompt())
	for _, c := range []Compatibility{OutOfDate, NotInstalled} {
		require.False(t, c.PermitsEntry())
		require.True(t, c.NeedsPrompt())
	}
	require.False(t, NotSupported.PermitsEntry())
	require.False(t, NotSupported.NeedsPrompt())
}

func TestGateCachesUntilInvalidated(t *testing.T) {
	t.Parallel()

	p := &countingProber{info: VersionInfo{Version: 1}}
	g := NewGate(p, 2)

	require.Equal(t, OutOfDate, g.Check(context.Background()))
	require.Equal(t, OutOfDate, g.Check(context.Background()))
	require.EqualValues(t, 1, p.calls.Load())

	// User upgraded the runtime.
	p.info = VersionInfo{Version: 2}
	require.Equal(t, OutOfDate, g.Check(context.Background()))

	g.Invalidate()
	require.Equal(t, Ready, g.Check(context.Background()))
	require.EqualValues(t, 2, p.calls.Load())
}

func TestGateSharesConcurrentProbe(t *testing.T) {
	t.Parallel()

	p := &countingProber{info: VersionInfo{Version: 5}, delay: 30 * time.Millisecond}
	g := NewGate(p, 1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.Equal(t, Ready, g.Check(context.Background()))
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, p.calls.Load())
}

func TestGateIgnoresCallerCancellation(t *testing.T) {
	t.Parallel()

	p := &countingProber{info: VersionInfo{Version: 5}, delay: 20 * time.Millisecond}
	g := NewGate(p, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Equal(t, NotInstalled, g.Check(ctx))

	// The abandoned version query still completes and its result is cached.
	require.Equal(t, Ready, g.Check(context.Background()))
	require.Equal(t, Ready, g.Check(context.Background()))
	require.EqualValues(t, 1, p.calls.Load())
}

func TestGateDoesNotCacheTimedOutVersionQuery(t *testing.T) {
	t.Parallel()

	p := &countingProber{info: VersionInfo{Version: 5}, delay: time.Second}
	g := NewGate(p, 1)
	g.probeTimeout = 10 * time.Millisecond

	require.Equal(t, NotInstalled, g.Check(context.Background()))

	p.delay = 0
	require.Equal(t, Ready, g.Check(context.Background()))
	require.EqualValues(t, 2, p.calls.Load())
}
