package runtimebridge

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bhandras/immersive/internal/compat"
	"github.com/bhandras/immersive/internal/host/hosttest"
	"github.com/bhandras/immersive/internal/session"
	"github.com/bhandras/immersive/internal/storage"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu     sync.Mutex
	acks   map[string]map[string]any
	err    error
	calls  []string
	closed bool
}

func (f *fakeTransport) emitWithAck(_ context.Context, event string, _ map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, event)
	if f.err != nil {
		return nil, f.err
	}
	return f.acks[event], nil
}

func (f *fakeTransport) connected() bool { return true }

func (f *fakeTransport) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

type fakeSignals struct {
	mu      sync.Mutex
	ready   int
	resumed int
}

func (s *fakeSignals) OnBroadcastReady(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready++
	return nil
}

func (s *fakeSignals) OnResume(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumed++
	return nil
}

func (s *fakeSignals) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready, s.resumed
}

func newKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func connectedClient(cfg Config, tr *fakeTransport) *Client {
	c := NewClient(cfg)
	c.conn = tr
	return c
}

func TestProbeVersionMapsAck(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{acks: map[string]map[string]any{
		EventProbeVersion: {"version": float64(12), "unsupported": false, "doff": true},
	}}
	c := connectedClient(Config{}, tr)

	info, err := c.ProbeVersion(context.Background())
	require.NoError(t, err)
	require.Equal(t, compat.VersionInfo{Version: 12}, info)
	require.True(t, c.RequiresDoff())
	require.Equal(t, compat.Ready, compat.Classify(info, err, 10))
}

func TestProbeVersionUnavailable(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{})
	_, err := c.ProbeVersion(context.Background())
	require.ErrorIs(t, err, compat.ErrUnavailable)

	tr := &fakeTransport{err: errors.New("ack timeout")}
	c = connectedClient(Config{}, tr)
	_, err = c.ProbeVersion(context.Background())
	require.ErrorIs(t, err, compat.ErrUnavailable)
}

func TestLaunchAndExit(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{acks: map[string]map[string]any{
		EventLaunch: {"ok": true},
		EventExit:   {"ok": false, "error": "not running"},
	}}
	c := connectedClient(Config{}, tr)

	ok, err := c.LaunchImmersive(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.ExitImmersive(context.Background())
	require.Error(t, err)
	require.False(t, ok)
	require.Equal(t, []string{EventLaunch, EventExit}, tr.calls)

	require.NoError(t, c.Close())
	require.True(t, tr.closed)
	_, err = c.LaunchImmersive(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestReadyBroadcastVerification(t *testing.T) {
	t.Parallel()

	pub, priv := newKeys(t)
	_, otherPriv := newKeys(t)
	now := time.Now()

	good, err := NewSigner(priv).Sign("rt-1", 12, now)
	require.NoError(t, err)
	forged, err := NewSigner(otherPriv).Sign("rt-1", 12, now)
	require.NoError(t, err)
	stale, err := NewSigner(priv).Sign("rt-1", 12, now.Add(-time.Hour))
	require.NoError(t, err)

	tests := []struct {
		name string
		args []any
		want int
	}{
		{name: "signed map", args: []any{map[string]any{"token": good}}, want: 1},
		{name: "signed string", args: []any{good}, want: 1},
		{name: "forged", args: []any{map[string]any{"token": forged}}, want: 0},
		{name: "stale", args: []any{stale}, want: 0},
		{name: "missing", args: nil, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := &fakeSignals{}
			c := NewClient(Config{Verifier: NewVerifier(pub, time.Minute)})
			c.Bind(sig)

			c.handleReady(tt.args...)
			ready, _ := sig.counts()
			require.Equal(t, tt.want, ready)
		})
	}
}

func TestReadyWithoutVerifierIsForwarded(t *testing.T) {
	t.Parallel()

	sig := &fakeSignals{}
	c := NewClient(Config{})
	c.handleReady()
	c.Bind(sig)
	c.handleReady()
	c.handleResumed()

	ready, resumed := sig.counts()
	require.Equal(t, 1, ready)
	require.Equal(t, 1, resumed)
}

func TestDoffRequiredBroadcast(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{})
	c.handleDoffRequired()
	require.True(t, c.RequiresDoff())
	c.handleDoffRequired(map[string]any{"required": false})
	require.False(t, c.RequiresDoff())
}

func TestParsePublicKey(t *testing.T) {
	t.Parallel()

	pub, _ := newKeys(t)
	got, err := ParsePublicKey(" " + hex.EncodeToString(pub) + "\n")
	require.NoError(t, err)
	require.Equal(t, pub, got)

	_, err = ParsePublicKey("abcd")
	require.Error(t, err)
	_, err = ParsePublicKey("zz")
	require.Error(t, err)
}

func TestVerifierClaims(t *testing.T) {
	t.Parallel()

	pub, priv := newKeys(t)
	v := NewVerifier(pub, 0)

	token, err := NewSigner(priv).Sign("rt", 3, time.Now())
	require.NoError(t, err)
	claims, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "rt", claims.Runtime)
	require.Equal(t, 3, claims.Version)

	_, err = v.Verify("not-a-token")
	require.ErrorIs(t, err, ErrForgedBroadcast)
}

func TestBroadcastsKeepArrivalOrder(t *testing.T) {
	t.Parallel()

	pub, priv := newKeys(t)
	token, err := NewSigner(priv).Sign("rt-1", 12, time.Now())
	require.NoError(t, err)

	bridge := NewClient(Config{Verifier: NewVerifier(pub, time.Minute)})
	t.Cleanup(func() { _ = bridge.Close() })

	rt := hosttest.NewRuntime(10)
	ctrl := session.New(session.Deps{
		Runtime:   rt,
		Tabs:      hosttest.NewTabs("tab-1"),
		Bridge:    &hosttest.Bridge{},
		Prompts:   hosttest.NewPrompts(),
		Feedback:  &hosttest.Feedback{},
		Installer: &hosttest.Installer{},
		Store:     storage.NewMemoryStore(),
	}, session.Options{MinRuntimeVersion: 5})
	bridge.Bind(ctrl)
	ctrl.Start()
	t.Cleanup(ctrl.Stop)

	// The runtime announces readiness and the application resumes right
	// after. Verifying the signed broadcast must not let the resume overtake
	// it.
	rt.SetOnLaunch(func() {
		bridge.onReady(map[string]any{"token": token})
		bridge.onResumed()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ctrl.RequestEntry(ctx, session.TriggerUI, false))
	require.Eventually(t, func() bool {
		return ctrl.State().FSM == session.StateBrowsing
	}, time.Second, 5*time.Millisecond)
	require.Never(t, func() bool {
		return ctrl.State().FSM != session.StateBrowsing
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestCloseStopsDelivery(t *testing.T) {
	t.Parallel()

	sig := &fakeSignals{}
	c := NewClient(Config{})
	c.Bind(sig)

	c.onResumed()
	require.Eventually(t, func() bool {
		_, resumed := sig.counts()
		return resumed == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Close())
	c.onReady()
	c.onResumed()
	time.Sleep(20 * time.Millisecond)
	ready, resumed := sig.counts()
	require.Equal(t, 0, ready)
	require.Equal(t, 1, resumed)
}
