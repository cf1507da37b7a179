package api

import (
	"context"
	"testing"
	"time"

	"github.com/bhandras/immersive/internal/actor/actortest"
	"github.com/bhandras/immersive/internal/host"
	"github.com/bhandras/immersive/internal/navigation"
	"github.com/stretchr/testify/require"
)

type showResult struct {
	accepted bool
	err      error
}

func showAsync(ctx context.Context, s *Shell, kind host.PromptKind) <-chan showResult {
	out := make(chan showResult, 1)
	go func() {
		accepted, err := s.Show(ctx, kind, "detail")
		out <- showResult{accepted, err}
	}()
	return out
}

func awaitShow(t *testing.T, ch <-chan showResult) showResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitFor):
		t.Fatal("Show did not return")
		return showResult{}
	}
}

func waitOutstanding(t *testing.T, s *Shell, n int) {
	t.Helper()
	require.True(t, actortest.Eventually(waitFor, func() bool {
		return len(s.Outstanding()) == n
	}))
}

func TestShellPromptResolve(t *testing.T) {
	t.Parallel()

	s := NewShell(NewHub(nil))
	ch := showAsync(context.Background(), s, host.PromptConsent)
	waitOutstanding(t, s, 1)

	require.False(t, s.Resolve(host.PromptDoff, true))
	require.True(t, s.Resolve(host.PromptConsent, true))
	r := awaitShow(t, ch)
	require.NoError(t, r.err)
	require.True(t, r.accepted)
	require.Empty(t, s.Outstanding())
}

func TestShellPromptDismissAndCancel(t *testing.T) {
	t.Parallel()

	s := NewShell(NewHub(nil))
	ch := showAsync(context.Background(), s, host.PromptDoff)
	waitOutstanding(t, s, 1)
	s.Dismiss(host.PromptDoff)
	r := awaitShow(t, ch)
	require.ErrorIs(t, r.err, ErrPromptDismissed)

	ctx, cancel := context.WithCancel(context.Background())
	ch = showAsync(ctx, s, host.PromptConsent)
	waitOutstanding(t, s, 1)
	cancel()
	r = awaitShow(t, ch)
	require.ErrorIs(t, r.err, context.Canceled)
	waitOutstanding(t, s, 0)
}

func TestShellReplacesPromptOfSameKind(t *testing.T) {
	t.Parallel()

	s := NewShell(NewHub(nil))
	first := showAsync(context.Background(), s, host.PromptConsent)
	waitOutstanding(t, s, 1)
	firstID := s.Outstanding()[0].ID

	second := showAsync(context.Background(), s, host.PromptConsent)
	r := awaitShow(t, first)
	require.ErrorIs(t, r.err, ErrPromptDismissed)
	require.True(t, actortest.Eventually(waitFor, func() bool {
		out := s.Outstanding()
		return len(out) == 1 && out[0].ID != firstID
	}))

	require.True(t, s.Resolve(host.PromptConsent, false))
	r = awaitShow(t, second)
	require.NoError(t, r.err)
	require.False(t, r.accepted)
}

func TestShellTabState(t *testing.T) {
	t.Parallel()

	s := NewShell(NewHub(nil))
	_, ok := s.ForegroundTab()
	require.False(t, ok)

	s.Focus(testTab)
	tab, ok := s.ForegroundTab()
	require.True(t, ok)
	require.Equal(t, testTab, tab)
	require.Equal(t, navigation.History{TabID: testTab, Length: 1}, s.History(testTab))

	s.SetFullscreen(testTab, true)
	require.NoError(t, s.ExitFullscreen(context.Background(), testTab))
	require.False(t, s.IsFullscreen(testTab))
}
