package session

import (
	"context"
	"testing"
	"time"

	framework "github.com/bhandras/immersive/internal/actor"
	"github.com/bhandras/immersive/internal/host"
	"github.com/bhandras/immersive/internal/host/hosttest"
	"github.com/stretchr/testify/require"
)

func newTestRuntime(t *testing.T, strict bool) (*Runtime, *hosttest.Runtime, *hosttest.Prompts) {
	t.Helper()
	svc := hosttest.NewRuntime(10)
	prompts := hosttest.NewPrompts()
	rt := NewRuntime(Deps{Runtime: svc, Tabs: hosttest.NewTabs(testTab), Prompts: prompts}, nil, strict)
	t.Cleanup(rt.Stop)
	return rt, svc, prompts
}

func collect() (func(framework.Input), <-chan framework.Input) {
	ch := make(chan framework.Input, 16)
	return func(in framework.Input) { ch <- in }, ch
}

func nextInput(t *testing.T, ch <-chan framework.Input) framework.Input {
	t.Helper()
	select {
	case in := <-ch:
		return in
	case <-time.After(waitFor):
		t.Fatal("no input emitted")
		return nil
	}
}

func TestRuntimeSurfaceLedger(t *testing.T) {
	rt, _, _ := newTestRuntime(t, false)
	emit, _ := collect()
	ctx := context.Background()

	rt.HandleEffects(ctx, []framework.Effect{effClaimSurface{Owner: SurfaceBrowsing}}, emit)
	require.Equal(t, SurfaceBrowsing, rt.Surface())

	// A second owner never takes the surface while it is held.
	rt.HandleEffects(ctx, []framework.Effect{effClaimSurface{Owner: SurfacePresenting}}, emit)
	require.Equal(t, SurfaceBrowsing, rt.Surface())

	rt.HandleEffects(ctx, []framework.Effect{
		effReleaseSurface{Owner: SurfaceBrowsing},
		effClaimSurface{Owner: SurfacePresenting},
	}, emit)
	require.Equal(t, SurfacePresenting, rt.Surface())
}

func TestRuntimeStrictSurfaceConflictPanics(t *testing.T) {
	rt, _, _ := newTestRuntime(t, true)
	emit, _ := collect()
	ctx := context.Background()

	rt.HandleEffects(ctx, []framework.Effect{effClaimSurface{Owner: SurfaceBrowsing}}, emit)
	require.Panics(t, func() {
		rt.HandleEffects(ctx, []framework.Effect{effClaimSurface{Owner: SurfacePresenting}}, emit)
	})
}

func TestRuntimeLaunchReportsResult(t *testing.T) {
	rt, svc, _ := newTestRuntime(t, false)
	emit, ch := collect()
	ctx := context.Background()

	rt.HandleEffects(ctx, []framework.Effect{effLaunchRuntime{Gen: 3}}, emit)
	require.Equal(t, evRuntimeLaunched{Gen: 3, OK: true}, nextInput(t, ch))

	svc.Refuse = true
	rt.HandleEffects(ctx, []framework.Effect{effLaunchRuntime{Gen: 4}}, emit)
	require.Equal(t, evRuntimeLaunched{Gen: 4, OK: false}, nextInput(t, ch))
	require.Equal(t, 2, svc.Launches())
}

func TestRuntimeTimers(t *testing.T) {
	rt, _, _ := newTestRuntime(t, false)
	emit, ch := collect()
	ctx := context.Background()

	rt.HandleEffects(ctx, []framework.Effect{effStartTimer{Name: "a", Gen: 1, AfterMs: 10}}, emit)
	require.Equal(t, evTimerFired{Name: "a", Gen: 1}, nextInput(t, ch))

	rt.HandleEffects(ctx, []framework.Effect{
		effStartTimer{Name: "b", Gen: 2, AfterMs: 30},
		effCancelTimer{Name: "b"},
	}, emit)
	select {
	case in := <-ch:
		t.Fatalf("canceled timer fired: %#v", in)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRuntimePromptResolvedAndDismissed(t *testing.T) {
	rt, _, prompts := newTestRuntime(t, false)
	emit, ch := collect()
	ctx := context.Background()

	rt.HandleEffects(ctx, []framework.Effect{effShowPrompt{Seq: 1, Kind: host.PromptConsent, Detail: "camera"}}, emit)
	waitPrompt(t, prompts, host.PromptConsent)
	require.True(t, prompts.Resolve(host.PromptConsent, true))
	require.Equal(t, evPromptResolved{Seq: 1, Kind: host.PromptConsent, Accepted: true}, nextInput(t, ch))

	rt.HandleEffects(ctx, []framework.Effect{effShowPrompt{Seq: 2, Kind: host.PromptDoff}}, emit)
	waitPrompt(t, prompts, host.PromptDoff)
	rt.HandleEffects(ctx, []framework.Effect{effDismissPrompt{Kind: host.PromptDoff}}, emit)
	require.Equal(t, evPromptResolved{Seq: 2, Kind: host.PromptDoff}, nextInput(t, ch))
	require.Empty(t, prompts.Outstanding())
}

func TestRuntimeHostCallsKeepOrder(t *testing.T) {
	svc := hosttest.NewRuntime(10)
	tabs := hosttest.NewTabs(testTab)
	tabs.SetFullscreen(testTab, true)
	rt := NewRuntime(Deps{Runtime: svc, Tabs: tabs}, nil, false)
	defer rt.Stop()
	emit, _ := collect()

	rt.HandleEffects(context.Background(), []framework.Effect{
		effExitRuntime{},
		effExitFullscreen{TabID: testTab},
		effGoBack{TabID: testTab},
	}, emit)

	require.Eventually(t, func() bool {
		_, back, _ := tabs.Snapshot()
		return len(back) == 1
	}, waitFor, 5*time.Millisecond)
	exited, _, _ := tabs.Snapshot()
	require.Equal(t, []string{testTab}, exited)
	require.Equal(t, 1, svc.Exits())
	require.False(t, tabs.IsFullscreen(testTab))
}
