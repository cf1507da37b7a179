package session

import (
	framework "github.com/bhandras/immersive/internal/actor"
	"github.com/bhandras/immersive/internal/compat"
	"github.com/bhandras/immersive/internal/host"
	"github.com/bhandras/immersive/internal/navigation"
	"github.com/bhandras/immersive/internal/presentation"
)

// RequestEntry returns a command input asking to enter immersive browsing.
func RequestEntry(trigger EntryTrigger, expectBroadcast bool, c compat.Compatibility, nowMs int64, reply chan error) framework.Input {
	return cmdRequestEntry{Trigger: trigger, ExpectBroadcast: expectBroadcast, Compat: c, NowMs: nowMs, Reply: reply}
}

// CancelEntry returns a command input aborting a pending entry.
func CancelEntry(reply chan error) framework.Input {
	return cmdCancelEntry{Reply: reply}
}

// RequestPresenting returns a command input for a page's session request.
func RequestPresenting(req presentation.Request, c compat.Compatibility, expectBroadcast bool, nowMs int64, reply chan PresentResult) framework.Input {
	return cmdRequestPresenting{Request: req, Compat: c, ExpectBroadcast: expectBroadcast, NowMs: nowMs, Reply: reply}
}

// EndPresenting returns a command input ending the session identified by h.
func EndPresenting(h presentation.Handle, reply chan error) framework.Input {
	return cmdEndPresenting{Handle: h, Reply: reply}
}

// RequestExit returns a command input asking to leave immersive mode.
func RequestExit(doffRequired bool, reply chan error) framework.Input {
	return cmdRequestExit{DoffRequired: doffRequired, Reply: reply}
}

// RequestConsent returns a command input raising a consent overlay.
func RequestConsent(detail string, reply chan ConsentResult) framework.Input {
	return cmdRequestConsent{Detail: detail, Reply: reply}
}

// HardwareBack returns a command input for the headset back button.
func HardwareBack(reply chan BackAction) framework.Input {
	return cmdHardwareBack{Reply: reply}
}

// Reset returns a command input forcing the machine to Flat.
func Reset(reason error, reply chan error) framework.Input {
	return cmdReset{Reason: reason, Reply: reply}
}

// Resumed returns an event input for the application resume signal.
func Resumed(nowMs int64) framework.Input {
	return evResumed{NowMs: nowMs}
}

// BroadcastReady returns an event input for the runtime ready broadcast.
func BroadcastReady(nowMs int64) framework.Input {
	return evBroadcastReady{NowMs: nowMs}
}

// RuntimeLaunched returns an event input reporting a launch result.
func RuntimeLaunched(gen int64, ok bool, err error) framework.Input {
	return evRuntimeLaunched{Gen: gen, OK: ok, Err: err}
}

// TimerFired returns an event input for an expired named timer.
func TimerFired(name string, gen int64) framework.Input {
	return evTimerFired{Name: name, Gen: gen}
}

// PromptResolved returns an event input for an overlay outcome.
func PromptResolved(seq int64, kind host.PromptKind, accepted bool) framework.Input {
	return evPromptResolved{Seq: seq, Kind: kind, Accepted: accepted}
}

// TabFocusLost returns an event input for a tab leaving the foreground.
func TabFocusLost(tabID string) framework.Input {
	return evTabFocusLost{TabID: tabID}
}

// TabNavigated returns an event input for a tab committing a navigation.
func TabNavigated(tabID string) framework.Input {
	return evTabNavigated{TabID: tabID}
}

// HistoryChanged returns an event input carrying the foreground history.
func HistoryChanged(h navigation.History) framework.Input {
	return evHistoryChanged{History: h}
}

// FullscreenChanged returns an event input for page fullscreen toggles.
func FullscreenChanged(tabID string, on bool) framework.Input {
	return evFullscreenChanged{TabID: tabID, On: on}
}

// RendererCrashed returns an event input for a crashed page renderer.
func RendererCrashed(tabID string) framework.Input {
	return evRendererCrashed{TabID: tabID}
}
