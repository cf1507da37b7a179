package session

import (
	"github.com/bhandras/immersive/internal/actor"
	"github.com/bhandras/immersive/internal/compat"
	"github.com/bhandras/immersive/internal/host"
	"github.com/bhandras/immersive/internal/navigation"
	"github.com/bhandras/immersive/internal/presentation"
	"github.com/bhandras/immersive/internal/raceguard"
)

// FSMState is the session state tag. Exactly one is current at a time.
type FSMState string

const (
	// StateFlat means no immersive rendering.
	StateFlat FSMState = "Flat"
	// StateEntering means the runtime hand-off was requested but the
	// hardware-ready broadcast has not arrived yet.
	StateEntering FSMState = "EnteringImmersive"
	// StateBrowsing means the browser UI renders inside the runtime.
	StateBrowsing FSMState = "ImmersiveBrowsing"
	// StatePresenting means a page holds an exclusive rendering session.
	StatePresenting FSMState = "ImmersivePresenting"
	// StateExitPrompt means a consent or DOFF overlay blocks transitions.
	StateExitPrompt FSMState = "ExitPrompt"
)

// Immersive reports whether s has the runtime active.
func (s FSMState) Immersive() bool {
	return s == StateBrowsing || s == StatePresenting || s == StateExitPrompt
}

// EntryTrigger is the originating cause of an entry attempt.
type EntryTrigger string

const (
	// TriggerNFC is a hardware tag scan (headset insertion).
	TriggerNFC EntryTrigger = "nfc"
	// TriggerIntent is an OS intent from the runtime launcher.
	TriggerIntent EntryTrigger = "intent"
	// TriggerUI is an in-app menu action.
	TriggerUI EntryTrigger = "ui"
	// TriggerPage is a page presentation request made while flat.
	TriggerPage EntryTrigger = "page"
)

// SurfaceOwner identifies who holds the single rendering surface.
type SurfaceOwner string

const (
	SurfaceNone       SurfaceOwner = ""
	SurfaceBrowsing   SurfaceOwner = "browsing"
	SurfacePresenting SurfaceOwner = "presenting"
)

// BackAction reports what a hardware back press did.
type BackAction string

const (
	// BackPassThrough leaves handling to the host (flat mode only).
	BackPassThrough BackAction = "pass-through"
	// BackNavigated went one history entry back.
	BackNavigated BackAction = "navigated"
	// BackEndedPresentation ended the page's presentation.
	BackEndedPresentation BackAction = "ended-presentation"
	// BackIgnored swallowed the press; there was no in-app page to return to.
	BackIgnored BackAction = "ignored"
)

// PresentResult resolves a page's session request.
type PresentResult struct {
	Handle presentation.Handle
	Err    error
}

// ConsentResult resolves a consent request.
type ConsentResult struct {
	Granted bool
	Err     error
}

// Settings are the static parameters the reducer needs.
type Settings struct {
	EntryTimeoutMs int64
	GuardTTLMs     int64
}

// Entering is the payload of StateEntering.
type Entering struct {
	Trigger     EntryTrigger
	StartedAtMs int64
	// Reply is completed when entry succeeds or fails. Nil for page-driven
	// entry, which replies through Present.
	Reply chan error
	// Present is set when a page auto-presents from flat.
	Present *PendingPresent
}

// PendingPresent is a page session request waiting on entry.
type PendingPresent struct {
	Handle presentation.Handle
	Reply  chan PresentResult
}

// Presenting is the payload of StatePresenting.
type Presenting struct {
	Handle presentation.Handle
	// FromBrowsing records whether ending returns to browsing or to flat.
	FromBrowsing bool
}

// Prompt is the payload of StateExitPrompt.
type Prompt struct {
	Seq    int64
	Kind   host.PromptKind
	Detail string
	// Prior is the state restored when the prompt is canceled or a consent
	// prompt resolves.
	Prior        FSMState
	ExitReply    chan error
	ConsentReply chan ConsentResult
}

// maxDeferred bounds commands queued behind an outstanding prompt.
const maxDeferred = 16

// State is the loop-owned session state.
type State struct {
	FSM FSMState

	// Gen increments on every entry attempt. Launch results and timers carry
	// it so stale completions are ignored.
	Gen int64
	// PromptSeq increments on every overlay raised.
	PromptSeq int64

	Entering   *Entering
	Presenting *Presenting
	Prompt     *Prompt

	Guard   raceguard.Guard
	Surface SurfaceOwner

	// Deferred holds inputs that arrived while a prompt was outstanding, in
	// arrival order.
	Deferred []actor.Input

	Ended presentation.Ledger

	// BrowsedFlat is set once the current immersive session showed the
	// browser UI, as opposed to only a page presentation.
	BrowsedFlat bool

	Fullscreen    bool
	FullscreenTab string

	History navigation.History
	Nav     navigation.Snapshot

	Settings Settings
}

// NewState returns the initial Flat state.
func NewState(settings Settings) State {
	return State{FSM: StateFlat, Settings: settings}
}

// Inputs

// cmdRequestEntry asks to enter immersive browsing.
type cmdRequestEntry struct {
	actor.InputBase
	Trigger         EntryTrigger
	ExpectBroadcast bool
	Compat          compat.Compatibility
	NowMs           int64
	Reply           chan error
}

// cmdCancelEntry aborts a pending entry.
type cmdCancelEntry struct {
	actor.InputBase
	Reply chan error
}

// cmdRequestPresenting is a page's requestSession.
type cmdRequestPresenting struct {
	actor.InputBase
	Request         presentation.Request
	Compat          compat.Compatibility
	ExpectBroadcast bool
	NowMs           int64
	Reply           chan PresentResult
}

// cmdEndPresenting is a page's endSession.
type cmdEndPresenting struct {
	actor.InputBase
	Handle presentation.Handle
	Reply  chan error
}

// cmdRequestExit asks to leave immersive mode.
type cmdRequestExit struct {
	actor.InputBase
	DoffRequired bool
	Reply        chan error
}

// cmdRequestConsent raises a permission overlay while immersive.
type cmdRequestConsent struct {
	actor.InputBase
	Detail string
	Reply  chan ConsentResult
}

// cmdHardwareBack is the headset's back/app button.
type cmdHardwareBack struct {
	actor.InputBase
	Reply chan BackAction
}

// cmdReset forces the machine back to Flat.
type cmdReset struct {
	actor.InputBase
	Reason error
	Reply  chan error
}

// evResumed is the application-lifecycle resume signal.
type evResumed struct {
	actor.InputBase
	NowMs int64
}

// evBroadcastReady is the runtime's hardware-ready broadcast.
type evBroadcastReady struct {
	actor.InputBase
	NowMs int64
}

// evRuntimeLaunched reports the result of effLaunchRuntime.
type evRuntimeLaunched struct {
	actor.InputBase
	Gen int64
	OK  bool
	Err error
}

// evTimerFired reports a named timer expiring.
type evTimerFired struct {
	actor.InputBase
	Name string
	Gen  int64
}

// evPromptResolved reports an overlay outcome.
type evPromptResolved struct {
	actor.InputBase
	Seq      int64
	Kind     host.PromptKind
	Accepted bool
}

type evTabFocusLost struct {
	actor.InputBase
	TabID string
}

type evTabNavigated struct {
	actor.InputBase
	TabID string
}

type evHistoryChanged struct {
	actor.InputBase
	History navigation.History
}

type evFullscreenChanged struct {
	actor.InputBase
	TabID string
	On    bool
}

type evRendererCrashed struct {
	actor.InputBase
	TabID string
}

// Effects

type effLaunchRuntime struct {
	actor.EffectBase
	Gen int64
}

type effExitRuntime struct {
	actor.EffectBase
}

type effStartTimer struct {
	actor.EffectBase
	Name    string
	Gen     int64
	AfterMs int64
}

type effCancelTimer struct {
	actor.EffectBase
	Name string
}

type effClaimSurface struct {
	actor.EffectBase
	Owner SurfaceOwner
}

type effReleaseSurface struct {
	actor.EffectBase
	Owner SurfaceOwner
}

type effShowPrompt struct {
	actor.EffectBase
	Seq    int64
	Kind   host.PromptKind
	Detail string
}

type effDismissPrompt struct {
	actor.EffectBase
	Kind host.PromptKind
}

type effPromptInstall struct {
	actor.EffectBase
	Compat compat.Compatibility
}

type effFeedbackOnExit struct {
	actor.EffectBase
	DidBrowseFlat bool
}

type effExitFullscreen struct {
	actor.EffectBase
	TabID string
}

type effRecoverPage struct {
	actor.EffectBase
	TabID string
}

type effGoBack struct {
	actor.EffectBase
	TabID string
}

type effSessionEnded struct {
	actor.EffectBase
	Handle presentation.Handle
	Reason error
}

type effEntryFailed struct {
	actor.EffectBase
	Trigger EntryTrigger
	Reason  error
}
