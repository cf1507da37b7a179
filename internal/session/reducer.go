package session

import (
	"errors"

	"github.com/bhandras/immersive/internal/actor"
	"github.com/bhandras/immersive/internal/host"
	"github.com/bhandras/immersive/internal/navigation"
	"github.com/bhandras/immersive/internal/presentation"
	"github.com/bhandras/immersive/internal/raceguard"
)

const entryDeadlineTimerName = "entry-deadline"

// Reduce is the session reducer. Every transition goes through it; after each
// input the navigation snapshot is recomputed and the state invariants are
// checked. A violated invariant panics with *InvariantError.
func Reduce(state State, input actor.Input) (State, []actor.Effect) {
	next, effects := reduce(state, input)
	next.Nav = navigation.Recompute(next.History, navMode(next.FSM))
	checkInvariants(next)
	return next, effects
}

func reduce(state State, input actor.Input) (State, []actor.Effect) {
	if state.FSM == StateExitPrompt && deferrable(state, input) {
		return deferInput(state, input)
	}

	switch in := input.(type) {
	case cmdRequestEntry:
		return reduceRequestEntry(state, in)
	case cmdCancelEntry:
		return reduceCancelEntry(state, in)
	case cmdRequestPresenting:
		return reduceRequestPresenting(state, in)
	case cmdEndPresenting:
		return reduceEndPresenting(state, in)
	case cmdRequestExit:
		return reduceRequestExit(state, in)
	case cmdRequestConsent:
		return reduceRequestConsent(state, in)
	case cmdHardwareBack:
		return reduceHardwareBack(state, in)
	case cmdReset:
		next, effects := resetToFlat(state, in.Reason)
		reply(in.Reply, nil)
		return next, effects

	case evResumed:
		return reduceResumed(state, in)
	case evBroadcastReady:
		return reduceBroadcastReady(state, in)
	case evRuntimeLaunched:
		return reduceRuntimeLaunched(state, in)
	case evTimerFired:
		return reduceTimerFired(state, in)
	case evPromptResolved:
		return reducePromptResolved(state, in)
	case evTabFocusLost:
		return reduceTabLost(state, in.TabID, ErrTabNotFocused)
	case evTabNavigated:
		return reduceTabLost(state, in.TabID, ErrPageNavigated)
	case evHistoryChanged:
		state.History = in.History
		return state, nil
	case evFullscreenChanged:
		state.Fullscreen = in.On
		state.FullscreenTab = in.TabID
		if !in.On {
			state.FullscreenTab = ""
		}
		return state, nil
	case evRendererCrashed:
		return reduceRendererCrashed(state, in)
	default:
		return state, nil
	}
}

// reply completes a buffered reply channel without blocking.
func reply[T any](ch chan T, v T) {
	if ch == nil {
		return
	}
	select {
	case ch <- v:
	default:
	}
}

func navMode(fsm FSMState) navigation.Mode {
	switch fsm {
	case StateBrowsing, StatePresenting:
		return navigation.ModeImmersive
	case StateFlat:
		return navigation.ModeFlat
	default:
		return navigation.ModeBlocked
	}
}

// deferrable reports whether input must wait for the outstanding prompt.
// Signals that do not cause transitions (resume, broadcast, launch results,
// timers, history) are handled immediately.
func deferrable(state State, input actor.Input) bool {
	switch input.(type) {
	case cmdRequestEntry, cmdRequestPresenting, cmdEndPresenting, cmdRequestConsent,
		evTabFocusLost, evTabNavigated:
		return true
	case cmdRequestExit:
		// A second DOFF while one is showing is rejected, not queued.
		return state.Prompt == nil || state.Prompt.Kind != host.PromptDoff
	default:
		return false
	}
}

func deferInput(state State, input actor.Input) (State, []actor.Effect) {
	if hasReply(input) && countReplies(state.Deferred) >= maxDeferred {
		rejectInput(input, ErrPromptAlreadyOutstanding)
		return state, nil
	}
	deferred := make([]actor.Input, 0, len(state.Deferred)+1)
	deferred = append(deferred, state.Deferred...)
	state.Deferred = append(deferred, input)
	return state, nil
}

func hasReply(input actor.Input) bool {
	switch input.(type) {
	case cmdRequestEntry, cmdRequestPresenting, cmdEndPresenting, cmdRequestExit,
		cmdRequestConsent, cmdHardwareBack, cmdCancelEntry, cmdReset:
		return true
	}
	return false
}

func countReplies(inputs []actor.Input) int {
	n := 0
	for _, in := range inputs {
		if hasReply(in) {
			n++
		}
	}
	return n
}

// rejectInput answers a command that will not be applied. Ending a
// presentation is always safe, so it succeeds.
func rejectInput(input actor.Input, err error) {
	switch in := input.(type) {
	case cmdRequestEntry:
		reply(in.Reply, err)
	case cmdCancelEntry:
		reply(in.Reply, nil)
	case cmdRequestPresenting:
		reply(in.Reply, PresentResult{Err: err})
	case cmdEndPresenting:
		reply(in.Reply, nil)
	case cmdRequestExit:
		reply(in.Reply, err)
	case cmdRequestConsent:
		reply(in.Reply, ConsentResult{Err: err})
	case cmdHardwareBack:
		reply(in.Reply, BackIgnored)
	case cmdReset:
		reply(in.Reply, nil)
	}
}

// moveSurface hands the rendering surface to owner. The old owner is released
// before the new one claims it.
func moveSurface(state State, owner SurfaceOwner) (State, []actor.Effect) {
	if state.Surface == owner {
		return state, nil
	}
	var effects []actor.Effect
	if state.Surface != SurfaceNone {
		effects = append(effects, effReleaseSurface{Owner: state.Surface})
	}
	if owner != SurfaceNone {
		effects = append(effects, effClaimSurface{Owner: owner})
	}
	state.Surface = owner
	return state, effects
}

// Entry

func beginEntry(state State, trigger EntryTrigger, expectBroadcast bool, nowMs int64) (State, []actor.Effect) {
	state.Gen++
	state.FSM = StateEntering
	state.Entering = &Entering{Trigger: trigger, StartedAtMs: nowMs}
	// The guard must outlive the entry deadline, otherwise a late resume
	// cancels an entry whose broadcast is still on time.
	ttl := max(state.Settings.GuardTTLMs, state.Settings.EntryTimeoutMs)
	state.Guard = raceguard.Begin(expectBroadcast, nowMs, ttl)
	state.BrowsedFlat = false
	return state, []actor.Effect{
		effLaunchRuntime{Gen: state.Gen},
		effStartTimer{Name: entryDeadlineTimerName, Gen: state.Gen, AfterMs: state.Settings.EntryTimeoutMs},
	}
}

func reduceRequestEntry(state State, cmd cmdRequestEntry) (State, []actor.Effect) {
	switch state.FSM {
	case StateBrowsing, StatePresenting:
		reply(cmd.Reply, nil)
		return state, nil
	case StateEntering:
		reply(cmd.Reply, ErrEntryInProgress)
		return state, nil
	}

	if !cmd.Compat.PermitsEntry() {
		reply(cmd.Reply, ErrIncompatibleRuntime)
		var effects []actor.Effect
		if cmd.Compat.NeedsPrompt() {
			effects = append(effects, effPromptInstall{Compat: cmd.Compat})
		}
		effects = append(effects, effEntryFailed{Trigger: cmd.Trigger, Reason: ErrIncompatibleRuntime})
		return state, effects
	}

	state, effects := beginEntry(state, cmd.Trigger, cmd.ExpectBroadcast, cmd.NowMs)
	state.Entering.Reply = cmd.Reply
	return state, effects
}

func reduceCancelEntry(state State, cmd cmdCancelEntry) (State, []actor.Effect) {
	if state.FSM != StateEntering {
		reply(cmd.Reply, nil)
		return state, nil
	}
	state, effects := failEntry(state, ErrEntryCanceled, true)
	reply(cmd.Reply, nil)
	return state, effects
}

// failEntry aborts the pending entry, rejecting whoever initiated it.
func failEntry(state State, reason error, exitRuntime bool) (State, []actor.Effect) {
	entering := state.Entering
	effects := []actor.Effect{effCancelTimer{Name: entryDeadlineTimerName}}
	if exitRuntime {
		effects = append(effects, effExitRuntime{})
	}
	if entering != nil {
		reply(entering.Reply, reason)
		if entering.Present != nil {
			reply(entering.Present.Reply, PresentResult{Err: reason})
			state.Ended = state.Ended.MarkEnded(entering.Present.Handle.ID)
		}
		effects = append(effects, effEntryFailed{Trigger: entering.Trigger, Reason: reason})
	}
	state.FSM = StateFlat
	state.Entering = nil
	state.Guard = state.Guard.Reset()
	return state, effects
}

func reduceRuntimeLaunched(state State, ev evRuntimeLaunched) (State, []actor.Effect) {
	if ev.Gen != state.Gen || state.FSM != StateEntering {
		return state, nil
	}
	if ev.OK {
		return state, nil
	}
	return failEntry(state, ErrLaunchFailed, false)
}

func reduceBroadcastReady(state State, _ evBroadcastReady) (State, []actor.Effect) {
	state.Guard = state.Guard.OnBroadcastReceived()
	if state.FSM != StateEntering {
		return state, nil
	}

	entering := state.Entering
	state.Entering = nil
	effects := []actor.Effect{effCancelTimer{Name: entryDeadlineTimerName}}

	if entering.Present != nil {
		state.FSM = StatePresenting
		state.Presenting = &Presenting{Handle: entering.Present.Handle}
		state, surface := moveSurface(state, SurfacePresenting)
		reply(entering.Present.Reply, PresentResult{Handle: entering.Present.Handle})
		return state, append(effects, surface...)
	}

	state.FSM = StateBrowsing
	state.BrowsedFlat = true
	state, surface := moveSurface(state, SurfaceBrowsing)
	reply(entering.Reply, nil)
	return state, append(effects, surface...)
}

func reduceResumed(state State, ev evResumed) (State, []actor.Effect) {
	if state.FSM != StateEntering {
		return state, nil
	}
	guard, decision := state.Guard.OnResume(ev.NowMs)
	state.Guard = guard
	if decision == raceguard.SuppressCancel {
		return state, nil
	}
	return failEntry(state, ErrEntryCanceled, true)
}

func reduceTimerFired(state State, ev evTimerFired) (State, []actor.Effect) {
	if ev.Name != entryDeadlineTimerName || ev.Gen != state.Gen || state.FSM != StateEntering {
		return state, nil
	}
	return failEntry(state, ErrEntryTimeout, true)
}

// Presentation

func reduceRequestPresenting(state State, cmd cmdRequestPresenting) (State, []actor.Effect) {
	if state.FSM == StateEntering {
		reply(cmd.Reply, PresentResult{Err: ErrEntryInProgress})
		return state, nil
	}

	var current presentation.Handle
	if state.FSM == StatePresenting {
		current = state.Presenting.Handle
	}
	reuse, err := presentation.Validate(cmd.Request, cmd.Compat, current)
	if err != nil {
		reply(cmd.Reply, PresentResult{Err: err})
		if errors.Is(err, ErrIncompatibleRuntime) && cmd.Compat.NeedsPrompt() {
			return state, []actor.Effect{effPromptInstall{Compat: cmd.Compat}}
		}
		return state, nil
	}
	if reuse {
		reply(cmd.Reply, PresentResult{Handle: current})
		return state, nil
	}

	h := cmd.Request.Handle
	switch state.FSM {
	case StateBrowsing:
		state.FSM = StatePresenting
		state.Presenting = &Presenting{Handle: h, FromBrowsing: true}
		state, effects := moveSurface(state, SurfacePresenting)
		reply(cmd.Reply, PresentResult{Handle: h})
		return state, effects
	case StateFlat:
		state, effects := beginEntry(state, TriggerPage, cmd.ExpectBroadcast, cmd.NowMs)
		state.Entering.Present = &PendingPresent{Handle: h, Reply: cmd.Reply}
		return state, effects
	default:
		reply(cmd.Reply, PresentResult{Err: ErrEntryInProgress})
		return state, nil
	}
}

func reduceEndPresenting(state State, cmd cmdEndPresenting) (State, []actor.Effect) {
	id := cmd.Handle.ID
	switch {
	case state.FSM == StatePresenting && state.Presenting.Handle.ID == id:
		next, effects := endPresentation(state, nil)
		reply(cmd.Reply, nil)
		return next, effects
	case state.FSM == StateEntering && state.Entering.Present != nil && state.Entering.Present.Handle.ID == id:
		next, effects := failEntry(state, ErrSessionEnded, true)
		reply(cmd.Reply, nil)
		return next, effects
	default:
		// Unknown or already ended: a no-op.
		reply(cmd.Reply, nil)
		return state, nil
	}
}

// endPresentation ends the current presentation. A non-nil reason is
// reported to the page; page-initiated ends pass nil.
func endPresentation(state State, reason error) (State, []actor.Effect) {
	p := state.Presenting
	state.Ended = state.Ended.MarkEnded(p.Handle.ID)

	var effects []actor.Effect
	if reason != nil {
		effects = append(effects, effSessionEnded{Handle: p.Handle, Reason: reason})
	}
	if !p.FromBrowsing {
		next, exitEffects := exitToFlat(state)
		return next, append(effects, exitEffects...)
	}

	state.Presenting = nil
	state.FSM = StateBrowsing
	state.BrowsedFlat = true
	state, surface := moveSurface(state, SurfaceBrowsing)
	return state, append(effects, surface...)
}

func reduceTabLost(state State, tabID string, reason error) (State, []actor.Effect) {
	switch state.FSM {
	case StatePresenting:
		if state.Presenting.Handle.TabID != tabID {
			return state, nil
		}
		return endPresentation(state, reason)
	case StateEntering:
		if state.Entering.Present == nil || state.Entering.Present.Handle.TabID != tabID {
			return state, nil
		}
		return failEntry(state, reason, true)
	default:
		return state, nil
	}
}

// Exit

// exitToFlat leaves immersive mode. The surface is released first, then the
// runtime exits, then page fullscreen is reconciled.
func exitToFlat(state State) (State, []actor.Effect) {
	state, effects := moveSurface(state, SurfaceNone)
	if state.Presenting != nil {
		h := state.Presenting.Handle
		if !state.Ended.Ended(h.ID) {
			state.Ended = state.Ended.MarkEnded(h.ID)
			effects = append(effects, effSessionEnded{Handle: h, Reason: ErrSessionEnded})
		}
	}
	effects = append(effects, effExitRuntime{})
	if state.Fullscreen {
		effects = append(effects, effExitFullscreen{TabID: state.FullscreenTab})
		state.Fullscreen = false
		state.FullscreenTab = ""
	}
	effects = append(effects, effFeedbackOnExit{DidBrowseFlat: state.BrowsedFlat})

	state.FSM = StateFlat
	state.Presenting = nil
	state.Prompt = nil
	state.BrowsedFlat = false
	return state, effects
}

func reduceRequestExit(state State, cmd cmdRequestExit) (State, []actor.Effect) {
	switch state.FSM {
	case StateFlat:
		reply(cmd.Reply, nil)
		return state, nil
	case StateEntering:
		next, effects := failEntry(state, ErrEntryCanceled, true)
		reply(cmd.Reply, nil)
		return next, effects
	case StateExitPrompt:
		reply(cmd.Reply, ErrPromptAlreadyOutstanding)
		return state, nil
	}

	if cmd.DoffRequired {
		state, effects := openPrompt(state, host.PromptDoff, "")
		state.Prompt.ExitReply = cmd.Reply
		return state, effects
	}
	next, effects := exitToFlat(state)
	reply(cmd.Reply, nil)
	return next, effects
}

// Prompts

func openPrompt(state State, kind host.PromptKind, detail string) (State, []actor.Effect) {
	state.PromptSeq++
	state.Prompt = &Prompt{
		Seq:    state.PromptSeq,
		Kind:   kind,
		Detail: detail,
		Prior:  state.FSM,
	}
	state.FSM = StateExitPrompt
	return state, []actor.Effect{effShowPrompt{Seq: state.PromptSeq, Kind: kind, Detail: detail}}
}

func reduceRequestConsent(state State, cmd cmdRequestConsent) (State, []actor.Effect) {
	if state.FSM != StateBrowsing && state.FSM != StatePresenting {
		reply(cmd.Reply, ConsentResult{Err: ErrNotImmersive})
		return state, nil
	}
	state, effects := openPrompt(state, host.PromptConsent, cmd.Detail)
	state.Prompt.ConsentReply = cmd.Reply
	return state, effects
}

func reducePromptResolved(state State, ev evPromptResolved) (State, []actor.Effect) {
	if state.FSM != StateExitPrompt || state.Prompt == nil || ev.Seq != state.Prompt.Seq {
		return state, nil
	}

	p := state.Prompt
	state.Prompt = nil
	state.FSM = p.Prior

	var effects []actor.Effect
	switch p.Kind {
	case host.PromptDoff:
		if ev.Accepted {
			state, effects = exitToFlat(state)
			reply(p.ExitReply, nil)
		} else {
			reply(p.ExitReply, ErrExitCanceled)
		}
	case host.PromptConsent:
		reply(p.ConsentReply, ConsentResult{Granted: ev.Accepted})
	}

	deferred := state.Deferred
	state.Deferred = nil
	state, replayed := actor.Replay(state, deferred, reduce)
	return state, append(effects, replayed...)
}

// Back

func reduceHardwareBack(state State, cmd cmdHardwareBack) (State, []actor.Effect) {
	switch state.FSM {
	case StateFlat:
		reply(cmd.Reply, BackPassThrough)
		return state, nil
	case StateBrowsing, StatePresenting:
		if state.Nav.CanGoBack {
			reply(cmd.Reply, BackNavigated)
			return state, []actor.Effect{effGoBack{TabID: state.History.TabID}}
		}
		if state.FSM == StatePresenting {
			next, effects := endPresentation(state, ErrSessionEnded)
			reply(cmd.Reply, BackEndedPresentation)
			return next, effects
		}
	}
	reply(cmd.Reply, BackIgnored)
	return state, nil
}

// Crash

// reduceRendererCrashed recovers the page layer. Immersive mode survives;
// only a presentation owned by the crashed tab ends.
func reduceRendererCrashed(state State, ev evRendererCrashed) (State, []actor.Effect) {
	if !state.FSM.Immersive() {
		return state, nil
	}
	effects := []actor.Effect{effRecoverPage{TabID: ev.TabID}}
	if state.Fullscreen && state.FullscreenTab == ev.TabID {
		state.Fullscreen = false
		state.FullscreenTab = ""
	}
	if state.FSM == StatePresenting && state.Presenting.Handle.TabID == ev.TabID {
		next, ended := endPresentation(state, ErrRendererCrashed)
		return next, append(effects, ended...)
	}
	return state, effects
}

// Reset

// resetToFlat forces Flat from any state, settling every outstanding waiter
// with reason. It tolerates inconsistent input so it can serve as the panic
// recovery path.
func resetToFlat(state State, reason error) (State, []actor.Effect) {
	if reason == nil {
		reason = ErrReset
	}
	var effects []actor.Effect

	if state.Entering != nil {
		reply(state.Entering.Reply, reason)
		if state.Entering.Present != nil {
			reply(state.Entering.Present.Reply, PresentResult{Err: reason})
		}
		effects = append(effects, effCancelTimer{Name: entryDeadlineTimerName})
	}
	if state.Prompt != nil {
		reply(state.Prompt.ExitReply, reason)
		reply(state.Prompt.ConsentReply, ConsentResult{Err: reason})
		effects = append(effects, effDismissPrompt{Kind: state.Prompt.Kind})
	}
	for _, in := range state.Deferred {
		rejectInput(in, reason)
	}
	if state.Presenting != nil && !state.Ended.Ended(state.Presenting.Handle.ID) {
		state.Ended = state.Ended.MarkEnded(state.Presenting.Handle.ID)
		effects = append(effects, effSessionEnded{Handle: state.Presenting.Handle, Reason: reason})
	}
	if state.Surface != SurfaceNone {
		effects = append(effects, effReleaseSurface{Owner: state.Surface})
	}
	if state.FSM != StateFlat {
		effects = append(effects, effExitRuntime{})
	}
	if state.Fullscreen {
		effects = append(effects, effExitFullscreen{TabID: state.FullscreenTab})
	}

	next := State{
		FSM:       StateFlat,
		Gen:       state.Gen,
		PromptSeq: state.PromptSeq,
		Ended:     state.Ended,
		History:   state.History,
		Settings:  state.Settings,
	}
	next.Nav = navigation.Recompute(next.History, navigation.ModeFlat)
	return next, effects
}

// Invariants

func checkInvariants(s State) {
	if (s.FSM == StateEntering) != (s.Entering != nil) {
		violate(s.FSM, "entering payload present=%t", s.Entering != nil)
	}
	if (s.FSM == StateExitPrompt) != (s.Prompt != nil) {
		violate(s.FSM, "prompt payload present=%t", s.Prompt != nil)
	}
	if len(s.Deferred) > 0 && s.FSM != StateExitPrompt {
		violate(s.FSM, "%d deferred inputs without an outstanding prompt", len(s.Deferred))
	}

	want := SurfaceNone
	phase := s.FSM
	if s.FSM == StateExitPrompt {
		phase = s.Prompt.Prior
		if phase != StateBrowsing && phase != StatePresenting {
			violate(s.FSM, "prompt prior state %s is not immersive", phase)
		}
	}
	switch phase {
	case StateBrowsing:
		want = SurfaceBrowsing
		if s.Presenting != nil {
			violate(s.FSM, "presentation payload while browsing")
		}
	case StatePresenting:
		want = SurfacePresenting
		if s.Presenting == nil {
			violate(s.FSM, "presenting without a handle")
		}
	default:
		if s.Presenting != nil {
			violate(s.FSM, "presentation payload outside immersive mode")
		}
	}
	if s.Surface != want {
		violate(s.FSM, "surface owned by %q, want %q", s.Surface, want)
	}
	if s.FSM == StateFlat && s.BrowsedFlat {
		violate(s.FSM, "immersive browsing flag survived exit")
	}
}
