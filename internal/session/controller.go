// Package session implements the immersive-session state machine: the single
// authority deciding when the application may leave flat browsing, enter the
// spatial runtime, hand the rendering surface to a page, and come back.
//
// All signals are marshalled onto one actor loop. The reducer in reducer.go
// is pure; Runtime interprets its effects against the host collaborators.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	framework "github.com/bhandras/immersive/internal/actor"
	"github.com/bhandras/immersive/internal/compat"
	"github.com/bhandras/immersive/internal/feedback"
	"github.com/bhandras/immersive/internal/host"
	"github.com/bhandras/immersive/internal/navigation"
	"github.com/bhandras/immersive/internal/presentation"
	"github.com/bhandras/immersive/internal/raceguard"
	"github.com/bhandras/immersive/pkg/logger"
)

// Deps are the collaborators the controller drives. Runtime and Tabs are
// required; the rest may be nil.
type Deps struct {
	Runtime   host.RuntimeService
	Tabs      host.TabHost
	Bridge    host.SessionBridge
	Prompts   host.PromptUI
	Feedback  host.FeedbackSurface
	Installer host.InstallPrompter
	// Store persists the feedback counter. Nil disables feedback prompts.
	Store feedback.Store
}

// Options tune the controller.
type Options struct {
	EntryTimeout      time.Duration
	GuardTTL          time.Duration
	FeedbackFrequency int
	MinRuntimeVersion int
	// DoffRequired forces the DOFF overlay on exit even when the runtime
	// does not ask for it.
	DoffRequired bool
	// Strict lets invariant violations crash the process instead of
	// resetting to Flat.
	Strict bool
	Clock  framework.Clock
}

const defaultEntryTimeout = 5 * time.Second

// Transition is one published state change.
type Transition struct {
	From  FSMState            `json:"from"`
	To    FSMState            `json:"to"`
	Input string              `json:"input"`
	AtMs  int64               `json:"atMs"`
	Nav   navigation.Snapshot `json:"nav"`
}

// Status is an exported view of State.
type Status struct {
	State       FSMState             `json:"state"`
	Trigger     EntryTrigger         `json:"trigger,omitempty"`
	Presenting  *presentation.Handle `json:"presenting,omitempty"`
	Prompt      host.PromptKind      `json:"prompt,omitempty"`
	PromptPrior FSMState             `json:"promptPrior,omitempty"`
	Deferred    int                  `json:"deferred"`
	Fullscreen  bool                 `json:"fullscreen"`
	Navigation  navigation.Snapshot  `json:"navigation"`
	Surface     SurfaceOwner         `json:"surface,omitempty"`
	Generation  int64                `json:"generation"`
	BrowsedFlat bool                 `json:"browsedFlat"`
	GuardArmed  bool                 `json:"guardArmed"`
}

// Controller is the public facade over the session actor.
type Controller struct {
	deps     Deps
	opts     Options
	clock    framework.Clock
	gate     *compat.Gate
	throttle *feedback.Throttle
	runtime  *Runtime
	actor    *framework.Actor[State]

	started atomic.Bool

	mu        sync.Mutex
	observers map[int]chan Transition
	nextObs   int
}

var _ presentation.Ender = (*Controller)(nil)

// New builds a controller. Call Start before sending it anything.
func New(deps Deps, opts Options) *Controller {
	if opts.EntryTimeout <= 0 {
		opts.EntryTimeout = defaultEntryTimeout
	}
	if opts.GuardTTL <= 0 {
		opts.GuardTTL = time.Duration(raceguard.DefaultTTLMs) * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = framework.RealClock{}
	}

	c := &Controller{
		deps:      deps,
		opts:      opts,
		clock:     opts.Clock,
		gate:      compat.NewGate(deps.Runtime, opts.MinRuntimeVersion),
		observers: make(map[int]chan Transition),
	}
	if deps.Store != nil {
		var fopts []feedback.Option
		if opts.FeedbackFrequency > 0 {
			fopts = append(fopts, feedback.WithFrequency(opts.FeedbackFrequency))
		}
		c.throttle = feedback.NewThrottle(deps.Store, fopts...)
	}
	c.runtime = NewRuntime(deps, c.throttle, opts.Strict)

	initial := NewState(Settings{
		EntryTimeoutMs: opts.EntryTimeout.Milliseconds(),
		GuardTTLMs:     opts.GuardTTL.Milliseconds(),
	})
	if tab, ok := deps.Tabs.ForegroundTab(); ok {
		initial.History = deps.Tabs.History(tab)
		initial.Fullscreen = deps.Tabs.IsFullscreen(tab)
		if initial.Fullscreen {
			initial.FullscreenTab = tab
		}
		initial.Nav = navigation.Recompute(initial.History, navigation.ModeFlat)
	}

	actorOpts := []framework.Option[State]{
		framework.WithHooks(framework.Hooks[State]{
			OnTransition: c.onTransition,
			OnEffects:    c.onEffects,
			OnPanic:      c.onPanic,
		}),
	}
	if !opts.Strict {
		actorOpts = append(actorOpts, framework.WithRecover(recoverToFlat))
	}
	c.actor = framework.New(initial, Reduce, c.runtime, actorOpts...)
	recordState(StateFlat)
	return c
}

// Start launches the actor loop.
func (c *Controller) Start() {
	c.started.Store(true)
	c.actor.Start()
}

// Stop stops the loop and the effect runtime. Observer channels are closed.
func (c *Controller) Stop() {
	c.actor.Stop()
	if c.started.Load() {
		<-c.actor.Done()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.observers {
		close(ch)
		delete(c.observers, id)
	}
}

// Done closes when the loop exits.
func (c *Controller) Done() <-chan struct{} { return c.actor.Done() }

// State returns a snapshot of the loop-owned state.
func (c *Controller) State() State { return c.actor.State() }

// Status returns an exported view of the current state.
func (c *Controller) Status() Status {
	s := c.actor.State()
	st := Status{
		State:       s.FSM,
		Deferred:    len(s.Deferred),
		Fullscreen:  s.Fullscreen,
		Navigation:  s.Nav,
		Surface:     s.Surface,
		Generation:  s.Gen,
		BrowsedFlat: s.BrowsedFlat,
		GuardArmed:  s.Guard.Armed(c.nowMs()),
	}
	if s.Entering != nil {
		st.Trigger = s.Entering.Trigger
	}
	if s.Presenting != nil {
		h := s.Presenting.Handle
		st.Presenting = &h
	}
	if s.Prompt != nil {
		st.Prompt = s.Prompt.Kind
		st.PromptPrior = s.Prompt.Prior
	}
	return st
}

// Compatibility returns the cached runtime compatibility.
func (c *Controller) Compatibility(ctx context.Context) compat.Compatibility {
	return c.gate.Check(ctx)
}

// InvalidateCompatibility forces the next check to re-probe the runtime.
func (c *Controller) InvalidateCompatibility() { c.gate.Invalidate() }

// Throttle returns the feedback throttle, or nil when feedback is disabled.
func (c *Controller) Throttle() *feedback.Throttle { return c.throttle }

// Runtime returns the effect runtime.
func (c *Controller) Runtime() *Runtime { return c.runtime }

// Subscribe registers a transition observer. Slow observers miss
// transitions rather than stalling the loop.
func (c *Controller) Subscribe(buffer int) (<-chan Transition, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Transition, buffer)

	c.mu.Lock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = ch
	c.mu.Unlock()

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if existing, ok := c.observers[id]; ok {
			close(existing)
			delete(c.observers, id)
		}
	}
}

// RequestEntry enters immersive browsing and waits for the ready broadcast,
// the deadline or a cancellation. expectBroadcast arms the race guard.
func (c *Controller) RequestEntry(ctx context.Context, trigger EntryTrigger, expectBroadcast bool) error {
	compatibility := c.gate.Check(ctx)
	reply := make(chan error, 1)
	if err := c.send(ctx, RequestEntry(trigger, expectBroadcast, compatibility, c.nowMs(), reply)); err != nil {
		return err
	}
	return await(ctx, c, reply)
}

// CancelEntry aborts a pending entry. It is a no-op otherwise.
func (c *Controller) CancelEntry(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, CancelEntry(reply)); err != nil {
		return err
	}
	return await(ctx, c, reply)
}

// RequestPresenting grants an exclusive session to the page at origin in
// tabID. From Flat it enters immersive mode first and resolves once the
// runtime is ready.
func (c *Controller) RequestPresenting(ctx context.Context, origin, tabID string, userGesture bool) (*presentation.Session, error) {
	fg, ok := c.deps.Tabs.ForegroundTab()
	req := presentation.Request{
		Handle:        presentation.NewHandle(origin, tabID),
		UserGesture:   userGesture,
		TabForeground: ok && fg == tabID,
	}
	compatibility := c.gate.Check(ctx)
	reply := make(chan PresentResult, 1)
	if err := c.send(ctx, RequestPresenting(req, compatibility, true, c.nowMs(), reply)); err != nil {
		return nil, err
	}
	res, err := awaitValue(ctx, c, reply)
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return presentation.NewSession(res.Handle, c), nil
}

// EndPresenting ends the session identified by h. It is safe in any state
// and idempotent.
func (c *Controller) EndPresenting(ctx context.Context, h presentation.Handle) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, EndPresenting(h, reply)); err != nil {
		return err
	}
	return await(ctx, c, reply)
}

// RequestExit leaves immersive mode. When the runtime mandates DOFF it waits
// for the overlay and returns ErrExitCanceled if the user stays.
func (c *Controller) RequestExit(ctx context.Context) error {
	doff := c.opts.DoffRequired || c.deps.Runtime.RequiresDoff()
	reply := make(chan error, 1)
	if err := c.send(ctx, RequestExit(doff, reply)); err != nil {
		return err
	}
	return await(ctx, c, reply)
}

// RequestConsent raises a consent overlay and reports the user's answer.
func (c *Controller) RequestConsent(ctx context.Context, detail string) (bool, error) {
	reply := make(chan ConsentResult, 1)
	if err := c.send(ctx, RequestConsent(detail, reply)); err != nil {
		return false, err
	}
	res, err := awaitValue(ctx, c, reply)
	if err != nil {
		return false, err
	}
	return res.Granted, res.Err
}

// HardwareBack handles the headset back button.
func (c *Controller) HardwareBack(ctx context.Context) (BackAction, error) {
	reply := make(chan BackAction, 1)
	if err := c.send(ctx, HardwareBack(reply)); err != nil {
		return BackIgnored, err
	}
	return awaitValue(ctx, c, reply)
}

// Reset forces the machine to Flat, settling every waiter with reason.
func (c *Controller) Reset(ctx context.Context, reason error) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, Reset(reason, reply)); err != nil {
		return err
	}
	return await(ctx, c, reply)
}

// OnResume delivers the application resume signal.
func (c *Controller) OnResume(ctx context.Context) error {
	return c.send(ctx, Resumed(c.nowMs()))
}

// OnBroadcastReady delivers the runtime's hardware-ready broadcast.
func (c *Controller) OnBroadcastReady(ctx context.Context) error {
	return c.send(ctx, BroadcastReady(c.nowMs()))
}

// OnTabFocusLost reports tabID leaving the foreground.
func (c *Controller) OnTabFocusLost(ctx context.Context, tabID string) error {
	return c.send(ctx, TabFocusLost(tabID))
}

// OnTabNavigated reports tabID committing a navigation.
func (c *Controller) OnTabNavigated(ctx context.Context, tabID string) error {
	return c.send(ctx, TabNavigated(tabID))
}

// OnHistoryChanged delivers a new foreground history.
func (c *Controller) OnHistoryChanged(ctx context.Context, h navigation.History) error {
	return c.send(ctx, HistoryChanged(h))
}

// RefreshHistory re-reads the foreground tab's history from the tab host.
func (c *Controller) RefreshHistory(ctx context.Context) error {
	tab, ok := c.deps.Tabs.ForegroundTab()
	if !ok {
		return c.send(ctx, HistoryChanged(navigation.History{}))
	}
	return c.send(ctx, HistoryChanged(c.deps.Tabs.History(tab)))
}

// OnFullscreenChanged reports a page entering or leaving fullscreen.
func (c *Controller) OnFullscreenChanged(ctx context.Context, tabID string, on bool) error {
	return c.send(ctx, FullscreenChanged(tabID, on))
}

// OnRendererCrashed reports a crashed page renderer.
func (c *Controller) OnRendererCrashed(ctx context.Context, tabID string) error {
	return c.send(ctx, RendererCrashed(tabID))
}

func (c *Controller) nowMs() int64 { return c.clock.Now().UnixMilli() }

func (c *Controller) send(ctx context.Context, in framework.Input) error {
	if err := c.actor.Send(ctx, in); err != nil {
		if errors.Is(err, framework.ErrStopped) {
			return ErrStopped
		}
		return err
	}
	return nil
}

func await(ctx context.Context, c *Controller, reply chan error) error {
	err, waitErr := awaitValue(ctx, c, reply)
	if waitErr != nil {
		return waitErr
	}
	return err
}

// awaitValue waits for the loop to answer. A canceled ctx abandons the wait
// but not the command; the buffered reply is dropped when it lands.
func awaitValue[T any](ctx context.Context, c *Controller, reply chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.actor.Done():
		select {
		case v := <-reply:
			return v, nil
		default:
		}
		return zero, ErrStopped
	}
}

func (c *Controller) onTransition(prev, next State, in framework.Input) {
	if prev.FSM == next.FSM {
		return
	}
	name := inputName(in)
	logger.Infof("[session] %s -> %s (%s)", prev.FSM, next.FSM, name)
	metricTransitions.WithLabelValues(string(prev.FSM), string(next.FSM)).Inc()
	recordState(next.FSM)

	t := Transition{From: prev.FSM, To: next.FSM, Input: name, AtMs: c.nowMs(), Nav: next.Nav}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.observers {
		select {
		case ch <- t:
		default:
		}
	}
}

func (c *Controller) onEffects(effects []framework.Effect) {
	if !logger.Enabled(logger.LevelTrace) {
		return
	}
	names := make([]string, 0, len(effects))
	for _, eff := range effects {
		names = append(names, effectName(eff))
	}
	logger.Tracef("[session] effects: %s", strings.Join(names, ", "))
}

func (c *Controller) onPanic(recovered any) {
	metricInvariantViolations.Inc()
	if c.opts.Strict {
		logger.Errorf("[session] invariant violation (strict): %v", recovered)
		return
	}
	logger.Errorf("[session] invariant violation, resetting to flat: %v", recovered)
}

// recoverToFlat is the production answer to a reducer panic: settle the
// failing input and every waiter, then return to Flat with cleanup effects.
func recoverToFlat(prev State, in framework.Input, recovered any) (State, []framework.Effect) {
	reason := fmt.Errorf("%w: %v", ErrReset, recovered)
	rejectInput(in, reason)
	return resetToFlat(prev, reason)
}

func inputName(in framework.Input) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", in), "session.")
}
