package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bhandras/immersive/internal/actor"
	"github.com/bhandras/immersive/internal/feedback"
	"github.com/bhandras/immersive/internal/host"
	"github.com/bhandras/immersive/internal/observability"
	"github.com/bhandras/immersive/pkg/logger"
	"go.opentelemetry.io/otel/codes"
)

// Runtime interprets session effects against the host collaborators.
//
// Runtime never mutates session state. Results travel back to the loop as
// events through emit. Calls into the runtime service and the tab host run
// on a single worker so launch, exit and fullscreen reconciliation keep the
// order the reducer produced them in.
type Runtime struct {
	mu sync.Mutex

	svc       host.RuntimeService
	tabs      host.TabHost
	bridge    host.SessionBridge
	prompts   host.PromptUI
	feedback  host.FeedbackSurface
	installer host.InstallPrompter
	throttle  *feedback.Throttle
	strict    bool

	timers  map[string]*time.Timer
	pending map[host.PromptKind]shownPrompt
	surface SurfaceOwner

	queue *serialQueue
}

// NewRuntime returns a Runtime driving deps. In strict mode a surface
// ownership conflict panics instead of being logged.
func NewRuntime(deps Deps, throttle *feedback.Throttle, strict bool) *Runtime {
	return &Runtime{
		svc:       deps.Runtime,
		tabs:      deps.Tabs,
		bridge:    deps.Bridge,
		prompts:   deps.Prompts,
		feedback:  deps.Feedback,
		installer: deps.Installer,
		throttle:  throttle,
		strict:    strict,
		timers:    make(map[string]*time.Timer),
		pending:   make(map[host.PromptKind]shownPrompt),
		queue:     newSerialQueue(),
	}
}

// HandleEffects implements actor.Runtime.
func (r *Runtime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	for _, eff := range effects {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch e := eff.(type) {
		case effLaunchRuntime:
			r.launch(ctx, e, emit)
		case effExitRuntime:
			r.exit(ctx)
		case effStartTimer:
			r.startTimer(ctx, e, emit)
		case effCancelTimer:
			r.cancelTimer(e.Name)
		case effClaimSurface:
			r.claimSurface(e.Owner)
		case effReleaseSurface:
			r.releaseSurface(e.Owner)
		case effShowPrompt:
			r.showPrompt(ctx, e, emit)
		case effDismissPrompt:
			r.dismissPrompt(e.Kind)
		case effPromptInstall:
			r.promptInstall(ctx, e)
		case effFeedbackOnExit:
			r.feedbackOnExit(ctx, e)
		case effExitFullscreen:
			r.tabCall(ctx, "exit-fullscreen", e.TabID, r.tabs.ExitFullscreen)
		case effRecoverPage:
			r.tabCall(ctx, "recover-page", e.TabID, r.tabs.RecoverPage)
		case effGoBack:
			r.tabCall(ctx, "go-back", e.TabID, r.tabs.GoBack)
		case effSessionEnded:
			r.sessionEnded(ctx, e)
		case effEntryFailed:
			metricEntryFailures.WithLabelValues(string(e.Trigger)).Inc()
			logger.Infof("[session] entry via %s failed: %v", e.Trigger, e.Reason)
		default:
			logger.Debugf("[session] ignoring unknown effect %T", eff)
		}
	}
}

// Stop implements actor.Runtime.
func (r *Runtime) Stop() {
	r.mu.Lock()
	for name, t := range r.timers {
		t.Stop()
		delete(r.timers, name)
	}
	for kind, p := range r.pending {
		p.cancel()
		delete(r.pending, kind)
	}
	r.mu.Unlock()
	r.queue.close()
}

// Surface returns the current rendering surface owner.
func (r *Runtime) Surface() SurfaceOwner {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.surface
}

func (r *Runtime) launch(ctx context.Context, eff effLaunchRuntime, emit func(actor.Input)) {
	r.queue.push(func() {
		spanCtx, span := observability.StartSpan(ctx, "runtime.launch")
		defer span.End()

		ok, err := r.svc.LaunchImmersive(spanCtx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warnf("[session] runtime launch failed: %v", err)
		}
		if ctx.Err() != nil {
			return
		}
		emit(evRuntimeLaunched{Gen: eff.Gen, OK: ok && err == nil, Err: err})
	})
}

func (r *Runtime) exit(ctx context.Context) {
	r.queue.push(func() {
		spanCtx, span := observability.StartSpan(ctx, "runtime.exit")
		defer span.End()

		if _, err := r.svc.ExitImmersive(spanCtx); err != nil {
			span.RecordError(err)
			logger.Warnf("[session] runtime exit failed: %v", err)
		}
	})
}

func (r *Runtime) startTimer(ctx context.Context, eff effStartTimer, emit func(actor.Input)) {
	if eff.Name == "" || eff.AfterMs <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev := r.timers[eff.Name]; prev != nil {
		prev.Stop()
	}
	after := time.Duration(eff.AfterMs) * time.Millisecond
	r.timers[eff.Name] = time.AfterFunc(after, func() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		emit(evTimerFired{Name: eff.Name, Gen: eff.Gen})
	})
}

func (r *Runtime) cancelTimer(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t := r.timers[name]; t != nil {
		t.Stop()
		delete(r.timers, name)
	}
}

func (r *Runtime) claimSurface(owner SurfaceOwner) {
	r.mu.Lock()
	current := r.surface
	if current == SurfaceNone {
		r.surface = owner
	}
	r.mu.Unlock()

	if current == SurfaceNone || current == owner {
		logger.Debugf("[session] surface claimed by %s", owner)
		return
	}
	r.surfaceConflict(fmt.Sprintf("%s claimed the surface while %s holds it", owner, current))
}

func (r *Runtime) releaseSurface(owner SurfaceOwner) {
	r.mu.Lock()
	current := r.surface
	if current == owner {
		r.surface = SurfaceNone
	}
	r.mu.Unlock()

	if current == owner {
		logger.Debugf("[session] surface released by %s", owner)
		return
	}
	r.surfaceConflict(fmt.Sprintf("%s released the surface held by %q", owner, current))
}

func (r *Runtime) surfaceConflict(msg string) {
	metricInvariantViolations.Inc()
	if r.strict {
		panic(&InvariantError{Msg: msg})
	}
	logger.Errorf("[session] %s", msg)
}

func (r *Runtime) showPrompt(ctx context.Context, eff effShowPrompt, emit func(actor.Input)) {
	metricPrompts.WithLabelValues(string(eff.Kind)).Inc()
	if r.prompts == nil {
		// Without an overlay the safe answer is "canceled".
		emit(evPromptResolved{Seq: eff.Seq, Kind: eff.Kind})
		return
	}

	promptCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	if prev, ok := r.pending[eff.Kind]; ok {
		prev.cancel()
	}
	r.pending[eff.Kind] = shownPrompt{seq: eff.Seq, cancel: cancel}
	r.mu.Unlock()

	go func() {
		spanCtx, span := observability.StartSpan(promptCtx, "prompt.show")
		span.SetAttributes(observability.AttrPrompt.String(string(eff.Kind)))
		defer span.End()

		accepted, err := r.prompts.Show(spanCtx, eff.Kind, eff.Detail)

		r.mu.Lock()
		if p, ok := r.pending[eff.Kind]; ok && p.seq == eff.Seq {
			delete(r.pending, eff.Kind)
		}
		r.mu.Unlock()
		cancel()

		if err != nil {
			logger.Debugf("[session] %s prompt closed without answer: %v", eff.Kind, err)
			accepted = false
		}
		if ctx.Err() != nil {
			return
		}
		emit(evPromptResolved{Seq: eff.Seq, Kind: eff.Kind, Accepted: accepted})
	}()
}

func (r *Runtime) dismissPrompt(kind host.PromptKind) {
	r.mu.Lock()
	p, ok := r.pending[kind]
	delete(r.pending, kind)
	r.mu.Unlock()

	if r.prompts != nil {
		r.prompts.Dismiss(kind)
	}
	if ok {
		p.cancel()
	}
}

func (r *Runtime) promptInstall(ctx context.Context, eff effPromptInstall) {
	if r.installer == nil {
		return
	}
	go func() {
		if err := r.installer.PromptInstall(ctx, eff.Compat); err != nil {
			logger.Warnf("[session] install prompt failed: %v", err)
		}
	}()
}

func (r *Runtime) feedbackOnExit(ctx context.Context, eff effFeedbackOnExit) {
	if r.throttle == nil {
		return
	}
	r.queue.push(func() {
		show, err := r.throttle.ShouldPromptOnExit(ctx, eff.DidBrowseFlat)
		if err != nil {
			logger.Warnf("[session] feedback throttle: %v", err)
			return
		}
		if !show || r.feedback == nil {
			return
		}
		metricFeedbackPrompts.Inc()
		if err := r.feedback.Show(ctx); err != nil {
			logger.Warnf("[session] feedback prompt failed: %v", err)
		}
	})
}

func (r *Runtime) tabCall(ctx context.Context, what, tabID string, fn func(context.Context, string) error) {
	if tabID == "" {
		return
	}
	r.queue.push(func() {
		if err := fn(ctx, tabID); err != nil {
			logger.Warnf("[session] %s on tab %s: %v", what, tabID, err)
		}
	})
}

func (r *Runtime) sessionEnded(ctx context.Context, eff effSessionEnded) {
	if r.bridge == nil {
		return
	}
	r.queue.push(func() {
		_, span := observability.StartSpan(ctx, "presentation.ended")
		defer span.End()
		r.bridge.SessionEnded(eff.Handle, eff.Reason)
	})
}

type shownPrompt struct {
	seq    int64
	cancel context.CancelFunc
}

// serialQueue runs pushed funcs one at a time on a dedicated goroutine. It is
// unbounded so the actor loop never blocks on a slow collaborator.
type serialQueue struct {
	mu     sync.Mutex
	items  []func()
	wake   chan struct{}
	done   chan struct{}
	closed bool
}

func newSerialQueue() *serialQueue {
	q := &serialQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *serialQueue) push(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *serialQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	close(q.done)
}

func (q *serialQueue) run() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}
		fn := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		fn()
	}
}

func effectName(eff actor.Effect) string {
	return strings.TrimPrefix(fmt.Sprintf("%T", eff), "session.")
}
