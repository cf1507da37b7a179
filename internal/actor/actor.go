// Package actor provides the single-owner event loop that serializes every
// immersive-mode transition.
//
// The core idea is:
//   - A single goroutine ("the actor loop") owns all mutable state.
//   - A pure reducer transforms state given an input and returns effects.
//   - A runtime interprets effects asynchronously and emits events back.
//
// Signal sources (lifecycle callbacks, runtime broadcasts, page session
// requests) never touch state directly; they deliver inputs to the mailbox and
// the loop applies them one at a time, so transitions are totally ordered no
// matter how the sources race.
package actor

import (
	"context"
	"errors"
	"sync"
)

// Input is anything the loop reduces: a caller command carrying a reply
// channel, or an event observed by the effect runtime.
type Input interface {
	isActorInput()
}

// Effect describes work for the Runtime (launch the runtime, show an
// overlay, start a deadline). The reducer only returns it.
type Effect interface {
	isActorEffect()
}

// ReducerFunc computes the next state for one input. Timestamps and ids
// arrive inside inputs so a reducer stays deterministic and replayable.
//
// A reducer panics to signal an invariant violation; see WithRecover.
type ReducerFunc[S any] func(state S, input Input) (next S, effects []Effect)

// RecoverFunc converts a reducer panic into a replacement state and cleanup
// effects. It receives the state as it was before the failing input.
type RecoverFunc[S any] func(prev S, input Input, recovered any) (next S, effects []Effect)

// Runtime performs effects. Outcomes come back as inputs through emit; a
// Runtime never touches actor state.
type Runtime interface {
	// HandleEffects is called on the loop goroutine with each batch, in
	// reducer order. Slow work goes elsewhere; nothing is emitted after ctx
	// is canceled.
	HandleEffects(ctx context.Context, effects []Effect, emit func(Input))

	// Stop cancels outstanding timers and host calls. Repeated calls are
	// harmless.
	Stop()
}

// Hooks observe the loop. Every field is optional.
type Hooks[S any] struct {
	// OnInput is called after an input is dequeued, before reducing.
	OnInput func(input Input)
	// OnTransition is called after reducing, when state changes are applied.
	OnTransition func(prev S, next S, input Input)
	// OnEffects is called after reducing, before effects are handed to Runtime.
	OnEffects func(effects []Effect)
	// OnPanic is called when the reducer panics, before any RecoverFunc runs.
	OnPanic func(recovered any)
}

// ErrStopped is returned when the actor has been stopped.
var ErrStopped = errors.New("actor stopped")

// Actor runs a single-threaded event loop that owns state of type S.
type Actor[S any] struct {
	reduce  ReducerFunc[S]
	recover RecoverFunc[S]
	runtime Runtime
	hooks   Hooks[S]

	mu     sync.Mutex
	state  S
	inbox  chan Input
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Option configures an Actor.
type Option[S any] func(*Actor[S])

// WithHooks attaches hooks for observability.
func WithHooks[S any](hooks Hooks[S]) Option[S] {
	return func(a *Actor[S]) { a.hooks = hooks }
}

// WithMailboxSize sets the actor mailbox buffer size.
func WithMailboxSize[S any](n int) Option[S] {
	return func(a *Actor[S]) {
		if n <= 0 {
			return
		}
		a.inbox = make(chan Input, n)
	}
}

// WithRecover keeps the loop alive across reducer panics. Without it a panic
// crashes the process, which is the desired behavior for strict builds.
func WithRecover[S any](fn RecoverFunc[S]) Option[S] {
	return func(a *Actor[S]) { a.recover = fn }
}

// New returns a stopped actor; call Start to run it.
func New[S any](initial S, reducer ReducerFunc[S], runtime Runtime, opts ...Option[S]) *Actor[S] {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Actor[S]{
		reduce:  reducer,
		runtime: runtime,
		state:   initial,
		inbox:   make(chan Input, 256),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start launches the loop goroutine once.
func (a *Actor[S]) Start() {
	a.once.Do(func() { go a.loop() })
}

// Stop ends the loop and stops the runtime. It may be called repeatedly.
func (a *Actor[S]) Stop() {
	a.cancel()
	if a.runtime != nil {
		a.runtime.Stop()
	}
}

// Done returns a channel that closes when the actor loop exits.
func (a *Actor[S]) Done() <-chan struct{} { return a.done }

// Enqueue delivers an input without blocking. It returns false if the actor
// is stopped or the mailbox is full.
func (a *Actor[S]) Enqueue(input Input) bool {
	if input == nil {
		return false
	}
	select {
	case <-a.ctx.Done():
		return false
	default:
	}
	select {
	case a.inbox <- input:
		return true
	default:
		return false
	}
}

// Send delivers an input, waiting for mailbox space. Unlike Enqueue it never
// drops the input; it fails only when ctx ends or the actor stops.
func (a *Actor[S]) Send(ctx context.Context, input Input) error {
	if input == nil {
		return nil
	}
	select {
	case <-a.ctx.Done():
		return ErrStopped
	default:
	}
	select {
	case a.inbox <- input:
		return nil
	case <-a.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the last committed state. Use it for status reporting and
// tests; decisions belong in the reducer.
func (a *Actor[S]) State() S {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// emit feeds runtime events back into the mailbox. A full mailbox falls back
// to a blocking send on a helper goroutine rather than losing the event.
func (a *Actor[S]) emit(in Input) {
	if a.Enqueue(in) {
		return
	}
	go func() { _ = a.Send(a.ctx, in) }()
}

// step reduces a single input, converting panics through the RecoverFunc when
// one is configured.
func (a *Actor[S]) step(prev S, in Input) (next S, effects []Effect) {
	if a.recover == nil && a.hooks.OnPanic == nil {
		return a.reduce(prev, in)
	}
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if a.hooks.OnPanic != nil {
			a.hooks.OnPanic(r)
		}
		if a.recover == nil {
			panic(r)
		}
		next, effects = a.recover(prev, in, r)
	}()
	return a.reduce(prev, in)
}

// loop runs the actor event loop.
func (a *Actor[S]) loop() {
	defer close(a.done)

	for {
		select {
		case <-a.ctx.Done():
			return
		case in := <-a.inbox:
			if in == nil {
				continue
			}
			if a.hooks.OnInput != nil {
				a.hooks.OnInput(in)
			}

			a.mu.Lock()
			prev := a.state
			a.mu.Unlock()

			next, effects := a.step(prev, in)

			a.mu.Lock()
			a.state = next
			a.mu.Unlock()

			if a.hooks.OnTransition != nil {
				a.hooks.OnTransition(prev, next, in)
			}
			if len(effects) > 0 && a.hooks.OnEffects != nil {
				a.hooks.OnEffects(effects)
			}

			if a.runtime != nil && len(effects) > 0 {
				a.runtime.HandleEffects(a.ctx, effects, a.emit)
			}
		}
	}
}
