// Package feedback decides whether leaving immersive mode should surface a
// feedback request.
package feedback

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// DefaultFrequency is how many qualifying exits pass between prompts.
const DefaultFrequency = 10

const (
	keyExitsSinceLastPrompt = "feedback.exits_since_last_prompt"
	keyOptedOut             = "feedback.opted_out"
)

// Store is the persistent key-value store backing the counter. Get reports
// ok=false for keys that were never written.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// Throttle is safe for concurrent use.
type Throttle struct {
	store     Store
	frequency int

	mu sync.Mutex
}

// Option configures a Throttle.
type Option func(*Throttle)

// WithFrequency overrides DefaultFrequency. Values below 1 are ignored.
func WithFrequency(n int) Option {
	return func(t *Throttle) {
		if n >= 1 {
			t.frequency = n
		}
	}
}

// NewThrottle returns a Throttle persisting through store.
func NewThrottle(store Store, opts ...Option) *Throttle {
	t := &Throttle{store: store, frequency: DefaultFrequency}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Frequency returns the configured prompt frequency.
func (t *Throttle) Frequency() int { return t.frequency }

// ShouldPromptOnExit records a qualifying exit and reports whether to prompt.
//
// didBrowseFlatContent must be false when the session only ever showed a
// page-exclusive presentation; such exits count but never prompt.
func (t *Throttle) ShouldPromptOnExit(ctx context.Context, didBrowseFlatContent bool) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	count, err := t.loadInt(ctx, keyExitsSinceLastPrompt)
	if err != nil {
		return false, err
	}
	optedOut, err := t.loadBool(ctx, keyOptedOut)
	if err != nil {
		return false, err
	}

	count++
	prompt := !optedOut && didBrowseFlatContent && count%t.frequency == 0
	if prompt {
		count = 0
	}
	if err := t.store.Set(ctx, keyExitsSinceLastPrompt, strconv.Itoa(count)); err != nil {
		return false, fmt.Errorf("feedback: save counter: %w", err)
	}
	return prompt, nil
}

// SetOptedOut sets or clears the permanent opt-out flag.
func (t *Throttle) SetOptedOut(ctx context.Context, optedOut bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.store.Set(ctx, keyOptedOut, strconv.FormatBool(optedOut)); err != nil {
		return fmt.Errorf("feedback: save opt-out: %w", err)
	}
	return nil
}

// Status is the persisted counter state.
type Status struct {
	ExitsSinceLastPrompt int  `json:"exitsSinceLastPrompt"`
	OptedOut             bool `json:"optedOut"`
	Frequency            int  `json:"frequency"`
}

// Status reads the persisted counter state.
func (t *Throttle) Status(ctx context.Context) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	count, err := t.loadInt(ctx, keyExitsSinceLastPrompt)
	if err != nil {
		return Status{}, err
	}
	optedOut, err := t.loadBool(ctx, keyOptedOut)
	if err != nil {
		return Status{}, err
	}
	return Status{ExitsSinceLastPrompt: count, OptedOut: optedOut, Frequency: t.frequency}, nil
}

func (t *Throttle) loadInt(ctx context.Context, key string) (int, error) {
	raw, ok, err := t.store.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("feedback: load %s: %w", key, err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		// Corrupt values restart the cycle.
		return 0, nil
	}
	return n, nil
}

func (t *Throttle) loadBool(ctx context.Context, key string) (bool, error) {
	raw, ok, err := t.store.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("feedback: load %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, nil
	}
	return v, nil
}
