package api

import (
	"context"
	"errors"
	"sync"

	"github.com/bhandras/immersive/internal/compat"
	"github.com/bhandras/immersive/internal/host"
	"github.com/bhandras/immersive/internal/navigation"
	"github.com/bhandras/immersive/internal/presentation"
	"github.com/google/uuid"
)

// ErrPromptDismissed is returned by Shell.Show for overlays torn down
// without an answer.
var ErrPromptDismissed = errors.New("prompt dismissed")

var (
	_ host.TabHost         = (*Shell)(nil)
	_ host.SessionBridge   = (*Shell)(nil)
	_ host.PromptUI        = (*Shell)(nil)
	_ host.InstallPrompter = (*Shell)(nil)
)

// PendingPrompt is an overlay waiting for POST /v1/prompts/resolve.
type PendingPrompt struct {
	ID     string          `json:"id"`
	Kind   host.PromptKind `json:"kind"`
	Detail string          `json:"detail,omitempty"`

	result chan bool
}

// Shell is the browser shell as seen by the session controller. The shell
// reports tab state over HTTP and receives commands on the event stream.
type Shell struct {
	hub *Hub

	mu         sync.Mutex
	foreground string
	histories  map[string]navigation.History
	fullscreen map[string]bool
	prompts    map[host.PromptKind]*PendingPrompt
	onEnded    func(presentation.Handle)
}

// NewShell returns a Shell publishing commands on hub.
func NewShell(hub *Hub) *Shell {
	return &Shell{
		hub:        hub,
		histories:  make(map[string]navigation.History),
		fullscreen: make(map[string]bool),
		prompts:    make(map[host.PromptKind]*PendingPrompt),
	}
}

// Focus records tabID as the foreground tab. An empty id clears it.
func (s *Shell) Focus(tabID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.foreground = tabID
	if _, ok := s.histories[tabID]; !ok && tabID != "" {
		s.histories[tabID] = navigation.History{TabID: tabID, Length: 1}
	}
}

// SetHistory records the history of h.TabID.
func (s *Shell) SetHistory(h navigation.History) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[h.TabID] = h
}

// SetFullscreen records the fullscreen state of tabID.
func (s *Shell) SetFullscreen(tabID string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fullscreen[tabID] = on
}

// ForegroundTab implements host.TabHost.
func (s *Shell) ForegroundTab() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.foreground, s.foreground != ""
}

// History implements host.TabHost.
func (s *Shell) History(tabID string) navigation.History {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.histories[tabID]
}

// IsFullscreen implements host.TabHost.
func (s *Shell) IsFullscreen(tabID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fullscreen[tabID]
}

// ExitFullscreen implements host.TabHost.
func (s *Shell) ExitFullscreen(_ context.Context, tabID string) error {
	s.SetFullscreen(tabID, false)
	s.hub.Broadcast(Event{Type: EventExitFullscreen, Data: tabCommand{TabID: tabID}})
	return nil
}

// GoBack implements host.TabHost.
func (s *Shell) GoBack(_ context.Context, tabID string) error {
	s.hub.Broadcast(Event{Type: EventGoBack, Data: tabCommand{TabID: tabID}})
	return nil
}

// RecoverPage implements host.TabHost.
func (s *Shell) RecoverPage(_ context.Context, tabID string) error {
	s.hub.Broadcast(Event{Type: EventRecoverPage, Data: tabCommand{TabID: tabID}})
	return nil
}

// OnSessionEnded registers fn to run whenever the controller ends a
// presentation session, for any reason.
func (s *Shell) OnSessionEnded(fn func(presentation.Handle)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = fn
}

// SessionEnded implements host.SessionBridge.
func (s *Shell) SessionEnded(h presentation.Handle, reason error) {
	s.mu.Lock()
	fn := s.onEnded
	s.mu.Unlock()
	if fn != nil {
		fn(h)
	}

	msg := ""
	if reason != nil {
		msg = reason.Error()
	}
	s.hub.Broadcast(Event{Type: EventSessionEnded, Data: sessionEnded{Handle: h, Reason: msg}})
}

// Show implements host.PromptUI. The overlay stays pending until Resolve,
// Dismiss or ctx ends.
func (s *Shell) Show(ctx context.Context, kind host.PromptKind, detail string) (bool, error) {
	p := &PendingPrompt{
		ID:     uuid.NewString(),
		Kind:   kind,
		Detail: detail,
		result: make(chan bool, 1),
	}
	s.mu.Lock()
	if prev, ok := s.prompts[kind]; ok {
		close(prev.result)
	}
	s.prompts[kind] = p
	s.mu.Unlock()

	s.hub.Broadcast(Event{Type: EventPrompt, Data: p})

	select {
	case accepted, ok := <-p.result:
		if !ok {
			return false, ErrPromptDismissed
		}
		return accepted, nil
	case <-ctx.Done():
		s.drop(p)
		return false, ctx.Err()
	}
}

// Dismiss implements host.PromptUI.
func (s *Shell) Dismiss(kind host.PromptKind) {
	s.mu.Lock()
	p, ok := s.prompts[kind]
	if ok {
		delete(s.prompts, kind)
		close(p.result)
	}
	s.mu.Unlock()
	if ok {
		s.hub.Broadcast(Event{Type: EventPromptClosed, Data: p})
	}
}

// Resolve answers the outstanding overlay of kind. It reports false when
// none is showing.
func (s *Shell) Resolve(kind host.PromptKind, accepted bool) bool {
	s.mu.Lock()
	p, ok := s.prompts[kind]
	if ok {
		delete(s.prompts, kind)
		p.result <- accepted
	}
	s.mu.Unlock()
	if ok {
		s.hub.Broadcast(Event{Type: EventPromptClosed, Data: p})
	}
	return ok
}

// Outstanding returns the overlays currently showing.
func (s *Shell) Outstanding() []PendingPrompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingPrompt, 0, len(s.prompts))
	for _, kind := range []host.PromptKind{host.PromptConsent, host.PromptDoff} {
		if p, ok := s.prompts[kind]; ok {
			out = append(out, PendingPrompt{ID: p.ID, Kind: p.Kind, Detail: p.Detail})
		}
	}
	return out
}

func (s *Shell) drop(p *PendingPrompt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.prompts[p.Kind]; ok && cur == p {
		delete(s.prompts, p.Kind)
	}
}

// feedbackSurface asks the shell to show the post-exit feedback request.
type feedbackSurface struct{ hub *Hub }

func (f feedbackSurface) Show(context.Context) error {
	f.hub.Broadcast(Event{Type: EventFeedback})
	return nil
}

// Feedback returns the shell's host.FeedbackSurface.
func (s *Shell) Feedback() host.FeedbackSurface { return feedbackSurface{hub: s.hub} }

// PromptInstall implements host.InstallPrompter.
func (s *Shell) PromptInstall(_ context.Context, c compat.Compatibility) error {
	s.hub.Broadcast(Event{Type: EventInstall, Data: map[string]any{"compatibility": c}})
	return nil
}

type tabCommand struct {
	TabID string `json:"tabId"`
}

type sessionEnded struct {
	Handle presentation.Handle `json:"handle"`
	Reason string              `json:"reason,omitempty"`
}
