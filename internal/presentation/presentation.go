// Package presentation models page-level exclusive rendering sessions
// (WebXR/WebVR "presenting").
package presentation

import (
	"context"
	"errors"
	"sync"

	"github.com/bhandras/immersive/internal/compat"
	"github.com/google/uuid"
)

var (
	// ErrNoUserGesture is returned when a page requests presentation outside a
	// user gesture.
	ErrNoUserGesture = errors.New("presentation requires a user gesture")
	// ErrIncompatibleRuntime is returned when the runtime is not Ready.
	ErrIncompatibleRuntime = errors.New("immersive runtime is not compatible")
	// ErrAlreadyPresenting is returned when another origin holds the session.
	ErrAlreadyPresenting = errors.New("another page is already presenting")
	// ErrTabNotFocused is returned when the requesting tab is not foregrounded.
	ErrTabNotFocused = errors.New("requesting tab is not in the foreground")
)

// Handle identifies one presentation session.
type Handle struct {
	ID     string `json:"id"`
	Origin string `json:"origin"`
	TabID  string `json:"tabId"`
}

// NewHandle mints a handle with a fresh id.
func NewHandle(origin, tabID string) Handle {
	return Handle{ID: uuid.NewString(), Origin: origin, TabID: tabID}
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool { return h.ID == "" }

// Request is a page's requestSession call.
type Request struct {
	Handle        Handle
	UserGesture   bool
	TabForeground bool
}

// Validate checks req against the runtime compatibility and the currently
// presenting handle (zero if none). It reports reuse=true when the same
// origin in the same tab asks again while already presenting.
func Validate(req Request, c compat.Compatibility, current Handle) (reuse bool, err error) {
	if !req.UserGesture {
		return false, ErrNoUserGesture
	}
	if !c.PermitsEntry() {
		return false, ErrIncompatibleRuntime
	}
	if !req.TabForeground {
		return false, ErrTabNotFocused
	}
	if current.IsZero() {
		return false, nil
	}
	if current.Origin == req.Handle.Origin && current.TabID == req.Handle.TabID {
		return true, nil
	}
	return false, ErrAlreadyPresenting
}

// maxEnded bounds the ended-handle ledger.
const maxEnded = 64

// Ledger remembers recently ended handles so repeated end calls are
// recognized as no-ops.
type Ledger struct {
	ids []string
}

// MarkEnded records id. Oldest entries fall off past the bound.
func (l Ledger) MarkEnded(id string) Ledger {
	if id == "" || l.Ended(id) {
		return l
	}
	ids := append(append([]string(nil), l.ids...), id)
	if len(ids) > maxEnded {
		ids = ids[len(ids)-maxEnded:]
	}
	return Ledger{ids: ids}
}

// Ended reports whether id was ended recently.
func (l Ledger) Ended(id string) bool {
	for _, v := range l.ids {
		if v == id {
			return true
		}
	}
	return false
}

// Ender ends a presentation session on the state machine.
type Ender interface {
	EndPresenting(ctx context.Context, h Handle) error
}

// Session is the page-side view of a granted presentation.
type Session struct {
	handle Handle
	ender  Ender

	mu    sync.Mutex
	ended bool
}

// NewSession binds a granted handle to the state machine that ends it.
func NewSession(h Handle, ender Ender) *Session {
	return &Session{handle: h, ender: ender}
}

// Handle returns the session handle.
func (s *Session) Handle() Handle { return s.handle }

// End ends the session. Once a call succeeds, later calls return nil without
// reaching the state machine. A failed call, such as one whose ctx ended, is
// retried by the next.
func (s *Session) End(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	if err := s.ender.EndPresenting(ctx, s.handle); err != nil {
		return err
	}
	s.ended = true
	return nil
}
