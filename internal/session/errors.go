package session

import (
	"errors"
	"fmt"

	"github.com/bhandras/immersive/internal/presentation"
)

var (
	// ErrIncompatibleRuntime is returned when the runtime is not Ready.
	ErrIncompatibleRuntime = presentation.ErrIncompatibleRuntime
	// ErrNoUserGesture is returned for presentation requests without a gesture.
	ErrNoUserGesture = presentation.ErrNoUserGesture
	// ErrAlreadyPresenting is returned when another origin holds the session.
	ErrAlreadyPresenting = presentation.ErrAlreadyPresenting
	// ErrTabNotFocused is returned, or reported to the page, when the owning
	// tab is not in the foreground.
	ErrTabNotFocused = presentation.ErrTabNotFocused

	// ErrEntryTimeout is returned when the ready broadcast misses the deadline.
	ErrEntryTimeout = errors.New("immersive entry timed out")
	// ErrPromptAlreadyOutstanding is returned when a prompt cannot be queued.
	ErrPromptAlreadyOutstanding = errors.New("a prompt is already outstanding")
	// ErrEntryCanceled is returned when entry is canceled (explicitly or by a
	// resume the race guard did not absorb).
	ErrEntryCanceled = errors.New("immersive entry canceled")
	// ErrEntryInProgress is returned for conflicting requests during entry.
	ErrEntryInProgress = errors.New("immersive entry already in progress")
	// ErrLaunchFailed is returned when the runtime refuses to launch.
	ErrLaunchFailed = errors.New("runtime refused to launch")
	// ErrSessionEnded rejects a presentation that ended before it started, or
	// tells a page its session is gone.
	ErrSessionEnded = errors.New("presentation session ended")
	// ErrPageNavigated tells a page its session ended because it navigated.
	ErrPageNavigated = errors.New("presenting page navigated")
	// ErrRendererCrashed tells a page its session ended with its renderer.
	ErrRendererCrashed = errors.New("presenting renderer crashed")
	// ErrExitCanceled is returned when the user cancels the DOFF overlay.
	ErrExitCanceled = errors.New("exit canceled")
	// ErrNotImmersive is returned for immersive-only requests while flat.
	ErrNotImmersive = errors.New("not in immersive mode")
	// ErrReset is reported to waiters when the machine is forced to Flat.
	ErrReset = errors.New("session reset to flat")
	// ErrStopped is returned once the controller has stopped.
	ErrStopped = errors.New("session controller stopped")
)

// InvariantError is raised (via panic) when the reducer produces an
// impossible state. It is a programming error, not a runtime condition.
type InvariantError struct {
	State FSMState
	Msg   string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("session invariant violated in %s: %s", e.State, e.Msg)
}

func violate(state FSMState, format string, args ...any) {
	panic(&InvariantError{State: state, Msg: fmt.Sprintf(format, args...)})
}
