// Package host defines the collaborators the session state machine drives.
//
// Each external system is an injected interface so tests supply fakes instead
// of subclassing production logic.
package host

import (
	"context"

	"github.com/bhandras/immersive/internal/compat"
	"github.com/bhandras/immersive/internal/navigation"
	"github.com/bhandras/immersive/internal/presentation"
)

// RuntimeService is the external spatial runtime. Its asynchronous "ready"
// broadcast is delivered separately, to Controller.OnBroadcastReady.
type RuntimeService interface {
	compat.Prober

	// LaunchImmersive starts the runtime hand-off. false means the runtime
	// refused.
	LaunchImmersive(ctx context.Context) (bool, error)
	// ExitImmersive returns the display to flat mode.
	ExitImmersive(ctx context.Context) (bool, error)
	// RequiresDoff reports whether leaving immersive mode needs the DOFF
	// confirmation overlay.
	RequiresDoff() bool
}

// TabHost exposes the foreground tab and page-level recovery.
type TabHost interface {
	// ForegroundTab returns the id of the focused tab, if any.
	ForegroundTab() (tabID string, ok bool)
	// History returns the navigation history of tabID.
	History(tabID string) navigation.History
	// IsFullscreen reports whether tabID's page is fullscreened.
	IsFullscreen(tabID string) bool
	// ExitFullscreen leaves page fullscreen.
	ExitFullscreen(ctx context.Context, tabID string) error
	// GoBack navigates tabID one entry back.
	GoBack(ctx context.Context, tabID string) error
	// RecoverPage reloads a crashed renderer.
	RecoverPage(ctx context.Context, tabID string) error
}

// SessionBridge notifies pages about sessions the state machine ended on its
// own (focus loss, navigation, crash, forced reset).
type SessionBridge interface {
	SessionEnded(h presentation.Handle, reason error)
}

// PromptKind selects a blocking system overlay.
type PromptKind string

const (
	// PromptConsent asks for a permission (camera, microphone, AR).
	PromptConsent PromptKind = "consent"
	// PromptDoff confirms leaving immersive mode.
	PromptDoff PromptKind = "doff"
)

// PromptUI shows consent and DOFF overlays.
type PromptUI interface {
	// Show blocks until the user accepts (true) or cancels (false).
	Show(ctx context.Context, kind PromptKind, detail string) (accepted bool, err error)
	// Dismiss tears down an outstanding overlay without an outcome.
	Dismiss(kind PromptKind)
}

// FeedbackSurface shows the post-exit feedback request.
type FeedbackSurface interface {
	Show(ctx context.Context) error
}

// InstallPrompter offers to install or upgrade the runtime.
type InstallPrompter interface {
	PromptInstall(ctx context.Context, c compat.Compatibility) error
}
