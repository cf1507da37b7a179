// Package hosttest provides in-memory collaborators for session tests.
package hosttest

import (
	"context"
	"errors"
	"sync"

	"github.com/bhandras/immersive/internal/compat"
	"github.com/bhandras/immersive/internal/host"
	"github.com/bhandras/immersive/internal/navigation"
	"github.com/bhandras/immersive/internal/presentation"
)

var (
	_ host.RuntimeService  = (*Runtime)(nil)
	_ host.TabHost         = (*Tabs)(nil)
	_ host.SessionBridge   = (*Bridge)(nil)
	_ host.PromptUI        = (*Prompts)(nil)
	_ host.FeedbackSurface = (*Feedback)(nil)
	_ host.InstallPrompter = (*Installer)(nil)
)

// Runtime is a scriptable host.RuntimeService.
type Runtime struct {
	mu sync.Mutex

	Info     compat.VersionInfo
	ProbeErr error
	Refuse   bool
	Doff     bool
	// OnLaunch runs after a successful launch; tests use it to fire the
	// ready broadcast.
	OnLaunch func()

	launches int
	exits    int
}

// NewRuntime returns a Runtime reporting version.
func NewRuntime(version int) *Runtime {
	return &Runtime{Info: compat.VersionInfo{Version: version}}
}

// ProbeVersion implements compat.Prober.
func (r *Runtime) ProbeVersion(context.Context) (compat.VersionInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Info, r.ProbeErr
}

// LaunchImmersive implements host.RuntimeService.
func (r *Runtime) LaunchImmersive(context.Context) (bool, error) {
	r.mu.Lock()
	r.launches++
	refuse := r.Refuse
	hook := r.OnLaunch
	r.mu.Unlock()
	if refuse {
		return false, nil
	}
	if hook != nil {
		hook()
	}
	return true, nil
}

// ExitImmersive implements host.RuntimeService.
func (r *Runtime) ExitImmersive(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exits++
	return true, nil
}

// RequiresDoff implements host.RuntimeService.
func (r *Runtime) RequiresDoff() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Doff
}

// SetDoff toggles the DOFF requirement.
func (r *Runtime) SetDoff(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Doff = v
}

// SetOnLaunch replaces the launch hook.
func (r *Runtime) SetOnLaunch(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.OnLaunch = fn
}

// Launches returns how many launches were requested.
func (r *Runtime) Launches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.launches
}

// Exits returns how many exits were requested.
func (r *Runtime) Exits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exits
}

// Tabs is an in-memory host.TabHost.
type Tabs struct {
	mu sync.Mutex

	foreground string
	histories  map[string]navigation.History
	fullscreen map[string]bool

	ExitedFullscreen []string
	WentBack         []string
	Recovered        []string
}

// NewTabs returns a Tabs with foreground focused and a single history entry.
func NewTabs(foreground string) *Tabs {
	return &Tabs{
		foreground: foreground,
		histories:  map[string]navigation.History{foreground: {TabID: foreground, Length: 1}},
		fullscreen: map[string]bool{},
	}
}

// ForegroundTab implements host.TabHost.
func (t *Tabs) ForegroundTab() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.foreground, t.foreground != ""
}

// Focus changes the foreground tab.
func (t *Tabs) Focus(tabID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.foreground = tabID
}

// History implements host.TabHost.
func (t *Tabs) History(tabID string) navigation.History {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.histories[tabID]
}

// SetHistory replaces tabID's history.
func (t *Tabs) SetHistory(h navigation.History) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.histories[h.TabID] = h
}

// IsFullscreen implements host.TabHost.
func (t *Tabs) IsFullscreen(tabID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fullscreen[tabID]
}

// SetFullscreen toggles fullscreen for tabID.
func (t *Tabs) SetFullscreen(tabID string, on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fullscreen[tabID] = on
}

// ExitFullscreen implements host.TabHost.
func (t *Tabs) ExitFullscreen(_ context.Context, tabID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fullscreen[tabID] = false
	t.ExitedFullscreen = append(t.ExitedFullscreen, tabID)
	return nil
}

// GoBack implements host.TabHost.
func (t *Tabs) GoBack(_ context.Context, tabID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.WentBack = append(t.WentBack, tabID)
	return nil
}

// RecoverPage implements host.TabHost.
func (t *Tabs) RecoverPage(_ context.Context, tabID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Recovered = append(t.Recovered, tabID)
	return nil
}

// Snapshot returns copies of the recorded calls.
func (t *Tabs) Snapshot() (exitedFullscreen, wentBack, recovered []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.ExitedFullscreen...),
		append([]string(nil), t.WentBack...),
		append([]string(nil), t.Recovered...)
}

// EndedSession is one SessionEnded notification.
type EndedSession struct {
	Handle presentation.Handle
	Reason error
}

// Bridge records SessionEnded notifications.
type Bridge struct {
	mu    sync.Mutex
	ended []EndedSession
}

// SessionEnded implements host.SessionBridge.
func (b *Bridge) SessionEnded(h presentation.Handle, reason error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ended = append(b.ended, EndedSession{Handle: h, Reason: reason})
}

// Ended returns the recorded notifications.
func (b *Bridge) Ended() []EndedSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]EndedSession(nil), b.ended...)
}

// ErrDismissed is returned by Prompts.Show when a prompt is dismissed.
var ErrDismissed = errors.New("prompt dismissed")

type pendingPrompt struct {
	kind   host.PromptKind
	detail string
	result chan bool
}

// Prompts is a host.PromptUI whose overlays stay up until Resolve.
type Prompts struct {
	mu      sync.Mutex
	pending []*pendingPrompt
	history []host.PromptKind

	// Shown receives the kind of every overlay as it is raised.
	Shown chan host.PromptKind
}

// NewPrompts returns an empty Prompts.
func NewPrompts() *Prompts {
	return &Prompts{Shown: make(chan host.PromptKind, 32)}
}

// Show implements host.PromptUI.
func (p *Prompts) Show(ctx context.Context, kind host.PromptKind, detail string) (bool, error) {
	pp := &pendingPrompt{kind: kind, detail: detail, result: make(chan bool, 1)}
	p.mu.Lock()
	p.pending = append(p.pending, pp)
	p.history = append(p.history, kind)
	p.mu.Unlock()

	select {
	case p.Shown <- kind:
	default:
	}

	select {
	case accepted, ok := <-pp.result:
		if !ok {
			return false, ErrDismissed
		}
		return accepted, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Resolve answers the oldest outstanding overlay of kind. It reports false if
// none is outstanding.
func (p *Prompts) Resolve(kind host.PromptKind, accepted bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, pp := range p.pending {
		if pp.kind != kind {
			continue
		}
		p.pending = append(p.pending[:i], p.pending[i+1:]...)
		pp.result <- accepted
		return true
	}
	return false
}

// Dismiss implements host.PromptUI.
func (p *Prompts) Dismiss(kind host.PromptKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.pending[:0]
	for _, pp := range p.pending {
		if pp.kind == kind {
			close(pp.result)
			continue
		}
		kept = append(kept, pp)
	}
	p.pending = kept
}

// Outstanding returns the kinds currently showing.
func (p *Prompts) Outstanding() []host.PromptKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]host.PromptKind, 0, len(p.pending))
	for _, pp := range p.pending {
		out = append(out, pp.kind)
	}
	return out
}

// History returns every kind ever shown, in order.
func (p *Prompts) History() []host.PromptKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]host.PromptKind(nil), p.history...)
}

// Feedback counts feedback requests.
type Feedback struct {
	mu    sync.Mutex
	shown int
}

// Show implements host.FeedbackSurface.
func (f *Feedback) Show(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown++
	return nil
}

// Shown returns how many feedback requests were surfaced.
func (f *Feedback) Shown() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.shown
}

// Installer records install/upgrade prompts.
type Installer struct {
	mu      sync.Mutex
	prompts []compat.Compatibility
}

// PromptInstall implements host.InstallPrompter.
func (i *Installer) PromptInstall(_ context.Context, c compat.Compatibility) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.prompts = append(i.prompts, c)
	return nil
}

// Prompts returns the recorded prompts.
func (i *Installer) Prompts() []compat.Compatibility {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]compat.Compatibility(nil), i.prompts...)
}
