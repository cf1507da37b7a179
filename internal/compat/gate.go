// Package compat classifies the external spatial runtime's install/version
// status and gates immersive entry on it.
package compat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bhandras/immersive/pkg/logger"
	"golang.org/x/sync/singleflight"
)

// Compatibility is the classified runtime status.
type Compatibility string

const (
	// Ready permits immersive entry.
	Ready Compatibility = "ready"
	// OutOfDate means the runtime is installed but older than required.
	OutOfDate Compatibility = "out-of-date"
	// NotInstalled means the runtime could not be reached at all.
	NotInstalled Compatibility = "not-installed"
	// NotSupported means the hardware cannot run immersive mode.
	NotSupported Compatibility = "not-supported"
)

// PermitsEntry reports whether immersive entry may proceed.
func (c Compatibility) PermitsEntry() bool { return c == Ready }

// NeedsPrompt reports whether a refused entry should surface an
// upgrade/install prompt. NotSupported is inert.
func (c Compatibility) NeedsPrompt() bool { return c == OutOfDate || c == NotInstalled }

// VersionInfo is what the runtime reports about itself.
type VersionInfo struct {
	// Version is the installed runtime version.
	Version int `json:"version"`
	// Unsupported is set when the runtime reports hardware it cannot drive.
	Unsupported bool `json:"unsupported"`
}

// ErrUnavailable is returned by probes when the runtime service is absent.
var ErrUnavailable = errors.New("runtime service unavailable")

// Prober queries the external runtime for version information.
type Prober interface {
	ProbeVersion(ctx context.Context) (VersionInfo, error)
}

// Classify maps a probe result onto a Compatibility.
func Classify(info VersionInfo, probeErr error, minVersion int) Compatibility {
	switch {
	case probeErr != nil:
		return NotInstalled
	case info.Unsupported:
		return NotSupported
	case info.Version < minVersion:
		return OutOfDate
	default:
		return Ready
	}
}

// DefaultProbeTimeout bounds a shared probe independently of its callers.
const DefaultProbeTimeout = 5 * time.Second

// Gate caches the classification for the process lifetime.
type Gate struct {
	prober       Prober
	minVersion   int
	probeTimeout time.Duration

	group singleflight.Group

	mu     sync.Mutex
	cached Compatibility
	epoch  uint64
}

// NewGate returns a Gate that probes through prober and requires at least
// minVersion.
func NewGate(prober Prober, minVersion int) *Gate {
	return &Gate{prober: prober, minVersion: minVersion, probeTimeout: DefaultProbeTimeout}
}

// Check returns the cached classification, probing on first use or after
// Invalidate. Concurrent first calls share one probe. A caller whose ctx ends
// first gets NotInstalled, but the shared probe keeps running and only its
// own outcome is cached.
func (g *Gate) Check(ctx context.Context) Compatibility {
	g.mu.Lock()
	if g.cached != "" {
		c := g.cached
		g.mu.Unlock()
		return c
	}
	epoch := g.epoch
	g.mu.Unlock()

	ch := g.group.DoChan("probe", func() (any, error) {
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.probeTimeout)
		defer cancel()

		info, err := g.prober.ProbeVersion(probeCtx)
		c := Classify(info, err, g.minVersion)
		if err != nil {
			logger.Warnf("[compat] probe failed: %v", err)
		}
		logger.Debugf("[compat] runtime version=%d unsupported=%v -> %s", info.Version, info.Unsupported, c)

		// A timed out probe says nothing about the install.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return c, nil
		}

		g.mu.Lock()
		// A probe racing an Invalidate must not repopulate the cache.
		if g.epoch == epoch {
			g.cached = c
		}
		g.mu.Unlock()
		return c, nil
	})

	select {
	case res := <-ch:
		return res.Val.(Compatibility)
	case <-ctx.Done():
		return NotInstalled
	}
}

// Invalidate drops the cached classification so the next Check re-probes.
func (g *Gate) Invalidate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cached = ""
	g.epoch++
}
