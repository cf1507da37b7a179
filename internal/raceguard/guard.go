// Package raceguard holds the narrowly scoped exception to the "resume cancels
// a pending immersive entry" safety policy.
//
// During the runtime hand-off the host application can receive a spurious
// resume before the runtime's readiness broadcast arrives. An armed Guard
// swallows exactly one such resume. Whenever it is not armed, or its window
// has lapsed, resume cancels entry as usual.
package raceguard

// DefaultTTLMs bounds how long an armed guard stays effective. It matches the
// default entry deadline.
const DefaultTTLMs int64 = 5_000

// Decision is the outcome of feeding a resume signal to the guard.
type Decision int

const (
	// CancelEntry is the default policy: a resume aborts the pending entry.
	CancelEntry Decision = iota
	// SuppressCancel keeps the pending entry alive for the broadcast.
	SuppressCancel
)

func (d Decision) String() string {
	if d == SuppressCancel {
		return "suppress-cancel"
	}
	return "cancel-entry"
}

// Guard is an immutable value; every transition returns a new Guard so it can
// live inside reducer-owned state.
type Guard struct {
	expecting bool
	armedAtMs int64
	ttlMs     int64
}

// Begin arms the guard for an entry attempt. When expectBroadcast is false
// the guard stays disarmed and resume keeps its default behavior.
func Begin(expectBroadcast bool, nowMs int64, ttlMs int64) Guard {
	if !expectBroadcast {
		return Guard{}
	}
	if ttlMs <= 0 {
		ttlMs = DefaultTTLMs
	}
	return Guard{expecting: true, armedAtMs: nowMs, ttlMs: ttlMs}
}

// Armed reports whether the guard would suppress a resume at nowMs.
func (g Guard) Armed(nowMs int64) bool {
	if !g.expecting {
		return false
	}
	return nowMs-g.armedAtMs <= g.ttlMs
}

// OnResume consumes a resume signal. It suppresses the cancel at most once
// and always disarms.
func (g Guard) OnResume(nowMs int64) (Guard, Decision) {
	if g.Armed(nowMs) {
		return Guard{}, SuppressCancel
	}
	return Guard{}, CancelEntry
}

// OnBroadcastReceived disarms the guard; the pending entry, if any, proceeds.
func (g Guard) OnBroadcastReceived() Guard {
	return Guard{}
}

// Reset disarms the guard when entry ends for any other reason.
func (g Guard) Reset() Guard {
	return Guard{}
}
