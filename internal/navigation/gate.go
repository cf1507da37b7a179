// Package navigation derives back/forward affordances for the current tab.
package navigation

// History is the navigation history of the foreground tab.
type History struct {
	TabID string `json:"tabId"`
	// Length is the number of committed entries.
	Length int `json:"length"`
	// Index is the position of the current entry.
	Index int `json:"index"`
	// HasOpener is set when the tab was opened by another tab. Returning to the
	// opener is closing this tab, not going back, so it never enables back.
	HasOpener bool `json:"hasOpener"`
}

// Snapshot is read by the hardware back-action handler.
type Snapshot struct {
	CanGoBack    bool `json:"canGoBack"`
	CanGoForward bool `json:"canGoForward"`
}

// Mode is the part of the session state the gate depends on.
type Mode int

const (
	// ModeFlat is ordinary 2D browsing.
	ModeFlat Mode = iota
	// ModeImmersive covers immersive browsing and presenting.
	ModeImmersive
	// ModeBlocked covers transient states (entering, prompt outstanding)
	// during which navigation is frozen.
	ModeBlocked
)

// Recompute returns the affordances for h under mode.
//
// Going back is only offered when the tab has an earlier entry. A back action
// at the first entry of a tab would background the application, so it is
// never advertised.
func Recompute(h History, mode Mode) Snapshot {
	if mode == ModeBlocked || h.Length <= 0 {
		return Snapshot{}
	}
	idx := h.Index
	if idx < 0 {
		idx = 0
	}
	if idx >= h.Length {
		idx = h.Length - 1
	}
	return Snapshot{
		CanGoBack:    idx > 0,
		CanGoForward: idx < h.Length-1,
	}
}
