package navigation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecompute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		h    History
		mode Mode
		want Snapshot
	}{
		{name: "brand-new tab, no history", h: History{}, mode: ModeImmersive},
		{name: "brand-new tab, first entry only", h: History{Length: 1}, mode: ModeImmersive},
		{name: "brand-new tab while flat", h: History{Length: 1}, mode: ModeFlat},
		{name: "opened tab, first entry only", h: History{Length: 1, HasOpener: true}, mode: ModeImmersive},
		{name: "middle of history", h: History{Length: 3, Index: 1}, mode: ModeImmersive, want: Snapshot{CanGoBack: true, CanGoForward: true}},
		{name: "end of history", h: History{Length: 3, Index: 2}, mode: ModeFlat, want: Snapshot{CanGoBack: true}},
		{name: "start of history", h: History{Length: 3, Index: 0}, mode: ModeImmersive, want: Snapshot{CanGoForward: true}},
		{name: "blocked while prompt outstanding", h: History{Length: 3, Index: 1}, mode: ModeBlocked},
		{name: "index clamped", h: History{Length: 2, Index: 9}, mode: ModeFlat, want: Snapshot{CanGoBack: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Recompute(tt.h, tt.mode))
		})
	}
}
