package presentation

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/bhandras/immersive/internal/compat"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	page := NewHandle("https://a.example", "tab-1")
	other := NewHandle("https://b.example", "tab-1")
	ok := Request{Handle: page, UserGesture: true, TabForeground: true}

	tests := []struct {
		name      string
		req       Request
		compat    compat.Compatibility
		current   Handle
		wantReuse bool
		wantErr   error
	}{
		{name: "granted", req: ok, compat: compat.Ready},
		{name: "no gesture", req: Request{Handle: page, TabForeground: true}, compat: compat.Ready, wantErr: ErrNoUserGesture},
		{name: "gesture checked before runtime", req: Request{Handle: page}, compat: compat.OutOfDate, wantErr: ErrNoUserGesture},
		{name: "incompatible runtime", req: ok, compat: compat.NotInstalled, wantErr: ErrIncompatibleRuntime},
		{name: "background tab", req: Request{Handle: page, UserGesture: true}, compat: compat.Ready, wantErr: ErrTabNotFocused},
		{name: "other origin presenting", req: ok, compat: compat.Ready, current: other, wantErr: ErrAlreadyPresenting},
		{name: "same origin again", req: ok, compat: compat.Ready, current: page, wantReuse: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reuse, err := Validate(tt.req, tt.compat, tt.current)
			require.ErrorIs(t, err, tt.wantErr)
			if tt.wantErr == nil {
				require.NoError(t, err)
			}
			require.Equal(t, tt.wantReuse, reuse)
		})
	}
}

func TestHandleIDsAreUnique(t *testing.T) {
	t.Parallel()

	a, b := NewHandle("o", "t"), NewHandle("o", "t")
	require.NotEqual(t, a.ID, b.ID)
	require.False(t, a.IsZero())
	require.True(t, Handle{}.IsZero())
}

func TestLedgerBounded(t *testing.T) {
	t.Parallel()

	var l Ledger
	for i := 0; i < maxEnded+5; i++ {
		l = l.MarkEnded(fmt.Sprintf("h%d", i))
	}
	require.False(t, l.Ended("h0"))
	require.True(t, l.Ended(fmt.Sprintf("h%d", maxEnded+4)))

	before := l
	l = l.MarkEnded(fmt.Sprintf("h%d", maxEnded+4))
	require.Equal(t, before, l)
}

type countingEnder struct{ calls atomic.Int32 }

func (c *countingEnder) EndPresenting(ctx context.Context, _ Handle) error {
	c.calls.Add(1)
	return ctx.Err()
}

func TestSessionEndIsIdempotent(t *testing.T) {
	t.Parallel()

	ender := &countingEnder{}
	s := NewSession(NewHandle("o", "t"), ender)
	require.NoError(t, s.End(context.Background()))
	require.NoError(t, s.End(context.Background()))
	require.EqualValues(t, 1, ender.calls.Load())
}

func TestSessionEndRetriesAfterCanceledCall(t *testing.T) {
	t.Parallel()

	ender := &countingEnder{}
	s := NewSession(NewHandle("o", "t"), ender)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.End(ctx), context.Canceled)

	require.NoError(t, s.End(context.Background()))
	require.NoError(t, s.End(ctx))
	require.EqualValues(t, 2, ender.calls.Load())
}
