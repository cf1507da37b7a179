package actor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bhandras/immersive/internal/actor"
	"github.com/bhandras/immersive/internal/actor/actortest"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type testEvent struct {
	actor.InputBase
	n int
}

type testEffect struct {
	actor.EffectBase
	n int
}

type boom struct {
	actor.InputBase
}

func sumReducer(state int, input actor.Input) (int, []actor.Effect) {
	switch ev := input.(type) {
	case testEvent:
		return state + ev.n, []actor.Effect{testEffect{n: ev.n}}
	case boom:
		panic("invariant broken")
	default:
		return state, nil
	}
}

func TestActorProcessesInputsSequentially(t *testing.T) {
	defer goleak.VerifyNone(t)

	rt := &actortest.FakeRuntime{}
	a := actor.New[int](0, sumReducer, rt)
	a.Start()

	for i := 1; i <= 5; i++ {
		require.True(t, a.Enqueue(testEvent{n: i}), "enqueue %d", i)
	}

	require.True(t, actortest.Eventually(2*time.Second, func() bool { return a.State() == 15 }))
	require.Len(t, actortest.EffectsOf[testEffect](rt.Effects()), 5)

	a.Stop()
	<-a.Done()
}

func TestActorSendBlocksInsteadOfDropping(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := actor.New[int](0, sumReducer, nil, actor.WithMailboxSize[int](1))

	// Loop not started: first input fills the mailbox, second must wait.
	require.NoError(t, a.Send(context.Background(), testEvent{n: 1}))
	require.False(t, a.Enqueue(testEvent{n: 100}))

	sent := make(chan error, 1)
	go func() { sent <- a.Send(context.Background(), testEvent{n: 2}) }()

	select {
	case <-sent:
		t.Fatal("Send returned before mailbox space was available")
	case <-time.After(20 * time.Millisecond):
	}

	a.Start()
	require.NoError(t, <-sent)
	require.True(t, actortest.Eventually(2*time.Second, func() bool { return a.State() == 3 }))

	a.Stop()
	<-a.Done()
}

func TestActorSendHonorsContext(t *testing.T) {
	t.Parallel()

	a := actor.New[int](0, sumReducer, nil, actor.WithMailboxSize[int](1))
	require.NoError(t, a.Send(context.Background(), testEvent{n: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := a.Send(ctx, testEvent{n: 2})
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	a.Stop()
	require.ErrorIs(t, a.Send(context.Background(), testEvent{n: 3}), actor.ErrStopped)
	require.False(t, a.Enqueue(testEvent{n: 4}))
}

func TestActorRecoverResetsState(t *testing.T) {
	defer goleak.VerifyNone(t)

	rt := &actortest.FakeRuntime{}
	var panics []any
	a := actor.New[int](0, sumReducer, rt,
		actor.WithHooks(actor.Hooks[int]{OnPanic: func(r any) { panics = append(panics, r) }}),
		actor.WithRecover(func(prev int, _ actor.Input, _ any) (int, []actor.Effect) {
			return -1, []actor.Effect{testEffect{n: prev}}
		}),
	)
	a.Start()

	require.True(t, a.Enqueue(testEvent{n: 4}))
	require.True(t, a.Enqueue(boom{}))
	require.True(t, a.Enqueue(testEvent{n: 2}))

	require.True(t, actortest.Eventually(2*time.Second, func() bool { return a.State() == 1 }))

	effects := actortest.EffectsOf[testEffect](rt.Effects())
	require.Equal(t, []testEffect{{n: 4}, {n: 4}, {n: 2}}, effects)

	a.Stop()
	<-a.Done()
	require.Len(t, panics, 1)
}

func TestActorTransitionHookSeesEveryInput(t *testing.T) {
	defer goleak.VerifyNone(t)

	type step struct{ prev, next int }
	steps := make(chan step, 8)
	a := actor.New[int](0, sumReducer, nil, actor.WithHooks(actor.Hooks[int]{
		OnTransition: func(prev, next int, _ actor.Input) { steps <- step{prev, next} },
	}))
	a.Start()

	require.NoError(t, a.Send(context.Background(), testEvent{n: 2}))
	require.NoError(t, a.Send(context.Background(), testEvent{n: 3}))

	require.Equal(t, step{0, 2}, <-steps)
	require.Equal(t, step{2, 5}, <-steps)

	a.Stop()
	<-a.Done()
}

func TestReplayFoldsInputsInOrder(t *testing.T) {
	t.Parallel()

	state, effects := actor.Replay(10, []actor.Input{testEvent{n: 1}, testEvent{n: 2}}, sumReducer)
	require.Equal(t, 13, state)
	require.Len(t, effects, 2)

	next, effs := actor.Step(state, testEvent{n: -3}, sumReducer)
	require.Equal(t, 10, next)
	require.Len(t, effs, 1)
}
