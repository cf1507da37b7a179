package actor

// Step applies a reducer to a single (state, input) pair and returns the next
// state and effects without running them.
func Step[S any](state S, input Input, reducer ReducerFunc[S]) (S, []Effect) {
	return reducer(state, input)
}

// Replay folds inputs through reducer in order and returns the final state
// with every effect produced along the way. Reducers use it to drain queued
// inputs once a blocking condition clears.
func Replay[S any](state S, inputs []Input, reducer ReducerFunc[S]) (S, []Effect) {
	var effects []Effect
	for _, in := range inputs {
		var effs []Effect
		state, effs = reducer(state, in)
		effects = append(effects, effs...)
	}
	return state, effects
}
