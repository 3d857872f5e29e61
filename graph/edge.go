package graph

import "context"

// Condition decides where execution goes after a node completes. It
// receives the state as merged after the node's delta was applied.
type Condition func(ctx context.Context, s State) Destination

// edge is a static (unconditional) transition from one node to the next,
// modeled as a Condition that ignores state and always returns the same
// Destination.
type edge struct {
	from string
	cond Condition
}

// staticCondition builds a Condition that always routes to dest
// regardless of state, used for plain (non-branching) edges.
func staticCondition(dest Destination) Condition {
	return func(context.Context, State) Destination {
		return dest
	}
}
