package graph

// Send represents one parallel fan-out unit: run Target with SubState
// merged on top of the current state, independently of any other Send
// produced by the same routing decision (§4.4 "Send fan-out").
type Send struct {
	Target   string
	SubState State
}

// Destination is what a conditional edge's routing function returns: a
// single next node, a terminal marker, or one-or-more Sends to fan out.
type Destination struct {
	// Next, when non-empty and Sends is nil, routes to exactly one node.
	Next string
	// Sends, when non-nil, fans out to every listed Send in parallel;
	// each runs with the shared current state overlaid by its own
	// SubState, and their deltas are merged back through the Schema in
	// the order they are listed here.
	Sends []Send
	// Terminal, when true, ends this branch of execution.
	Terminal bool
}

// To builds a single-node Destination.
func To(node string) Destination {
	return Destination{Next: node}
}

// End is the terminal Destination.
func End() Destination {
	return Destination{Terminal: true}
}

// Fan builds a parallel-fan-out Destination.
func Fan(sends ...Send) Destination {
	return Destination{Sends: sends}
}
