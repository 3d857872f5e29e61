package graph

import "fmt"

// Builder accumulates nodes and edges before Freeze validates and locks
// them into an immutable Graph. Mirrors the teacher's pattern of a
// mutable builder type that produces an immutable runtime artifact.
type Builder struct {
	schema  Schema
	nodes   map[string]node
	order   []string
	edges   map[string]Condition
	entry   string
	entrySet bool
}

// NewBuilder starts a Builder against schema. Freeze does not inspect the
// keys a node writes; at run time Schema.Merge drops any delta key the
// schema does not declare.
func NewBuilder(schema Schema) *Builder {
	return &Builder{
		schema: schema,
		nodes:  make(map[string]node),
		edges:  make(map[string]Condition),
	}
}

// AddNode registers fn under name. Registering the same name twice is a
// build-time error surfaced by Freeze.
func (b *Builder) AddNode(name string, fn NodeFunc) *Builder {
	if _, exists := b.nodes[name]; exists {
		b.nodes[name] = node{name: name, fn: nil}
		return b
	}
	b.nodes[name] = node{name: name, fn: fn}
	b.order = append(b.order, name)
	return b
}

// SetEntry designates the node execution starts at.
func (b *Builder) SetEntry(name string) *Builder {
	b.entry = name
	b.entrySet = true
	return b
}

// AddEdge adds an unconditional transition from `from` to dest.
func (b *Builder) AddEdge(from string, dest Destination) *Builder {
	b.edges[from] = staticCondition(dest)
	return b
}

// AddConditionalEdge adds a branching transition from `from`, decided at
// runtime by cond.
func (b *Builder) AddConditionalEdge(from string, cond Condition) *Builder {
	b.edges[from] = cond
	return b
}

// Freeze validates the accumulated nodes and edges and returns an
// immutable Graph, or an error describing the first problem found:
// duplicate node names (registered twice with AddNode), a missing or
// unset entry point, or an edge whose `from` is an undeclared node. Edge
// destinations are not checked here; routing to an unknown node fails
// the run when the Runtime reaches it.
func (b *Builder) Freeze() (*Graph, error) {
	if !b.entrySet {
		return nil, fmt.Errorf("graph: no entry node set")
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return nil, fmt.Errorf("graph: entry node %q not registered", b.entry)
	}
	for name, n := range b.nodes {
		if n.fn == nil {
			return nil, fmt.Errorf("graph: node %q registered more than once", name)
		}
	}
	for from := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("graph: edge from unregistered node %q", from)
		}
	}
	return &Graph{
		schema: b.schema,
		nodes:  b.nodes,
		edges:  b.edges,
		entry:  b.entry,
	}, nil
}

// Graph is the immutable, validated product of a Builder.
type Graph struct {
	schema Schema
	nodes  map[string]node
	edges  map[string]Condition
	entry  string
}
