package graph

import (
	"context"
	"fmt"
	"sync"

	"goa.design/orchestra/telemetry"
)

// RecursionExceeded is returned when a run crosses its configured
// recursion limit (§5, default 50 for the top-level orchestrator graph,
// 25 for a subgraph invoked via Send).
type RecursionExceeded struct {
	Limit int
}

func (e *RecursionExceeded) Error() string {
	return fmt.Sprintf("graph: recursion limit %d exceeded", e.Limit)
}

// RuntimeConfig configures a Runtime's recursion limit. DefaultRuntimeConfig
// matches the top-level orchestrator limit; a subgraph Runtime should be
// built with SubgraphRuntimeConfig instead.
type RuntimeConfig struct {
	RecursionLimit int
}

// DefaultRuntimeConfig is the top-level orchestrator recursion limit (§5).
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{RecursionLimit: 50}
}

// SubgraphRuntimeConfig is the recursion limit applied to graphs entered
// via Send fan-out (§5).
func SubgraphRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{RecursionLimit: 25}
}

// Runtime executes a frozen Graph against a thread's checkpointed state,
// enforcing the recursion limit and persisting a Checkpoint after every
// step so a Suspended run can be resumed later, including across process
// restarts.
type Runtime struct {
	graph       *Graph
	checkpoints *CheckpointStore
	cfg         RuntimeConfig
	obs         telemetry.Provider
}

// NewRuntime builds a Runtime for graph, persisting checkpoints through
// checkpoints.
func NewRuntime(g *Graph, checkpoints *CheckpointStore, cfg RuntimeConfig, obs telemetry.Provider) *Runtime {
	if obs.Logger == nil {
		obs = telemetry.Noop()
	}
	return &Runtime{graph: g, checkpoints: checkpoints, cfg: cfg, obs: obs}
}

// Run starts a fresh execution for threadID at the graph's entry node
// with the given initial state, stepping until the run completes,
// suspends, is cancelled, or fails.
func (r *Runtime) Run(ctx context.Context, threadID string, initial State) StepResult {
	return r.run(ctx, threadID, r.graph.entry, initial, 0)
}

// Resume continues a previously Suspended run for threadID from its last
// checkpoint. Resumed state is the checkpoint's state merged with extra
// (the caller-supplied response to the suspension, e.g. a tool result or
// human answer), via the Schema's reducers.
func (r *Runtime) Resume(ctx context.Context, threadID string, extra State) (StepResult, error) {
	cp, err := r.checkpoints.Load(ctx, threadID)
	if err != nil {
		return StepResult{}, fmt.Errorf("graph: resume %s: %w", threadID, err)
	}
	merged := r.graph.schema.Merge(cp.State, extra)
	return r.run(ctx, threadID, cp.NextNode, merged, cp.RecursionHop), nil
}

func (r *Runtime) run(ctx context.Context, threadID, nodeName string, state State, hop int) StepResult {
	for {
		if hop >= r.cfg.RecursionLimit {
			err := &RecursionExceeded{Limit: r.cfg.RecursionLimit}
			r.obs.Logger.Error(ctx, "graph.recursion_exceeded", "thread_id", threadID, "err", err.Error())
			return Fail(err)
		}
		select {
		case <-ctx.Done():
			return CancelledResult()
		default:
		}

		n, ok := r.graph.nodes[nodeName]
		if !ok {
			return Fail(fmt.Errorf("graph: unknown node %q", nodeName))
		}

		result := n.fn(ctx, state)
		hop++

		switch result.Kind {
		case Failed, Cancelled:
			return result

		case Suspended:
			cp := Checkpoint{ThreadID: threadID, NextNode: nodeName, State: state, Suspend: result.Suspend, RecursionHop: hop}
			if err := r.checkpoints.Save(ctx, cp); err != nil {
				return Fail(fmt.Errorf("graph: save checkpoint on suspend: %w", err))
			}
			return result

		case Completed:
			state = r.graph.schema.Merge(state, result.State)

			cond, hasEdge := r.graph.edges[nodeName]
			if !hasEdge {
				_ = r.checkpoints.Delete(ctx, threadID)
				return Complete(state)
			}

			dest := cond(ctx, state)
			if dest.Terminal {
				_ = r.checkpoints.Delete(ctx, threadID)
				return Complete(state)
			}

			if len(dest.Sends) > 0 {
				merged, fanErr := r.runFanOut(ctx, threadID, dest.Sends, state, hop)
				if fanErr != nil {
					return Fail(fanErr)
				}
				state = merged
				_ = r.checkpoints.Delete(ctx, threadID)
				return Complete(state)
			}

			if err := r.checkpoints.Save(ctx, Checkpoint{ThreadID: threadID, NextNode: dest.Next, State: state, RecursionHop: hop}); err != nil {
				return Fail(fmt.Errorf("graph: save checkpoint: %w", err))
			}
			nodeName = dest.Next
		}
	}
}

// runFanOut runs every Send target concurrently with the shared state
// overlaid by its own SubState, each as an independent subgraph run
// bounded by SubgraphRuntimeConfig's recursion limit, and merges their
// resulting deltas back into state through the Schema in the order the
// Sends were listed.
func (r *Runtime) runFanOut(ctx context.Context, threadID string, sends []Send, state State, hop int) (State, error) {
	type outcome struct {
		result StepResult
		err    error
	}
	outcomes := make([]outcome, len(sends))
	subRuntime := &Runtime{graph: r.graph, checkpoints: r.checkpoints, cfg: SubgraphRuntimeConfig(), obs: r.obs}

	var wg sync.WaitGroup
	for i, send := range sends {
		i, send := i, send
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := r.graph.schema.Merge(state, send.SubState)
			subThread := fmt.Sprintf("%s/send/%s/%d", threadID, send.Target, i)
			res := subRuntime.run(ctx, subThread, send.Target, sub, 0)
			outcomes[i] = outcome{result: res}
		}()
	}
	wg.Wait()

	merged := state
	for _, o := range outcomes {
		switch o.result.Kind {
		case Failed:
			return nil, o.result.Err
		case Cancelled:
			return nil, fmt.Errorf("graph: fan-out cancelled")
		case Suspended:
			return nil, fmt.Errorf("graph: fan-out target suspended, unsupported")
		case Completed:
			merged = r.graph.schema.Merge(merged, o.result.State)
		}
	}
	return merged, nil
}
