package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"goa.design/orchestra/store"
)

// Checkpoint is the durable snapshot a Runtime writes after every step,
// enabling suspend/resume across process restarts without relying on a
// workflow engine's own signal/history machinery.
type Checkpoint struct {
	ThreadID     string     `json:"thread_id"`
	NextNode     string     `json:"next_node"`
	State        State      `json:"state"`
	Suspend      *Suspension `json:"suspend,omitempty"`
	RecursionHop int        `json:"recursion_hop"`
}

// checkpointKey is the store key a thread's checkpoint is saved under;
// one key per thread, always overwritten (Put is an upsert).
const checkpointKey = "checkpoint"

// CheckpointStore persists and retrieves Checkpoints, keyed by thread id,
// on top of the generic store.Store (itself backed by either the
// embedded sqlite or relational postgres Backend).
type CheckpointStore struct {
	backing *store.Store
}

// NewCheckpointStore wraps backing for checkpoint persistence.
func NewCheckpointStore(backing *store.Store) *CheckpointStore {
	return &CheckpointStore{backing: backing}
}

// Save writes cp, replacing any prior checkpoint for the same thread.
func (c *CheckpointStore) Save(ctx context.Context, cp Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("graph: marshal checkpoint: %w", err)
	}
	ns := store.Namespace{"graph", cp.ThreadID}
	return c.backing.Put(ctx, ns, checkpointKey, raw)
}

// Load retrieves the checkpoint for threadID, or store.ErrNotFound if the
// thread has never suspended or completed a step.
func (c *CheckpointStore) Load(ctx context.Context, threadID string) (Checkpoint, error) {
	ns := store.Namespace{"graph", threadID}
	raw, err := c.backing.Get(ctx, ns, checkpointKey)
	if err != nil {
		return Checkpoint{}, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("graph: unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// Delete removes any checkpoint for threadID, used once a run reaches a
// terminal node and no further resume is possible.
func (c *CheckpointStore) Delete(ctx context.Context, threadID string) error {
	ns := store.Namespace{"graph", threadID}
	err := c.backing.Delete(ctx, ns, checkpointKey)
	if err == store.ErrNotFound {
		return nil
	}
	return err
}
