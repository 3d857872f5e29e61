package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"goa.design/orchestra/store"
	"goa.design/orchestra/telemetry"
)

// recordKey is the fixed key user memory is persisted under within each
// user's namespace (§4.6 Persistence: `("memory", user_id)` / `SimpleMemory`).
const recordKey = "SimpleMemory"

// PersistenceError is returned by Store.Save when the durable backend
// write fails after the cache write already succeeded (§7
// PersistenceError: "recorded; in-memory state continues to reflect
// writes; retried on next scheduled flush"). Callers should record this,
// not treat it as a failed save.
type PersistenceError struct {
	UserID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("memory: durable write failed for user %s: %v", e.UserID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store fronts an embedded cache Store and, optionally, a durable
// relational Store with write-through semantics: writes always land in
// the embedded cache first, then attempt the durable backend; a durable
// failure is recorded as an error event but never rolled back from the
// cache, so the next successful write closes the gap (§4.6).
type Store struct {
	cache   *store.Store
	durable *store.Store // nil when no relational backend is configured
	obs     telemetry.Provider
}

// NewStore builds a Store. durable may be nil, in which case the
// embedded cache is the sole backing for user memory.
func NewStore(cache, durable *store.Store, obs telemetry.Provider) *Store {
	if obs.Logger == nil {
		obs = telemetry.Noop()
	}
	return &Store{cache: cache, durable: durable, obs: obs}
}

func namespaceFor(userID string) store.Namespace {
	return store.Namespace{"memory", userID}
}

// Load reads a user's memory, returning Empty() (never an error to the
// caller beyond logging) when the record is missing or corrupt, per the
// §3 invariant that `memory` is always a valid instance.
func (s *Store) Load(ctx context.Context, userID string) UserMemory {
	ns := namespaceFor(userID)
	raw, err := s.cache.Get(ctx, ns, recordKey)
	if err != nil {
		if err != store.ErrNotFound {
			s.obs.Logger.Warn(ctx, "memory.load_failed", "user_id", userID, "err", err.Error())
		}
		return Empty()
	}
	var mem UserMemory
	if err := json.Unmarshal(raw, &mem); err != nil {
		s.obs.Logger.Warn(ctx, "memory.decode_failed", "user_id", userID, "err", err.Error())
		return Empty()
	}
	return mem
}

// Save writes mem for userID to the embedded cache, then attempts the
// durable backend if configured. A durable-write failure is logged and
// returned as a *PersistenceError but never fails the overall save: the
// cache already reflects the new state, and the next successful Save
// rewrites the whole record to the durable backend. Callers that only care about hard failures can compare
// the error to nil; callers that must surface PersistenceError as an
// orchestrator event (§3 events key) should errors.As for it.
func (s *Store) Save(ctx context.Context, userID string, mem UserMemory) error {
	raw, err := json.Marshal(mem)
	if err != nil {
		return fmt.Errorf("memory: marshal: %w", err)
	}
	ns := namespaceFor(userID)
	if err := s.cache.Put(ctx, ns, recordKey, raw); err != nil {
		return fmt.Errorf("memory: cache write: %w", err)
	}

	if s.durable == nil {
		return nil
	}
	if err := s.durable.Put(ctx, ns, recordKey, raw); err != nil {
		s.obs.Logger.Error(ctx, "memory.durable_write_failed", "user_id", userID, "err", err.Error())
		s.obs.Metrics.IncCounter("memory.persistence_errors", 1, "user_id", userID)
		return &PersistenceError{UserID: userID, Err: err}
	}
	return nil
}
