// Package store defines the durable key/value contract (C3) and a bounded
// worker pool that fronts synchronous backend drivers with an async
// interface, per the "Coroutine pool" design note.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the key is absent from the namespace.
var ErrNotFound = errors.New("store: key not found")

// Namespace is a small ordered tuple of strings, e.g. ("memory", userID).
type Namespace []string

// String renders the namespace for logs and error messages.
func (n Namespace) String() string {
	s := ""
	for i, part := range n {
		if i > 0 {
			s += "/"
		}
		s += part
	}
	return s
}

// Record pairs a key with its raw JSON value, returned in List order.
type Record struct {
	Key   string
	Value []byte
}

// Backend is the synchronous driver interface implemented by sqlitekv and
// postgres. Backend.Backend implementations serialize writes per
// namespace internally; the Store wrapper does not assume FIFO ordering
// across namespaces (§5).
type Backend interface {
	Get(ctx context.Context, ns Namespace, key string) ([]byte, error)
	Put(ctx context.Context, ns Namespace, key string, value []byte) error
	List(ctx context.Context, ns Namespace) ([]Record, error)
	Delete(ctx context.Context, ns Namespace, key string) error
	Close() error
}

// workItem represents one queued operation awaiting execution by a worker.
type workItem struct {
	fn   func() (any, error)
	done chan result
}

type result struct {
	value any
	err   error
}

// Store fronts a Backend with a bounded pool of workers so callers get an
// async-style await-a-future interface over what is, per backend, often a
// single-writer synchronous driver (§4.3).
type Store struct {
	backend Backend
	work    chan workItem
	closed  chan struct{}
}

// New constructs a Store with the given number of workers dedicated to
// blocking backend I/O.
func New(backend Backend, workers int) *Store {
	if workers <= 0 {
		workers = 4
	}
	s := &Store{
		backend: backend,
		work:    make(chan workItem),
		closed:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go s.runWorker()
	}
	return s
}

func (s *Store) runWorker() {
	for {
		select {
		case <-s.closed:
			return
		case item := <-s.work:
			v, err := item.fn()
			item.done <- result{value: v, err: err}
		}
	}
}

// submit enqueues fn and awaits its completion handle, honouring ctx
// cancellation while waiting for a free worker or for the result.
func (s *Store) submit(ctx context.Context, fn func() (any, error)) (any, error) {
	item := workItem{fn: fn, done: make(chan result, 1)}
	select {
	case s.work <- item:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, fmt.Errorf("store: closed")
	}
	select {
	case r := <-item.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get returns the value at (ns, key), or ErrNotFound.
func (s *Store) Get(ctx context.Context, ns Namespace, key string) ([]byte, error) {
	v, err := s.submit(ctx, func() (any, error) {
		return s.backend.Get(ctx, ns, key)
	})
	if err != nil {
		return nil, err
	}
	b, _ := v.([]byte)
	return b, nil
}

// Put writes value at (ns, key), replacing any existing value.
func (s *Store) Put(ctx context.Context, ns Namespace, key string, value []byte) error {
	_, err := s.submit(ctx, func() (any, error) {
		return nil, s.backend.Put(ctx, ns, key, value)
	})
	return err
}

// List returns every record in ns, in backend-defined order.
func (s *Store) List(ctx context.Context, ns Namespace) ([]Record, error) {
	v, err := s.submit(ctx, func() (any, error) {
		return s.backend.List(ctx, ns)
	})
	if err != nil {
		return nil, err
	}
	recs, _ := v.([]Record)
	return recs, nil
}

// Delete removes (ns, key) if present.
func (s *Store) Delete(ctx context.Context, ns Namespace, key string) error {
	_, err := s.submit(ctx, func() (any, error) {
		return nil, s.backend.Delete(ctx, ns, key)
	})
	return err
}

// Close stops accepting new work and releases the underlying backend. It
// does not cancel work already handed to a worker.
func (s *Store) Close() error {
	close(s.closed)
	return s.backend.Close()
}
