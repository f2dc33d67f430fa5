// internal/store/store.go

// Package store defines the shared document store the room service runs on:
// keyed documents grouped into collections, per-document atomic
// read-modify-write, full-snapshot subscriptions, and an ordered capped
// append-only log. Clients hold no authoritative state; every view is
// re-derived from the latest snapshot.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the addressed document does not exist.
	ErrNotFound = errors.New("store: document not found")

	// ErrExists is returned by Create when the key is already taken.
	ErrExists = errors.New("store: document already exists")

	// ErrUnchanged may be returned by an UpdateFunc to abort the
	// read-modify-write without writing. Update then returns nil; the
	// caller's transaction becomes a no-op.
	ErrUnchanged = errors.New("store: no change")
)

// UpdateFunc transforms the current serialized document into its replacement.
// It may run more than once if the store retries an optimistic transaction,
// so it must be side-effect free apart from its return value.
type UpdateFunc func(current []byte) ([]byte, error)

// Snapshot is the complete contents of one document at a point in time.
// Exists is false once the document has been deleted.
type Snapshot struct {
	Collection string
	Key        string
	Data       []byte
	Exists     bool
}

// CollectionSnapshot is the complete contents of a collection, keyed by
// document key.
type CollectionSnapshot struct {
	Collection string
	Docs       map[string][]byte
}

// DocWatch streams full snapshots of a single document. Delivery is
// coalescing: only the most recent snapshot is retained for a slow consumer,
// so every received snapshot is complete ground truth. C is closed after
// Cancel or when the store shuts the watch down.
type DocWatch struct {
	C      <-chan Snapshot
	cancel func()
}

// Cancel detaches the watch. Safe to call more than once.
func (w *DocWatch) Cancel() {
	if w.cancel != nil {
		w.cancel()
	}
}

// CollectionWatch streams full snapshots of a collection, with the same
// coalescing delivery as DocWatch.
type CollectionWatch struct {
	C      <-chan CollectionSnapshot
	cancel func()
}

// Cancel detaches the watch. Safe to call more than once.
func (w *CollectionWatch) Cancel() {
	if w.cancel != nil {
		w.cancel()
	}
}

// Store is the minimum contract the session protocol needs: keyed CRUD,
// atomic single-document transactions, snapshot subscriptions, and an
// ordered size-limited append-only log.
type Store interface {
	// Create writes a new document, failing with ErrExists on collision.
	Create(ctx context.Context, collection, key string, data []byte) error

	// Get returns the document's current contents.
	Get(ctx context.Context, collection, key string) ([]byte, error)

	// Set writes the document unconditionally, creating it if absent.
	Set(ctx context.Context, collection, key string, data []byte) error

	// Delete removes the document. Deleting an absent document is a no-op.
	Delete(ctx context.Context, collection, key string) error

	// Update atomically applies fn to the document. No concurrent Update on
	// the same document can interleave with the read-modify-write.
	Update(ctx context.Context, collection, key string, fn UpdateFunc) error

	// List returns the full contents of a collection.
	List(ctx context.Context, collection string) (map[string][]byte, error)

	// DropCollection removes every document in the collection and any log
	// of the same name.
	DropCollection(ctx context.Context, collection string) error

	// Append adds an entry to the named log, trimming it to the newest max
	// entries when max > 0.
	Append(ctx context.Context, log string, data []byte, max int) error

	// Tail returns up to limit newest log entries in insertion order.
	Tail(ctx context.Context, log string, limit int) ([][]byte, error)

	// Watch subscribes to full snapshots of one document. The current state
	// is delivered immediately.
	Watch(ctx context.Context, collection, key string) (*DocWatch, error)

	// WatchCollection subscribes to full snapshots of a collection. The
	// current state is delivered immediately.
	WatchCollection(ctx context.Context, collection string) (*CollectionWatch, error)
}
