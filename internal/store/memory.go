// internal/store/memory.go
package store

import (
	"context"
	"errors"
	"sync"
)

// Memory is the in-process Store. Each document carries its own lock, so the
// atomic read-modify-write in Update contends only with writers of the same
// record. Snapshot fan-out happens synchronously under the store lock;
// subscriber channels are coalescing, so a slow consumer only ever skips
// straight to the newest complete snapshot.
type Memory struct {
	mu       sync.RWMutex
	colls    map[string]map[string]*memDoc
	logs     map[string][][]byte
	docSubs  map[string]map[*docSub]struct{}
	collSubs map[string]map[*collSub]struct{}
}

type memDoc struct {
	mu      sync.Mutex
	data    []byte
	deleted bool
}

type docSub struct {
	ch   chan Snapshot
	once sync.Once
}

type collSub struct {
	ch   chan CollectionSnapshot
	once sync.Once
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		colls:    make(map[string]map[string]*memDoc),
		logs:     make(map[string][][]byte),
		docSubs:  make(map[string]map[*docSub]struct{}),
		collSubs: make(map[string]map[*collSub]struct{}),
	}
}

func docKey(collection, key string) string {
	return collection + "\x00" + key
}

func (s *docSub) push(snap Snapshot) {
	select {
	case s.ch <- snap:
	default:
		// Drop the stale snapshot; only the latest matters.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- snap:
		default:
		}
	}
}

func (s *collSub) push(snap CollectionSnapshot) {
	select {
	case s.ch <- snap:
	default:
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- snap:
		default:
		}
	}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Create writes a new document, failing with ErrExists on collision.
func (m *Memory) Create(ctx context.Context, collection, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.colls[collection]
	if coll == nil {
		coll = make(map[string]*memDoc)
		m.colls[collection] = coll
	}
	if _, taken := coll[key]; taken {
		return ErrExists
	}
	coll[key] = &memDoc{data: cloneBytes(data)}
	m.notifyLocked(collection, key)
	return nil
}

// Get returns the document's current contents.
func (m *Memory) Get(ctx context.Context, collection, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc := m.colls[collection][key]
	if doc == nil {
		return nil, ErrNotFound
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	return cloneBytes(doc.data), nil
}

// Set writes the document unconditionally, creating it if absent.
func (m *Memory) Set(ctx context.Context, collection, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	coll := m.colls[collection]
	if coll == nil {
		coll = make(map[string]*memDoc)
		m.colls[collection] = coll
	}
	doc := coll[key]
	if doc == nil {
		coll[key] = &memDoc{data: cloneBytes(data)}
	} else {
		doc.mu.Lock()
		doc.data = cloneBytes(data)
		doc.mu.Unlock()
	}
	m.notifyLocked(collection, key)
	return nil
}

// Delete removes the document. Deleting an absent document is a no-op.
func (m *Memory) Delete(ctx context.Context, collection, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc := m.colls[collection][key]
	if doc == nil {
		return nil
	}
	doc.mu.Lock()
	doc.deleted = true
	doc.mu.Unlock()
	delete(m.colls[collection], key)
	m.notifyLocked(collection, key)
	return nil
}

// Update atomically applies fn to the document. The per-document lock is
// held across fn, so no concurrent Update of the same record interleaves.
func (m *Memory) Update(ctx context.Context, collection, key string, fn UpdateFunc) error {
	m.mu.RLock()
	doc := m.colls[collection][key]
	if doc == nil {
		m.mu.RUnlock()
		return ErrNotFound
	}

	doc.mu.Lock()
	if doc.deleted {
		doc.mu.Unlock()
		m.mu.RUnlock()
		return ErrNotFound
	}
	next, err := fn(cloneBytes(doc.data))
	if err != nil {
		doc.mu.Unlock()
		m.mu.RUnlock()
		if errors.Is(err, ErrUnchanged) {
			return nil
		}
		return err
	}
	doc.data = cloneBytes(next)
	doc.mu.Unlock()
	m.mu.RUnlock()

	// Re-acquire exclusively to fan out; the write itself is already done.
	m.mu.Lock()
	m.notifyLocked(collection, key)
	m.mu.Unlock()
	return nil
}

// List returns the full contents of a collection.
func (m *Memory) List(ctx context.Context, collection string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collectionDocsLocked(collection), nil
}

// DropCollection removes every document in the collection and any log of the
// same name.
func (m *Memory) DropCollection(ctx context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.colls[collection]))
	for key, doc := range m.colls[collection] {
		doc.mu.Lock()
		doc.deleted = true
		doc.mu.Unlock()
		keys = append(keys, key)
	}
	delete(m.colls, collection)
	delete(m.logs, collection)
	for _, key := range keys {
		m.notifyDocLocked(collection, key)
	}
	m.notifyCollLocked(collection)
	return nil
}

// Append adds an entry to the named log, keeping only the newest max entries
// when max > 0.
func (m *Memory) Append(ctx context.Context, log string, data []byte, max int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := append(m.logs[log], cloneBytes(data))
	if max > 0 && len(entries) > max {
		entries = entries[len(entries)-max:]
	}
	m.logs[log] = entries
	return nil
}

// Tail returns up to limit newest log entries in insertion order.
func (m *Memory) Tail(ctx context.Context, log string, limit int) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.logs[log]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = cloneBytes(e)
	}
	return out, nil
}

// Watch subscribes to full snapshots of one document, delivering the current
// state immediately.
func (m *Memory) Watch(ctx context.Context, collection, key string) (*DocWatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := &docSub{ch: make(chan Snapshot, 1)}
	ck := docKey(collection, key)
	if m.docSubs[ck] == nil {
		m.docSubs[ck] = make(map[*docSub]struct{})
	}
	m.docSubs[ck][sub] = struct{}{}
	sub.push(m.docSnapshotLocked(collection, key))

	cancel := func() {
		sub.once.Do(func() {
			m.mu.Lock()
			delete(m.docSubs[ck], sub)
			if len(m.docSubs[ck]) == 0 {
				delete(m.docSubs, ck)
			}
			close(sub.ch)
			m.mu.Unlock()
		})
	}
	return &DocWatch{C: sub.ch, cancel: cancel}, nil
}

// WatchCollection subscribes to full snapshots of a collection, delivering
// the current state immediately.
func (m *Memory) WatchCollection(ctx context.Context, collection string) (*CollectionWatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub := &collSub{ch: make(chan CollectionSnapshot, 1)}
	if m.collSubs[collection] == nil {
		m.collSubs[collection] = make(map[*collSub]struct{})
	}
	m.collSubs[collection][sub] = struct{}{}
	sub.push(CollectionSnapshot{Collection: collection, Docs: m.collectionDocsLocked(collection)})

	cancel := func() {
		sub.once.Do(func() {
			m.mu.Lock()
			delete(m.collSubs[collection], sub)
			if len(m.collSubs[collection]) == 0 {
				delete(m.collSubs, collection)
			}
			close(sub.ch)
			m.mu.Unlock()
		})
	}
	return &CollectionWatch{C: sub.ch, cancel: cancel}, nil
}

func (m *Memory) docSnapshotLocked(collection, key string) Snapshot {
	snap := Snapshot{Collection: collection, Key: key}
	if doc := m.colls[collection][key]; doc != nil {
		doc.mu.Lock()
		snap.Data = cloneBytes(doc.data)
		snap.Exists = true
		doc.mu.Unlock()
	}
	return snap
}

func (m *Memory) collectionDocsLocked(collection string) map[string][]byte {
	docs := make(map[string][]byte, len(m.colls[collection]))
	for key, doc := range m.colls[collection] {
		doc.mu.Lock()
		docs[key] = cloneBytes(doc.data)
		doc.mu.Unlock()
	}
	return docs
}

func (m *Memory) notifyLocked(collection, key string) {
	m.notifyDocLocked(collection, key)
	m.notifyCollLocked(collection)
}

func (m *Memory) notifyDocLocked(collection, key string) {
	subs := m.docSubs[docKey(collection, key)]
	if len(subs) == 0 {
		return
	}
	snap := m.docSnapshotLocked(collection, key)
	for sub := range subs {
		sub.push(snap)
	}
}

func (m *Memory) notifyCollLocked(collection string) {
	subs := m.collSubs[collection]
	if len(subs) == 0 {
		return
	}
	snap := CollectionSnapshot{Collection: collection, Docs: m.collectionDocsLocked(collection)}
	for sub := range subs {
		sub.push(snap)
	}
}
