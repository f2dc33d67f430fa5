// internal/store/redis.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// maxTxRetries bounds the optimistic-transaction retry loop in Update.
const maxTxRetries = 16

// Redis is the networked Store. Documents are plain keys, collections are
// tracked in a companion set, and the atomic read-modify-write is an
// optimistic WATCH/MULTI transaction retried on contention. Snapshots are
// fanned out over pub/sub: document channels carry the full new contents,
// collection channels carry a ping that makes subscribers re-read the
// collection, so every delivered snapshot is complete ground truth.
type Redis struct {
	rdb *redis.Client
}

// NewRedis wraps an already-connected client.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// docEnvelope is the pub/sub payload for document channels.
type docEnvelope struct {
	Exists bool            `json:"exists"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func redisDocKey(collection, key string) string {
	return "qr:doc:" + collection + ":" + key
}

func redisCollKey(collection string) string {
	return "qr:coll:" + collection
}

func redisLogKey(log string) string {
	return "qr:log:" + log
}

func redisDocChannel(collection, key string) string {
	return "qr:ch:doc:" + collection + ":" + key
}

func redisCollChannel(collection string) string {
	return "qr:ch:coll:" + collection
}

// Create writes a new document, failing with ErrExists on collision.
func (r *Redis) Create(ctx context.Context, collection, key string, data []byte) error {
	ok, err := r.rdb.SetNX(ctx, redisDocKey(collection, key), data, 0).Result()
	if err != nil {
		return fmt.Errorf("store: redis create: %w", err)
	}
	if !ok {
		return ErrExists
	}
	if err := r.rdb.SAdd(ctx, redisCollKey(collection), key).Err(); err != nil {
		return fmt.Errorf("store: redis index add: %w", err)
	}
	r.publish(ctx, collection, key, data, true)
	return nil
}

// Get returns the document's current contents.
func (r *Redis) Get(ctx context.Context, collection, key string) ([]byte, error) {
	data, err := r.rdb.Get(ctx, redisDocKey(collection, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: redis get: %w", err)
	}
	return data, nil
}

// Set writes the document unconditionally, creating it if absent.
func (r *Redis) Set(ctx context.Context, collection, key string, data []byte) error {
	pipe := r.rdb.Pipeline()
	pipe.Set(ctx, redisDocKey(collection, key), data, 0)
	pipe.SAdd(ctx, redisCollKey(collection), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: redis set: %w", err)
	}
	r.publish(ctx, collection, key, data, true)
	return nil
}

// Delete removes the document. Deleting an absent document is a no-op.
func (r *Redis) Delete(ctx context.Context, collection, key string) error {
	pipe := r.rdb.Pipeline()
	pipe.Del(ctx, redisDocKey(collection, key))
	pipe.SRem(ctx, redisCollKey(collection), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: redis delete: %w", err)
	}
	r.publish(ctx, collection, key, nil, false)
	return nil
}

// Update atomically applies fn to the document using an optimistic
// WATCH/MULTI transaction. fn may run multiple times under contention.
func (r *Redis) Update(ctx context.Context, collection, key string, fn UpdateFunc) error {
	dk := redisDocKey(collection, key)
	var written []byte

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := tx.Get(ctx, dk).Bytes()
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			next, err := fn(cur)
			if err != nil {
				return err
			}
			written = next
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, dk, next, 0)
				return nil
			})
			return err
		}, dk)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrUnchanged) {
			return nil
		}
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("store: redis update: %w", err)
		}
		r.publish(ctx, collection, key, written, true)
		return nil
	}
	return fmt.Errorf("store: redis update of %s/%s exhausted %d retries", collection, key, maxTxRetries)
}

// List returns the full contents of a collection.
func (r *Redis) List(ctx context.Context, collection string) (map[string][]byte, error) {
	keys, err := r.rdb.SMembers(ctx, redisCollKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis list: %w", err)
	}
	docs := make(map[string][]byte, len(keys))
	for _, key := range keys {
		data, err := r.rdb.Get(ctx, redisDocKey(collection, key)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // removed between SMEMBERS and GET
		}
		if err != nil {
			return nil, fmt.Errorf("store: redis list get: %w", err)
		}
		docs[key] = data
	}
	return docs, nil
}

// DropCollection removes every document in the collection and any log of the
// same name.
func (r *Redis) DropCollection(ctx context.Context, collection string) error {
	keys, err := r.rdb.SMembers(ctx, redisCollKey(collection)).Result()
	if err != nil {
		return fmt.Errorf("store: redis drop: %w", err)
	}
	pipe := r.rdb.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, redisDocKey(collection, key))
	}
	pipe.Del(ctx, redisCollKey(collection))
	pipe.Del(ctx, redisLogKey(collection))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: redis drop: %w", err)
	}
	for _, key := range keys {
		r.publish(ctx, collection, key, nil, false)
	}
	r.pingCollection(ctx, collection)
	return nil
}

// Append adds an entry to the named log, trimming to the newest max entries
// when max > 0.
func (r *Redis) Append(ctx context.Context, log string, data []byte, max int) error {
	lk := redisLogKey(log)
	pipe := r.rdb.Pipeline()
	pipe.RPush(ctx, lk, data)
	if max > 0 {
		pipe.LTrim(ctx, lk, int64(-max), -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: redis append: %w", err)
	}
	return nil
}

// Tail returns up to limit newest log entries in insertion order.
func (r *Redis) Tail(ctx context.Context, log string, limit int) ([][]byte, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	entries, err := r.rdb.LRange(ctx, redisLogKey(log), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis tail: %w", err)
	}
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = []byte(e)
	}
	return out, nil
}

// Watch subscribes to full snapshots of one document.
func (r *Redis) Watch(ctx context.Context, collection, key string) (*DocWatch, error) {
	pubsub := r.rdb.Subscribe(ctx, redisDocChannel(collection, key))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("store: redis watch: %w", err)
	}

	sub := &docSub{ch: make(chan Snapshot, 1)}
	initial := Snapshot{Collection: collection, Key: key}
	if data, err := r.Get(ctx, collection, key); err == nil {
		initial.Data = data
		initial.Exists = true
	}
	sub.push(initial)

	go func() {
		defer close(sub.ch)
		for msg := range pubsub.Channel() {
			var env docEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				continue
			}
			sub.push(Snapshot{
				Collection: collection,
				Key:        key,
				Data:       []byte(env.Data),
				Exists:     env.Exists,
			})
		}
	}()

	return &DocWatch{C: sub.ch, cancel: func() { pubsub.Close() }}, nil
}

// WatchCollection subscribes to full snapshots of a collection. Each pub/sub
// ping triggers a re-read so the delivered snapshot is always complete.
func (r *Redis) WatchCollection(ctx context.Context, collection string) (*CollectionWatch, error) {
	pubsub := r.rdb.Subscribe(ctx, redisCollChannel(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("store: redis watch collection: %w", err)
	}

	sub := &collSub{ch: make(chan CollectionSnapshot, 1)}
	if docs, err := r.List(ctx, collection); err == nil {
		sub.push(CollectionSnapshot{Collection: collection, Docs: docs})
	}

	go func() {
		defer close(sub.ch)
		for range pubsub.Channel() {
			docs, err := r.List(ctx, collection)
			if err != nil {
				continue
			}
			sub.push(CollectionSnapshot{Collection: collection, Docs: docs})
		}
	}()

	return &CollectionWatch{C: sub.ch, cancel: func() { pubsub.Close() }}, nil
}

func (r *Redis) publish(ctx context.Context, collection, key string, data []byte, exists bool) {
	payload, err := json.Marshal(docEnvelope{Exists: exists, Data: data})
	if err != nil {
		return
	}
	r.rdb.Publish(ctx, redisDocChannel(collection, key), payload)
	r.pingCollection(ctx, collection)
}

func (r *Redis) pingCollection(ctx context.Context, collection string) {
	r.rdb.Publish(ctx, redisCollChannel(collection), "1")
}
