package realtime

import (
	"context"
	"sync"
)

// LocalBus delivers notifications in-process. It is used when Redis is not
// available. Callbacks run synchronously inside Publish and must not
// unsubscribe themselves.
type LocalBus struct {
	mu   sync.RWMutex
	next int
	subs map[string]map[int]Callback // school id -> subscriptions
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[int]Callback)}
}

func (b *LocalBus) Publish(ctx context.Context, key Key, payload Payload) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := Notification{Key: key, Payload: payload}
	for _, cb := range b.subs[key.SchoolID] {
		cb(ctx, n)
	}
	return nil
}

func (b *LocalBus) Subscribe(_ context.Context, schoolID string, cb Callback) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	if b.subs[schoolID] == nil {
		b.subs[schoolID] = make(map[int]Callback)
	}
	b.subs[schoolID][id] = cb

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[schoolID], id)
		})
	}, nil
}
