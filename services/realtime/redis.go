package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisBus carries notifications over Redis pub/sub so every instance sees
// changes written by any other.
type RedisBus struct {
	client *redis.Client
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

func (b *RedisBus) Publish(ctx context.Context, key Key, payload Payload) error {
	data, err := encode(key, payload)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, Channel(key), data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", Channel(key), err)
	}
	return nil
}

// Subscribe listens to every lesson channel of a school.
func (b *RedisBus) Subscribe(ctx context.Context, schoolID string, cb Callback) (func(), error) {
	pattern := schoolPattern(schoolID)
	ps := b.client.PSubscribe(ctx, pattern)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", pattern, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ch := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				n, err := decode(msg.Channel, []byte(msg.Payload))
				if err != nil {
					logrus.WithField("channel", msg.Channel).WithError(err).Warn("Dropping malformed change notification")
					continue
				}
				if subCtx.Err() != nil {
					return
				}
				cb(subCtx, n)
			}
		}
	}()

	logrus.WithField("pattern", pattern).Info("Subscribed to change notifications")

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			ps.Close()
			<-done
		})
	}, nil
}
