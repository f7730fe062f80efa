// Package redisstore wraps the shared Redis client used for pub/sub fan-out.
package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	Client *redis.Client
	prefix string
}

func New(addr, password string, db int) *Store {
	return &Store{
		Client: redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     password,
			DB:           db,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		}),
		prefix: "pipelines:",
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.Client.Close()
}

func (s *Store) topic(name string) string {
	return s.prefix + name
}

// Publish sends payload to every subscriber of topic.
func (s *Store) Publish(ctx context.Context, topic string, payload []byte) error {
	return s.Client.Publish(ctx, s.topic(topic), payload).Err()
}

// Subscribe streams payloads published on topic until ctx is done or the
// returned cancel func is called. The subscription is confirmed before return.
func (s *Store) Subscribe(ctx context.Context, topic string) (<-chan []byte, func(), error) {
	sub := s.Client.Subscribe(ctx, s.topic(topic))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, err
	}

	out := make(chan []byte, 64)
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, cancel, nil
}
