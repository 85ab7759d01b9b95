package hub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"
)

// RedisRelay relays hub traffic over Redis pub/sub, one channel per topic
// under a common prefix.
type RedisRelay struct {
	rdb    *redis.Client
	prefix string
	pubsub *redis.PubSub
	out    chan RelayMessage
	done   chan struct{}
}

// NewRedisRelay connects to Redis and subscribes to every topic channel
// under prefix.
func NewRedisRelay(ctx context.Context, redisURL, prefix string) (*RedisRelay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to redis: %w", err)
	}

	pubsub := rdb.PSubscribe(ctx, prefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		rdb.Close()
		return nil, fmt.Errorf("failed to subscribe to relay channels: %w", err)
	}

	r := &RedisRelay{
		rdb:    rdb,
		prefix: prefix,
		pubsub: pubsub,
		out:    make(chan RelayMessage, 256),
		done:   make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

// Publish sends msg on the topic's relay channel.
func (r *RedisRelay) Publish(ctx context.Context, msg RelayMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.prefix+msg.Topic, data).Err()
}

// Messages returns relay messages from all nodes, including this one.
func (r *RedisRelay) Messages() <-chan RelayMessage {
	return r.out
}

// Close unsubscribes and closes the Redis client.
func (r *RedisRelay) Close() error {
	close(r.done)
	if err := r.pubsub.Close(); err != nil {
		glog.Warningf("relay: failed to close subscription: %v", err)
	}
	return r.rdb.Close()
}

func (r *RedisRelay) readLoop() {
	defer close(r.out)
	for m := range r.pubsub.Channel() {
		var msg RelayMessage
		if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
			glog.Warningf("relay: dropping malformed message on %s: %v", m.Channel, err)
			continue
		}
		select {
		case r.out <- msg:
		case <-r.done:
			return
		}
	}
}
