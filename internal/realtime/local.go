package realtime

import (
	"context"
	"sync"

	"github.com/vishnu-mouli-102408/sync-scribe/internal/domain"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/hub"
	"github.com/vishnu-mouli-102408/sync-scribe/internal/protocol"
)

// LocalAdapter subscribes directly to an in-process hub.
type LocalAdapter struct {
	hub *hub.Hub
}

// NewLocalAdapter creates a LocalAdapter.
func NewLocalAdapter(h *hub.Hub) *LocalAdapter {
	return &LocalAdapter{hub: h}
}

// Channel implements Adapter.
func (a *LocalAdapter) Channel(topic string, opts ChannelOptions) Channel {
	return &localChannel{hub: a.hub, topic: topic, opts: opts}
}

type localChannel struct {
	hub   *hub.Hub
	topic string
	opts  ChannelOptions

	mu     sync.Mutex
	sub    *hub.Subscriber
	closed bool
}

func (c *localChannel) Subscribe(ctx context.Context, h Handlers) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.sub != nil {
		c.mu.Unlock()
		return nil
	}
	sub := c.hub.NewSubscriber(c.topic, c.opts.PresenceKey, c.opts.Self)
	c.mu.Unlock()

	if err := c.hub.Register(ctx, sub); err != nil {
		return err
	}

	c.mu.Lock()
	c.sub = sub
	closed := c.closed
	c.mu.Unlock()
	if closed {
		c.hub.Unregister(sub)
	}

	go func() {
		for data := range sub.Send {
			dispatch(c.topic, data, h)
		}
	}()
	return nil
}

func (c *localChannel) subscriber() (*hub.Subscriber, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.sub == nil {
		return nil, ErrNotSubscribed
	}
	return c.sub, nil
}

func (c *localChannel) Track(ctx context.Context, p domain.Presence) error {
	sub, err := c.subscriber()
	if err != nil {
		return err
	}
	return c.hub.Track(ctx, sub, p)
}

func (c *localChannel) Send(ctx context.Context, msg protocol.Message) error {
	sub, err := c.subscriber()
	if err != nil {
		return err
	}
	event, payload, err := protocol.EncodeBroadcast(msg)
	if err != nil {
		return err
	}
	return c.hub.Broadcast(ctx, sub, event, payload)
}

func (c *localChannel) Unsubscribe() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sub := c.sub
	c.mu.Unlock()

	if sub != nil {
		c.hub.Unregister(sub)
	}
	return nil
}
