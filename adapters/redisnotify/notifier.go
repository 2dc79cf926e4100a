package redisnotify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/jobs"
)

const DefaultChannel = "outreach:jobs:ready"

// Notifier wakes job workers across processes. Notify publishes on a Redis
// channel and every subscribed process wakes its local waiters.
type Notifier struct {
	client  redis.UniversalClient
	channel string
	local   *jobs.ChannelNotifier
	pubsub  *redis.PubSub

	closeOnce sync.Once
	done      chan struct{}
}

// New subscribes to channel and returns once the subscription is confirmed.
func New(ctx context.Context, client redis.UniversalClient, channel string) (*Notifier, error) {
	if client == nil {
		return nil, core.NewValidationError("redisnotify: client is required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = DefaultChannel
	}
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, core.NewUnavailableError("redisnotify: subscribe", err)
	}
	n := &Notifier{
		client:  client,
		channel: channel,
		local:   jobs.NewChannelNotifier(),
		pubsub:  pubsub,
		done:    make(chan struct{}),
	}
	go n.listen()
	return n, nil
}

func (n *Notifier) listen() {
	defer close(n.done)
	for range n.pubsub.Channel() {
		_ = n.local.Notify(context.Background())
	}
}

// Notify wakes local waiters at once and publishes for other processes.
func (n *Notifier) Notify(ctx context.Context) error {
	if n == nil {
		return nil
	}
	_ = n.local.Notify(ctx)
	if err := n.client.Publish(ctx, n.channel, "ready").Err(); err != nil {
		return core.NewUnavailableError("redisnotify: publish", err)
	}
	return nil
}

func (n *Notifier) Wait(ctx context.Context, timeout time.Duration) bool {
	if n == nil {
		return false
	}
	return n.local.Wait(ctx, timeout)
}

// Close ends the subscription. The client stays open.
func (n *Notifier) Close() error {
	if n == nil {
		return nil
	}
	var err error
	n.closeOnce.Do(func() {
		err = n.pubsub.Close()
		<-n.done
	})
	return err
}

var _ core.Notifier = (*Notifier)(nil)
