package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-outreach/core"
)

// ChannelNotifier wakes every waiting worker in this process on Notify.
type ChannelNotifier struct {
	mu     sync.Mutex
	signal chan struct{}
}

func NewChannelNotifier() *ChannelNotifier {
	return &ChannelNotifier{signal: make(chan struct{})}
}

func (n *ChannelNotifier) Notify(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.signal != nil {
		close(n.signal)
	}
	n.signal = make(chan struct{})
	return nil
}

func (n *ChannelNotifier) Wait(ctx context.Context, timeout time.Duration) bool {
	n.mu.Lock()
	signal := n.signal
	n.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-signal:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

var _ core.Notifier = (*ChannelNotifier)(nil)
