package web

import (
	"context"
	"sync"
)

type confirmKey struct{}

// withConfirmation records the answer the browser already gave to the
// removal dialog.
func withConfirmation(ctx context.Context, yes bool) context.Context {
	return context.WithValue(ctx, confirmKey{}, yes)
}

// notifier queues alerts until the next page render shows them. Confirm
// answers come from the request that triggered the dialog.
type notifier struct {
	mu     sync.Mutex
	queued []string
}

func (n *notifier) Alert(_ context.Context, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queued = append(n.queued, msg)
}

func (n *notifier) Confirm(ctx context.Context, _ string) bool {
	yes, _ := ctx.Value(confirmKey{}).(bool)
	return yes
}

// drain returns the queued alerts and forgets them.
func (n *notifier) drain() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.queued
	n.queued = nil
	return out
}
