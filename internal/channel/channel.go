// Package channel adapts the bus's InboundMessage/OutboundMessage contract
// onto real chat platforms. Each adapter owns its own authentication and
// platform rate policy; the bus's outbound limiter is independent of any
// adapter's own throttling.
package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/loomrun/loom/pkg/models"
)

// Publisher is the subset of the bus an inbound-producing adapter needs.
// Satisfied by *bus.Bus.
type Publisher interface {
	PublishInbound(ctx context.Context, msg models.InboundMessage) error
}

// Channel is the minimal contract a platform adapter must satisfy. Name
// must equal the "channel" value InboundMessage publishes and the value
// routing compares against for OutboundMessage.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg models.OutboundMessage) error
}

// Registry holds every configured adapter, keyed by name, and dispatches
// outbound traffic to the one whose name matches.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

// Register adds ch, indexed by its own Name().
func (r *Registry) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Name()] = ch
}

// Get returns the adapter registered under name, if any.
func (r *Registry) Get(name string) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	return ch, ok
}

// All returns every registered adapter in no particular order.
func (r *Registry) All() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	return out
}

// StartAll starts every registered adapter, stopping and returning the
// first error encountered; adapters already started are left running so
// the caller can decide whether a partial start is acceptable.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, ch := range r.All() {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("starting channel %q: %w", ch.Name(), err)
		}
	}
	return nil
}

// StopAll stops every registered adapter, continuing past individual
// failures and returning the last one seen.
func (r *Registry) StopAll(ctx context.Context) error {
	var lastErr error
	for _, ch := range r.All() {
		if err := ch.Stop(ctx); err != nil {
			lastErr = fmt.Errorf("stopping channel %q: %w", ch.Name(), err)
		}
	}
	return lastErr
}

// Dispatch consumes outbound messages from next until ctx is cancelled,
// routing each to the adapter whose name matches msg.Channel. A message
// naming an unregistered channel is reported via onError rather than
// silently dropped.
func (r *Registry) Dispatch(ctx context.Context, next func(context.Context) (models.OutboundMessage, error), onError func(msg models.OutboundMessage, err error)) error {
	for {
		msg, err := next(ctx)
		if err != nil {
			return err
		}
		ch, ok := r.Get(msg.Channel)
		if !ok {
			if onError != nil {
				onError(msg, fmt.Errorf("no channel registered for %q", msg.Channel))
			}
			continue
		}
		if err := ch.Send(ctx, msg); err != nil && onError != nil {
			onError(msg, err)
		}
	}
}
