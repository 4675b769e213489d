// Package broadcast delivers outbound events to live connections and
// mirrors them to the notifications exchange for out-of-process consumers.
package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/samber/lo"

	"livekitchen/internal/common/logger"
	"livekitchen/internal/connections/rabbitmq"
	"livekitchen/internal/domain"
)

// Sink is one live connection's ordered delivery channel. Implementations
// must preserve the order in which Send is called (FIFO per connection).
type Sink interface {
	Send(ev domain.OutboundEvent) error
}

// Publisher is the slice of the MQ client the broadcaster needs.
type Publisher interface {
	Publish(ctx context.Context, exchange, key, correlationID string, body []byte) error
}

type Broadcaster struct {
	mu    sync.RWMutex
	sinks map[string]Sink

	mq Publisher // nil disables the mirror
	lg *logger.Logger
}

func New(mq Publisher, lg *logger.Logger) *Broadcaster {
	return &Broadcaster{sinks: make(map[string]Sink), mq: mq, lg: lg}
}

func (b *Broadcaster) Attach(connectionID string, s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks[connectionID] = s
}

func (b *Broadcaster) Detach(connectionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sinks, connectionID)
}

// Emit delivers ev to every recipient connection. Connections that
// disappeared between resolution and delivery are skipped; the store is
// the durable source of truth, a missed notification is tolerable. With
// echoToOrigin the originating connection is included whether or not it is
// in recipients.
func (b *Broadcaster) Emit(ctx context.Context, ev domain.OutboundEvent, recipients []string, origin string, echoToOrigin bool) {
	targets := recipients
	if echoToOrigin && origin != "" {
		targets = lo.Uniq(append(append([]string{}, recipients...), origin))
	}

	b.mu.RLock()
	resolved := make(map[string]Sink, len(targets))
	for _, connID := range targets {
		if s, ok := b.sinks[connID]; ok {
			resolved[connID] = s
		}
	}
	b.mu.RUnlock()

	for connID, s := range resolved {
		if err := s.Send(ev); err != nil {
			b.lg.Warn("delivery_skipped", map[string]any{"connection_id": connID, "event": ev.Name})
		}
	}

	b.mirror(ctx, ev)
}

// mirror publishes the event to the notifications fanout. Best effort: the
// exchange feeds the email/notification collaborator, not the lifecycle.
func (b *Broadcaster) mirror(ctx context.Context, ev domain.OutboundEvent) {
	if b.mq == nil {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		b.lg.Error("mirror_marshal_failed", err, map[string]any{"event": ev.Name})
		return
	}
	if err := b.mq.Publish(ctx, rabbitmq.NotificationsExchange, "", ev.Name, body); err != nil {
		b.lg.Error("mirror_publish_failed", err, map[string]any{"event": ev.Name})
	}
}
