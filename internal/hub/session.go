package hub

import (
	"fmt"
	"sync"

	"livekitchen/internal/common/logger"
	"livekitchen/internal/domain"
)

// Transport is the write side of one client connection. The surrounding
// socket server owns reads and framing; the hub only ever writes events and
// closes.
type Transport interface {
	WriteEvent(ev domain.OutboundEvent) error
	Close() error
}

const sendBuffer = 64

// Session wraps a transport with a single writer goroutine so delivery to
// one connection is FIFO in Emit order. A full buffer drops the event: the
// store is the durable source of truth, a missed notification is tolerated.
type Session struct {
	ID       string
	Identity domain.Identity

	tr   Transport
	out  chan domain.OutboundEvent
	once sync.Once
	done chan struct{}
	lg   *logger.Logger
}

func newSession(id string, identity domain.Identity, tr Transport, lg *logger.Logger) *Session {
	return &Session{
		ID:       id,
		Identity: identity,
		tr:       tr,
		out:      make(chan domain.OutboundEvent, sendBuffer),
		done:     make(chan struct{}),
		lg:       lg,
	}
}

// Send enqueues an event for the writer goroutine. Implements
// broadcast.Sink.
func (s *Session) Send(ev domain.OutboundEvent) error {
	select {
	case <-s.done:
		return fmt.Errorf("session %s closed", s.ID)
	case s.out <- ev:
		return nil
	default:
		return fmt.Errorf("session %s send buffer full", s.ID)
	}
}

func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.out:
			if err := s.tr.WriteEvent(ev); err != nil {
				s.lg.Debug("write_failed", map[string]any{
					"connection_id": s.ID, "event": ev.Name,
				})
			}
		}
	}
}

func (s *Session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.tr.Close()
	})
}
