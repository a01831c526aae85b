package queue

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samber/do"
)

const bufferSize = 64

var _ do.Shutdownable = (*Service)(nil)

// Event is a unit of work executed on the consumer goroutine.
type Event struct {
	Name string
	Run  func(ctx context.Context)
}

// Service is a mailbox that serializes events onto a single consumer.
type Service struct {
	queue chan Event

	mu     sync.RWMutex
	closed bool
}

func New(_ *do.Injector) (*Service, error) {
	return NewService(), nil
}

func NewService() *Service {
	return &Service{
		queue: make(chan Event, bufferSize),
	}
}

// Add enqueues ev, blocking while the mailbox is full. It reports false when ctx ends or
// the mailbox is shut down before the event is accepted.
func (s *Service) Add(ctx context.Context, ev Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		slog.Debug("Event dropped after shutdown", "event", ev.Name)
		return false
	}

	select {
	case s.queue <- ev:
		return true
	default:
		slog.Warn("Event queue is full", "event", ev.Name)
	}

	select {
	case s.queue <- ev:
		return true
	case <-ctx.Done():
		slog.Debug("Event dropped", "event", ev.Name, "error", ctx.Err())
		return false
	}
}

func (s *Service) Channel() <-chan Event {
	return s.queue
}

func (s *Service) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.queue)
	}

	return nil
}
