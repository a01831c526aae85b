package output

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/samber/do"
)

// Speaker plays text aloud until it finishes or ctx is cancelled.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

var _ do.Shutdownable = (*Controller)(nil)

type playback struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller keeps at most one utterance audible. Speak replaces the current utterance,
// it never queues behind it.
type Controller struct {
	speaker Speaker

	mu      sync.Mutex
	current *playback
}

// NewController wraps speaker. A nil speaker means the platform has no speech output;
// the controller then accepts calls and stays silent.
func NewController(speaker Speaker) *Controller {
	return &Controller{
		speaker: speaker,
	}
}

// Speak cancels the current utterance, waits for it to stop and starts text in the background.
func (c *Controller) Speak(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()

	if c.speaker == nil {
		slog.Debug("Speech output unsupported, skipping", "text", text)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &playback{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.current = p

	go func() {
		defer close(p.done)
		defer cancel()

		err := c.speaker.Speak(ctx, text)
		if err != nil && !errors.Is(err, context.Canceled) && ctx.Err() == nil {
			slog.Warn("Speech playback failed", "error", err)
		}
	}()
}

// CancelAll stops playback and returns once nothing is audible.
func (c *Controller) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
}

func (c *Controller) Speaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return false
	}

	select {
	case <-c.current.done:
		return false
	default:
		return true
	}
}

func (c *Controller) Shutdown() error {
	c.CancelAll()
	return nil
}

func (c *Controller) stopLocked() {
	if c.current == nil {
		return
	}

	c.current.cancel()
	<-c.current.done
	c.current = nil
}
