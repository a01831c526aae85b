package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrUnsupported = errors.New("speech capture is not supported")
	ErrDenied      = errors.New("speech capture denied")
	ErrAborted     = errors.New("speech capture aborted")
	ErrBusy        = errors.New("speech capture already in progress")
)

// Recognizer listens for a single utterance and returns its text.
type Recognizer interface {
	Recognize(ctx context.Context) (string, error)
}

// Silencer stops audible speech output.
type Silencer interface {
	CancelAll()
}

// Controller runs at most one capture at a time. Every capture is single-shot: it ends
// with exactly one utterance or one error.
type Controller struct {
	recognizer Recognizer
	output     Silencer

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewController wraps recognizer. A nil recognizer means the platform cannot capture speech
// and every Begin fails with ErrUnsupported.
func NewController(recognizer Recognizer, output Silencer) *Controller {
	return &Controller{
		recognizer: recognizer,
		output:     output,
	}
}

// Begin silences playback and captures one utterance. It fails with ErrBusy without side
// effects while another capture is outstanding.
func (c *Controller) Begin(ctx context.Context) (string, error) {
	if c.recognizer == nil {
		return "", ErrUnsupported
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return "", ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		cancel()
	}()

	if c.output != nil {
		c.output.CancelAll()
	}

	text, err := c.recognizer.Recognize(ctx)
	if err != nil {
		return "", classify(err)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: nothing recognized", ErrAborted)
	}

	return text, nil
}

// Abort cancels the outstanding capture, which then fails with ErrAborted.
func (c *Controller) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Controller) active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cancel != nil
}

func classify(err error) error {
	if errors.Is(err, ErrDenied) || errors.Is(err, ErrAborted) || errors.Is(err, ErrUnsupported) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrAborted, err)
}
