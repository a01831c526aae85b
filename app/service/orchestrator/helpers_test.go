package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"v2v/app/client/backend"
	"v2v/app/model/chat"
	"v2v/app/service/capture"
	"v2v/app/service/output"
	"v2v/app/service/queue"

	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

type sentMessage struct {
	text      string
	sessionID *int64
}

type fakeBackend struct {
	list    func(ctx context.Context) ([]chat.Session, error)
	create  func(ctx context.Context) (chat.Session, error)
	history func(ctx context.Context, id int64) ([]chat.Message, error)
	send    func(ctx context.Context, text string, sessionID *int64) (backend.Reply, error)

	mu   sync.Mutex
	sent []sentMessage
}

func (f *fakeBackend) ListSessions(ctx context.Context) ([]chat.Session, error) {
	if f.list == nil {
		return nil, nil
	}
	return f.list(ctx)
}

func (f *fakeBackend) CreateSession(ctx context.Context) (chat.Session, error) {
	if f.create == nil {
		return chat.Session{}, backend.ErrNetwork
	}
	return f.create(ctx)
}

func (f *fakeBackend) FetchHistory(ctx context.Context, id int64) ([]chat.Message, error) {
	if f.history == nil {
		return nil, nil
	}
	return f.history(ctx, id)
}

func (f *fakeBackend) SendMessage(ctx context.Context, text string, sessionID *int64) (backend.Reply, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{text: text, sessionID: sessionID})
	f.mu.Unlock()

	if f.send == nil {
		return backend.Reply{}, backend.ErrNetwork
	}
	return f.send(ctx, text, sessionID)
}

func (f *fakeBackend) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]sentMessage(nil), f.sent...)
}

type recognition struct {
	text string
	err  error
}

// queuedRecognizer hands out one queued recognition per capture.
type queuedRecognizer struct {
	calls   atomic.Int32
	results chan recognition
}

func newQueuedRecognizer() *queuedRecognizer {
	return &queuedRecognizer{results: make(chan recognition, 8)}
}

func (r *queuedRecognizer) Recognize(ctx context.Context) (string, error) {
	r.calls.Add(1)

	select {
	case res := <-r.results:
		return res.text, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type recordingSpeaker struct {
	block bool

	mu        sync.Mutex
	spoken    []string
	cancelled []string
}

func (s *recordingSpeaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.mu.Unlock()

	if !s.block {
		return nil
	}

	<-ctx.Done()

	s.mu.Lock()
	s.cancelled = append(s.cancelled, text)
	s.mu.Unlock()

	return ctx.Err()
}

func (s *recordingSpeaker) spokenTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.spoken...)
}

func (s *recordingSpeaker) cancelledTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.cancelled...)
}

type harness struct {
	svc        *Service
	backend    *fakeBackend
	recognizer *queuedRecognizer
	speaker    *recordingSpeaker
	output     *output.Controller

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	phases []Phase
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	noRecognizer  bool
	blockingVoice bool
}

func withoutRecognizer() harnessOption {
	return func(c *harnessConfig) { c.noRecognizer = true }
}

func withBlockingVoice() harnessOption {
	return func(c *harnessConfig) { c.blockingVoice = true }
}

func newHarness(t *testing.T, fb *fakeBackend, opts ...harnessOption) *harness {
	t.Helper()

	var cfg harnessConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &harness{
		backend:    fb,
		recognizer: newQueuedRecognizer(),
		speaker:    &recordingSpeaker{block: cfg.blockingVoice},
		done:       make(chan struct{}),
	}

	h.output = output.NewController(h.speaker)

	var recognizer capture.Recognizer = h.recognizer
	if cfg.noRecognizer {
		recognizer = nil
	}

	h.svc = NewService(
		fb,
		capture.NewController(recognizer, h.output),
		h.output,
		queue.NewService(),
		time.Second,
		WithPhaseObserver(h.observe),
	)

	h.ctx, h.cancel = context.WithCancel(context.Background())
	go func() {
		defer close(h.done)
		h.svc.Run(h.ctx)
	}()

	t.Cleanup(h.stop)

	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.done
}

func (h *harness) observe(_, to Phase) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.phases = append(h.phases, to)
}

func (h *harness) observedPhases() []Phase {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]Phase(nil), h.phases...)
}

// flush waits until every event queued before the call has been handled.
func (h *harness) flush(t *testing.T) {
	t.Helper()

	handled := make(chan struct{})
	h.svc.post(h.ctx, "flush", func(context.Context) { close(handled) })

	select {
	case <-handled:
	case <-time.After(waitFor):
		t.Fatal("event loop did not drain")
	}
}

func (h *harness) waitPhase(t *testing.T, phase Phase) {
	t.Helper()

	require.Eventually(t, func() bool { return h.svc.Phase() == phase }, waitFor, time.Millisecond,
		"phase did not become %s", phase)
}

func (h *harness) waitTranscript(t *testing.T, want []chat.Message) {
	t.Helper()

	require.Eventually(t, func() bool {
		got := h.svc.Snapshot().Transcript
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}, waitFor, time.Millisecond, "transcript never became %v (last %v)", want, h.svc.Snapshot().Transcript)
}

func sessionIDs(list []chat.Session) []int64 {
	result := make([]int64, 0, len(list))
	for _, s := range list {
		result = append(result, s.ID)
	}
	return result
}

func msg(role chat.Role, content string) chat.Message {
	return chat.Message{Role: role, Content: content}
}
