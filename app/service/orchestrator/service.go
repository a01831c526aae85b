package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
	"v2v/app/client/backend"
	"v2v/app/config"
	"v2v/app/model/chat"
	"v2v/app/service/capture"
	"v2v/app/service/output"
	"v2v/app/service/queue"
	"v2v/app/service/session"
	"v2v/app/util/mylog"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
)

const (
	// NetworkFallback is shown and spoken when the chat service cannot be reached.
	NetworkFallback = "Ошибка связи с сервером"

	CaptureUnsupportedNotice  = "Распознавание речи не поддерживается на этом устройстве"
	CreateSessionFailedNotice = "Не удалось создать новый чат"
	LoadHistoryFailedNotice   = "Не удалось загрузить историю чата"

	noticeBufferSize = 16
)

type Backend interface {
	ListSessions(ctx context.Context) ([]chat.Session, error)
	CreateSession(ctx context.Context) (chat.Session, error)
	FetchHistory(ctx context.Context, sessionID int64) ([]chat.Message, error)
	SendMessage(ctx context.Context, text string, sessionID *int64) (backend.Reply, error)
}

type Capturer interface {
	Begin(ctx context.Context) (string, error)
	Abort()
}

type Speaker interface {
	Speak(text string)
	CancelAll()
	Speaking() bool
}

// Notice is a message for the user that is not part of the transcript.
type Notice struct {
	Text string
	// Blocking notices report a missing capability rather than a one-off failure.
	Blocking bool
}

type Snapshot struct {
	Phase      Phase
	Sessions   []chat.Session
	ActiveID   int64
	HasActive  bool
	Transcript []chat.Message
	Speaking   bool
}

var _ do.Shutdownable = (*Service)(nil)

// Service sequences capture, the chat request and playback. Every state change happens
// on the goroutine running Run; I/O runs on helper goroutines that post their results
// back through the event queue.
type Service struct {
	backend Backend
	capture Capturer
	output  Speaker
	events  *queue.Service
	store   *session.Store

	requestTimeout time.Duration

	mu       sync.RWMutex
	phase    Phase
	snapshot Snapshot

	changes chan struct{}
	notices chan Notice

	observer func(from, to Phase)
}

type Option func(*Service)

// WithPhaseObserver registers fn to be called on the loop goroutine after every phase change.
func WithPhaseObserver(fn func(from, to Phase)) Option {
	return func(s *Service) {
		s.observer = fn
	}
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewService(
		do.MustInvoke[*backend.Client](di),
		do.MustInvoke[*capture.Controller](di),
		do.MustInvoke[*output.Controller](di),
		do.MustInvoke[*queue.Service](di),
		cfg.Backend.Timeout,
	), nil
}

func NewService(
	backendClient Backend,
	capturer Capturer,
	speaker Speaker,
	events *queue.Service,
	requestTimeout time.Duration,
	opts ...Option,
) *Service {
	s := &Service{
		backend:        backendClient,
		capture:        capturer,
		output:         speaker,
		events:         events,
		store:          session.NewStore(),
		requestTimeout: requestTimeout,
		phase:          PhaseIdle,
		snapshot:       Snapshot{Phase: PhaseIdle},
		changes:        make(chan struct{}, 1),
		notices:        make(chan Notice, noticeBufferSize),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run processes events until ctx is done or the event queue is shut down. It loads the
// session directory first.
func (s *Service) Run(ctx context.Context) {
	defer s.Close()

	s.refreshSessions(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.events.Channel():
			if !ok {
				return
			}

			ev.Run(ctx)
		}
	}
}

func (s *Service) StartListening(ctx context.Context) {
	s.post(ctx, "start_listening", s.startListening)
}

// StopListening aborts the outstanding capture, if any; the capture then fails silently.
func (s *Service) StopListening() {
	s.capture.Abort()
}

func (s *Service) CreateNewSession(ctx context.Context) {
	s.post(ctx, "create_session", s.createSession)
}

func (s *Service) LoadSession(ctx context.Context, id int64) {
	s.post(ctx, "load_session", func(ctx context.Context) {
		s.loadSession(ctx, id)
	})
}

func (s *Service) RefreshSessions(ctx context.Context) {
	s.post(ctx, "refresh_sessions", s.refreshSessions)
}

func (s *Service) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshot.Phase
}

// Snapshot returns the state published by the loop after its last change, so the phase
// always matches the sessions and transcript. Speaking is read live.
func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	snap := s.snapshot
	s.mu.RUnlock()

	snap.Sessions = slices.Clone(snap.Sessions)
	snap.Transcript = slices.Clone(snap.Transcript)
	snap.Speaking = s.output.Speaking()

	return snap
}

// Changes signals that the snapshot may have changed. Signals are coalesced.
func (s *Service) Changes() <-chan struct{} {
	return s.changes
}

func (s *Service) Notices() <-chan Notice {
	return s.notices
}

// Close silences playback. Outstanding captures and requests are left to finish; their
// results are discarded once the loop has stopped.
func (s *Service) Close() {
	s.output.CancelAll()
}

func (s *Service) Shutdown() error {
	s.Close()
	return nil
}

func (s *Service) startListening(ctx context.Context) {
	// phase is written only on the loop goroutine
	if phase := s.phase; phase != PhaseIdle {
		slog.Debug("Ignoring listen request", "phase", phase)
		return
	}

	s.transition(PhaseListening)
	s.output.CancelAll()

	go func() {
		text, err := s.capture.Begin(ctx)
		s.post(ctx, "capture_done", func(ctx context.Context) {
			s.captureDone(ctx, text, err)
		})
	}()
}

func (s *Service) captureDone(ctx context.Context, text string, err error) {
	if err != nil {
		s.transition(PhaseIdle)

		switch {
		case errors.Is(err, capture.ErrUnsupported):
			slog.Warn("Speech capture is not supported", mylog.TelegramKey, true)
			s.notify(Notice{Text: CaptureUnsupportedNotice, Blocking: true})
		case errors.Is(err, capture.ErrBusy):
			slog.Warn("Speech capture is busy", "error", err)
		default:
			slog.Info("Speech capture failed", "error", err)
		}

		return
	}

	s.store.AppendMessage(chat.RoleUser, text)

	var sentFor *int64
	if id, ok := s.store.ActiveID(); ok {
		sentFor = &id
	}

	s.transition(PhaseAwaitingReply)

	go func() {
		reqCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()

		reply, err := s.backend.SendMessage(reqCtx, text, sentFor)
		s.post(ctx, "reply", func(context.Context) {
			s.replyDone(sentFor, reply, err)
		})
	}()
}

func (s *Service) replyDone(sentFor *int64, reply backend.Reply, err error) {
	current := s.isActive(sentFor)

	if err != nil {
		s.transition(PhaseError)
		slog.Error("Chat request failed", "error", err)

		if current {
			s.store.AppendMessage(chat.RoleAssistant, NetworkFallback)
		}
		s.output.Speak(NetworkFallback)

		s.transition(PhaseIdle)
		return
	}

	if sentFor == nil {
		s.store.PrependSessionIfAbsent(chat.Session{
			ID:        reply.SessionID,
			CreatedAt: chat.NewTimestamp(time.Now()),
		})
	}

	if current {
		s.store.AppendMessage(chat.RoleAssistant, reply.Text)
		if sentFor == nil {
			s.store.SetActive(reply.SessionID, s.store.Transcript())
		}
	} else {
		slog.Info("Reply arrived for a session that is no longer active", "session_id", reply.SessionID)
	}

	s.output.Speak(reply.Text)
	s.transition(PhaseIdle)
}

func (s *Service) createSession(ctx context.Context) {
	go func() {
		reqCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()

		sess, err := s.backend.CreateSession(reqCtx)
		s.post(ctx, "session_created", func(context.Context) {
			if err != nil {
				slog.Warn("Failed to create session", "error", err)
				s.notify(Notice{Text: CreateSessionFailedNotice})
				return
			}

			s.store.PrependSessionIfAbsent(sess)
			s.store.SetActive(sess.ID, nil)
			s.changed()
		})
	}()
}

func (s *Service) loadSession(ctx context.Context, id int64) {
	s.store.SetActive(id, nil)
	s.changed()

	go func() {
		reqCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()

		history, err := s.backend.FetchHistory(reqCtx, id)
		s.post(ctx, "history_loaded", func(context.Context) {
			s.historyLoaded(id, history, err)
		})
	}()
}

func (s *Service) historyLoaded(id int64, history []chat.Message, err error) {
	if !s.isActive(&id) {
		slog.Debug("Discarding stale history", "session_id", id)
		return
	}

	if err != nil {
		slog.Warn("Failed to load history", "session_id", id, "error", err)
		s.notify(Notice{Text: LoadHistoryFailedNotice})
		return
	}

	s.store.SetActive(id, history)
	s.changed()
}

func (s *Service) refreshSessions(ctx context.Context) {
	go func() {
		reqCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()

		sessions, err := s.backend.ListSessions(reqCtx)
		s.post(ctx, "sessions_listed", func(context.Context) {
			if err != nil {
				slog.Warn("Failed to list sessions", "error", err)
				sessions = nil
			}

			s.sessionsListed(sessions)
		})
	}()
}

// sessionsListed installs the directory listing. Sessions learned locally while the
// listing was in flight are kept in front of it.
func (s *Service) sessionsListed(sessions []chat.Session) {
	listed := pie.Map(sessions, func(sess chat.Session) int64 { return sess.ID })
	newer := pie.Filter(s.store.Sessions(), func(sess chat.Session) bool {
		return !pie.Contains(listed, sess.ID)
	})

	s.store.ReplaceSessions(append(newer, sessions...))
	s.changed()
}

func (s *Service) isActive(id *int64) bool {
	activeID, ok := s.store.ActiveID()
	if id == nil {
		return !ok
	}

	return ok && activeID == *id
}

func (s *Service) transition(to Phase) {
	s.mu.Lock()
	from := s.phase
	if !canTransition(from, to) {
		s.mu.Unlock()
		slog.Error("Invalid phase transition", "error", fmt.Errorf("invalid transition from %s to %s", from, to))
		return
	}
	s.phase = to
	s.mu.Unlock()

	slog.Debug("Phase changed", "from", from, "to", to)

	if s.observer != nil {
		s.observer(from, to)
	}
	s.changed()
}

func (s *Service) post(ctx context.Context, name string, run func(ctx context.Context)) {
	s.events.Add(ctx, queue.Event{Name: name, Run: run})
}

func (s *Service) changed() {
	s.publish()

	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *Service) publish() {
	activeID, hasActive := s.store.ActiveID()
	snap := Snapshot{
		Sessions:   s.store.Sessions(),
		ActiveID:   activeID,
		HasActive:  hasActive,
		Transcript: s.store.Transcript(),
	}

	s.mu.Lock()
	snap.Phase = s.phase
	s.snapshot = snap
	s.mu.Unlock()
}

func (s *Service) notify(n Notice) {
	select {
	case s.notices <- n:
	default:
		slog.Warn("Notice dropped", "text", n.Text)
	}
	s.changed()
}
