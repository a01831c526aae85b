package history

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"v2v/app/config"
	"v2v/app/model/chat"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
	"github.com/samber/oops"
)

const fileName = "history.jsonl"

var ErrSessionNotFound = errors.New("session not found")

// Service keeps chat sessions in memory and appends every change to a JSON-lines file, which
// is replayed on start.
type Service struct {
	path string

	mu            sync.RWMutex
	sessions      []Session
	messages      map[int64][]Message
	lastSessionID int64
	lastMessageID int64
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewService(cfg.Server.DataDir)
}

func NewService(dataDir string) (*Service, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	s := &Service{
		path:     filepath.Join(dataDir, fileName),
		messages: make(map[int64][]Message),
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	slog.Info("History loaded",
		"path", s.path,
		"sessions", len(s.sessions),
	)

	return s, nil
}

func (s *Service) load() error {
	file, err := os.OpenFile(s.path, os.O_RDONLY|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var item jsonLineItem
		if err = json.Unmarshal([]byte(line), &item); err != nil {
			return fmt.Errorf("failed to parse JSON line: %w", err)
		}

		switch item.Kind {
		case kindSession:
			s.sessions = append(s.sessions, Session{ID: item.ID, CreatedAt: item.CreatedAt})
			s.lastSessionID = max(s.lastSessionID, item.ID)
		case kindMessage:
			s.messages[item.SessionID] = append(s.messages[item.SessionID], Message{
				ID:        item.ID,
				Role:      item.Role,
				Content:   item.Content,
				CreatedAt: item.CreatedAt,
			})
			s.lastMessageID = max(s.lastMessageID, item.ID)
		default:
			slog.Warn("Skipping unknown history record", "kind", item.Kind)
		}
	}

	if err = scanner.Err(); err != nil {
		return fmt.Errorf("error reading history file: %w", err)
	}

	return nil
}

func (s *Service) appendItems(items ...jsonLineItem) error {
	file, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)

	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", item.Kind, err)
		}
		if _, err = writer.WriteString(string(data) + "\n"); err != nil {
			return fmt.Errorf("failed to write %s: %w", item.Kind, err)
		}
	}

	if err = writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush writer: %w", err)
	}

	return nil
}

func (s *Service) CreateSession() (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := Session{
		ID:        s.lastSessionID + 1,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.appendItems(jsonLineItem{Kind: kindSession, ID: sess.ID, CreatedAt: sess.CreatedAt}); err != nil {
		return Session{}, err
	}

	s.sessions = append(s.sessions, sess)
	s.lastSessionID = sess.ID

	slog.Info("Session created", "session_id", sess.ID)

	return sess, nil
}

// ListSessions returns all sessions, newest first.
func (s *Service) ListSessions() []Session {
	s.mu.RLock()
	result := append(make([]Session, 0, len(s.sessions)), s.sessions...)
	s.mu.RUnlock()

	return pie.SortUsing(result, func(a, b Session) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

func (s *Service) GetSession(id int64) (SessionWithMessages, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.findSession(id)
	if !ok {
		return SessionWithMessages{}, oops.In("history").With("session_id", id).Wrap(ErrSessionNotFound)
	}

	return SessionWithMessages{
		Session:  sess,
		Messages: append([]Message{}, s.messages[id]...),
	}, nil
}

// AppendExchange stores a user message together with the assistant reply to it.
func (s *Service) AppendExchange(sessionID int64, userText, assistantText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.findSession(sessionID); !ok {
		return oops.In("history").With("session_id", sessionID).Wrap(ErrSessionNotFound)
	}

	now := time.Now().UTC()
	added := []Message{
		{ID: s.lastMessageID + 1, Role: chat.RoleUser, Content: userText, CreatedAt: now},
		{ID: s.lastMessageID + 2, Role: chat.RoleAssistant, Content: assistantText, CreatedAt: now},
	}

	items := pie.Map(added, func(m Message) jsonLineItem {
		return jsonLineItem{
			Kind:      kindMessage,
			ID:        m.ID,
			SessionID: sessionID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		}
	})
	if err := s.appendItems(items...); err != nil {
		return err
	}

	s.messages[sessionID] = append(s.messages[sessionID], added...)
	s.lastMessageID += int64(len(added))

	return nil
}

// Transcript returns the session messages in the shape the chat model consumes.
func (s *Service) Transcript(sessionID int64) []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return pie.Map(s.messages[sessionID], func(m Message) chat.Message {
		return chat.Message{Role: m.Role, Content: m.Content}
	})
}

func (s *Service) findSession(id int64) (Session, bool) {
	idx := pie.FindFirstUsing(s.sessions, func(sess Session) bool {
		return sess.ID == id
	})
	if idx < 0 {
		return Session{}, false
	}

	return s.sessions[idx], true
}
