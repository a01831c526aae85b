package session

import (
	"slices"
	"sync"
	"v2v/app/model/chat"

	"github.com/elliotchance/pie/v2"
)

// Store is the in-memory projection of the session directory and the active transcript.
// Only the orchestrator loop writes to it; readers on other goroutines get copies.
type Store struct {
	mu sync.RWMutex

	sessions   []chat.Session
	activeID   int64
	hasActive  bool
	transcript []chat.Message
}

func NewStore() *Store {
	return &Store{}
}

// ReplaceSessions installs a fresh directory listing, keeping the first occurrence of every id.
func (s *Store) ReplaceSessions(list []chat.Session) {
	unique := make([]chat.Session, 0, len(list))
	for _, sess := range list {
		if containsSession(unique, sess.ID) {
			continue
		}
		unique = append(unique, sess)
	}

	s.mu.Lock()
	s.sessions = unique
	s.mu.Unlock()
}

// PrependSessionIfAbsent inserts sess at the front unless its id is already listed.
func (s *Store) PrependSessionIfAbsent(sess chat.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if containsSession(s.sessions, sess.ID) {
		return false
	}

	s.sessions = slices.Insert(s.sessions, 0, sess)
	return true
}

// SetActive selects a session and replaces the transcript wholesale.
func (s *Store) SetActive(id int64, history []chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeID = id
	s.hasActive = true
	s.transcript = slices.Clone(history)
}

func (s *Store) AppendMessage(role chat.Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transcript = append(s.transcript, chat.Message{Role: role, Content: content})
}

func (s *Store) ActiveID() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.activeID, s.hasActive
}

func (s *Store) Sessions() []chat.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.sessions)
}

func (s *Store) Transcript() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.transcript)
}

func containsSession(list []chat.Session, id int64) bool {
	return pie.FindFirstUsing(list, func(s chat.Session) bool {
		return s.ID == id
	}) >= 0
}
