package history

import (
	"time"
	"v2v/app/model/chat"
)

type Session struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	ID        int64     `json:"id"`
	Role      chat.Role `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type SessionWithMessages struct {
	Session
	Messages []Message `json:"messages"`
}

const (
	kindSession = "session"
	kindMessage = "message"
)

// jsonLineItem is one line of the history file. Sessions and messages share the file and
// are told apart by Kind.
type jsonLineItem struct {
	Kind      string    `json:"kind"`
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id,omitempty"`
	Role      chat.Role `json:"role,omitempty"`
	Content   string    `json:"content,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
