package chat

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a session transcript. Messages are never edited once appended.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
