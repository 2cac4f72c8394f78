package models

import "time"

// DefaultChatTitle is the title given to a chat before its first user message
// arrives. The title sticks until a user message or a server-supplied title
// replaces it.
const DefaultChatTitle = "New Chat"

// Chat represents one conversation with the news assistant. Messages are kept
// in insertion order; UpdatedAt is bumped on every append so the sidebar can
// sort chats by recency.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is an individual entry within a chat. Assistant messages may carry
// the sources the answer was grounded on, and exist briefly as an empty
// placeholder with Streaming set while the remote call is outstanding. The
// in-place fill of that placeholder is the only mutation after creation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Sources   []Source  `json:"sources,omitempty"`

	// Streaming marks an assistant placeholder whose content has not resolved yet.
	Streaming bool `json:"streaming,omitempty"`
	// Failed marks a placeholder whose remote call failed. Failed placeholders
	// stay in the history so the thread remains auditable.
	Failed bool `json:"failed,omitempty"`
}

// Source is a cited article backing an assistant answer.
type Source struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Role represents the author of a message.
type Role string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the news assistant.
	RoleAssistant Role = "assistant"
)

const titleRuneLimit = 30

// TitleFromMessage derives a chat title from the first user message, truncated
// to 30 runes with an ellipsis when longer.
func TitleFromMessage(content string) string {
	runes := []rune(content)
	if len(runes) <= titleRuneLimit {
		return content
	}
	return string(runes[:titleRuneLimit]) + "..."
}
