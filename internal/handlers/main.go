package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	newswebui "github.com/promptwire/news-web-ui"
	"github.com/promptwire/news-web-ui/internal/models"
	"github.com/promptwire/news-web-ui/internal/services"
	"github.com/tmaxmax/go-sse"
)

// Session is the authentication state the web layer works with. It is
// implemented by services.SessionStore.
type Session interface {
	Login(ctx context.Context, email, password string) error
	Register(ctx context.Context, name, email, password string) (models.User, error)
	Logout()

	User() models.User
	AccessToken() string
	Authenticated() bool
}

// Chats is the chat state the web layer works with. It is implemented by
// services.ChatStore.
type Chats interface {
	CreateChat() string
	SetCurrentChat(id string)
	DeleteChat(ctx context.Context, token, id string) error
	LoadChatHistory(ctx context.Context, token string) error
	LoadChatHistoryDetail(ctx context.Context, token, chatID string) error
	StagePending(text string) (services.Pending, error)
	CompletePending(ctx context.Context, token string, p services.Pending, numSources int) (models.Message, error)

	GetCurrentChat() (models.Chat, bool)
	Chats() []models.Chat
	CurrentChatID() string
	Err() string
}

// Main handles the web surface of the client: page rendering, form handlers,
// and the Server-Sent Events stream that animates assistant answers into
// their placeholders.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	session Session
	chats   Chats

	numSources int

	logger *slog.Logger
}

const chatsSSETopic = "chats"

const errLoggerKey = "err"

// NewMain creates the web layer over the given stores. Templates are parsed
// from the embedded filesystem; the SSE server subscribes every client to the
// sidebar topic plus, when requested, one message-specific topic.
func NewMain(session Session, chats Chats, numSources int, logger *slog.Logger) (Main, error) {
	tmpl, err := template.ParseFS(
		newswebui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				topics := []string{sse.DefaultTopic, chatsSSETopic}

				messageID := s.Req.URL.Query().Get("message_id")
				if messageID != "" {
					topics = append(topics, messageIDTopic(messageID))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates:  tmpl,
		session:    session,
		chats:      chats,
		numSources: numSources,
		logger:     logger.With(slog.String("module", "handlers")),
	}, nil
}

func messageIDTopic(messageID string) string {
	return fmt.Sprintf("message-%s", messageID)
}

// Shutdown gracefully terminates the SSE server, broadcasting a close message
// and waiting up to 5 seconds for clients to disconnect.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	e.AppendData("bye")

	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
