package handlers

import (
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/promptwire/news-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

type chat struct {
	ID        string
	Title     string
	UpdatedAt time.Time

	Active bool
}

type message struct {
	ID        string
	Role      string
	Content   template.HTML
	Timestamp time.Time
	Sources   []models.Source

	StreamingState string
}

// Streaming states the templates and the SSE client understand.
const (
	streamingStateLoading   = "loading"
	streamingStateStreaming = "streaming"
	streamingStateEnded     = "ended"
	streamingStateFailed    = "failed"
)

// SSE event types for real-time updates.
var (
	chatsSSEType    = sse.Type("chats")
	messagesSSEType = sse.Type("messages")
)

type homePageData struct {
	User          models.User
	Chats         []chat
	CurrentChatID string
	Messages      []message
	StoreErr      string
}

// HandleHome renders the login page for signed-out visitors and the chat page
// otherwise. A chat_id query parameter selects a chat, lazily fetching its
// transcript; an empty local chat list triggers a history load first.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if !m.session.Authenticated() {
		m.renderLogin(w, loginPageData{})
		return
	}

	token := m.session.AccessToken()

	if len(m.chats.Chats()) == 0 {
		if err := m.chats.LoadChatHistory(r.Context(), token); err != nil {
			m.logger.Error("Failed to load chat history", slog.String(errLoggerKey, err.Error()))
		}
	}

	if chatID := r.URL.Query().Get("chat_id"); chatID != "" {
		m.chats.SetCurrentChat(chatID)
		if current, ok := m.chats.GetCurrentChat(); ok && len(current.Messages) == 0 {
			if err := m.chats.LoadChatHistoryDetail(r.Context(), token, chatID); err != nil {
				m.logger.Error("Failed to load chat detail",
					slog.String("chatID", chatID),
					slog.String(errLoggerKey, err.Error()))
			}
		}
	}

	data := homePageData{
		User:          m.session.User(),
		CurrentChatID: m.chats.CurrentChatID(),
		StoreErr:      m.chats.Err(),
	}
	for _, c := range m.chats.Chats() {
		data.Chats = append(data.Chats, chat{
			ID:        c.ID,
			Title:     c.Title,
			UpdatedAt: c.UpdatedAt,
			Active:    c.ID == data.CurrentChatID,
		})
	}
	if current, ok := m.chats.GetCurrentChat(); ok {
		msgs, err := viewMessages(current.Messages)
		if err != nil {
			m.logger.Error("Failed to render messages", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data.Messages = msgs
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleSSE hands the request to the SSE server, which subscribes the client
// according to the topics negotiated in NewMain.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

func viewMessages(msgs []models.Message) ([]message, error) {
	out := make([]message, len(msgs))
	for i, msg := range msgs {
		view, err := viewMessage(msg)
		if err != nil {
			return nil, err
		}
		out[i] = view
	}
	return out, nil
}

func viewMessage(msg models.Message) (message, error) {
	state := streamingStateEnded
	content := template.HTML(template.HTMLEscapeString(msg.Content))

	if msg.Role == models.RoleAssistant {
		switch {
		case msg.Failed:
			state = streamingStateFailed
		case msg.Streaming:
			state = streamingStateLoading
		}
		rendered, err := models.RenderMarkdown(msg.Content)
		if err != nil {
			return message{}, err
		}
		content = rendered
	}

	return message{
		ID:             msg.ID,
		Role:           string(msg.Role),
		Content:        content,
		Timestamp:      msg.Timestamp,
		Sources:        msg.Sources,
		StreamingState: state,
	}, nil
}

// chatDivs renders the sidebar entries for every chat, marking the active one.
func (m Main) chatDivs(activeID string) (string, error) {
	var sb strings.Builder
	for _, c := range m.chats.Chats() {
		err := m.templates.ExecuteTemplate(&sb, "chat_title", chat{
			ID:        c.ID,
			Title:     c.Title,
			UpdatedAt: c.UpdatedAt,
			Active:    c.ID == activeID,
		})
		if err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

// publishChats pushes a fresh sidebar to every connected client.
func (m Main) publishChats(activeID string) {
	divs, err := m.chatDivs(activeID)
	if err != nil {
		m.logger.Error("Failed to render chat divs", slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{Type: chatsSSEType}
	msg.AppendData(divs)
	if err := m.sseSrv.Publish(&msg, chatsSSETopic); err != nil {
		m.logger.Error("Failed to publish chats", slog.String(errLoggerKey, err.Error()))
	}
}
