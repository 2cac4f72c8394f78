package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/promptwire/news-web-ui/internal/models"
	"github.com/promptwire/news-web-ui/internal/services"
	"github.com/tmaxmax/go-sse"
)

// typewriter pacing for the streaming-text animation.
const (
	streamWordsPerChunk = 4
	streamChunkDelay    = 30 * time.Millisecond
)

// HandleChats processes a submitted message. The user message and an empty
// streaming placeholder are staged immediately and rendered back to the
// browser, while a goroutine completes the remote call and animates the
// resolved answer into the placeholder over SSE.
//
// The handler expects a "message" form field and an optional "chat_id" field;
// without a chat_id the message lands in the active chat, creating one when
// none is active. A send already in flight is answered with 429 so the
// browser can tell "busy" from failure.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !m.session.Authenticated() {
		http.Error(w, "Not signed in", http.StatusUnauthorized)
		return
	}

	msg := r.FormValue("message")
	if msg == "" {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	if chatID := r.FormValue("chat_id"); chatID != "" {
		m.chats.SetCurrentChat(chatID)
	}

	numSources := m.numSources
	if n, err := strconv.Atoi(r.FormValue("num_sources")); err == nil && n >= 1 && n <= 10 {
		numSources = n
	}

	previousChatID := m.chats.CurrentChatID()

	pending, err := m.chats.StagePending(msg)
	if err != nil {
		if errors.Is(err, services.ErrBusy) {
			http.Error(w, "A message is already in flight", http.StatusTooManyRequests)
			return
		}
		m.logger.Error("Failed to stage message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// Staging into no active chat creates one; that changes how we render below.
	isNewChat := pending.ChatID != previousChatID

	go m.deliver(pending, numSources)

	m.publishChats(pending.ChatID)

	if isNewChat {
		current, ok := m.chats.GetCurrentChat()
		if !ok {
			http.Error(w, "chat disappeared", http.StatusInternalServerError)
			return
		}
		msgs, err := viewMessages(current.Messages)
		if err != nil {
			m.logger.Error("Failed to render messages", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		data := homePageData{
			CurrentChatID: pending.ChatID,
			Messages:      msgs,
		}
		if err := m.templates.ExecuteTemplate(w, "chatbox", data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	userView, err := viewMessage(pending.UserMessage)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.templates.ExecuteTemplate(w, "user_message", userView); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	placeholderView, err := viewMessage(pending.Placeholder)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.templates.ExecuteTemplate(w, "ai_message", placeholderView); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleNewChat creates an empty chat and returns to the chat page.
func (m Main) HandleNewChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !m.session.Authenticated() {
		http.Error(w, "Not signed in", http.StatusUnauthorized)
		return
	}

	id := m.chats.CreateChat()
	m.publishChats(id)
	http.Redirect(w, r, "/?chat_id="+id, http.StatusSeeOther)
}

// HandleDeleteChat deletes a chat on the backend and, only when that
// succeeds, locally. A failed deletion leaves the chat in place; the store
// error shows up as a banner on the next page load.
func (m Main) HandleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !m.session.Authenticated() {
		http.Error(w, "Not signed in", http.StatusUnauthorized)
		return
	}

	chatID := r.FormValue("chat_id")
	if chatID == "" {
		http.Error(w, "chat_id is required", http.StatusBadRequest)
		return
	}

	if err := m.chats.DeleteChat(r.Context(), m.session.AccessToken(), chatID); err != nil {
		m.logger.Error("Failed to delete chat",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
	} else {
		m.publishChats(m.chats.CurrentChatID())
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// deliver completes a staged send and streams the outcome to the
// placeholder's SSE topic.
func (m Main) deliver(pending services.Pending, numSources int) {
	topic := messageIDTopic(pending.Placeholder.ID)

	defer func() {
		e := &sse.Message{Type: sse.Type("closeMessage")}
		e.AppendData("bye")
		_ = m.sseSrv.Publish(e, topic)
	}()

	msg, err := m.chats.CompletePending(
		context.Background(),
		m.session.AccessToken(),
		pending,
		numSources,
	)
	if err != nil {
		m.logger.Error("Failed to complete send",
			slog.String("chatID", pending.ChatID),
			slog.String(errLoggerKey, err.Error()))

		ev := sse.Message{Type: sse.Type("messageFailed")}
		ev.AppendData(err.Error())
		_ = m.sseSrv.Publish(&ev, topic)
		return
	}

	m.streamMessage(topic, msg)
}

// streamMessage animates a fully resolved answer into the placeholder in
// word-sized chunks, then sends the final render including sources.
func (m Main) streamMessage(topic string, msg models.Message) {
	words := strings.Fields(msg.Content)
	var sb strings.Builder
	for i, word := range words {
		if i > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(word)

		if (i+1)%streamWordsPerChunk != 0 && i != len(words)-1 {
			continue
		}

		rendered, err := models.RenderMarkdown(sb.String())
		if err != nil {
			m.logger.Error("Failed to render chunk", slog.String(errLoggerKey, err.Error()))
			return
		}

		ev := sse.Message{Type: messagesSSEType}
		ev.AppendData(string(rendered))
		if err := m.sseSrv.Publish(&ev, topic); err != nil {
			m.logger.Error("Failed to publish chunk", slog.String(errLoggerKey, err.Error()))
			return
		}
		time.Sleep(streamChunkDelay)
	}

	view, err := viewMessage(msg)
	if err != nil {
		m.logger.Error("Failed to render final message", slog.String(errLoggerKey, err.Error()))
		return
	}
	var final strings.Builder
	if err := m.templates.ExecuteTemplate(&final, "message_content", view); err != nil {
		m.logger.Error("Failed to render final message", slog.String(errLoggerKey, err.Error()))
		return
	}

	ev := sse.Message{Type: messagesSSEType}
	ev.AppendData(final.String())
	if err := m.sseSrv.Publish(&ev, topic); err != nil {
		m.logger.Error("Failed to publish final message", slog.String(errLoggerKey, err.Error()))
	}
}
