package services

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/promptwire/news-web-ui/internal/api"
	"github.com/promptwire/news-web-ui/internal/models"
)

const errLoggerKey = "err"

// maxRecentChats caps how many server-side chat summaries the local list
// keeps after a history load.
const maxRecentChats = 10

// Backend is the slice of the backend API the chat store depends on. It is
// implemented by api.Client.
type Backend interface {
	ListChats(ctx context.Context, token string) ([]api.ChatSummary, error)
	ChatHistory(ctx context.Context, token, chatID string) ([]api.HistoryEntry, error)
	SendMessage(ctx context.Context, token string, req api.ChatRequest) (api.ChatResponse, error)
	DeleteChat(ctx context.Context, token, chatID string) error
}

// ChatStorage is durable storage for the chat list. It is implemented by
// BoltDB; a nil ChatStorage disables chat persistence.
type ChatStorage interface {
	SaveChats([]models.Chat) error
	Chats() ([]models.Chat, error)
}

// Pending is a staged send: the optimistically inserted user message and the
// empty streaming placeholder awaiting the backend's answer.
type Pending struct {
	ChatID      string
	UserMessage models.Message
	Placeholder models.Message
}

// ChatStore exclusively owns the chat collection and the active-chat pointer.
// Mutating operations take the store lock; network calls happen outside it,
// with per-operation busy flags standing in for the single-threaded gate of
// a browser client: a second overlapping call gets ErrBusy instead of racing.
type ChatStore struct {
	backend Backend
	storage ChatStorage

	logger *slog.Logger

	mu            sync.Mutex
	chats         []models.Chat
	currentChatID string

	sending       bool
	loadingList   bool
	loadingDetail bool

	lastErr string
}

// NewChatStore creates a ChatStore, rehydrating the chat list from storage
// when persistence is enabled.
func NewChatStore(backend Backend, storage ChatStorage, logger *slog.Logger) (*ChatStore, error) {
	s := &ChatStore{
		backend: backend,
		storage: storage,
		logger:  logger.With(slog.String("module", "chats")),
	}

	if storage != nil {
		chats, err := storage.Chats()
		if err != nil {
			return nil, fmt.Errorf("failed to restore chats: %w", err)
		}
		s.chats = chats
	}

	return s, nil
}

// CreateChat inserts a new empty chat at the front of the list, makes it
// active, and returns its id. It always succeeds.
func (s *ChatStore) CreateChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat := s.newChatLocked(models.DefaultChatTitle)
	return chat.ID
}

// SetCurrentChat switches the active-chat pointer. The id is not validated;
// a dangling pointer simply renders as "no chat".
func (s *ChatStore) SetCurrentChat(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentChatID = id
}

// DeleteChat requests server-side deletion and removes the chat locally only
// when the server confirms, so neither side loses the chat alone. When the
// deleted chat was active, the next remaining chat becomes active.
func (s *ChatStore) DeleteChat(ctx context.Context, token, id string) error {
	if err := s.backend.DeleteChat(ctx, token, id); err != nil {
		s.setErr(err)
		return fmt.Errorf("failed to delete chat: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.chats = slices.DeleteFunc(s.chats, func(c models.Chat) bool { return c.ID == id })
	if s.currentChatID == id {
		s.currentChatID = ""
		if len(s.chats) > 0 {
			s.currentChatID = s.chats[0].ID
		}
	}
	s.lastErr = ""
	s.persistLocked()
	return nil
}

// AddMessage appends a message to the active chat, creating a chat first when
// none is active. The first user message of a chat replaces a still-default
// title, and the chat's update timestamp is bumped.
func (s *ChatStore) AddMessage(content string, role models.Role, sources []models.Source) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := s.addMessageLocked(content, role, sources)
	s.persistLocked()
	return msg
}

// LoadChatHistory replaces the local chat list with at most the 10 most
// recent server-side summaries, de-duplicated by id. Message bodies are not
// fetched. Returns ErrBusy while a previous load is still in flight.
func (s *ChatStore) LoadChatHistory(ctx context.Context, token string) error {
	s.mu.Lock()
	if s.loadingList {
		s.mu.Unlock()
		return ErrBusy
	}
	s.loadingList = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loadingList = false
		s.mu.Unlock()
	}()

	summaries, err := s.backend.ListChats(ctx, token)
	if err != nil {
		s.setErr(err)
		return fmt.Errorf("failed to load chat history: %w", err)
	}

	chats := chatsFromSummaries(summaries)

	s.mu.Lock()
	s.chats = chats
	s.lastErr = ""
	s.persistLocked()
	s.mu.Unlock()
	return nil
}

// LoadChatHistoryDetail fetches the full transcript for one chat and replaces
// that chat's messages in place. Returns ErrBusy while a previous detail load
// is still in flight.
func (s *ChatStore) LoadChatHistoryDetail(ctx context.Context, token, chatID string) error {
	s.mu.Lock()
	if s.loadingDetail {
		s.mu.Unlock()
		return ErrBusy
	}
	s.loadingDetail = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loadingDetail = false
		s.mu.Unlock()
	}()

	entries, err := s.backend.ChatHistory(ctx, token, chatID)
	if err != nil {
		s.setErr(err)
		return fmt.Errorf("failed to load chat detail: %w", err)
	}

	messages := make([]models.Message, len(entries))
	for i, entry := range entries {
		messages[i] = models.Message{
			ID:        uuid.New().String(),
			Role:      models.Role(entry.Role),
			Content:   entry.Message,
			Timestamp: parseServerTime(entry.TimeStamp),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.chats, func(c models.Chat) bool { return c.ID == chatID })
	if idx >= 0 {
		s.chats[idx].Messages = messages
	}
	s.lastErr = ""
	s.persistLocked()
	return nil
}

// StagePending performs the optimistic half of a send: it resolves or creates
// the active chat, appends the user message, and appends an empty streaming
// assistant placeholder. Returns ErrBusy while an earlier send is outstanding.
func (s *ChatStore) StagePending(text string) (Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sending {
		return Pending{}, ErrBusy
	}
	s.sending = true

	userMsg := s.addMessageLocked(text, models.RoleUser, nil)

	placeholder := models.Message{
		ID:        uuid.New().String(),
		Role:      models.RoleAssistant,
		Timestamp: time.Now(),
		Streaming: true,
	}
	idx := s.currentIndexLocked()
	s.chats[idx].Messages = append(s.chats[idx].Messages, placeholder)
	s.chats[idx].UpdatedAt = time.Now()
	s.persistLocked()

	return Pending{
		ChatID:      s.currentChatID,
		UserMessage: userMsg,
		Placeholder: placeholder,
	}, nil
}

// CompletePending performs the remote half of a send. On success the
// placeholder's content and sources are filled in place, preserving its id
// and position, and its streaming flag is cleared. On failure the placeholder
// is marked failed and kept, and the error is recorded. Either way the send
// gate opens again.
func (s *ChatStore) CompletePending(ctx context.Context, token string, p Pending, numSources int) (models.Message, error) {
	res, err := s.backend.SendMessage(ctx, token, api.ChatRequest{
		Message:    p.UserMessage.Content,
		ChatID:     p.ChatID,
		NumSources: numSources,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sending = false

	if err != nil {
		s.lastErr = err.Error()
		if msg := s.messageLocked(p.ChatID, p.Placeholder.ID); msg != nil {
			msg.Streaming = false
			msg.Failed = true
		}
		s.persistLocked()
		return models.Message{}, fmt.Errorf("failed to send message: %w", err)
	}

	msg := s.messageLocked(p.ChatID, p.Placeholder.ID)
	if msg == nil {
		// The chat vanished mid-flight (deleted); the answer has nowhere to land.
		err := fmt.Errorf("chat %s no longer exists", p.ChatID)
		s.lastErr = err.Error()
		return models.Message{}, err
	}

	msg.Content = res.Response
	msg.Sources = make([]models.Source, len(res.Sources))
	for i, src := range res.Sources {
		msg.Sources[i] = models.Source{URL: src.URL, Title: src.Title}
	}
	msg.Streaming = false
	msg.Failed = false
	s.lastErr = ""
	s.persistLocked()
	return *msg, nil
}

// SendMessage is the composite operation: stage the optimistic messages, call
// the backend, and resolve the placeholder. It returns the filled assistant
// message on success and ErrBusy while an earlier send is outstanding.
func (s *ChatStore) SendMessage(ctx context.Context, token, text string, numSources int) (models.Message, error) {
	pending, err := s.StagePending(text)
	if err != nil {
		return models.Message{}, err
	}
	return s.CompletePending(ctx, token, pending, numSources)
}

// GetCurrentChat looks up the active chat. The second return value is false
// when no chat is active or the pointer dangles.
func (s *ChatStore) GetCurrentChat() (models.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.chats, func(c models.Chat) bool { return c.ID == s.currentChatID })
	if s.currentChatID == "" || idx < 0 {
		return models.Chat{}, false
	}
	return cloneChat(s.chats[idx]), true
}

// Chats returns a snapshot of the chat list for rendering.
func (s *ChatStore) Chats() []models.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats := make([]models.Chat, len(s.chats))
	for i, chat := range s.chats {
		chats[i] = cloneChat(chat)
	}
	return chats
}

// CurrentChatID returns the active-chat pointer, empty when none is active.
func (s *ChatStore) CurrentChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentChatID
}

// Err returns the last recorded failure as a human-readable string, empty
// after the most recent operation succeeded.
func (s *ChatStore) Err() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// newChatLocked prepends a fresh chat and makes it active.
func (s *ChatStore) newChatLocked(title string) models.Chat {
	now := time.Now()
	chat := models.Chat{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.chats = slices.Insert(s.chats, 0, chat)
	s.currentChatID = chat.ID
	return chat
}

// currentIndexLocked resolves the active chat's index, creating a chat when
// none is active or the pointer dangles.
func (s *ChatStore) currentIndexLocked() int {
	if s.currentChatID != "" {
		if idx := slices.IndexFunc(s.chats, func(c models.Chat) bool { return c.ID == s.currentChatID }); idx >= 0 {
			return idx
		}
	}
	s.newChatLocked(models.DefaultChatTitle)
	return 0
}

func (s *ChatStore) addMessageLocked(content string, role models.Role, sources []models.Source) models.Message {
	idx := s.currentIndexLocked()
	chat := &s.chats[idx]

	if len(chat.Messages) == 0 && role == models.RoleUser && chat.Title == models.DefaultChatTitle {
		chat.Title = models.TitleFromMessage(content)
	}

	msg := models.Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Sources:   sources,
	}
	chat.Messages = append(chat.Messages, msg)
	chat.UpdatedAt = time.Now()
	return msg
}

// messageLocked finds a message by chat and message id for in-place mutation.
func (s *ChatStore) messageLocked(chatID, msgID string) *models.Message {
	idx := slices.IndexFunc(s.chats, func(c models.Chat) bool { return c.ID == chatID })
	if idx < 0 {
		return nil
	}
	msgs := s.chats[idx].Messages
	midx := slices.IndexFunc(msgs, func(m models.Message) bool { return m.ID == msgID })
	if midx < 0 {
		return nil
	}
	return &msgs[midx]
}

func (s *ChatStore) persistLocked() {
	if s.storage == nil {
		return
	}
	if err := s.storage.SaveChats(s.chats); err != nil {
		s.logger.Error("Failed to persist chats", slog.String(errLoggerKey, err.Error()))
	}
}

func (s *ChatStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err.Error()
}

func chatsFromSummaries(summaries []api.ChatSummary) []models.Chat {
	sorted := make([]api.ChatSummary, len(summaries))
	copy(sorted, summaries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return parseServerTime(sorted[i].LastUsed).After(parseServerTime(sorted[j].LastUsed))
	})

	seen := make(map[string]struct{}, len(sorted))
	chats := make([]models.Chat, 0, maxRecentChats)
	for _, summary := range sorted {
		if _, ok := seen[summary.ChatID]; ok {
			continue
		}
		seen[summary.ChatID] = struct{}{}

		title := summary.Title
		if title == "" {
			title = models.DefaultChatTitle
		}
		lastUsed := parseServerTime(summary.LastUsed)
		chats = append(chats, models.Chat{
			ID:        summary.ChatID,
			Title:     title,
			CreatedAt: lastUsed,
			UpdatedAt: lastUsed,
		})
		if len(chats) == maxRecentChats {
			break
		}
	}
	return chats
}

// parseServerTime reads the backend's RFC 3339 timestamps, falling back to
// the zero time on garbage rather than failing a whole listing.
func parseServerTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func cloneChat(chat models.Chat) models.Chat {
	chat.Messages = slices.Clone(chat.Messages)
	return chat
}
