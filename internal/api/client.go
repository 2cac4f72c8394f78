package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Client is a typed HTTP client for the remote news-assistant API. All
// endpoints speak JSON; every endpoint except login and registration expects
// a bearer token. The zero value is not usable, use NewClient.
type Client struct {
	baseURL string

	client *http.Client

	logger *slog.Logger
}

// Error is a non-2xx reply from the backend. Message carries the
// human-readable `error` field of the response body when the backend sent
// one, and the raw body text otherwise.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend replied %d: %s", e.Status, e.Message)
}

// IsAuth reports whether the error indicates rejected credentials, which for
// a refresh call means the refresh token is expired or invalid.
func (e *Error) IsAuth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// TokenPair is the credential pair issued on login.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// User is the account profile as the backend serializes it.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar,omitempty"`
}

// ChatSummary is one entry of the recent-chats listing. It carries no message
// bodies; LastUsed is an RFC 3339 timestamp string.
type ChatSummary struct {
	ChatID   string `json:"chat_id"`
	Title    string `json:"title,omitempty"`
	LastUsed string `json:"last_used"`
}

// HistoryEntry is one stored message of a chat transcript.
type HistoryEntry struct {
	Message   string `json:"message"`
	Role      string `json:"role"`
	TimeStamp string `json:"time_stamp"`
}

// ChatRequest is the payload of a send-message call.
type ChatRequest struct {
	Message    string `json:"message"`
	ChatID     string `json:"chat_id"`
	NumSources int    `json:"num_sources"`
}

// ChatResponse is the assistant's answer with the articles it cites.
type ChatResponse struct {
	Response string       `json:"response"`
	Sources  []ChatSource `json:"sources"`
}

// ChatSource is a cited article.
type ChatSource struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// NewClient creates a Client for the backend at baseURL. A trailing slash on
// baseURL is tolerated.
func NewClient(baseURL string, logger *slog.Logger) Client {
	return Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
		logger:  logger.With(slog.String("module", "api")),
	}
}

// Login exchanges credentials for a token pair.
func (c Client) Login(ctx context.Context, email, password string) (TokenPair, error) {
	body := struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}{Email: email, Password: password}

	var pair TokenPair
	if err := c.do(ctx, http.MethodPost, "/login", "", body, &pair); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

// Register creates an account and returns the created profile. It does not
// issue tokens; the caller logs in separately.
func (c Client) Register(ctx context.Context, name, email, password string) (User, error) {
	body := struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}{Name: name, Email: email, Password: password}

	var res struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/register", "", body, &res); err != nil {
		return User{}, err
	}
	return res.User, nil
}

// RefreshAccessToken trades the refresh token for a fresh access token. The
// bearer on this call is the refresh token, not the access token.
func (c Client) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	var res struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(ctx, http.MethodPost, "/refresh", refreshToken, nil, &res); err != nil {
		return "", err
	}
	return res.AccessToken, nil
}

// ListChats fetches the recent chat summaries for the authenticated user.
func (c Client) ListChats(ctx context.Context, token string) ([]ChatSummary, error) {
	var res struct {
		Chats []ChatSummary `json:"chats"`
	}
	if err := c.do(ctx, http.MethodGet, "/chats", token, nil, &res); err != nil {
		return nil, err
	}
	return res.Chats, nil
}

// ChatHistory fetches the full transcript of one chat. A `history` field that
// is not a list is treated as a malformed response.
func (c Client) ChatHistory(ctx context.Context, token, chatID string) ([]HistoryEntry, error) {
	var res struct {
		History json.RawMessage `json:"history"`
	}
	path := "/chat-history?chat_id=" + url.QueryEscape(chatID)
	if err := c.do(ctx, http.MethodGet, path, token, nil, &res); err != nil {
		return nil, err
	}

	var history []HistoryEntry
	if err := json.Unmarshal(res.History, &history); err != nil {
		return nil, fmt.Errorf("malformed chat history: %w", err)
	}
	return history, nil
}

// SendMessage submits a question and blocks until the assistant's full answer
// arrives. There is no client-side timeout; cancellation comes solely from ctx.
func (c Client) SendMessage(ctx context.Context, token string, req ChatRequest) (ChatResponse, error) {
	var res ChatResponse
	if err := c.do(ctx, http.MethodPost, "/chat", token, req, &res); err != nil {
		return ChatResponse{}, err
	}
	return res, nil
}

// DeleteChat removes a chat and its transcript on the backend.
func (c Client) DeleteChat(ctx context.Context, token, chatID string) error {
	path := "/delete-chat?chat_id=" + url.QueryEscape(chatID)
	return c.do(ctx, http.MethodDelete, path, token, nil, nil)
}

func (c Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error marshaling request: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	c.logger.Debug("Calling backend",
		slog.String("method", method),
		slog.String("path", path),
	)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return readError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}

func readError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var envelope struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		msg = envelope.Error
	}

	return &Error{Status: resp.StatusCode, Message: msg}
}
