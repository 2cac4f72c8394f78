package api_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/promptwire/news-web-ui/internal/api"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/login" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"T1","refresh_token":"R1"}`))
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, discardLogger())

	pair, err := client.Login(context.Background(), "a@b.com", "secret1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if pair.AccessToken != "T1" || pair.RefreshToken != "R1" {
		t.Errorf("Login() = %+v, want T1/R1", pair)
	}
}

func TestLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid credentials"}`))
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, discardLogger())

	_, err := client.Login(context.Background(), "a@b.com", "wrong")
	if err == nil {
		t.Fatal("Login() expected error")
	}

	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("Login() error = %v, want *api.Error", err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want %d", apiErr.Status, http.StatusUnauthorized)
	}
	if apiErr.Message != "Invalid credentials" {
		t.Errorf("Message = %q, want server error text", apiErr.Message)
	}
	if !apiErr.IsAuth() {
		t.Error("IsAuth() = false, want true")
	}
}

func TestRefreshAccessTokenUsesRefreshTokenAsBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer R1" {
			t.Errorf("Authorization = %q, want refresh token bearer", got)
		}
		_, _ = w.Write([]byte(`{"access_token":"T2"}`))
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, discardLogger())

	token, err := client.RefreshAccessToken(context.Background(), "R1")
	if err != nil {
		t.Fatalf("RefreshAccessToken() error = %v", err)
	}
	if token != "T2" {
		t.Errorf("RefreshAccessToken() = %q, want T2", token)
	}
}

func TestListChats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer T1" {
			t.Errorf("Authorization = %q, want access token bearer", got)
		}
		_, _ = w.Write([]byte(`{"chats":[{"chat_id":"c1","title":"Elections","last_used":"2025-03-01T10:00:00Z"}]}`))
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, discardLogger())

	chats, err := client.ListChats(context.Background(), "T1")
	if err != nil {
		t.Fatalf("ListChats() error = %v", err)
	}
	if len(chats) != 1 || chats[0].ChatID != "c1" || chats[0].Title != "Elections" {
		t.Errorf("ListChats() = %+v", chats)
	}
}

func TestChatHistory(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		wantLen int
	}{
		{
			name:    "Valid history",
			body:    `{"history":[{"message":"hi","role":"user","time_stamp":"2025-03-01T10:00:00Z"}]}`,
			wantLen: 1,
		},
		{
			name:    "Empty history",
			body:    `{"history":[]}`,
			wantLen: 0,
		},
		{
			name:    "History not a list",
			body:    `{"history":"nope"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.URL.Query().Get("chat_id"); got != "c1" {
					t.Errorf("chat_id = %q, want c1", got)
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := api.NewClient(srv.URL, discardLogger())

			history, err := client.ChatHistory(context.Background(), "T1", "c1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("ChatHistory() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && len(history) != tt.wantLen {
				t.Errorf("ChatHistory() len = %d, want %d", len(history), tt.wantLen)
			}
		})
	}
}

func TestSendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		want := `{"message":"what happened today?","chat_id":"c1","num_sources":3}`
		if string(body) != want {
			t.Errorf("request body = %s, want %s", body, want)
		}
		_, _ = w.Write([]byte(`{"response":"Quite a lot.","sources":[{"url":"https://example.com/a","title":"A"}]}`))
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, discardLogger())

	res, err := client.SendMessage(context.Background(), "T1", api.ChatRequest{
		Message:    "what happened today?",
		ChatID:     "c1",
		NumSources: 3,
	})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if res.Response != "Quite a lot." {
		t.Errorf("Response = %q", res.Response)
	}
	if len(res.Sources) != 1 || res.Sources[0].URL != "https://example.com/a" {
		t.Errorf("Sources = %+v", res.Sources)
	}
}

func TestDeleteChat(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "Deleted", status: http.StatusOK},
		{name: "Server error", status: http.StatusInternalServerError, wantErr: true},
		{name: "Not found", status: http.StatusNotFound, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodDelete {
					t.Errorf("method = %s, want DELETE", r.Method)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			client := api.NewClient(srv.URL, discardLogger())

			err := client.DeleteChat(context.Background(), "T1", "c1")
			if (err != nil) != tt.wantErr {
				t.Errorf("DeleteChat() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestErrorWithoutEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	client := api.NewClient(srv.URL, discardLogger())

	_, err := client.ListChats(context.Background(), "T1")

	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *api.Error", err)
	}
	if apiErr.Message != "upstream exploded" {
		t.Errorf("Message = %q, want raw body text", apiErr.Message)
	}
}
