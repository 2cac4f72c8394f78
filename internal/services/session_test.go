package services_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/promptwire/news-web-ui/internal/api"
	"github.com/promptwire/news-web-ui/internal/models"
	"github.com/promptwire/news-web-ui/internal/services"
)

type mockAuthenticator struct {
	pair     api.TokenPair
	user     api.User
	newToken string
	err      error

	refreshCalls int
}

func (m *mockAuthenticator) Login(context.Context, string, string) (api.TokenPair, error) {
	if m.err != nil {
		return api.TokenPair{}, m.err
	}
	return m.pair, nil
}

func (m *mockAuthenticator) Register(context.Context, string, string, string) (api.User, error) {
	if m.err != nil {
		return api.User{}, m.err
	}
	return m.user, nil
}

func (m *mockAuthenticator) RefreshAccessToken(context.Context, string) (string, error) {
	m.refreshCalls++
	if m.err != nil {
		return "", m.err
	}
	return m.newToken, nil
}

type mockSessionStorage struct {
	session models.Session
	found   bool

	saves   int
	deletes int
}

func (m *mockSessionStorage) SaveSession(session models.Session) error {
	m.saves++
	m.session = session
	m.found = true
	return nil
}

func (m *mockSessionStorage) Session() (models.Session, bool, error) {
	return m.session, m.found, nil
}

func (m *mockSessionStorage) DeleteSession() error {
	m.deletes++
	m.session = models.Session{}
	m.found = false
	return nil
}

func newSessionStore(t *testing.T, auth services.Authenticator, storage services.SessionStorage) *services.SessionStore {
	t.Helper()
	// A long interval keeps the renewal timer from firing during tests.
	store, err := services.NewSessionStore(auth, storage, time.Minute, discardLogger())
	if err != nil {
		t.Fatalf("NewSessionStore() error = %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestSessionLogin(t *testing.T) {
	auth := &mockAuthenticator{pair: api.TokenPair{AccessToken: "T1", RefreshToken: "R1"}}
	storage := &mockSessionStorage{}
	store := newSessionStore(t, auth, storage)

	if err := store.Login(context.Background(), "jo@example.com", "secret1"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	if !store.Authenticated() {
		t.Error("Authenticated() = false after successful login")
	}
	if got := store.AccessToken(); got != "T1" {
		t.Errorf("AccessToken() = %q, want T1", got)
	}
	if got := store.User().Name; got != "jo" {
		t.Errorf("User().Name = %q, want local part of the email", got)
	}
	if !storage.found || storage.session.RefreshToken != "R1" {
		t.Error("session should be persisted with the refresh token")
	}
}

func TestSessionLoginFailure(t *testing.T) {
	auth := &mockAuthenticator{err: errors.New("invalid credentials")}
	storage := &mockSessionStorage{}
	store := newSessionStore(t, auth, storage)

	if err := store.Login(context.Background(), "jo@example.com", "wrong"); err == nil {
		t.Fatal("Login() expected error")
	}

	if store.Authenticated() {
		t.Error("Authenticated() = true after failed login")
	}
	if storage.saves != 0 {
		t.Error("nothing should be persisted on a failed login")
	}
	if store.Loading() {
		t.Error("Loading() should clear after the attempt settles")
	}
}

func TestSessionRestore(t *testing.T) {
	storage := &mockSessionStorage{
		found: true,
		session: models.Session{
			User:          models.User{Name: "jo", Email: "jo@example.com"},
			AccessToken:   "T1",
			RefreshToken:  "R1",
			Authenticated: true,
		},
	}
	store := newSessionStore(t, &mockAuthenticator{}, storage)

	if !store.Authenticated() {
		t.Error("restored session should be authenticated")
	}
	if got := store.AccessToken(); got != "T1" {
		t.Errorf("AccessToken() = %q, want the restored T1", got)
	}
}

func TestRefreshAccessTokenNoopWithoutToken(t *testing.T) {
	auth := &mockAuthenticator{}
	store := newSessionStore(t, auth, &mockSessionStorage{})

	if err := store.RefreshAccessToken(context.Background()); err != nil {
		t.Fatalf("RefreshAccessToken() error = %v", err)
	}
	if auth.refreshCalls != 0 {
		t.Errorf("refresh calls = %d, want 0 when signed out", auth.refreshCalls)
	}
}

func TestRefreshAccessTokenSwapsToken(t *testing.T) {
	auth := &mockAuthenticator{pair: api.TokenPair{AccessToken: "T1", RefreshToken: "R1"}}
	storage := &mockSessionStorage{}
	store := newSessionStore(t, auth, storage)
	if err := store.Login(context.Background(), "jo@example.com", "secret1"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	auth.newToken = "T2"
	if err := store.RefreshAccessToken(context.Background()); err != nil {
		t.Fatalf("RefreshAccessToken() error = %v", err)
	}

	if got := store.AccessToken(); got != "T2" {
		t.Errorf("AccessToken() = %q, want the renewed T2", got)
	}
	if storage.session.RefreshToken != "R1" {
		t.Error("refresh token must survive a renewal")
	}
	if !store.Authenticated() {
		t.Error("renewal must not touch the authenticated flag")
	}
}

func TestRefreshAccessTokenRejectedForcesLogout(t *testing.T) {
	auth := &mockAuthenticator{pair: api.TokenPair{AccessToken: "T1", RefreshToken: "R1"}}
	storage := &mockSessionStorage{}
	store := newSessionStore(t, auth, storage)
	if err := store.Login(context.Background(), "jo@example.com", "secret1"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	auth.err = &api.Error{Status: http.StatusUnauthorized, Message: "token expired"}
	if err := store.RefreshAccessToken(context.Background()); err != nil {
		t.Fatalf("RefreshAccessToken() error = %v, a rejected token is not an error", err)
	}

	if store.Authenticated() {
		t.Error("rejected refresh token should force a logout")
	}
	if storage.deletes == 0 {
		t.Error("persisted session should be removed on forced logout")
	}
}

func TestRefreshAccessTokenNetworkError(t *testing.T) {
	auth := &mockAuthenticator{pair: api.TokenPair{AccessToken: "T1", RefreshToken: "R1"}}
	store := newSessionStore(t, auth, &mockSessionStorage{})
	if err := store.Login(context.Background(), "jo@example.com", "secret1"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	auth.err = errors.New("connection refused")
	if err := store.RefreshAccessToken(context.Background()); err == nil {
		t.Fatal("RefreshAccessToken() expected error on network failure")
	}

	if !store.Authenticated() {
		t.Error("a transient failure must not log the user out")
	}
	if got := store.AccessToken(); got != "T1" {
		t.Errorf("AccessToken() = %q, want the old token kept", got)
	}
}

func TestSessionLogout(t *testing.T) {
	auth := &mockAuthenticator{pair: api.TokenPair{AccessToken: "T1", RefreshToken: "R1"}}
	storage := &mockSessionStorage{}
	store := newSessionStore(t, auth, storage)
	if err := store.Login(context.Background(), "jo@example.com", "secret1"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	store.Logout()

	if store.Authenticated() {
		t.Error("Authenticated() = true after logout")
	}
	if got := store.AccessToken(); got != "" {
		t.Errorf("AccessToken() = %q, want empty", got)
	}
	if storage.deletes == 0 {
		t.Error("persisted session should be removed on logout")
	}
}

func TestSessionRegister(t *testing.T) {
	auth := &mockAuthenticator{user: api.User{ID: "u1", Email: "jo@example.com", Name: "Jo"}}
	store := newSessionStore(t, auth, &mockSessionStorage{})

	user, err := store.Register(context.Background(), "Jo", "jo@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if user.ID != "u1" || user.Name != "Jo" {
		t.Errorf("Register() = %+v", user)
	}
	if store.Authenticated() {
		t.Error("registration must not sign the user in")
	}
}

func TestSessionRegisterWithoutProfile(t *testing.T) {
	store := newSessionStore(t, &mockAuthenticator{}, &mockSessionStorage{})

	user, err := store.Register(context.Background(), "Jo", "jo@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if user.Email != "jo@example.com" || user.Name != "Jo" {
		t.Errorf("Register() = %+v, want a synthesized profile", user)
	}
	if user.ID == "" {
		t.Error("synthesized profile should get an id")
	}
}
