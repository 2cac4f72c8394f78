package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/promptwire/news-web-ui/internal/api"
	"github.com/promptwire/news-web-ui/internal/models"
)

// Authenticator is the slice of the backend API the session store depends on.
// It is implemented by api.Client.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (api.TokenPair, error)
	Register(ctx context.Context, name, email, password string) (api.User, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (string, error)
}

// SessionStorage is durable storage for the session record. It is implemented
// by BoltDB.
type SessionStorage interface {
	SaveSession(models.Session) error
	Session() (models.Session, bool, error)
	DeleteSession() error
}

// ErrBusy is returned by store operations that refuse to run while a previous
// call of the same kind is still in flight. Callers may retry once the
// earlier call settles; the store never queues.
var ErrBusy = errors.New("operation already in flight")

// SessionStore owns the current user identity and the access/refresh token
// pair. It persists the durable part of its state across restarts and runs
// the silent token renewal timer; at most one renewal timer is live at a
// time, recreated on login and stopped on logout.
type SessionStore struct {
	auth          Authenticator
	storage       SessionStorage
	renewInterval time.Duration

	logger *slog.Logger

	mu      sync.Mutex
	session models.Session
	loading bool

	renewMu   sync.Mutex
	stopRenew chan struct{}
}

// NewSessionStore creates a SessionStore and restores any persisted session.
// A restored authenticated session starts the renewal timer immediately.
func NewSessionStore(
	auth Authenticator,
	storage SessionStorage,
	renewInterval time.Duration,
	logger *slog.Logger,
) (*SessionStore, error) {
	s := &SessionStore{
		auth:          auth,
		storage:       storage,
		renewInterval: renewInterval,
		logger:        logger.With(slog.String("module", "session")),
	}

	session, found, err := storage.Session()
	if err != nil {
		return nil, fmt.Errorf("failed to restore session: %w", err)
	}
	if found {
		s.session = session
		if session.Authenticated {
			s.startRenewal()
		}
	}

	return s, nil
}

// Login exchanges credentials for a token pair and, on success, stores the
// identity, marks the session authenticated, persists it, and (re)starts the
// renewal timer. On failure the session stays unauthenticated and the
// backend's error is returned for inline form feedback.
func (s *SessionStore) Login(ctx context.Context, email, password string) error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return ErrBusy
	}
	s.loading = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.loading = false
		s.mu.Unlock()
	}()

	pair, err := s.auth.Login(ctx, email, password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	s.mu.Lock()
	s.session = models.Session{
		User:          userFromEmail(email),
		AccessToken:   pair.AccessToken,
		RefreshToken:  pair.RefreshToken,
		Authenticated: true,
	}
	session := s.session
	s.mu.Unlock()

	if err := s.storage.SaveSession(session); err != nil {
		s.logger.Error("Failed to persist session", slog.String(errLoggerKey, err.Error()))
	}

	s.startRenewal()
	return nil
}

// Register creates an account. The backend issues no tokens on registration,
// so the session is left untouched; the caller logs in afterwards.
func (s *SessionStore) Register(ctx context.Context, name, email, password string) (models.User, error) {
	user, err := s.auth.Register(ctx, name, email, password)
	if err != nil {
		return models.User{}, fmt.Errorf("registration failed: %w", err)
	}

	created := models.User{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		AvatarURL: user.AvatarURL,
	}
	if created.Email == "" {
		created = userFromEmail(email)
		created.Name = name
	}
	return created, nil
}

// RefreshAccessToken trades the refresh token for a new access token. With no
// refresh token held it is a side-effect-free no-op, so it is safe to invoke
// on a fixed interval. A rejected refresh token forces a logout instead of
// surfacing a distinct error.
func (s *SessionStore) RefreshAccessToken(ctx context.Context) error {
	s.mu.Lock()
	refreshToken := s.session.RefreshToken
	s.mu.Unlock()

	if refreshToken == "" {
		return nil
	}

	accessToken, err := s.auth.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) && apiErr.IsAuth() {
			s.logger.Info("Refresh token rejected, logging out")
			s.Logout()
			return nil
		}
		return fmt.Errorf("failed to refresh access token: %w", err)
	}

	s.mu.Lock()
	s.session.AccessToken = accessToken
	session := s.session
	s.mu.Unlock()

	if err := s.storage.SaveSession(session); err != nil {
		s.logger.Error("Failed to persist session", slog.String(errLoggerKey, err.Error()))
	}
	return nil
}

// Logout clears the identity and both tokens, removes the persisted session,
// and stops the renewal timer.
func (s *SessionStore) Logout() {
	s.mu.Lock()
	s.session = models.Session{}
	s.mu.Unlock()

	if err := s.storage.DeleteSession(); err != nil {
		s.logger.Error("Failed to delete persisted session", slog.String(errLoggerKey, err.Error()))
	}

	s.stopRenewal()
}

// User returns the signed-in identity, which is meaningful only while
// Authenticated reports true.
func (s *SessionStore) User() models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.User
}

// AccessToken returns the current access token, empty when signed out.
func (s *SessionStore) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.AccessToken
}

// Authenticated reports whether a login has succeeded and not been logged out.
func (s *SessionStore) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Authenticated
}

// Loading reports whether a login is currently in flight. The flag is
// transient and never persisted.
func (s *SessionStore) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Close stops the renewal timer. The store remains readable afterwards.
func (s *SessionStore) Close() {
	s.stopRenewal()
}

func (s *SessionStore) startRenewal() {
	s.renewMu.Lock()
	defer s.renewMu.Unlock()

	if s.stopRenew != nil {
		close(s.stopRenew)
	}
	stop := make(chan struct{})
	s.stopRenew = stop

	go func() {
		ticker := time.NewTicker(s.renewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := s.RefreshAccessToken(context.Background()); err != nil {
					s.logger.Error("Silent token renewal failed", slog.String(errLoggerKey, err.Error()))
				}
			}
		}
	}()
}

func (s *SessionStore) stopRenewal() {
	s.renewMu.Lock()
	defer s.renewMu.Unlock()

	if s.stopRenew != nil {
		close(s.stopRenew)
		s.stopRenew = nil
	}
}

func userFromEmail(email string) models.User {
	name, _, _ := strings.Cut(email, "@")
	return models.User{
		ID:    uuid.New().String(),
		Email: email,
		Name:  name,
	}
}
