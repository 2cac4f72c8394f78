package main

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	newswebui "github.com/promptwire/news-web-ui"
	"github.com/promptwire/news-web-ui/internal/api"
	"github.com/promptwire/news-web-ui/internal/handlers"
	"github.com/promptwire/news-web-ui/internal/services"
)

func main() {
	// A local .env is optional; it only feeds the config fallbacks.
	_ = godotenv.Load()

	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, "newswebui")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfg, err := loadConfig(filepath.Join(cfgPath, "config.yaml"))
	if err != nil {
		log.Fatal(err)
	}
	renewInterval, err := cfg.refreshInterval()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.slogLevel(),
	}))

	dbPath := filepath.Join(cfgPath, "store.db")
	boltDB, err := services.NewBoltDB(dbPath)
	if err != nil {
		log.Fatal(err)
	}

	apiClient := api.NewClient(cfg.BackendURL, logger)

	sessionStore, chatStore := buildStores(cfg, apiClient, boltDB, renewInterval, logger)

	m, err := handlers.NewMain(sessionStore, chatStore, cfg.NumSources, logger)
	if err != nil {
		log.Fatal(err)
	}

	// Serve static files
	staticFS, err := fs.Sub(newswebui.StaticFS, "static")
	if err != nil {
		log.Fatal(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/login", m.HandleLogin)
	mux.HandleFunc("/register", m.HandleRegister)
	mux.HandleFunc("/logout", m.HandleLogout)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/chats/new", m.HandleNewChat)
	mux.HandleFunc("/chats/delete", m.HandleDeleteChat)
	mux.HandleFunc("/sse/messages", m.HandleSSE)
	mux.HandleFunc("/sse/chats", m.HandleSSE)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		sessionStore.Close()

		if err := m.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown sse server", slog.String("err", err.Error()))
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		logger.Info("Server starting", slog.String("port", cfg.Port))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		logger.Error("Server error", slog.String("err", err.Error()))

	case sig := <-shutdown:
		logger.Info("Start shutdown", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Graceful shutdown failed", slog.String("err", err.Error()))
			if err := srv.Close(); err != nil {
				logger.Error("Forcing server close", slog.String("err", err.Error()))
			}
		}
	}

	if err := boltDB.Close(); err != nil {
		logger.Error("Failed to close local store", slog.String("err", err.Error()))
	}
}

// buildStores restores both state stores from the local database, falling
// back to an explicit reset when the stored payloads no longer decode.
func buildStores(
	cfg config,
	apiClient api.Client,
	boltDB services.BoltDB,
	renewInterval time.Duration,
	logger *slog.Logger,
) (*services.SessionStore, *services.ChatStore) {
	var chatStorage services.ChatStorage
	if cfg.PersistChats {
		chatStorage = boltDB
	}

	sessionStore, sessionErr := services.NewSessionStore(apiClient, boltDB, renewInterval, logger)
	chatStore, chatErr := services.NewChatStore(apiClient, chatStorage, logger)
	if sessionErr == nil && chatErr == nil {
		return sessionStore, chatStore
	}

	for _, err := range []error{sessionErr, chatErr} {
		if err != nil {
			logger.Warn("Local state unreadable, resetting store", slog.String("err", err.Error()))
		}
	}
	if err := boltDB.Reset(); err != nil {
		log.Fatal(err)
	}

	sessionStore, sessionErr = services.NewSessionStore(apiClient, boltDB, renewInterval, logger)
	if sessionErr != nil {
		log.Fatal(sessionErr)
	}
	chatStore, chatErr = services.NewChatStore(apiClient, chatStorage, logger)
	if chatErr != nil {
		log.Fatal(chatErr)
	}
	return sessionStore, chatStore
}
