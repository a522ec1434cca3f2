package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mizulab/hearth/backend/internal/config"
	"github.com/mizulab/hearth/backend/internal/handler"
	"github.com/mizulab/hearth/backend/internal/model/character"
	"github.com/mizulab/hearth/backend/internal/service/ai"
	"github.com/mizulab/hearth/backend/internal/service/compaction"
	"github.com/mizulab/hearth/backend/internal/service/generation"
	"github.com/mizulab/hearth/backend/internal/service/session"
	"github.com/mizulab/hearth/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	chatStore, closeStore, err := openStore(cfg.Store)
	if err != nil {
		log.Fatalf("failed to open chat store: %v", err)
	}
	defer closeStore()

	characters := character.NewMemoryStore(character.Seed())
	sessions := session.NewService(chatStore)

	deps := handler.Deps{
		Sessions:      sessions,
		Characters:    characters,
		ReplyLanguage: cfg.AI.ReplyLanguage,
	}

	if cfg.AI.Enabled() {
		client, err := ai.NewClient(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI client: %v", err)
			log.Println("continuing without AI functionality - check the Ark environment variables")
		} else {
			summarizer, err := ai.NewSummarizerClient(ctx, cfg.AI)
			if err != nil {
				log.Fatalf("failed to initialize summarizer client: %v", err)
			}

			policy := compaction.NewPolicy(sessions, summarizer, cfg.Compaction)
			hub := generation.NewHub()

			deps.Coordinator = generation.NewCoordinator(sessions, characters, client, policy, hub, cfg.AI.ReplyLanguage, cfg.AI.RequestTimeout)
			deps.Hub = hub
			deps.Translator = summarizer
			log.Println("AI services initialized successfully")
		}
	} else {
		log.Println("Ark credentials not configured, skipping AI initialization")
	}

	router := handler.NewRouter(deps)
	startServer(ctx, cfg.Server, router)
}

func openStore(cfg config.StoreConfig) (store.Store, func(), error) {
	if cfg.DataDir == "" {
		log.Println("HEARTH_DATA_DIR not set, chats are kept in memory only")
		return store.NewMemoryStore(), func() {}, nil
	}

	st, err := store.OpenSQLite(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("chat store opened at %s", cfg.DataDir)
	return st, func() {
		if err := st.Close(); err != nil {
			log.Printf("warning: failed to close chat store: %v", err)
		}
	}, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr()
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Hearth backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
