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

	"github.com/atlas-erp/advisor/backend/internal/auth"
	"github.com/atlas-erp/advisor/backend/internal/config"
	"github.com/atlas-erp/advisor/backend/internal/handler"
	"github.com/atlas-erp/advisor/backend/internal/model/persona"
	"github.com/atlas-erp/advisor/backend/internal/ratelimit"
	"github.com/atlas-erp/advisor/backend/internal/service/ai"
	"github.com/atlas-erp/advisor/backend/internal/service/chat"
	"github.com/atlas-erp/advisor/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	codec, err := auth.NewTokenCodec(cfg.Auth.Secret)
	if err != nil {
		log.Fatalf("failed to initialize token codec: %v", err)
	}

	st, err := store.NewSQLiteStore(cfg.Store.DatabasePath)
	if err != nil {
		log.Fatalf("failed to open database at %s: %v", cfg.Store.DatabasePath, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("warning: failed to close database: %v", err)
		}
	}()

	personaStore := persona.NewMemoryStore(persona.Seed())

	var completer ai.Completer
	if cfg.AI.Enabled() {
		aiSvc, err := ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without AI functionality - check the Ark model environment variables")
		} else {
			completer = aiSvc
			log.Println("AI service initialized successfully")
		}
	} else {
		log.Println("Ark credentials not configured, query endpoints will report the backend unavailable")
	}

	chatSvc := chat.NewService(st, personaStore, completer)

	var limiterOpts []ratelimit.Option
	if !cfg.RateLimit.Enabled {
		limiterOpts = append(limiterOpts, ratelimit.WithDisabled())
		log.Println("rate limiting disabled by configuration")
	}
	limiter := ratelimit.New(cfg.RateLimit.Default, cfg.RateLimit.Classes, limiterOpts...)
	go limiter.Run(ctx, 10*time.Minute)

	router := handler.NewRouter(handler.Deps{
		Config:   cfg,
		Store:    st,
		Personas: personaStore,
		ChatSvc:  chatSvc,
		Codec:    codec,
		Limiter:  limiter,
		Origins:  cfg.Server.AllowedOrigins,
	})

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("advisor backend listening on %s", serverCfg.Addr)
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
