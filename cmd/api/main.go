package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/account"
	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/app"
	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/auth"
	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/content"
	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/router"
	"github.com/ovaphlow/pitchfork/service-streaming-core/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-streaming-core")

	cfg, err := app.ConfigFromEnv()
	if err != nil {
		sugar.Fatalf("config: %v", err)
	}

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, sugar)
	if err != nil {
		sugar.Fatalf("init: %v", err)
	}
	defer a.Close()

	tokens, err := auth.NewTokenService(auth.ConfigFromEnv())
	if err != nil {
		sugar.Fatalf("token service: %v", err)
	}

	if cfg.Policy.SweepInterval > 0 {
		go account.NewSweeper(a.Accounts, cfg.Policy.SweepInterval, sugar).Run(ctx)
	}

	handler := router.RegisterRoutes(sugar, router.Deps{
		Accounts: account.NewHandler(a.Accounts, tokens, sugar),
		Content:  content.NewHandler(a.Content, sugar),
		Auth:     auth.NewHandler(tokens, a.Accounts),
		Tokens:   tokens,
		Sessions: a.Accounts,
	})
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = "0.0.0.0:8431"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("service is running", "addr", addr)

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Ping(doneCtx); err != nil {
		sugar.Warnf("ping on shutdown failed: %v", err)
	}

	// shutdown http server
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
