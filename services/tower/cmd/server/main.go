package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coltonsakamoto/aslanpay/pkg/db"
	"github.com/coltonsakamoto/aslanpay/services/tower"
	"github.com/coltonsakamoto/aslanpay/services/tower/internal/store"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	ctx := context.Background()

	pol := tower.DefaultPolicy()
	if path := os.Getenv("POLICY_FILE"); path != "" {
		var err error
		pol, err = tower.LoadPolicy(path)
		if err != nil {
			log.Error("load policy", "path", path, "err", err)
			os.Exit(1)
		}
	}

	opts := []tower.Option{tower.WithLogger(log)}
	if secret := os.Getenv("TOKEN_SIGNING_SECRET"); secret != "" {
		opts = append(opts, tower.WithSigningSecret([]byte(secret)))
	}
	if secret := os.Getenv("STRIPE_WEBHOOK_SECRET"); secret != "" {
		opts = append(opts, tower.WithStripeWebhookSecret(secret))
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pool, err := db.Open(ctx, dsn)
		if err != nil {
			log.Error("connect database", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		pg := store.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("ensure schema", "err", err)
			os.Exit(1)
		}
		opts = append(opts, tower.WithStore(pg))
		log.Info("using postgres store")
	} else {
		log.Info("using in-memory store")
	}

	srv, err := tower.NewServer(pol, opts...)
	if err != nil {
		log.Error("build server", "err", err)
		os.Exit(1)
	}

	port := os.Getenv("SERVICE_PORT")
	if port == "" {
		port = "3000"
	}
	httpSrv := &http.Server{Addr: ":" + port, Handler: srv}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("tower listening", "port", port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("serve", "err", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			log.Error("shutdown", "err", err)
			os.Exit(1)
		}
	}
}
