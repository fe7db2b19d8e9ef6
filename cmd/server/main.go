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

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"

	"teledent/server/internal/clients"
	"teledent/server/internal/config"
	"teledent/server/internal/crypto"
	"teledent/server/internal/db"
	internalhttp "teledent/server/internal/http"
	"teledent/server/internal/report"
	"teledent/server/internal/repository"
	"teledent/server/internal/storage"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, cfg.MigrationsPath); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	store := repository.NewStore(pool)

	files, err := storage.NewLocal(cfg.UploadDir, cfg.ReportDir)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("redis unavailable, classification caching disabled: %v", err)
			redisClient = nil
		}
		cancel()
	}

	if err := bootstrapAdmin(ctx, cfg, store); err != nil {
		log.Fatalf("admin bootstrap failed: %v", err)
	}

	classifier := clients.NewVisionClient(cfg.VisionURL, cfg.VisionAPIKey, cfg.VisionTimeout)
	explainer := clients.NewExplanationClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.ExplainTimeout)
	renderer := report.NewRenderer()

	server := internalhttp.NewServer(cfg, store, files, classifier, explainer, renderer, redisClient)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("teledent server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

// bootstrapAdmin creates the configured admin account on first start. There
// is no admin registration endpoint, so this is the only way in.
func bootstrapAdmin(ctx context.Context, cfg config.Config, store *repository.Store) error {
	if cfg.AdminUsername == "" || cfg.AdminPassword == "" {
		return nil
	}

	_, err := store.GetAdminByUsername(ctx, cfg.AdminUsername)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	hash, err := crypto.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}
	if _, err := store.CreateAdmin(ctx, cfg.AdminEmail, cfg.AdminUsername, hash); err != nil {
		return err
	}
	log.Printf("bootstrapped admin account %q", cfg.AdminUsername)
	return nil
}
