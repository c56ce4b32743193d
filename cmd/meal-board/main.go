package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"meal-board/internal/app"
	"meal-board/internal/config"
	"meal-board/internal/database"
	"meal-board/internal/httpapi"
	"meal-board/internal/identity"
	"meal-board/internal/logging"
	"meal-board/internal/metrics"
)

func main() {
	_ = godotenv.Load() // .env is optional

	// 1. Load Configuration
	cfg, err := config.NewFromEnv()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	// 2. Database
	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// 3. Image storage, gate and board repository
	rt, err := app.NewRuntime(ctx, cfg, db.SQL, log)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer rt.Close()

	// 4. Identity
	tokens := identity.NewJWTVerifier(cfg.AuthSecret, cfg.AuthIssuer)
	resolver := identity.NewResolver(tokens, cfg.ReviewBypassToken, cfg.ReviewBypassUser)
	if cfg.ReviewBypassToken != "" {
		log.WithField("user", cfg.ReviewBypassUser).Warn("Review bypass is enabled")
	}

	dataDir := filepath.Dir(cfg.DatabasePath)
	handler := httpapi.NewRouter(rt.App, httpapi.Options{
		Resolver: resolver,
		Sessions: tokens,
		ImageDir: rt.ImageDir,
		Health: func(ctx context.Context) metrics.SysHealth {
			return metrics.GetSysHealth(ctx, db.SQL, dataDir)
		},
		Logger: log.WithField("component", "http"),
	})

	// 5. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"port": cfg.Port, "storage": cfg.StorageBackend}).Info("Meal board server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exiting")
}
