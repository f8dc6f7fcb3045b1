package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/iudanet/collabsync/internal/server/handlers"
	"github.com/iudanet/collabsync/internal/server/hub"
	"github.com/iudanet/collabsync/internal/server/jwt"
	"github.com/iudanet/collabsync/internal/server/middleware"
	"github.com/iudanet/collabsync/internal/server/storage/sqlite"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	dbPath := flag.String("db", "collabsync.db", "Path to SQLite database")
	redisAddr := flag.String("redis", "", "Redis address for multi-instance fan-out (empty = local only)")
	jwtSecret := flag.String("jwt-secret", os.Getenv("COLLABSYNC_JWT_SECRET"), "JWT signing secret")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Issued token lifetime")
	mintToken := flag.String("mint-token", "", "Print a token for the given user ID and exit")
	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if *jwtSecret == "" {
		logger.Error("JWT secret is required (flag -jwt-secret or COLLABSYNC_JWT_SECRET)")
		os.Exit(1)
	}
	jwtService := jwt.NewService([]byte(*jwtSecret), *tokenTTL)

	// Утилита для выпуска токенов в разработке
	if *mintToken != "" {
		token, err := jwtService.Generate(*mintToken)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to mint token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(ctx, *dbPath)
	if err != nil {
		logger.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage", "error", err)
		}
	}()

	var rdb *redis.Client
	if *redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: *redisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("Failed to connect to Redis", "addr", *redisAddr, "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
		logger.Info("Redis fan-out enabled", "addr", *redisAddr)
	}

	eventHub := hub.New(rdb, logger)

	healthHandler := handlers.NewHealthHandler(logger, Version)
	contentHandler := handlers.NewContentHandler(logger, store)
	wsHandler := handlers.NewWSHandler(logger, eventHub)

	router := mux.NewRouter()
	router.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingWithSkip(logger, []string{"/health"}),
	)
	router.HandleFunc("/health", healthHandler.Health).Methods(http.MethodGet)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(middleware.AuthMiddleware(jwtService, logger))
	apiRouter.HandleFunc("/content/{contentID}/conflict-check", contentHandler.ConflictCheck).
		Methods(http.MethodPost)
	apiRouter.HandleFunc("/content/{contentID}/autosave", contentHandler.Autosave).
		Methods(http.MethodPost)
	apiRouter.HandleFunc("/content/{contentID}/ws", wsHandler.Serve).
		Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "addr", *addr, "version", Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", "error", err)
	}
}

func printVersion() {
	fmt.Printf("CollabSync Server\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
