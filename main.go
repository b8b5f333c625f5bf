package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/Darsh20009/youspeak-sub000/internal/auth"
	"github.com/Darsh20009/youspeak-sub000/internal/blob"
	"github.com/Darsh20009/youspeak-sub000/internal/config"
	"github.com/Darsh20009/youspeak-sub000/internal/core"
	"github.com/Darsh20009/youspeak-sub000/internal/httpapi"
	"github.com/Darsh20009/youspeak-sub000/internal/notify"
	"github.com/Darsh20009/youspeak-sub000/internal/store"
	"github.com/Darsh20009/youspeak-sub000/internal/ws"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

func main() {
	cfg := config.Load()

	if handled, err := RunCLI(os.Args[1:], cfg, os.Stdout); handled {
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	addr := flag.String("addr", cfg.Server.Addr, "Echo listen address")
	dbPath := flag.String("db", cfg.Storage.DBPath, "SQLite database path")
	blobsDir := flag.String("blobs-dir", cfg.Storage.BlobsDir, "Export directory path (defaults to <db-dir>/blobs)")
	debug := flag.Bool("debug", cfg.Debug, "Enable debug logging (auto-enabled for dev builds)")
	flag.Parse()

	// Auto-enable debug logging for dev builds; override with -debug flag.
	level := slog.LevelInfo
	if *debug || strings.Contains(Version, "dev") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	slog.Info("starting coordinator", "version", Version, "addr", *addr, "db", *dbPath)

	sqliteStore, err := store.Open(*dbPath)
	if err != nil {
		slog.Error("open sqlite store", "err", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := sqliteStore.Close(); closeErr != nil {
			slog.Error("close sqlite store", "err", closeErr)
		}
	}()

	blobRoot := strings.TrimSpace(*blobsDir)
	if blobRoot == "" {
		blobRoot = filepath.Join(filepath.Dir(*dbPath), "blobs")
	}
	blobStore, err := blob.NewStore(blobRoot, sqliteStore)
	if err != nil {
		slog.Error("initialize blob store", "err", err)
		os.Exit(1)
	}

	verifier, err := auth.NewJWT(cfg.Auth.JWTSecret)
	if err != nil {
		slog.Error("initialize auth", "err", err)
		os.Exit(1)
	}

	coord := core.New(core.Options{
		Persister:   sqliteStore,
		ReactionTTL: cfg.Room.ReactionTTL,
	})
	slog.Debug("coordinator initialized", "reaction_ttl", cfg.Room.ReactionTTL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			slog.Error("connect redis", "addr", cfg.Redis.Addr, "err", err)
			os.Exit(1)
		}
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
	}
	notifier := notify.New(coord, rdb)
	go func() {
		if err := notifier.Run(ctx); err != nil {
			slog.Error("notification subscriber stopped", "err", err)
		}
	}()

	server := httpapi.New(httpapi.Options{
		Coordinator: coord,
		Verifier:    verifier,
		Store:       sqliteStore,
		Blobs:       blobStore,
		Notifier:    notifier,
		WebSocket: ws.Options{
			SendBuffer:   cfg.WebSocket.SendBuffer,
			WriteTimeout: cfg.WebSocket.WriteTimeout,
			ReadLimit:    cfg.WebSocket.ReadLimit,
			RateLimit:    rate.Limit(cfg.WebSocket.RateLimit),
			RateBurst:    cfg.WebSocket.RateBurst,
		},
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("received interrupt, shutting down")
		cancel()
	}()

	slog.Info("listening", "addr", *addr)
	if err := server.Run(ctx, *addr); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
