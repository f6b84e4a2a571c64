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
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"ablage/internal/ablage"
	"ablage/internal/storage"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

func getenv(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("Ignoring invalid integer environment variable", "key", key, "value", v)
	}
	return fallback
}

// newEngine selects the storage backend from STORAGE_BACKEND: "local"
// (default), "pebble", or "s3".
func newEngine(ctx context.Context, dataRoot string) (storage.Engine, error) {
	switch backend := getenv("STORAGE_BACKEND", "local"); backend {
	case "local":
		return storage.NewLocalFileStorage(dataRoot, ablage.ClassImages, ablage.ClassFiles)

	case "pebble":
		return storage.NewPebbleStorage(filepath.Join(dataRoot, "pebble"))

	case "s3":
		return storage.NewMinioStorage(ctx, storage.MinioConfig{
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			Bucket:    getenv("S3_BUCKET", "ablage"),
			Secure:    getenv("S3_SECURE", "false") == "true",
		})

	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", backend)
	}
}

func Run(ctx context.Context) error {

	listen := flag.String("listen", getenv("PORT", "8080"), "HTTP listen port")
	dataDir := flag.String("data-dir", getenv("DATA_ROOT", "data"), "directory to store uploaded objects")

	flag.Parse()

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.DebugLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ensure data directory is absolute for easier debugging.
	absDataDir, err := filepath.Abs(*dataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}

	engine, err := newEngine(ctx, absDataDir)
	if err != nil {
		return fmt.Errorf("failed to create storage engine: %w", err)
	}

	cfg := ablage.NewConfig(
		ablage.WithDataRoot(absDataDir),
		ablage.WithTitle(getenv("LANDINGPAGE_TITLE", ablage.DefaultTitle)),
		ablage.WithMaxUploadBytes(int64(getenvInt("MAX_FILE_MB", 15))<<20),
		ablage.WithTTL(time.Duration(getenvInt("TTL_DAYS", 14))*24*time.Hour),
		ablage.WithReapInterval(time.Duration(getenvInt("CLEANUP_INTERVAL_SECONDS", 6*60*60))*time.Second),
		ablage.WithStorageEngine(engine),
		ablage.WithMetrics(ablage.NewPromMetrics("ablage")),
	)

	server, err := ablage.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", *listen),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		slog.Info("Starting reaper", "ttl", cfg.TTL, "interval", cfg.ReapInterval)
		return server.NewReaper().Run(ctx)
	})

	eg.Go(func() error {
		slog.Info("Starting HTTP server", "port", *listen, "data_dir", absDataDir)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return eg.Wait()
}

func main() {
	if err := Run(context.Background()); err != nil {
		slog.Error("Exited with error", "error", err)
		os.Exit(1)
	}
}
