package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/damian-krychowski/plikshare-sub002/internal/api"
	"github.com/damian-krychowski/plikshare-sub002/internal/logger"
	"github.com/damian-krychowski/plikshare-sub002/internal/ratelimiter"
	"github.com/damian-krychowski/plikshare-sub002/pkg/config"
	"github.com/damian-krychowski/plikshare-sub002/pkg/filecrypt"
	"github.com/damian-krychowski/plikshare-sub002/pkg/metrics"
	"github.com/damian-krychowski/plikshare-sub002/pkg/queue"
	"github.com/damian-krychowski/plikshare-sub002/pkg/reader"
	"github.com/damian-krychowski/plikshare-sub002/pkg/token"
	"github.com/damian-krychowski/plikshare-sub002/pkg/upload"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: "+config.GetDefaultConfigPath()+")")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("plikshare: %v", err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger.SetLevel(cfg.Logging.Level)

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metadata store and the single-writer queue in front of it.
	store, err := config.CreateMetadataStore(&cfg.Metadata)
	if err != nil {
		return err
	}
	defer store.Close()

	writeQueue := queue.New(store, cfg.Server.WriteQueueCapacity)
	defer writeQueue.Close()

	// Security material.
	tokenSecret, err := cfg.Security.TokenSecret32()
	if err != nil {
		return err
	}
	tokens, err := token.NewService(tokenSecret)
	if err != nil {
		return err
	}

	masterKeys, err := cfg.Security.MasterKeySet()
	if err != nil {
		return err
	}
	var cipher *filecrypt.Cipher
	if masterKeys != nil {
		cipher = filecrypt.New(masterKeys)
	}

	storages, err := config.BuildStorageRegistry(ctx, cfg)
	if err != nil {
		return err
	}

	uploader := upload.New(store, writeQueue, storages, tokens, cipher, metrics.NewUploadMetrics())
	fileReader := reader.New(cipher, metrics.NewReaderMetrics())

	var limiter *ratelimiter.RateLimiter
	if cfg.Server.RequestsPerSecond > 0 {
		limiter = ratelimiter.New(cfg.Server.RequestsPerSecond, cfg.Server.RequestBurst)
	}

	server := api.NewServer(cfg.Server.Address, api.Deps{
		Tokens:         tokens,
		Store:          store,
		Storages:       storages,
		Uploader:       uploader,
		Reader:         fileReader,
		RateLimiter:    limiter,
		MetricsEnabled: cfg.Metrics.Enabled,
	})

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("Shutdown complete")
	return nil
}
