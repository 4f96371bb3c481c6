package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/tokligence/localllama/internal/config"
	"github.com/tokligence/localllama/internal/engine"
	"github.com/tokligence/localllama/internal/engine/llamacpp"
	"github.com/tokligence/localllama/internal/engine/loopback"
	"github.com/tokligence/localllama/internal/httpserver"
	"github.com/tokligence/localllama/internal/ledger"
	ledgerasync "github.com/tokligence/localllama/internal/ledger/async"
	ledgerpg "github.com/tokligence/localllama/internal/ledger/postgres"
	ledgersql "github.com/tokligence/localllama/internal/ledger/sqlite"
	"github.com/tokligence/localllama/internal/logging"
	"github.com/tokligence/localllama/internal/metrics"
	"github.com/tokligence/localllama/internal/session"
	"github.com/tokligence/localllama/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load the model and start the HTTP server",
	RunE:  runServe,
}

func init() {
	addServeFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func addServeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("config-root", ".", "directory containing config/setting.ini")
	f.String("addr", "", "listen address (overrides http_address)")
	f.String("engine", "", "llamacpp or loopback (overrides engine)")
	f.String("model", "", "GGUF model path (overrides model_path)")
	f.String("llama-server-url", "", "attach to a running llama-server instead of spawning one")
	f.String("registry", "", "memory or redis (overrides registry)")
	f.String("ledger-dsn", "", "sqlite path or postgres:// DSN (overrides ledger_dsn)")
	f.String("log-level", "", "debug or info (overrides log_level)")
}

// applyFlags lets explicitly set flags win over every config layer.
func applyFlags(cmd *cobra.Command, cfg *config.ServerConfig) error {
	overrides := []struct {
		flag string
		dst  *string
	}{
		{"addr", &cfg.HTTPAddress},
		{"engine", &cfg.Engine},
		{"model", &cfg.ModelPath},
		{"llama-server-url", &cfg.LlamaServerURL},
		{"registry", &cfg.Registry},
		{"ledger-dsn", &cfg.LedgerDSN},
		{"log-level", &cfg.LogLevel},
	}
	for _, o := range overrides {
		if !cmd.Flags().Changed(o.flag) {
			continue
		}
		v, err := cmd.Flags().GetString(o.flag)
		if err != nil {
			return err
		}
		*o.dst = v
	}
	return cfg.Validate()
}

func runServe(cmd *cobra.Command, _ []string) error {
	root, _ := cmd.Flags().GetString("config-root")
	cfg, err := config.LoadServerConfig(root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyFlags(cmd, &cfg); err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.New(logging.Config{File: cfg.LogFile, Prefix: "[localllamad] "})
	if err != nil {
		return fmt.Errorf("init log: %w", err)
	}
	defer logCloser.Close()
	log.SetOutput(logger.Writer())
	log.SetFlags(logger.Flags())
	log.SetPrefix("[localllamad] ")
	logger.Printf("localllamad %s env=%s", version.FullInfo(), cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	model, err := loadModel(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := model.Close(); err != nil {
			logger.Printf("close model: %v", err)
		}
	}()

	registry, err := openRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer registry.Close()
	logger.Printf("stop-flag registry=%s ttl=%s", cfg.Registry, cfg.StopFlagTTL)

	store, err := openLedger(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Printf("close ledger: %v", err)
		}
	}()

	temperature, topP := cfg.Temperature, cfg.TopP
	srv := httpserver.New(model, registry, store, metrics.NewCollector(), httpserver.Options{
		MaxNewTokens:     cfg.MaxNewTokens,
		Temperature:      &temperature,
		TopP:             &topP,
		Stop:             cfg.StopSequences,
		DefaultSessionID: cfg.DefaultSessionID,
		CORSOrigins:      cfg.CORSAllowedOrigins,
	})
	srv.SetLogger(string(level), logging.Component(logger, "[localllamad/http] "))

	// No write timeout: a stream lasts as long as the model keeps producing.
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("localllamad listening on %s", cfg.HTTPAddress)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	return nil
}

// loadModel loads the configured model once. Any failure aborts startup.
func loadModel(ctx context.Context, cfg config.ServerConfig, logger *log.Logger) (engine.Model, error) {
	var eng engine.Engine
	switch cfg.Engine {
	case "loopback":
		eng = loopback.New()
	default:
		eng = llamacpp.New(llamacpp.Config{
			BinPath:   cfg.LlamaServerBin,
			ServerURL: cfg.LlamaServerURL,
			Logger:    logging.Component(logger, "[localllamad/llama] "),
		})
	}

	logger.Printf("initializing %s model from %s", cfg.Engine, cfg.ModelPath)
	started := time.Now()
	model, err := eng.Load(ctx, cfg.ModelPath, cfg.ModelType, engine.LoadOptions{
		ContextLength: cfg.ContextLength,
		GPULayers:     cfg.GPULayers,
		Threads:       cfg.Threads,
	})
	if err != nil {
		var loadErr *engine.LoadError
		if errors.As(err, &loadErr) {
			logger.Printf("model load failed: %v", loadErr)
		}
		return nil, err
	}
	logger.Printf("model %s loaded in %s", model.Name(), time.Since(started).Round(time.Millisecond))
	return model, nil
}

func openRegistry(ctx context.Context, cfg config.ServerConfig) (session.Registry, error) {
	opts := []session.Option{session.WithTTL(cfg.StopFlagTTL)}
	if cfg.Registry == string(session.KindRedis) {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		opts = append(opts, session.WithRedisClient(client), session.WithKeyPrefix(cfg.RedisKeyPrefix))
	}
	return session.NewRegistry(session.Kind(cfg.Registry), opts...)
}

func openLedger(cfg config.ServerConfig, logger *log.Logger) (ledger.Store, error) {
	var (
		store ledger.Store
		err   error
	)
	if cfg.UsesPostgres() {
		store, err = ledgerpg.New(cfg.LedgerDSN, 10, 5, 30, 5)
		if err != nil {
			return nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		logger.Printf("ledger backend=postgres")
	} else {
		store, err = ledgersql.New(cfg.LedgerDSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		logger.Printf("ledger backend=sqlite path=%s", cfg.LedgerDSN)
	}
	if cfg.LedgerAsync {
		store = ledgerasync.New(store, ledgerasync.Config{Logger: logging.Component(logger, "[localllamad/ledger] ")})
	}
	return store, nil
}
