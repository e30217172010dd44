package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"hemicycle/internal/cache"
	"hemicycle/internal/config"
	"hemicycle/internal/handlers"
	"hemicycle/internal/metrics"
	"hemicycle/internal/parser"
	"hemicycle/internal/prefetch"
	"hemicycle/internal/remote"
	"hemicycle/internal/storage"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "hemicycle",
		Short: "Deputy record resolution service",
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(resolveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds everything the subcommands share.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	store   storage.Store
	remote  *remote.Client
	cache   *cache.Store
	warmer  *prefetch.Orchestrator
}

func newApp(ctx context.Context, manualDrain bool) (*app, error) {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	m := metrics.New()

	if cfg.StoreBackend == storage.BackendPocketBase {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	store, err := storage.Open(ctx, storage.Options{
		Backend:     cfg.StoreBackend,
		DataDir:     cfg.DataDir,
		DatabaseURL: cfg.DatabaseURL,
		RedisURL:    cfg.RedisURL,
		RedisTTL:    cfg.RedisTTL,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	client := remote.NewClient(cfg.RemoteBaseURL, cfg.RemoteTimeout)

	policy := cache.DefaultRetryPolicy()
	policy.Cooldown = cfg.Cooldown
	policy.MaxAttempts = cfg.MaxAttempts
	opts := []cache.Option{
		cache.WithClock(clockwork.NewRealClock()),
		cache.WithRetryPolicy(policy),
		cache.WithBatchSize(cfg.FetchBatch),
		cache.WithPause(cfg.FetchPause),
		cache.WithFetchTimeout(cfg.RemoteTimeout),
		cache.WithCapacity(cfg.CacheCapacity),
		cache.WithLegislature(cfg.Legislature),
		cache.WithLogger(logger),
		cache.WithMetrics(m),
	}
	if manualDrain {
		opts = append(opts, cache.WithManualDrain())
	}
	c := cache.New(client, opts...)

	warmer := prefetch.New(store, c,
		prefetch.WithBatchSize(cfg.PrefetchBatch),
		prefetch.WithLogger(logger),
		prefetch.WithMetrics(m),
	)

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		store:   store,
		remote:  client,
		cache:   c,
		warmer:  warmer,
	}, nil
}

func (a *app) Close() {
	a.cache.Close()
	if err := a.store.Close(); err != nil {
		log.Printf("Error closing store: %v", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			manager, err := parser.NewParserManager(a.store, a.cfg.SyncTimeout, a.metrics)
			if err != nil {
				return fmt.Errorf("failed to initialize parser manager: %w", err)
			}
			defer manager.Cleanup()

			h := handlers.NewDeputyHandler(a.cache, a.warmer, a.remote, manager, a.metrics, a.logger, handlers.SyncSource{
				DefaultURL:   a.cfg.SyncURL,
				AllowedHosts: a.cfg.SyncAllowedHosts,
			})
			srv := &http.Server{
				Addr:              a.cfg.Addr,
				Handler:           h.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Printf("Server starting on %s...", a.cfg.Addr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}

			log.Printf("Shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func syncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [method]",
		Short: "Download deputies from open data into the persistent store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			method := a.cfg.SyncMethod
			if len(args) == 1 {
				method = args[0]
			}
			url, _ := cmd.Flags().GetString("url")
			if url == "" {
				url = a.cfg.SyncURL
			}
			legislature, _ := cmd.Flags().GetString("legislature")
			if legislature == "" {
				legislature = a.cfg.Legislature
			}

			manager, err := parser.NewParserManager(a.store, a.cfg.SyncTimeout, a.metrics)
			if err != nil {
				return fmt.Errorf("failed to initialize parser manager: %w", err)
			}
			defer manager.Cleanup()

			result, err := manager.Sync(cmd.Context(), method, url, legislature)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().String("url", "", "Archive or document URL (defaults to HEMICYCLE_SYNC_URL)")
	cmd.Flags().StringP("legislature", "l", "", "Legislature to write (defaults to HEMICYCLE_LEGISLATURE)")
	return cmd
}

func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [ids...]",
		Short: "Resolve deputy IDs through the store and the remote API",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer a.Close()

			legislature, _ := cmd.Flags().GetString("legislature")
			if legislature == "" {
				legislature = a.cfg.Legislature
			}
			a.cache.SetLegislature(legislature)

			ids := make([]string, 0, len(args))
			for _, arg := range args {
				ids = append(ids, strings.Split(arg, ",")...)
			}
			warm := a.warmer.WarmIDs(cmd.Context(), ids, legislature)
			a.cache.Flush(cmd.Context())

			entries := make(map[string]any, len(ids))
			for _, id := range ids {
				entries[id] = a.cache.Get(id)
			}
			return printJSON(cmd, map[string]any{"prefetch": warm, "entries": entries})
		},
	}
	cmd.Flags().StringP("legislature", "l", "", "Legislature to query (defaults to HEMICYCLE_LEGISLATURE)")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
