// Package main is the recall CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/recall/internal/cli"
	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/hnsw"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/search"
	"github.com/hyperjump/recall/internal/server"
	"github.com/hyperjump/recall/internal/storage"
	"github.com/hyperjump/recall/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/recall/config.yaml"

var (
	configPath   string
	serverURL    string
	ownerID      string
	outputFormat string
	debugFlag    bool
)

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Persistent semantic memory search",
	Long: `recall stores short texts per owner, embeds them, and finds them again by exact
phrase or by meaning.

Commands talk to a running server (--server) or, with --server "", open the
configured storage directly.

Examples:
  recall server
  recall store "I attended Dragon Con in Atlanta"
  recall search dragon con
  recall search --output json "roman history"
  recall regenerate --owner ci`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", `server URL (empty = open storage directly)`)
	rootCmd.PersistentFlags().StringVar(&ownerID, "owner", "default", "owner namespace")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "text", "output format: text, compact, or json")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
}

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory is preferred if it exists. When neither exists, defaults are used.
// Returns the config and the path that was actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			local := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(local); err == nil {
				cfg, err := config.Load(local)
				if err != nil {
					return nil, "", err
				}
				return cfg, local, nil
			}
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// backend is what the commands need; a running server and a local engine both provide it.
type backend interface {
	Store(ctx context.Context, ownerID, recordID, text string) (string, error)
	Get(ctx context.Context, ownerID, recordID string) (*models.Record, error)
	Delete(ctx context.Context, ownerID, recordID string) error
	Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error)
	BuildIndex(ctx context.Context, ownerID string) (hnsw.Stats, error)
	Regenerate(ctx context.Context, ownerID string, progress func(done, total int)) (int, error)
	Status(ctx context.Context) (*server.StatusResponse, error)
	Close() error
}

// Components holds initialized services for direct storage access.
type Components struct {
	Config    *config.Config
	Persister storage.Persister
	Engine    *search.Engine
	Logger    *zap.Logger
}

// Status joins the engine status with configuration and disk usage.
func (c *Components) Status(ctx context.Context) (*server.StatusResponse, error) {
	st, err := c.Engine.Status(ctx)
	if err != nil {
		return nil, err
	}
	return server.BuildStatus(st, c.Config), nil
}

func (c *Components) Store(ctx context.Context, ownerID, recordID, text string) (string, error) {
	return c.Engine.Store(ctx, ownerID, recordID, text)
}

func (c *Components) Get(ctx context.Context, ownerID, recordID string) (*models.Record, error) {
	return c.Engine.Get(ctx, ownerID, recordID)
}

func (c *Components) Delete(ctx context.Context, ownerID, recordID string) error {
	return c.Engine.Delete(ctx, ownerID, recordID)
}

func (c *Components) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	return c.Engine.Search(ctx, query)
}

func (c *Components) BuildIndex(ctx context.Context, ownerID string) (hnsw.Stats, error) {
	return c.Engine.BuildIndex(ctx, ownerID)
}

func (c *Components) Regenerate(ctx context.Context, ownerID string, progress func(done, total int)) (int, error) {
	return c.Engine.Regenerate(ctx, ownerID, progress)
}

// Close shuts down the engine, then the persister.
func (c *Components) Close() error {
	var firstErr error
	if c.Engine != nil {
		firstErr = c.Engine.Close()
	}
	if c.Persister != nil {
		if err := c.Persister.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}
	return firstErr
}

func initializeComponents(cfg *config.Config, debug bool) (*Components, error) {
	logger, err := utils.NewLogger(cfg.Debug || debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	persister, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	engine, err := search.NewEngine(cfg, persister, logger)
	if err != nil {
		_ = persister.Close()
		return nil, fmt.Errorf("failed to initialize engine: %w", err)
	}
	logger.Info("storage initialized",
		zap.String("backend", cfg.Storage.Backend),
		zap.Strings("paths", storage.Paths(cfg.Storage)))
	return &Components{Config: cfg, Persister: persister, Engine: engine, Logger: logger}, nil
}

// openBackend returns an HTTP client when --server is set, otherwise local components.
func openBackend() (backend, error) {
	if serverURL != "" {
		return cli.NewClient(serverURL), nil
	}
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return initializeComponents(cfg, debugFlag)
}
