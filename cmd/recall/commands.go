package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/recall/internal/cli"
	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/search"
	"github.com/hyperjump/recall/internal/server"
	"github.com/hyperjump/recall/internal/watcher"
)

var (
	storeID         string
	searchLimit     int
	searchThreshold float64
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, resolved, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		components, err := initializeComponents(cfg, debugFlag)
		if err != nil {
			return err
		}
		defer components.Close()
		logger := components.Logger
		logger.Info("config loaded", zap.String("config_path", resolved), zap.Bool("debug", cfg.Debug || debugFlag))

		srv := server.NewServer(components.Engine, cfg, logger)
		if resolved != "" {
			srv.PersistSettings(resolved)
			w := watcher.NewWatcher(resolved, func(path string) {
				reloadSettings(components, path)
			}, watcher.WithLogger(logger))
			if err := w.Start(cmd.Context()); err != nil {
				logger.Warn("config watch disabled", zap.Error(err))
			}
			defer w.Stop()
		}
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigChan:
		case err := <-errCh:
			return fmt.Errorf("server failed: %w", err)
		}

		logger.Info("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Stop(ctx)
	},
}

var storeCmd = &cobra.Command{
	Use:   "store <text...>",
	Short: "Store a memory (use - to read stdin)",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readText(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		b, err := openBackend()
		if err != nil {
			return err
		}
		defer b.Close()

		id, err := b.Store(cmd.Context(), ownerID, storeID, text)
		if err != nil && !models.IsNotDurable(err) {
			return err
		}
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: stored in memory but not persisted: %v\n", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a stored memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseOutputFormat(outputFormat)
		if err != nil {
			return err
		}
		b, err := openBackend()
		if err != nil {
			return err
		}
		defer b.Close()
		rec, err := b.Get(cmd.Context(), ownerID, args[0])
		if err != nil {
			return err
		}
		return cli.WriteRecord(cmd.OutOrStdout(), rec, format)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend()
		if err != nil {
			return err
		}
		defer b.Close()
		if err := b.Delete(cmd.Context(), ownerID, args[0]); err != nil {
			if !models.IsNotDurable(err) {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: deleted in memory but not persisted: %v\n", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Search memories by phrase and meaning",
	Long: `Query is all remaining arguments joined by spaces. Multi-word queries work with or
without quotes. Memories containing the query verbatim (ignoring case) come first,
followed by the most similar memories.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseOutputFormat(outputFormat)
		if err != nil {
			return err
		}
		query := buildSearchQuery(args)
		if query == "" {
			return fmt.Errorf("%w: query is empty", models.ErrInvalidArgument)
		}
		sq := &models.SearchQuery{OwnerID: ownerID, Query: query, Limit: searchLimit}
		if cmd.Flags().Changed("threshold") {
			sq.Threshold = &searchThreshold
		}

		b, err := openBackend()
		if err != nil {
			return err
		}
		defer b.Close()
		resp, err := b.Search(cmd.Context(), sq)
		if err != nil {
			return err
		}
		return cli.WriteSearchResults(cmd.OutOrStdout(), resp, format)
	},
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the proximity index for an owner",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend()
		if err != nil {
			return err
		}
		defer b.Close()
		st, err := b.BuildIndex(cmd.Context(), ownerID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d vectors (max layer %d, %d connections)\n",
			st.Nodes, st.MaxLayer, st.Connections)
		return nil
	},
}

var regenerateCmd = &cobra.Command{
	Use:   "regenerate",
	Short: "Recompute corpus statistics and re-embed every memory of an owner",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend()
		if err != nil {
			return err
		}
		defer b.Close()

		var bar *progressbar.ProgressBar
		progress := func(done, total int) {
			if bar == nil {
				bar = progressbar.NewOptions(total,
					progressbar.OptionSetWriter(cmd.ErrOrStderr()),
					progressbar.OptionEnableColorCodes(true),
					progressbar.OptionSetWidth(40),
					progressbar.OptionShowCount(),
					progressbar.OptionSetDescription("[cyan]Regenerating[reset]"),
					progressbar.OptionOnCompletion(func() {
						fmt.Fprintln(cmd.ErrOrStderr())
					}),
				)
			}
			_ = bar.Set(done)
		}
		n, err := b.Regenerate(cmd.Context(), ownerID, progress)
		if err != nil && !models.IsNotDurable(err) {
			return err
		}
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: regenerated in memory but not persisted: %v\n", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Regenerated %d vectors for %s\n", n, ownerID)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine, corpus, and storage status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseOutputFormat(outputFormat)
		if err != nil {
			return err
		}
		b, err := openBackend()
		if err != nil {
			return err
		}
		defer b.Close()
		st, err := b.Status(cmd.Context())
		if err != nil {
			return err
		}
		return cli.WriteStatus(cmd.OutOrStdout(), st, format)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "recall version %s\n", version)
	},
}

func init() {
	storeCmd.Flags().StringVar(&storeID, "id", "", "record id (generated when empty)")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "number of results")
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", 0, "minimum similarity for semantic results (default from config)")

	rootCmd.AddCommand(serverCmd, storeCmd, getCmd, deleteCmd, searchCmd, indexCmd, regenerateCmd, statusCmd, versionCmd)
}

// reloadSettings applies the semantic settings of the config file at path.
func reloadSettings(c *Components, path string) {
	cfg, err := config.Load(path)
	if err != nil {
		c.Logger.Warn("config reload failed", zap.String("path", path), zap.Error(err))
		return
	}
	if err := c.Engine.Configure(search.SettingsFromConfig(cfg)); err != nil {
		c.Logger.Warn("config reload rejected", zap.String("path", path), zap.Error(err))
		return
	}
	c.Logger.Info("semantic settings reloaded", zap.String("path", path))
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// readText joins args into the text to store; a single "-" reads stdin instead.
func readText(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return buildSearchQuery(args), nil
}
