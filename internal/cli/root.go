// Package cli implements the kotae command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/pkg/utils"
)

// DefaultConfigName is looked up in the working directory when --config is not given.
const DefaultConfigName = "kotae.yaml"

// app carries the state shared by every subcommand after the root pre-run.
type app struct {
	version    string
	configPath string
	debug      bool

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCmd returns the kotae root command with every subcommand attached.
func NewRootCmd(version string) *cobra.Command {
	a := &app{version: version}
	root := &cobra.Command{
		Use:           "kotae",
		Short:         "Grounded answers over your site content",
		Long:          "kotae indexes published content into a vector store and answers questions from it with a language model.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file path (default: ./"+DefaultConfigName+" when present)")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(a),
		newIndexCmd(a),
		newSyncCmd(a),
		newRemoveCmd(a),
		newDebugCmd(a),
		newAskCmd(a),
		newVersionCmd(a),
	)
	return root
}

// Execute runs the root command until it finishes or the process is interrupted, and
// reports errors on stderr.
func Execute(version string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := NewRootCmd(version).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func (a *app) init() error {
	// Credentials may live in .env; a missing file is fine.
	_ = godotenv.Load()

	cfg, resolved, err := loadConfig(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = cfg
	debug := cfg.Debug || a.debug
	logger, err := utils.NewLogger(debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.logger = logger
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debug))
	return nil
}

// loadConfig loads path. Without a path it uses kotae.yaml from the working directory when
// one exists, and the built-in defaults otherwise. It returns the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, DefaultConfigName)
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kotae version %s\n", a.version)
		},
	}
}

func out(cmd *cobra.Command) io.Writer { return cmd.OutOrStdout() }
