package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rustyeddy/papertrader/config"
	"github.com/rustyeddy/papertrader/internal/logger"
)

var version = "dev"

// rootConfig carries the persistent flags and what PersistentPreRunE builds
// from them.
type rootConfig struct {
	ConfigPath string
	DBPath     string
	LogLevel   string
	UserID     string

	cfg *config.Config
	log *zap.Logger
}

func NewRootCmd() *cobra.Command {
	rc := &rootConfig{}

	cmd := &cobra.Command{
		Use:           "papertrader",
		Short:         "Papertrader: per-user paper trading engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global / persistent flags
	cmd.PersistentFlags().StringVar(&rc.ConfigPath, "config", "", "Path to config file (optional)")
	cmd.PersistentFlags().StringVar(&rc.DBPath, "db", "", "SQLite database (overrides storage.db_path)")
	cmd.PersistentFlags().StringVar(&rc.LogLevel, "log-level", "", "Log level: debug|info|warn|error")
	cmd.PersistentFlags().StringVarP(&rc.UserID, "user", "u", "local", "Account user id for offline commands")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return rc.load()
	}
	cmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if rc.log != nil {
			_ = rc.log.Sync()
		}
	}

	cmd.AddCommand(
		newServeCmd(rc),
		newOrderCmd(rc),
		newPositionsCmd(rc),
		newTradesCmd(rc),
		newFundsCmd(rc),
		newSquareOffCmd(rc),
		newReplayCmd(rc),
		newConfigCmd(rc),
	)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "papertrader (%s)\n", version)
		},
	})

	return cmd
}

func (rc *rootConfig) load() error {
	cfg := config.Default()
	if rc.ConfigPath != "" {
		loaded, err := config.LoadFromFile(rc.ConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if rc.DBPath != "" {
		cfg.Storage.DBPath = rc.DBPath
	}
	if rc.LogLevel != "" {
		cfg.Log.Level = rc.LogLevel
	}
	rc.cfg = cfg

	log, err := logger.New(cfg.Log.Options())
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	rc.log = log
	return nil
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
