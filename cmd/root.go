package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/skyguard/internal/config"
	"github.com/andresmejia3/skyguard/internal/logging"
	"github.com/andresmejia3/skyguard/internal/store"
	"github.com/spf13/cobra"
)

var (
	// DB is the global database connection shared by subcommands
	DB *store.Store
	// cfg is the merged configuration, loaded before any command runs
	cfg *config.Config

	dbURL      string
	configFile string
	logLevel   string
	logFormat  string
)

// needsDB marks commands that cannot run without PostgreSQL.
const needsDB = "needs-db"

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "skyguard",
	Short:   "Aerial threat scoring for object detection streams",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			os.Setenv(config.ConfigPathEnvVar, configFile)
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		// Flags win over file and environment, but only when given
		flags := cmd.Flags()
		if flags.Changed("db") {
			cfg.Database.URL = dbURL
		}
		if flags.Changed("log-level") {
			cfg.Logging.Level = logLevel
		}
		if flags.Changed("log-format") {
			cfg.Logging.Format = logFormat
		}
		logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

		if cmd.Annotations[needsDB] == "true" {
			return connectDB(cmd.Context())
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
	},
}

// connectDB opens the shared store. Safe to call more than once.
func connectDB(ctx context.Context) error {
	if DB != nil {
		return nil
	}
	var err error
	DB, err = store.New(ctx, cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	logging.Debug().Msg("database connected")
	return nil
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: POSTGRES_* env or postgres://localhost:5432/skyguard)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to YAML config file (default: ./skyguard.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: trace, debug, info, warn, error, disabled")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format: console or json")
}
