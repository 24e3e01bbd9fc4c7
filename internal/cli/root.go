// Package cli is the command-line control surface over the sync engine.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/object0/foldersync/internal/config"
	"github.com/object0/foldersync/internal/logging"
	"github.com/object0/foldersync/pkg/version"
)

var (
	flagConfig  string
	flagVerbose bool
	flagQuiet   bool
	flagNoColor bool

	cfg    *config.Config
	logger logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "foldersync",
	Short: "Bidirectional folder synchronization between local directories and object storage",
	Long: `foldersync keeps local directories and remote buckets in step. Each sync
rule binds one local folder to one bucket/prefix with a direction and a
conflict policy; the daemon watches enabled rules and reconciles them
against a persisted baseline.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadFrom(flagConfig)
		if err != nil {
			return err
		}

		level := logging.ParseLevel(cfg.LogLevel)
		if flagVerbose {
			level = logging.DEBUG
		}

		if flagQuiet {
			level = logging.ERROR
		}
		console := logging.NewConsoleLogger(logging.ConsoleLoggerConfig{
			Level:            level,
			ColorEnabled:     cfg.ColorOutput && !flagNoColor,
			TimestampEnabled: true,
			RedactSensitive:  true,
		})

		if cfg.LogFile == "" {
			logger = console
			return nil
		}
		file, err := logging.NewFileLogger(logging.FileLoggerConfig{
			FilePath: cfg.LogFile,
			Level:    level,
		})
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logger = logging.NewMultiLogger(console, file)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Get().String())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable color output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(ruleCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(daemonCmd)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
