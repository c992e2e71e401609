package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/corey/refscan/internal/app"
)

var (
	rootFlag      string
	logLevelFlag  string
	logPrettyFlag bool
)

var (
	cfg app.Config
	log = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "refscan",
	Short: "refscan: catalog reference matcher",
	Long: "Finds every occurrence of catalog values (order numbers, contract ids, titles) in text\n" +
		"and reports exact spans, with optional typo-tolerant matching.",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// projectRoot returns the project root (--root, or cwd by default).
func projectRoot() string {
	if rootFlag != "" {
		abs, err := filepath.Abs(rootFlag)
		if err == nil {
			return abs
		}
	}
	dir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return dir
}

// setup resolves configuration (defaults, .env, environment, flags) and
// builds the logger shared by every command.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = app.LoadConfig(projectRoot())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevelFlag
	}
	if cmd.Flags().Changed("log-pretty") {
		cfg.LogPretty = logPrettyFlag
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err = newLogger(cfg.LogLevel, cfg.LogPretty)
	if err != nil {
		return err
	}
	cfg.Logger = log
	return nil
}

// Execute runs the root command.
func Execute() error {
	defer func() { _ = log.Sync() }()
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlag, "root", "", "Project root (default: current directory)")
	pf.StringVar(&logLevelFlag, "log-level", "info", "Log level: debug, info, warn, error (env "+app.EnvLogLevel+")")
	pf.BoolVar(&logPrettyFlag, "log-pretty", false, "Human-readable logs instead of JSON (env "+app.EnvLogPretty+")")

	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(configCmd)
}
