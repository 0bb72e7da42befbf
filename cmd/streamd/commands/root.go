// Package commands provides the CLI commands for streamd.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/streamd/internal/config"
	"github.com/opencode-ai/streamd/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs  bool
	logLevel   string
	configPath string
)

var logCloser io.Closer

var rootCmd = &cobra.Command{
	Use:   "streamd",
	Short: "streamd - session-aware AI response streaming",
	Long: `streamd streams language model responses for persistent sessions,
runs the tools the model asks for and records every turn.

Run 'streamd serve' to expose the HTTP API, or 'streamd run' for a single
turn in the terminal.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Extra config file, applied after global and project config")

	rootCmd.SetVersionTemplate(fmt.Sprintf("streamd %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sessionCmd)
}

// setup initializes logging. Without --print-logs, logs only go to a dated
// file under the state directory.
func setup(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		os.Setenv("STREAMD_CONFIG", configPath)
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(logLevel)
	cfg.LogDir = paths.LogPath()
	if printLogs {
		cfg.Pretty = true
	} else {
		cfg.Output = io.Discard
		cfg.LogToFile = true
	}

	closer, err := logging.Init(cfg)
	if err != nil {
		return err
	}
	logCloser = closer
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
