// Package commands provides the datachat CLI.
package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sergioferragut/data-chat/internal/config"
	"github.com/sergioferragut/data-chat/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	envFile   string
	configDir string
	logLevel  string
	prettyLog bool
)

var rootCmd = &cobra.Command{
	Use:   "datachat",
	Short: "Conversational gateway for warehouse data",
	Long: `datachat answers questions about warehouse data. Every chat session gets
its own MCP sandbox container, built on first use and removed when the
session ends.

Run 'datachat serve' to start the HTTP and WebSocket API, or 'datachat sweep'
to remove sandboxes left behind by an earlier run.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnvFile()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Environment file to load (default .env when present)")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Directory holding datachat.json (default current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error), overrides the config")
	rootCmd.PersistentFlags().BoolVar(&prettyLog, "pretty", false, "Human-readable console logs")

	rootCmd.SetVersionTemplate(fmt.Sprintf("datachat %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(transcriptCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadEnvFile loads --env-file, or .env if it exists. Variables already set
// in the environment win.
func loadEnvFile() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

// loadConfig reads the configuration and sets up logging from it.
func loadConfig() (*config.Config, error) {
	dir := configDir
	if dir == "" {
		var err error
		if dir, err = os.Getwd(); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		cfg.DataDir = paths.Data
	}

	lc := logging.DefaultConfig()
	lc.Level = logging.ParseLevel(cfg.LogLevel)
	lc.Pretty = prettyLog
	lc.LogToFile = strings.EqualFold(os.Getenv("DATACHAT_LOG_FILE"), "true")
	lc.LogDir = paths.LogPath()
	logging.Init(lc)

	return cfg, nil
}

func storageDir(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "storage")
}
