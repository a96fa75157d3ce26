package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/chat-proxy/internal/config"
	"github.com/mihaisavezi/chat-proxy/internal/logging"
)

const AppName = "chat-proxy"

// Version is overridden at build time with -ldflags "-X ...cmd.Version=...".
var Version = "0.1.0"

var (
	logger  *slog.Logger
	baseDir string
	cfgMgr  *config.Manager
	logFile *os.File
)

var rootCmd = &cobra.Command{
	Use:   "chatproxy",
	Short: "chat-proxy - OpenAI and Gemini chat proxy",
	Long: `A thin chat proxy that accepts OpenAI-style chat requests, translates them for
Gemini when needed, and forwards them upstream with retries and auth diagnostics.`,
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logFile != nil {
			_ = logFile.Close()
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().Bool("pretty", false, "colorized console logs")
	rootCmd.PersistentFlags().Bool("json", false, "JSON logs")
	rootCmd.PersistentFlags().StringP("log-file", "l", "", "also write logs to this file")
	rootCmd.PersistentFlags().String("config-dir", "", "configuration directory (default ~/."+AppName+")")
	rootCmd.PersistentFlags().String("env-file", config.DefaultEnvFilename, "dotenv file to load, empty to disable")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	verbose, _ := flags.GetBool("verbose")
	pretty, _ := flags.GetBool("pretty")
	jsonLogs, _ := flags.GetBool("json")
	logPath, _ := flags.GetString("log-file")
	configDir, _ := flags.GetString("config-dir")
	envFile, _ := flags.GetString("env-file")

	writers := []io.Writer{os.Stdout}
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logFile = f
		writers = append(writers, f)
	}

	logger = logging.New(
		logging.WithDebug(verbose),
		logging.WithPretty(pretty),
		logging.WithJSON(jsonLogs),
		logging.WithWriters(writers...),
	)

	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("get home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, "."+AppName)
	}

	baseDir = configDir
	cfgMgr = config.NewManager(baseDir)
	cfgMgr.SetEnvFile(envFile)

	return nil
}
