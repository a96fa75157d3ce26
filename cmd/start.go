package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/chat-proxy/internal/process"
	"github.com/mihaisavezi/chat-proxy/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the proxy",
	Long: `Start the chat proxy in the foreground. Without a config file the built-in
defaults are used, with credentials taken from the environment.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolP("detach", "d", false, "run in the background")
	startCmd.Flags().Int("port", 0, "override the configured port")
}

func runStart(cmd *cobra.Command, _ []string) error {
	procMgr := process.NewManager(baseDir, logger)

	if detach, _ := cmd.Flags().GetBool("detach"); detach {
		return startDetached(cmd, procMgr)
	}

	if procMgr.IsRunning() {
		return fmt.Errorf("%s is already running (pid %d)", AppName, procMgr.ReadPID())
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Port = port
	}

	if err := cfg.Validate(); err != nil {
		color.Red("Configuration is invalid:")
		return err
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("Starting server",
		"host", cfg.Host,
		"port", cfg.Port,
		"providers", len(cfg.Providers),
		"config", cfgMgr.GetPath(),
	)

	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	srv := server.New(cfgMgr, logger)
	return srv.Start()
}

func startDetached(cmd *cobra.Command, procMgr *process.Manager) error {
	args := []string{"start", "--config-dir", baseDir}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		args = append(args, "--port", fmt.Sprint(port))
	}
	if envFile, _ := cmd.Flags().GetString("env-file"); envFile != "" {
		args = append(args, "--env-file", envFile)
	}
	if logPath, _ := cmd.Flags().GetString("log-file"); logPath != "" {
		args = append(args, "--log-file", logPath)
	}

	started, err := procMgr.StartDetached(args...)
	if err != nil {
		return err
	}

	if !started {
		color.Yellow("%s is already running (pid %d)", AppName, procMgr.ReadPID())
		return nil
	}

	color.Green("%s started in the background (pid %d)", AppName, procMgr.ReadPID())
	return nil
}
