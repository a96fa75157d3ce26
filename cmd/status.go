package cmd

import (
	"fmt"
	"net"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/chat-proxy/internal/process"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show proxy status",
	Long:  `Display whether the proxy is running and which configuration it uses.`,
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) {
	procMgr := process.NewManager(baseDir, logger)
	cfg := cfgMgr.Get()

	running := procMgr.IsRunning()

	color.Blue("Status for %s:", AppName)
	fmt.Printf("  %-17s: %v\n", "Running", running)
	if running {
		fmt.Printf("  %-17s: %d\n", "PID", procMgr.ReadPID())
	}

	fmt.Printf("  %-17s: %s\n", "Endpoint", "http://"+net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	fmt.Printf("  %-17s: %s\n", "Default Provider", cfg.DefaultProvider)
	fmt.Printf("  %-17s: %d\n", "Providers", len(cfg.Providers))
	fmt.Printf("  %-17s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Printf("  %-17s: %v\n", "Config File", cfgMgr.Exists())
	fmt.Printf("  %-17s: v%s\n", "Version", Version)
}
