package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/chat-proxy/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the chat proxy configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file",
	Long: `Write config.yaml with the built-in providers. Unless --defaults is given,
prompt for the default provider, its API key and the proxy's own API key.`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration with secrets masked.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the effective configuration and list every problem found.`,
	RunE:  runConfigValidate,
}

func init() {
	configInitCmd.Flags().Bool("defaults", false, "write the defaults without prompting")
	configInitCmd.Flags().BoolP("force", "f", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	force, _ := cmd.Flags().GetBool("force")
	if cfgMgr.Exists() && !force {
		return fmt.Errorf("%s already exists, use --force to overwrite", cfgMgr.GetPath())
	}

	cfg := config.NewDefaultConfig()

	if useDefaults, _ := cmd.Flags().GetBool("defaults"); !useDefaults {
		color.Blue("chat-proxy Configuration Setup")
		color.Yellow("Press enter to keep the value in brackets.")

		if err := promptConfig(cmd.InOrStdin(), cmd.OutOrStdout(), cfg); err != nil {
			return err
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the proxy with: chatproxy start")

	return nil
}

func promptConfig(in io.Reader, out io.Writer, cfg *config.Config) error {
	reader := bufio.NewReader(in)

	ask := func(label, current string) (string, error) {
		fmt.Fprintf(out, "%s [%s]: ", label, current)
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
		return current, nil
	}

	name, err := ask("Default provider ("+strings.Join(cfg.ProviderNames(), ", ")+")", cfg.DefaultProvider)
	if err != nil {
		return err
	}
	name = strings.ToLower(name)

	endpoint, ok := cfg.Provider(name)
	if !ok {
		return fmt.Errorf("unknown provider %q", name)
	}
	cfg.DefaultProvider = name

	if endpoint.Model, err = ask("Model", endpoint.Model); err != nil {
		return err
	}
	if endpoint.APIKey, err = ask("API key (empty to read it from the environment)", ""); err != nil {
		return err
	}
	cfg.Providers[name] = endpoint

	if cfg.APIKey, err = ask("Proxy API key (optional, required from callers)", ""); err != nil {
		return err
	}

	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	out := cmd.OutOrStdout()

	if !cfgMgr.Exists() {
		color.Yellow("No configuration file, showing defaults. Run 'chatproxy config init' to create one.")
	}

	color.Blue("Current Configuration:")
	fmt.Fprintf(out, "  %-17s: %s\n", "Host", cfg.Host)
	fmt.Fprintf(out, "  %-17s: %d\n", "Port", cfg.Port)
	fmt.Fprintf(out, "  %-17s: %s\n", "API Key", maskString(cfg.APIKey))
	fmt.Fprintf(out, "  %-17s: %s\n", "Default Provider", cfg.DefaultProvider)
	fmt.Fprintf(out, "  %-17s: %s\n", "Static Dir", orNotSet(cfg.StaticDir))
	fmt.Fprintf(out, "  %-17s: %s\n", "Config Path", cfgMgr.GetPath())

	fmt.Fprintln(out, "\nGateway:")
	fmt.Fprintf(out, "  %-17s: %s\n", "Timeout", cfg.Gateway.Timeout)
	fmt.Fprintf(out, "  %-17s: %d\n", "Max Attempts", cfg.Gateway.MaxAttempts)
	fmt.Fprintf(out, "  %-17s: %s\n", "Backoff", cfg.Gateway.Backoff)

	fmt.Fprintln(out, "\nProviders:")
	for _, name := range cfg.ProviderNames() {
		showEndpoint(out, name, cfg.Providers[name])
	}

	fmt.Fprintln(out, "Tools:")
	showEndpoint(out, "search", cfg.Tools.Search)
	showEndpoint(out, "pipe", cfg.Tools.Pipe)

	return nil
}

func showEndpoint(out io.Writer, name string, ep config.Endpoint) {
	fmt.Fprintf(out, "  - Name: %s\n", name)
	if ep.Dialect != "" {
		fmt.Fprintf(out, "    Dialect: %s\n", ep.Dialect)
	}
	fmt.Fprintf(out, "    API Base: %s\n", orNotSet(ep.APIBase))
	fmt.Fprintf(out, "    API Key: %s\n", maskString(ep.APIKey))
	if ep.Model != "" {
		fmt.Fprintf(out, "    Model: %s\n", ep.Model)
	}
	auth := ep.AuthType
	if ep.AuthHeader != "" {
		auth += " (" + ep.AuthHeader + ")"
	}
	fmt.Fprintf(out, "    Auth: %s, required: %v\n", orNotSet(auth), ep.RequireAuth)
	fmt.Fprintln(out)
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		color.Red("Configuration validation failed:")
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", line)
		}
		return errors.New("configuration validation failed")
	}

	for _, name := range cfg.ProviderNames() {
		if ep := cfg.Providers[name]; ep.RequireAuth && ep.APIKey == "" {
			color.Yellow("Provider %s has no API key; callers must send X-Upstream-Token", name)
		}
	}

	color.Green("Configuration is valid!")
	return nil
}

func orNotSet(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
