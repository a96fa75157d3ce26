package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort         = 6970
	DefaultHost         = "127.0.0.1"
	DefaultYAMLFilename = "config.yaml"
	DefaultEnvFilename  = ".env"

	// EnvPrefix namespaces environment overrides, e.g. CHATPROXY_PORT or
	// CHATPROXY_PROVIDERS_GEMINI_MODEL.
	EnvPrefix = "CHATPROXY"
)

const (
	DialectOpenAI = "openai"
	DialectGemini = "gemini"

	AuthTypeBearer = "bearer"
	AuthTypeHeader = "header"
)

// Endpoint is one upstream the proxy can forward to: a chat provider or a
// tool API.
type Endpoint struct {
	// Dialect selects the wire format. Empty means infer from APIBase.
	Dialect     string `yaml:"dialect,omitempty" mapstructure:"dialect"`
	APIBase     string `yaml:"api_base" mapstructure:"api_base"`
	APIKey      string `yaml:"api_key,omitempty" mapstructure:"api_key"`
	Model       string `yaml:"model,omitempty" mapstructure:"model"`
	AuthType    string `yaml:"auth_type,omitempty" mapstructure:"auth_type"`
	AuthHeader  string `yaml:"auth_header,omitempty" mapstructure:"auth_header"`
	RequireAuth bool   `yaml:"require_auth" mapstructure:"require_auth"`
}

type GatewayConfig struct {
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff" mapstructure:"backoff"`
}

type ToolsConfig struct {
	Search Endpoint `yaml:"search" mapstructure:"search"`
	Pipe   Endpoint `yaml:"pipe" mapstructure:"pipe"`
}

type Config struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
	// APIKey, when set, is required from callers of the /api routes.
	APIKey          string              `yaml:"api_key,omitempty" mapstructure:"api_key"`
	StaticDir       string              `yaml:"static_dir,omitempty" mapstructure:"static_dir"`
	DefaultProvider string              `yaml:"default_provider" mapstructure:"default_provider"`
	Gateway         GatewayConfig       `yaml:"gateway" mapstructure:"gateway"`
	Providers       map[string]Endpoint `yaml:"providers" mapstructure:"providers"`
	Tools           ToolsConfig         `yaml:"tools" mapstructure:"tools"`
}

// Provider returns the named chat provider.
func (c *Config) Provider(name string) (Endpoint, bool) {
	ep, ok := c.Providers[strings.ToLower(name)]
	return ep, ok
}

// ProviderNames returns the configured provider names, sorted.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d is out of range", c.Port))
	}

	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("no providers configured"))
	}

	if c.DefaultProvider == "" {
		errs = append(errs, errors.New("default_provider is required"))
	} else if _, ok := c.Provider(c.DefaultProvider); !ok {
		errs = append(errs, fmt.Errorf("default_provider %q is not configured", c.DefaultProvider))
	}

	for _, name := range c.ProviderNames() {
		ep := c.Providers[name]
		if ep.APIBase == "" {
			errs = append(errs, fmt.Errorf("provider %s: api_base is required", name))
		}
		switch ep.Dialect {
		case "", DialectOpenAI, DialectGemini:
		default:
			errs = append(errs, fmt.Errorf("provider %s: unknown dialect %q", name, ep.Dialect))
		}
		errs = append(errs, validateEndpoint("provider "+name, ep)...)
	}

	errs = append(errs, validateEndpoint("tools.search", c.Tools.Search)...)
	errs = append(errs, validateEndpoint("tools.pipe", c.Tools.Pipe)...)

	if c.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("gateway.timeout must be positive"))
	}
	if c.Gateway.MaxAttempts < 1 {
		errs = append(errs, errors.New("gateway.max_attempts must be at least 1"))
	}
	if c.Gateway.Backoff < 0 {
		errs = append(errs, errors.New("gateway.backoff must not be negative"))
	}

	return errors.Join(errs...)
}

func validateEndpoint(label string, ep Endpoint) []error {
	var errs []error

	if ep.APIBase != "" {
		if u, err := url.Parse(ep.APIBase); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s: api_base %q is not an absolute URL", label, ep.APIBase))
		}
	}

	switch ep.AuthType {
	case "", AuthTypeBearer:
	case AuthTypeHeader:
		if ep.AuthHeader == "" {
			errs = append(errs, fmt.Errorf("%s: auth_header is required when auth_type is header", label))
		}
	default:
		errs = append(errs, fmt.Errorf("%s: unknown auth_type %q", label, ep.AuthType))
	}

	return errs
}

type Manager struct {
	baseDir     string
	configPath  string
	envFile     string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir:    baseDir,
		configPath: filepath.Join(baseDir, DefaultYAMLFilename),
		envFile:    DefaultEnvFilename,
	}
}

// SetEnvFile changes the dotenv file read by Load. Empty disables it.
func (m *Manager) SetEnvFile(path string) {
	m.envFile = path
}

// Load merges defaults, the YAML file (if any), the dotenv file and the
// environment, in increasing order of precedence.
func (m *Manager) Load() (*Config, error) {
	if err := m.loadEnvFile(); err != nil {
		return nil, err
	}

	v := viper.New()
	setViperDefaults(v, NewDefaultConfig())

	if m.Exists() {
		v.SetConfigFile(m.configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindWellKnownEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalize()

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func (m *Manager) loadEnvFile() error {
	if m.envFile == "" {
		return nil
	}

	if _, err := os.Stat(m.envFile); err != nil {
		return nil
	}

	// Values already in the environment are kept.
	if err := gotenv.Load(m.envFile); err != nil {
		return fmt.Errorf("load env file %s: %w", m.envFile, err)
	}

	return nil
}

func (c *Config) normalize() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}
	c.DefaultProvider = strings.ToLower(strings.TrimSpace(c.DefaultProvider))

	for name, ep := range c.Providers {
		ep.Dialect = strings.ToLower(strings.TrimSpace(ep.Dialect))
		ep.AuthType = strings.ToLower(strings.TrimSpace(ep.AuthType))
		c.Providers[name] = ep
	}
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		return NewDefaultConfig()
	}
	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) GetPath() string {
	return m.configPath
}

func (m *Manager) BaseDir() string {
	return m.baseDir
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}
