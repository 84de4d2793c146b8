// Package config provides configuration management for sitedesk using Viper
// for loading from files, environment variables, and command-line flags.
//
// The configuration system supports a YAML file (.sitedesk.yml), environment
// variable overrides with the SITEDESK_ prefix, defaults, and validation. It
// covers project discovery, the supervised site server, the liveness monitor,
// image encoding, the control API, and logging.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
	"github.com/sitedesk/sitedesk/internal/validation"
)

// Launch modes for the site server.
const (
	LaunchManaged  = "managed"
	LaunchDetached = "detached"
)

type Config struct {
	Project   ProjectConfig   `mapstructure:"project" yaml:"project" json:"project"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server" json:"server"`
	Monitor   MonitorConfig   `mapstructure:"monitor" yaml:"monitor" json:"monitor"`
	Transform TransformConfig `mapstructure:"transform" yaml:"transform" json:"transform"`
	API       APIConfig       `mapstructure:"api" yaml:"api" json:"api"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging" json:"logging"`
}

type ProjectConfig struct {
	// Path pins the project root and bypasses the heuristic search.
	Path        string   `mapstructure:"path" yaml:"path" json:"path"`
	Entrypoint  string   `mapstructure:"entrypoint" yaml:"entrypoint" json:"entrypoint"`
	Documents   []string `mapstructure:"documents" yaml:"documents" json:"documents"`
	AssetDirs   []string `mapstructure:"asset_dirs" yaml:"asset_dirs" json:"asset_dirs"`
	DesktopDirs []string `mapstructure:"desktop_dirs" yaml:"desktop_dirs" json:"desktop_dirs"`
}

type ServerConfig struct {
	Command      string        `mapstructure:"command" yaml:"command" json:"command"`
	Args         []string      `mapstructure:"args" yaml:"args" json:"args"`
	Port         int           `mapstructure:"port" yaml:"port" json:"port"`
	Host         string        `mapstructure:"host" yaml:"host" json:"host"`
	BaseURL      string        `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	Environment  string        `mapstructure:"environment" yaml:"environment" json:"environment"`
	Launch       string        `mapstructure:"launch" yaml:"launch" json:"launch"`
	AutoStart    bool          `mapstructure:"auto_start" yaml:"auto_start" json:"auto_start"`
	StartTimeout time.Duration `mapstructure:"start_timeout" yaml:"start_timeout" json:"start_timeout"`
	StopGrace    time.Duration `mapstructure:"stop_grace" yaml:"stop_grace" json:"stop_grace"`
	StartupGrace time.Duration `mapstructure:"startup_grace" yaml:"startup_grace" json:"startup_grace"`
}

type MonitorConfig struct {
	Interval     time.Duration `mapstructure:"interval" yaml:"interval" json:"interval"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout" json:"probe_timeout"`
}

type TransformConfig struct {
	JPEGQuality     int `mapstructure:"jpeg_quality" yaml:"jpeg_quality" json:"jpeg_quality"`
	PNGCompression  int `mapstructure:"png_compression" yaml:"png_compression" json:"png_compression"`
	OptimizeQuality int `mapstructure:"optimize_quality" yaml:"optimize_quality" json:"optimize_quality"`
}

type APIConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Host    string `mapstructure:"host" yaml:"host" json:"host"`
	Port    int    `mapstructure:"port" yaml:"port" json:"port"`
	// MutationsPerMinute limits POST requests per client; zero disables it.
	MutationsPerMinute int `mapstructure:"mutations_per_minute" yaml:"mutations_per_minute" json:"mutations_per_minute"`
	// AllowedOrigins are extra hosts trusted for browser requests and
	// websocket upgrades besides loopback.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins" json:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	Dir    string `mapstructure:"dir" yaml:"dir" json:"dir"`
}

// DefaultAssetDirs are the asset directory names tried in order.
var DefaultAssetDirs = []string{"images", "assets", "صور", "img"}

// DefaultDesktopDirs are localized spellings of the desktop folder.
var DefaultDesktopDirs = []string{
	"Desktop",
	"سطح المكتب",
	"Bureau",
	"Escritorio",
	"Schreibtisch",
	"Scrivania",
	"Рабочий стол",
	"デスクトップ",
	"桌面",
}

// SetDefaults registers every key with its default so environment overrides
// reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("project.path", "")
	v.SetDefault("project.entrypoint", "app.py")
	v.SetDefault("project.documents", []string{"index.html", "main.html"})
	v.SetDefault("project.asset_dirs", DefaultAssetDirs)
	v.SetDefault("project.desktop_dirs", DefaultDesktopDirs)

	v.SetDefault("server.command", "python3")
	v.SetDefault("server.args", []string{})
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.base_url", "")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.launch", LaunchManaged)
	v.SetDefault("server.auto_start", false)
	v.SetDefault("server.start_timeout", 10*time.Second)
	v.SetDefault("server.stop_grace", 5*time.Second)
	v.SetDefault("server.startup_grace", 15*time.Second)

	v.SetDefault("monitor.interval", 5*time.Second)
	v.SetDefault("monitor.probe_timeout", 2*time.Second)

	v.SetDefault("transform.jpeg_quality", 95)
	v.SetDefault("transform.png_compression", 0)
	v.SetDefault("transform.optimize_quality", 85)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 5080)
	v.SetDefault("api.mutations_per_minute", 60)
	v.SetDefault("api.allowed_origins", []string{})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.dir", "")
}

// EnvPrefix prefixes every environment override, e.g. SITEDESK_SERVER_PORT.
const EnvPrefix = "SITEDESK"

// ConfigureEnv binds SITEDESK_<SECTION>_<KEY> environment variables.
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Default returns the configuration produced by defaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadFrom(v)
	if err != nil {
		// Defaults are static and always valid.
		panic(fmt.Sprintf("invalid default configuration: %v", err))
	}
	return cfg
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals v, fills unset keys with defaults, and validates.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, siteerrors.NewConfigError("CONFIG_DECODE", fmt.Sprintf("cannot decode configuration: %v", err))
	}

	// Empty lists from a config file fall back to defaults.
	if len(config.Project.Documents) == 0 {
		config.Project.Documents = []string{"index.html", "main.html"}
	}
	if len(config.Project.AssetDirs) == 0 {
		config.Project.AssetDirs = append([]string(nil), DefaultAssetDirs...)
	}
	if len(config.Project.DesktopDirs) == 0 {
		config.Project.DesktopDirs = append([]string(nil), DefaultDesktopDirs...)
	}

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate validates configuration values for correctness.
func Validate(config *Config) error {
	if err := validateProjectConfig(&config.Project); err != nil {
		return err
	}
	if err := validateServerConfig(&config.Server); err != nil {
		return err
	}
	if err := validateMonitorConfig(&config.Monitor); err != nil {
		return err
	}
	if err := validateTransformConfig(&config.Transform); err != nil {
		return err
	}
	if config.API.Port < 0 || config.API.Port > 65535 {
		return siteerrors.NewConfigError("API_PORT", fmt.Sprintf("api port %d is not in valid range 0-65535", config.API.Port))
	}
	if config.API.MutationsPerMinute < 0 {
		return siteerrors.NewConfigError("API_RATE", "api mutations_per_minute cannot be negative")
	}
	switch strings.ToLower(config.Logging.Format) {
	case "", "text", "json":
	default:
		return siteerrors.NewConfigError("LOG_FORMAT", fmt.Sprintf("unknown log format %q", config.Logging.Format))
	}
	return nil
}

func validateProjectConfig(config *ProjectConfig) error {
	if strings.TrimSpace(config.Entrypoint) == "" {
		return siteerrors.NewConfigError("ENTRYPOINT", "project entrypoint cannot be empty")
	}
	markers := append([]string{config.Entrypoint}, config.Documents...)
	for _, name := range markers {
		if err := validateRelativeName(name); err != nil {
			return siteerrors.NewConfigError("MARKER", fmt.Sprintf("invalid marker file %q: %v", name, err))
		}
	}
	for _, name := range config.AssetDirs {
		if err := validateRelativeName(name); err != nil {
			return siteerrors.NewConfigError("ASSET_DIR", fmt.Sprintf("invalid asset directory %q: %v", name, err))
		}
	}
	return nil
}

// validateRelativeName rejects names that would escape the project root.
func validateRelativeName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("empty name")
	}
	if filepath.IsAbs(name) {
		return fmt.Errorf("must be relative")
	}
	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("contains path traversal")
	}
	return nil
}

func validateServerConfig(config *ServerConfig) error {
	if config.Port < 1 || config.Port > 65535 {
		return siteerrors.NewConfigError("SERVER_PORT", fmt.Sprintf("port %d is not in valid range 1-65535", config.Port))
	}
	if strings.TrimSpace(config.Command) == "" {
		return siteerrors.NewConfigError("SERVER_COMMAND", "server command cannot be empty")
	}
	switch config.Launch {
	case LaunchManaged, LaunchDetached:
	default:
		return siteerrors.NewConfigError("SERVER_LAUNCH", fmt.Sprintf("launch must be %q or %q, got %q", LaunchManaged, LaunchDetached, config.Launch))
	}
	if config.BaseURL != "" {
		if err := validation.ValidateURL(config.BaseURL); err != nil {
			return siteerrors.NewConfigError("SERVER_BASE_URL", fmt.Sprintf("base_url %q must be an absolute http(s) URL: %v", config.BaseURL, err))
		}
	}
	if config.StopGrace < 0 || config.StartupGrace < 0 || config.StartTimeout < 0 {
		return siteerrors.NewConfigError("SERVER_DURATION", "server durations cannot be negative")
	}
	return nil
}

func validateMonitorConfig(config *MonitorConfig) error {
	if config.Interval <= 0 {
		return siteerrors.NewConfigError("MONITOR_INTERVAL", "monitor interval must be positive")
	}
	if config.ProbeTimeout <= 0 {
		return siteerrors.NewConfigError("MONITOR_TIMEOUT", "probe timeout must be positive")
	}
	return nil
}

func validateTransformConfig(config *TransformConfig) error {
	if config.JPEGQuality < 1 || config.JPEGQuality > 100 {
		return siteerrors.NewConfigError("JPEG_QUALITY", fmt.Sprintf("jpeg_quality %d is not in range 1-100", config.JPEGQuality))
	}
	if config.OptimizeQuality < 1 || config.OptimizeQuality > 100 {
		return siteerrors.NewConfigError("OPTIMIZE_QUALITY", fmt.Sprintf("optimize_quality %d is not in range 1-100", config.OptimizeQuality))
	}
	if config.PNGCompression < -3 || config.PNGCompression > 0 {
		return siteerrors.NewConfigError("PNG_COMPRESSION", "png_compression must be one of 0, -1, -2, -3")
	}
	return nil
}

// ProbeURL returns the URL the liveness monitor probes.
func (c *Config) ProbeURL() string {
	if c.Server.BaseURL != "" {
		return c.Server.BaseURL
	}
	host := c.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Server.Port)
}

// APIAddr returns the listen address of the control API.
func (c *Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// Markers returns the files that must exist in a project root.
func (c *Config) Markers() []string {
	return append([]string{c.Project.Entrypoint}, c.Project.Documents...)
}
