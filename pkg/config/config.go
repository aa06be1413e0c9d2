// Package config provides configuration for the daytona-adk command.
//
// Configuration is loaded in layers:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix fields)
//  5. Validation
package config

import (
	"time"

	"github.com/daytonaio/daytona-adk-plugin/pkg/plugin"
)

// Config holds all configuration for the daytona-adk command.
type Config struct {
	Daytona       DaytonaConfig       `yaml:"daytona"`
	Plugin        PluginConfig        `yaml:"plugin"`
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Agent         AgentConfig         `yaml:"agent"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DaytonaConfig holds the Daytona API connection.
type DaytonaConfig struct {
	APIKey         string `yaml:"api_key"`      // required
	APIKeyFile     string `yaml:"api_key_file"` // _file variant for api_key
	APIURL         string `yaml:"api_url"`      // default: hosted API
	Target         string `yaml:"target"`
	OrganizationID string `yaml:"organization_id"`
}

// PluginConfig holds sandbox and tool settings.
type PluginConfig struct {
	Name               string            `yaml:"name"`
	SandboxName        string            `yaml:"sandbox_name"`
	EnvVars            map[string]string `yaml:"env_vars"`
	Labels             map[string]string `yaml:"labels"`
	AutoStopInterval   *int              `yaml:"auto_stop_interval"`   // minutes, 0 disables
	AutoDeleteInterval *int              `yaml:"auto_delete_interval"` // minutes, negative disables
	AllowedTools       []string          `yaml:"allowed_tools"`
	DestroyOnToolError bool              `yaml:"destroy_on_tool_error"`
	ReadyTimeout       time.Duration     `yaml:"ready_timeout"`  // default: 60s
	WatchInterval      time.Duration     `yaml:"watch_interval"` // default: 1m
}

// ServerConfig holds MCP server settings.
type ServerConfig struct {
	Transport       string        `yaml:"transport"`        // "stdio" or "http", default: "stdio"
	Port            int           `yaml:"port"`             // default: 8080
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
}

// AuthConfig holds authentication settings for the HTTP transport.
type AuthConfig struct {
	Type          string         `yaml:"type"`           // "none", "apikey" or "jwt", default: "none"
	APIKeys       []APIKeyConfig `yaml:"api_keys"`       // for type=apikey
	JWT           JWTConfig      `yaml:"jwt"`            // for type=jwt
	RequiredScope string         `yaml:"required_scope"` // optional
}

// APIKeyConfig describes a single API key entry.
type APIKeyConfig struct {
	Key     string   `yaml:"key" json:"key"`
	KeyFile string   `yaml:"key_file" json:"key_file"` // _file variant for key
	Subject string   `yaml:"subject" json:"subject"`
	Scopes  []string `yaml:"scopes" json:"scopes"`
}

// JWTConfig holds HMAC JWT validation settings.
type JWTConfig struct {
	Secret     string        `yaml:"secret"`
	SecretFile string        `yaml:"secret_file"` // _file variant for secret
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	Leeway     time.Duration `yaml:"leeway"`
}

// AgentConfig holds settings of the Gemini agent host.
type AgentConfig struct {
	APIKey      string `yaml:"api_key"`
	APIKeyFile  string `yaml:"api_key_file"` // _file variant for api_key
	Model       string `yaml:"model"`        // default: "gemini-2.0-flash"
	MaxTurns    int    `yaml:"max_turns"`    // default: 10
	Instruction string `yaml:"instruction"`
}

// ObservabilityConfig holds monitoring settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Plugin: PluginConfig{
			Name:          plugin.DefaultPluginName,
			ReadyTimeout:  60 * time.Second,
			WatchInterval: time.Minute,
		},
		Server: ServerConfig{
			Transport:       "stdio",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			Type: "none",
		},
		Agent: AgentConfig{
			Model:    "gemini-2.0-flash",
			MaxTurns: 10,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// PluginConfig returns the plugin configuration described by c.
func (c *Config) PluginConfig() plugin.Config {
	return plugin.Config{
		APIKey:             c.Daytona.APIKey,
		APIURL:             c.Daytona.APIURL,
		Target:             c.Daytona.Target,
		OrganizationID:     c.Daytona.OrganizationID,
		PluginName:         c.Plugin.Name,
		SandboxName:        c.Plugin.SandboxName,
		EnvVars:            c.Plugin.EnvVars,
		Labels:             c.Plugin.Labels,
		AutoStopInterval:   c.Plugin.AutoStopInterval,
		AutoDeleteInterval: c.Plugin.AutoDeleteInterval,
		AllowedTools:       c.Plugin.AllowedTools,
		DestroyOnToolError: c.Plugin.DestroyOnToolError,
		ReadyTimeout:       c.Plugin.ReadyTimeout,
	}
}
