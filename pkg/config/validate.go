package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for required fields and valid values.
// Every problem is reported with its field path.
func (c *Config) Validate() error {
	var errs []error

	if c.Daytona.APIKey == "" {
		errs = append(errs, errors.New("daytona.api_key is required (or set DAYTONA_API_KEY)"))
	}

	if err := c.PluginConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("plugin: %w", err))
	}
	if c.Plugin.WatchInterval <= 0 {
		errs = append(errs, fmt.Errorf("plugin.watch_interval must be > 0, got %v", c.Plugin.WatchInterval))
	}

	switch c.Server.Transport {
	case "stdio":
	case "http":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port))
		}
	default:
		errs = append(errs, fmt.Errorf("server.transport must be \"stdio\" or \"http\", got %q", c.Server.Transport))
	}

	switch c.Auth.Type {
	case "none":
	case "apikey":
		if len(c.Auth.APIKeys) == 0 {
			errs = append(errs, errors.New("auth.api_keys must not be empty when auth.type is \"apikey\""))
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" && k.KeyFile == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d]: key or key_file is required", i))
			}
			if k.Subject == "" {
				errs = append(errs, fmt.Errorf("auth.api_keys[%d].subject is required", i))
			}
		}
	case "jwt":
		if c.Auth.JWT.Secret == "" && c.Auth.JWT.SecretFile == "" {
			errs = append(errs, errors.New("auth.jwt.secret or auth.jwt.secret_file is required when auth.type is \"jwt\""))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.type must be \"none\", \"apikey\", or \"jwt\", got %q", c.Auth.Type))
	}

	if c.Agent.MaxTurns <= 0 {
		errs = append(errs, fmt.Errorf("agent.max_turns must be > 0, got %d", c.Agent.MaxTurns))
	}

	return errors.Join(errs...)
}
