package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/daytonaio/daytona-adk-plugin/pkg/debug"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, DAYTONA_ADK_CONFIG, ./daytona-adk.yaml, /etc/daytona-adk/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg, err := LoadUnvalidated(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadUnvalidated runs every layer of Load except validation, so callers
// can apply command-line overrides first.
func LoadUnvalidated(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		debug.Log("config", "loading config file", "path", filePath)
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile returns the first config file found, or "".
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("DAYTONA_ADK_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"daytona-adk.yaml",
		"/etc/daytona-adk/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile parses a YAML file into cfg. Fields absent from the file
// keep their current values. Unknown fields are rejected.
func loadYAMLFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvOverrides maps environment variables onto config fields.
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	setString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not an integer", name, v))
				return
			}
			*dst = n
		}
	}
	setIntPtr := func(name string, dst **int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %q is not an integer", name, v))
				return
			}
			*dst = &n
		}
	}

	setString("DAYTONA_API_KEY", &cfg.Daytona.APIKey)
	setString("DAYTONA_API_URL", &cfg.Daytona.APIURL)
	setString("DAYTONA_TARGET", &cfg.Daytona.Target)
	setString("DAYTONA_ORGANIZATION_ID", &cfg.Daytona.OrganizationID)
	setString("DAYTONA_SANDBOX_NAME", &cfg.Plugin.SandboxName)
	setIntPtr("DAYTONA_AUTO_STOP_INTERVAL", &cfg.Plugin.AutoStopInterval)
	setIntPtr("DAYTONA_AUTO_DELETE_INTERVAL", &cfg.Plugin.AutoDeleteInterval)
	setInt("DAYTONA_ADK_PORT", &cfg.Server.Port)
	setString("DAYTONA_ADK_TRANSPORT", &cfg.Server.Transport)
	setString("DAYTONA_ADK_AUTH_TYPE", &cfg.Auth.Type)
	setString("GOOGLE_API_KEY", &cfg.Agent.APIKey)
	setString("DAYTONA_ADK_MODEL", &cfg.Agent.Model)

	if v := os.Getenv("DAYTONA_ADK_ALLOWED_TOOLS"); v != "" {
		cfg.Plugin.AllowedTools = splitList(v)
	}

	// DAYTONA_ADK_API_KEYS: JSON array of API key entries.
	if v := os.Getenv("DAYTONA_ADK_API_KEYS"); v != "" {
		var keys []APIKeyConfig
		if err := json.Unmarshal([]byte(v), &keys); err != nil {
			errs = append(errs, fmt.Errorf("DAYTONA_ADK_API_KEYS: %w", err))
		} else if len(keys) > 0 {
			cfg.Auth.APIKeys = keys
		}
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// resolveFileReferences fills empty value fields from their _file
// counterparts.
func resolveFileReferences(cfg *Config) error {
	resolve := func(field, file string, dst *string) error {
		if file == "" || *dst != "" {
			return nil
		}
		val, err := readSecretFile(file)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		*dst = val
		return nil
	}

	if err := resolve("daytona.api_key_file", cfg.Daytona.APIKeyFile, &cfg.Daytona.APIKey); err != nil {
		return err
	}
	if err := resolve("auth.jwt.secret_file", cfg.Auth.JWT.SecretFile, &cfg.Auth.JWT.Secret); err != nil {
		return err
	}
	if err := resolve("agent.api_key_file", cfg.Agent.APIKeyFile, &cfg.Agent.APIKey); err != nil {
		return err
	}
	for i := range cfg.Auth.APIKeys {
		k := &cfg.Auth.APIKeys[i]
		if err := resolve(fmt.Sprintf("auth.api_keys[%d].key_file", i), k.KeyFile, &k.Key); err != nil {
			return err
		}
	}
	return nil
}

// readSecretFile returns the file content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
