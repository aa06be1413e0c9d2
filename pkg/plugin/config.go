package plugin

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/daytonaio/daytona-adk-plugin/pkg/daytona"
	"github.com/daytonaio/daytona-adk-plugin/pkg/tools/builtins/daytonatools"
)

// DefaultPluginName identifies a plugin built without a name.
const DefaultPluginName = "daytona_plugin"

// Config configures a Plugin. It is not modified after New.
type Config struct {
	// APIKey authenticates against Daytona. Falls back to DAYTONA_API_KEY.
	APIKey string

	// APIURL falls back to DAYTONA_API_URL, then the hosted API.
	APIURL string

	// Target is the region sandboxes are created in. Falls back to
	// DAYTONA_TARGET.
	Target string

	OrganizationID string

	// PluginName identifies the plugin to hosts.
	PluginName string

	// SandboxName names the sandbox. Empty lets the service pick one.
	SandboxName string

	EnvVars map[string]string
	Labels  map[string]string

	// AutoStopInterval is the idle time in minutes before the sandbox is
	// stopped. Nil keeps the service default, 0 never stops.
	AutoStopInterval *int

	// AutoDeleteInterval is the time in minutes a stopped sandbox is kept.
	// Nil keeps the service default, negative never deletes.
	AutoDeleteInterval *int

	// AllowedTools restricts the exposed tools. Empty allows all five.
	AllowedTools []string

	// DestroyOnToolError deletes the sandbox after a tool call fails. The
	// next call gets a fresh sandbox.
	DestroyOnToolError bool

	// ReadyTimeout bounds the wait for a new sandbox to start.
	ReadyTimeout time.Duration

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// withDefaults fills unset fields from the environment and defaults.
func (c Config) withDefaults() Config {
	if c.PluginName == "" {
		c.PluginName = DefaultPluginName
	}
	if c.APIKey == "" {
		c.APIKey = os.Getenv("DAYTONA_API_KEY")
	}
	if c.APIURL == "" {
		c.APIURL = os.Getenv("DAYTONA_API_URL")
	}
	if c.Target == "" {
		c.Target = os.Getenv("DAYTONA_TARGET")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Validate checks the configuration and reports every problem at once.
func (c Config) Validate() error {
	var errs []error

	for k := range c.EnvVars {
		if !daytona.ValidEnvName(k) {
			errs = append(errs, fmt.Errorf("env var name %q is not a valid shell identifier", k))
		}
	}
	if c.AutoStopInterval != nil && *c.AutoStopInterval < 0 {
		errs = append(errs, fmt.Errorf("auto stop interval must be >= 0, got %d", *c.AutoStopInterval))
	}
	for _, name := range c.AllowedTools {
		if _, ok := daytonatools.ParseOperation(name); !ok {
			errs = append(errs, fmt.Errorf("allowed tool %q is not a Daytona tool", name))
		}
	}
	if c.ReadyTimeout < 0 {
		errs = append(errs, errors.New("ready timeout must not be negative"))
	}

	return errors.Join(errs...)
}
