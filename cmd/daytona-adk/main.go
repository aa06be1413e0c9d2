// Command daytona-adk exposes Daytona sandboxes as agent tools: over MCP
// (stdio or streamable HTTP), through a Gemini agent host, or as one-shot
// tool calls from the shell.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/daytonaio/daytona-adk-plugin/pkg/config"
	"github.com/daytonaio/daytona-adk-plugin/pkg/debug"
)

var (
	configPath    string
	debugCats     string
	logLevel      string
	sandboxName   string
	allowedTools  []string
	keepSandbox   bool
	autoStopFlag  int
	autoStopIsSet bool
)

var rootCmd = &cobra.Command{
	Use:   "daytona-adk",
	Short: "Daytona sandboxes as agent tools",
	Long: `daytona-adk gives AI agents a remote Daytona sandbox to run code and
shell commands, transfer files and start background processes in.

The sandbox is created on the first tool call and shared by every call of
the process. Configuration is read from a YAML file, the environment and a
.env file in the working directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		debug.Init(debugCats, logLevel, os.Stderr)
		autoStopIsSet = cmd.Flags().Changed("auto-stop")
	},
}

func init() {
	_ = godotenv.Load()

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "config file (default: $DAYTONA_ADK_CONFIG, ./daytona-adk.yaml)")
	pf.StringVar(&debugCats, "debug", "", "debug categories, comma separated (api,sandbox,tools,mcp,agent,auth,config,all)")
	pf.StringVar(&logLevel, "log-level", "INFO", "log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	pf.StringVar(&sandboxName, "sandbox-name", "", "name of the sandbox to create")
	pf.StringSliceVar(&allowedTools, "allow", nil, "restrict the exposed tools (repeatable)")
	pf.BoolVar(&keepSandbox, "keep", false, "keep the sandbox when the command exits")
	pf.IntVar(&autoStopFlag, "auto-stop", 0, "idle minutes before the sandbox is stopped (0 disables)")

	rootCmd.AddCommand(serveCmd, agentCmd, execCmd, codeCmd, uploadCmd, readCmd, startCmd, versionCmd)
}

// loadConfig loads the layered configuration and applies global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadUnvalidated(configPath)
	if err != nil {
		return nil, err
	}
	if sandboxName != "" {
		cfg.Plugin.SandboxName = sandboxName
	}
	if len(allowedTools) > 0 {
		cfg.Plugin.AllowedTools = allowedTools
	}
	if autoStopIsSet {
		n := autoStopFlag
		cfg.Plugin.AutoStopInterval = &n
	}
	return cfg, nil
}

func validated(cfg *config.Config) (*config.Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
