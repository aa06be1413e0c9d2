package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/daytonaio/daytona-adk-plugin/pkg/agent"
	"github.com/daytonaio/daytona-adk-plugin/pkg/plugin"
)

const defaultInstruction = `You are a helpful assistant with access to a remote Daytona sandbox.
Use the sandbox tools to run code and shell commands, and to read and
write files, whenever the task needs computation or inspection. Report
the results concisely.`

var (
	agentModel       string
	agentInstruction string
	agentMaxTurns    int
)

var agentCmd = &cobra.Command{
	Use:   "agent <prompt>...",
	Short: "Run a Gemini agent with the Daytona tools",
	Long: `Send a prompt to a Gemini model that can call the Daytona tools, and print
its final answer. Requires GOOGLE_API_KEY (or agent.api_key).`,
	Example: `  daytona-adk agent "compute the first 20 Fibonacci numbers in Python"
  daytona-adk agent --keep "clone github.com/daytonaio/daytona and count its Go files"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if agentModel != "" {
			cfg.Agent.Model = agentModel
		}
		if agentMaxTurns > 0 {
			cfg.Agent.MaxTurns = agentMaxTurns
		}
		if agentInstruction != "" {
			cfg.Agent.Instruction = agentInstruction
		}
		if cfg.Agent.Instruction == "" {
			cfg.Agent.Instruction = defaultInstruction
		}
		if cfg, err = validated(cfg); err != nil {
			return err
		}

		model, err := agent.NewGemini(cmd.Context(), cfg.Agent.APIKey)
		if err != nil {
			return err
		}

		p, err := plugin.New(cfg.PluginConfig())
		if err != nil {
			return err
		}
		defer closePlugin(p)

		runner := &agent.Runner{
			Model:       model,
			Plugin:      p,
			ModelName:   cfg.Agent.Model,
			Instruction: cfg.Agent.Instruction,
			MaxTurns:    cfg.Agent.MaxTurns,
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		answer, err := runner.Run(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), answer)
		return nil
	},
}

func init() {
	agentCmd.Flags().StringVarP(&agentModel, "model", "m", "", "Gemini model (default from config, then gemini-2.0-flash)")
	agentCmd.Flags().StringVar(&agentInstruction, "instruction", "", "system instruction")
	agentCmd.Flags().IntVar(&agentMaxTurns, "max-turns", 0, "maximum model turns")
}
