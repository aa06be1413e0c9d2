// Package agent is a minimal agent host: it drives a Gemini model through
// function calling against a plugin's tools and reports the run to the
// plugin's hooks.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/daytonaio/daytona-adk-plugin/pkg/debug"
	"github.com/daytonaio/daytona-adk-plugin/pkg/plugin"
	"github.com/daytonaio/daytona-adk-plugin/pkg/tools"
)

const (
	// DefaultModel is used when Runner.ModelName is empty.
	DefaultModel = "gemini-2.0-flash"

	// DefaultMaxTurns bounds the model round trips of one run.
	DefaultMaxTurns = 10
)

// ErrMaxTurns is returned when the model still calls tools after the last
// allowed turn.
var ErrMaxTurns = errors.New("agent: maximum number of turns reached")

// Model generates content. *genai.Models satisfies it.
type Model interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

var _ Model = (*genai.Models)(nil)

// Toolset is what the runner drives. *plugin.Plugin satisfies it.
type Toolset interface {
	plugin.RunHooks
	Tools() []tools.ToolDefinition
	Call(ctx context.Context, call tools.ToolCall) *tools.ToolResult
}

var _ Toolset = (*plugin.Plugin)(nil)

// NewGemini creates a Model on the Gemini API.
func NewGemini(ctx context.Context, apiKey string) (Model, error) {
	if apiKey == "" {
		return nil, errors.New("agent: Gemini API key is required (set GOOGLE_API_KEY)")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	return client.Models, nil
}

// Runner runs prompts against a model with a toolset.
type Runner struct {
	Model       Model
	Plugin      Toolset
	ModelName   string
	Instruction string
	MaxTurns    int
	Logger      *slog.Logger
}

// Run sends prompt to the model and executes the tool calls it makes until
// it answers with text. AfterRun is always called, even when the run fails.
func (r *Runner) Run(ctx context.Context, prompt string) (string, error) {
	if err := r.Plugin.BeforeRun(ctx); err != nil {
		return "", fmt.Errorf("before run: %w", err)
	}
	defer r.Plugin.AfterRun(ctx)

	config, err := r.generateConfig()
	if err != nil {
		return "", err
	}

	model := r.ModelName
	if model == "" {
		model = DefaultModel
	}
	maxTurns := r.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	for turn := 0; turn < maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		resp, err := r.Model.GenerateContent(ctx, model, contents, config)
		if err != nil {
			return "", fmt.Errorf("generate content: %w", err)
		}
		if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return "", errors.New("agent: model returned no candidates")
		}

		content := resp.Candidates[0].Content
		if content.Role == "" {
			content.Role = string(genai.RoleModel)
		}
		contents = append(contents, content)

		calls := functionCalls(content, turn)
		debug.Log("agent", "model turn", "turn", turn, "tool_calls", len(calls))
		if len(calls) == 0 {
			return textOf(content), nil
		}

		results := r.executeTools(ctx, calls)

		parts := make([]*genai.Part, len(calls))
		for i, call := range calls {
			parts[i] = &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       call.ID,
				Name:     call.Name,
				Response: responseMap(results[i]),
			}}
		}
		contents = append(contents, &genai.Content{Role: string(genai.RoleUser), Parts: parts})
	}

	return "", ErrMaxTurns
}

func (r *Runner) generateConfig() (*genai.GenerateContentConfig, error) {
	config := &genai.GenerateContentConfig{}
	if r.Instruction != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: r.Instruction}}}
	}

	defs := r.Plugin.Tools()
	if len(defs) == 0 {
		return config, nil
	}
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		schema, err := ToSchema(def.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", def.Name, err)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  schema,
		})
	}
	config.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	return config, nil
}

// executeTools runs the calls of one turn concurrently. The sandbox is
// shared; the plugin guards its creation.
func (r *Runner) executeTools(ctx context.Context, calls []tools.ToolCall) []*tools.ToolResult {
	results := make([]*tools.ToolResult, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc tools.ToolCall) {
			defer wg.Done()
			res := r.Plugin.Call(ctx, tc)
			if res.IsError {
				r.logger().Warn("tool call failed", "tool", tc.Name, "call_id", tc.ID)
			}
			results[idx] = res
		}(i, call)
	}

	wg.Wait()
	return results
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// functionCalls extracts the tool calls of a model turn. Gemini does not
// always assign call IDs, so missing ones are synthesized.
func functionCalls(content *genai.Content, turn int) []tools.ToolCall {
	var calls []tools.ToolCall
	for _, part := range content.Parts {
		if part == nil || part.FunctionCall == nil {
			continue
		}
		fc := part.FunctionCall
		id := fc.ID
		if id == "" {
			id = fmt.Sprintf("gemini-call-%d-%d", turn, len(calls))
		}
		args := "{}"
		if len(fc.Args) > 0 {
			if data, err := json.Marshal(fc.Args); err == nil {
				args = string(data)
			}
		}
		calls = append(calls, tools.ToolCall{ID: id, Name: fc.Name, Arguments: args})
	}
	return calls
}

// responseMap turns a tool result into a function response body. Tool
// outputs are JSON objects; anything else is wrapped.
func responseMap(res *tools.ToolResult) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(res.Output), &m); err == nil && m != nil {
		return m
	}
	if res.IsError {
		return map[string]any{"error": res.Output}
	}
	return map[string]any{"output": res.Output}
}

func textOf(content *genai.Content) string {
	var sb strings.Builder
	for _, part := range content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
