package daytonatools

import (
	"encoding/json"

	"github.com/daytonaio/daytona-adk-plugin/pkg/tools"
)

var (
	envSchema = map[string]any{
		"type":                 "object",
		"description":          "Optional environment variables as key-value pairs.",
		"additionalProperties": map[string]any{"type": "string"},
	}

	timeoutSchema = map[string]any{
		"type":        "integer",
		"description": "Optional timeout in seconds.",
		"minimum":     1,
	}
)

// definitions builds the tool definitions, one per operation.
func definitions() []tools.ToolDefinition {
	return []tools.ToolDefinition{
		{
			Name: OpExecuteCode.Name(),
			Description: "Execute Python, JavaScript, or TypeScript code inside the Daytona sandbox. " +
				"Provide the code snippet and language. " +
				"Supported languages: 'python' (default), 'javascript', 'typescript'.",
			Parameters: mustSchema(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"code": map[string]any{
						"type":        "string",
						"description": "The code snippet to execute.",
					},
					"language": map[string]any{
						"type":        "string",
						"description": "Programming language: 'python' (default), 'javascript', or 'typescript'.",
						"enum":        []string{LanguagePython, LanguageJavaScript, LanguageTypeScript},
					},
					"env": envSchema,
					"argv": map[string]any{
						"type":        "array",
						"items":       map[string]any{"type": "string"},
						"description": "Optional command line arguments.",
					},
					"timeout": timeoutSchema,
				},
				"required": []string{"code"},
			}),
		},
		{
			Name:        OpExecuteCommand.Name(),
			Description: "Execute a shell command inside the Daytona sandbox. Provide the command to run.",
			Parameters: mustSchema(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{
						"type":        "string",
						"description": "The shell command to execute.",
					},
					"cwd": map[string]any{
						"type":        "string",
						"description": "Optional working directory for the command.",
					},
					"env":     envSchema,
					"timeout": timeoutSchema,
				},
				"required": []string{"command"},
			}),
		},
		{
			Name:        OpUploadFile.Name(),
			Description: "Upload a file to the Daytona sandbox. Provide the file path and content.",
			Parameters: mustSchema(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"file_path": map[string]any{
						"type":        "string",
						"description": "The destination path in the sandbox.",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "The file content to upload.",
					},
					"encoding": map[string]any{
						"type":        "string",
						"description": "Encoding of content: 'utf-8' (default) or 'base64' for binary files.",
						"enum":        []string{EncodingUTF8, EncodingBase64},
					},
				},
				"required": []string{"file_path", "content"},
			}),
		},
		{
			Name:        OpReadFile.Name(),
			Description: "Read a file from the Daytona sandbox. Provide the file path.",
			Parameters: mustSchema(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"file_path": map[string]any{
						"type":        "string",
						"description": "The path of the file to read.",
					},
					"encoding": map[string]any{
						"type": "string",
						"description": "Encoding of the returned content: 'utf-8' or 'base64'. " +
							"When omitted, text files are returned as utf-8 and binary files as base64.",
						"enum": []string{EncodingUTF8, EncodingBase64},
					},
				},
				"required": []string{"file_path"},
			}),
		},
		{
			Name: OpStartLongRunning.Name(),
			Description: "Start a long-running command in the Daytona sandbox " +
				"(e.g., npm run dev, python server.py). " +
				"Returns a session ID that can be used to check status or stop the process.",
			Parameters: mustSchema(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{
						"type":        "string",
						"description": "The long-running command to start.",
					},
					"timeout": map[string]any{
						"type":        "integer",
						"description": "Optional timeout in seconds for starting the command.",
						"minimum":     1,
					},
				},
				"required": []string{"command"},
			}),
			LongRunning: true,
		},
	}
}

func mustSchema(v map[string]any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic("daytonatools: invalid schema: " + err.Error())
	}
	return data
}
