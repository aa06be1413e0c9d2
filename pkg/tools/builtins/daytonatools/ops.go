package daytonatools

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/daytonaio/daytona-adk-plugin/pkg/daytona"
	"github.com/daytonaio/daytona-adk-plugin/pkg/debug"
	"github.com/daytonaio/daytona-adk-plugin/pkg/tools"
)

// sessionPrefix names the sessions of background commands.
const sessionPrefix = "long-running-"

const cleanupTimeout = 30 * time.Second

// ExecResult is the result of the code and command tools. Result holds
// stdout and stderr combined.
type ExecResult struct {
	Result   string `json:"result"`
	ExitCode int    `json:"exit_code"`
}

// UploadResult is the result of upload_file_to_daytona.
type UploadResult struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
}

// ReadResult is the result of read_file_from_daytona.
type ReadResult struct {
	Content  string `json:"content"`
	Path     string `json:"path"`
	Encoding string `json:"encoding"`
}

// StartResult is the result of start_long_running_command_daytona.
// ExitCode stays null while the command is running.
type StartResult struct {
	SessionID string `json:"session_id"`
	CommandID string `json:"command_id"`
	Output    string `json:"output"`
	ExitCode  *int   `json:"exit_code"`
}

func (p *Provider) executeCode(ctx context.Context, raw string) (*ExecResult, error) {
	var args CodeArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := args.validate(); err != nil {
		return nil, err
	}

	debug.Log("tools", "executing code", "language", args.Language, "length", len(args.Code))

	var resp *daytona.ExecuteResponse
	err := p.withSandbox(ctx, func(id string) error {
		var err error
		if args.Language == LanguagePython {
			resp, err = p.toolbox.Exec(ctx, id, daytona.ExecuteRequest{
				Command: daytona.ShellCommand(daytona.PythonCommand(args.Code, args.Argv), args.Env),
				Timeout: seconds(args.Timeout),
			})
			return err
		}
		resp, err = p.runScript(ctx, id, &args)
		return err
	})
	if err != nil {
		return nil, classify(err, func(err error) error {
			if daytona.IsTimeout(err) {
				return tools.NewExecutionError(fmt.Sprintf("%s code timed out", args.Language), err)
			}
			return tools.NewExecutionError(fmt.Sprintf("running %s code failed", args.Language), err)
		})
	}
	return &ExecResult{Result: resp.Result, ExitCode: resp.ExitCode}, nil
}

// runScript uploads JavaScript or TypeScript source to a temporary file,
// runs it and removes the file again.
func (p *Provider) runScript(ctx context.Context, id string, args *CodeArgs) (*daytona.ExecuteResponse, error) {
	ext, build := "js", daytona.NodeCommand
	if args.Language == LanguageTypeScript {
		ext, build = "ts", daytona.TypeScriptCommand
	}
	scriptPath := fmt.Sprintf("/tmp/script_%s.%s", uuid.NewString(), ext)

	if err := p.toolbox.UploadFile(ctx, id, scriptPath, []byte(args.Code)); err != nil {
		return nil, err
	}
	defer p.removeFile(ctx, id, scriptPath)

	return p.toolbox.Exec(ctx, id, daytona.ExecuteRequest{
		Command: daytona.ShellCommand(build(scriptPath, args.Argv), args.Env),
		Timeout: seconds(args.Timeout),
	})
}

// removeFile deletes a temporary file, even when ctx is already done.
func (p *Provider) removeFile(ctx context.Context, id, filePath string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := p.toolbox.DeleteFile(ctx, id, filePath); err != nil {
		debug.Log("tools", "failed to remove script", "sandbox_id", id, "path", filePath, "error", err.Error())
	}
}

func (p *Provider) executeCommand(ctx context.Context, raw string) (*ExecResult, error) {
	var args CommandArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := args.validate(); err != nil {
		return nil, err
	}

	debug.Log("tools", "executing command", "command", debug.Truncate(args.Command, 100), "cwd", args.Cwd)

	var resp *daytona.ExecuteResponse
	err := p.withSandbox(ctx, func(id string) error {
		var err error
		resp, err = p.toolbox.Exec(ctx, id, daytona.ExecuteRequest{
			Command: daytona.ShellCommand(args.Command, args.Env),
			Cwd:     args.Cwd,
			Timeout: seconds(args.Timeout),
		})
		return err
	})
	if err != nil {
		return nil, classify(err, func(err error) error {
			if daytona.IsTimeout(err) {
				return tools.NewExecutionError("command timed out", err)
			}
			return tools.NewExecutionError("command failed", err)
		})
	}
	return &ExecResult{Result: resp.Result, ExitCode: resp.ExitCode}, nil
}

func (p *Provider) uploadFile(ctx context.Context, raw string) (*UploadResult, error) {
	var args UploadArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := args.validate(); err != nil {
		return nil, err
	}
	content, err := args.content()
	if err != nil {
		return nil, err
	}

	debug.Log("tools", "uploading file", "path", args.FilePath, "size", len(content))

	err = p.withSandbox(ctx, func(id string) error {
		return p.toolbox.UploadFile(ctx, id, args.FilePath, content)
	})
	if err != nil {
		return nil, classify(err, func(err error) error {
			return tools.NewIOError(fmt.Sprintf("uploading %s failed", args.FilePath), err)
		})
	}
	return &UploadResult{Success: true, Path: args.FilePath}, nil
}

func (p *Provider) readFile(ctx context.Context, raw string) (*ReadResult, error) {
	var args ReadArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := args.validate(); err != nil {
		return nil, err
	}

	debug.Log("tools", "reading file", "path", args.FilePath)

	var data []byte
	err := p.withSandbox(ctx, func(id string) error {
		var err error
		data, err = p.toolbox.DownloadFile(ctx, id, args.FilePath)
		return err
	})
	if err != nil {
		return nil, classify(err, func(err error) error {
			if daytona.IsNotFound(err) {
				return tools.NewNotFoundError(fmt.Sprintf("file %s not found", args.FilePath), err)
			}
			return tools.NewIOError(fmt.Sprintf("reading %s failed", args.FilePath), err)
		})
	}

	return encodeContent(args.FilePath, data, args.Encoding), nil
}

// encodeContent renders file content. Without an explicit encoding, text is
// returned as utf-8 and anything else as base64.
func encodeContent(filePath string, data []byte, encoding string) *ReadResult {
	if encoding == "" {
		encoding = EncodingUTF8
		if !utf8.Valid(data) {
			encoding = EncodingBase64
		}
	}
	if encoding == EncodingBase64 {
		return &ReadResult{Content: base64.StdEncoding.EncodeToString(data), Path: filePath, Encoding: EncodingBase64}
	}
	return &ReadResult{Content: string(data), Path: filePath, Encoding: EncodingUTF8}
}

func (p *Provider) startLongRunning(ctx context.Context, raw string) (*StartResult, error) {
	var args StartArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if err := args.validate(); err != nil {
		return nil, err
	}

	if args.Timeout != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*args.Timeout)*time.Second)
		defer cancel()
	}

	var (
		sessionID string
		resp      *daytona.SessionExecuteResponse
	)
	err := p.withSandbox(ctx, func(id string) error {
		// A fresh session per attempt; a recovered sandbox has none.
		sessionID = sessionPrefix + uuid.NewString()
		if err := p.toolbox.CreateSession(ctx, id, sessionID); err != nil {
			return err
		}
		var err error
		resp, err = p.toolbox.ExecuteSessionCommand(ctx, id, sessionID, daytona.SessionExecuteRequest{
			Command:  args.Command,
			RunAsync: true,
		})
		return err
	})
	if err != nil {
		return nil, classify(err, func(err error) error {
			if daytona.IsTimeout(err) {
				return tools.NewExecutionError("starting command timed out", err)
			}
			return tools.NewExecutionError("starting command failed", err)
		})
	}

	debug.Log("tools", "started long-running command", "session_id", sessionID, "command_id", resp.CmdID)
	return &StartResult{
		SessionID: sessionID,
		CommandID: resp.CmdID,
		Output:    resp.Output,
		ExitCode:  resp.ExitCode,
	}, nil
}
