package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/daytonaio/daytona-adk-plugin/pkg/plugin"
	"github.com/daytonaio/daytona-adk-plugin/pkg/tools"
	"github.com/daytonaio/daytona-adk-plugin/pkg/tools/builtins/daytonatools"
)

// errToolFailed makes the process exit non-zero after the error result was
// printed.
var errToolFailed = errors.New("tool call failed")

var (
	toolTimeout  int
	toolEnv      map[string]string
	execCwd      string
	codeLanguage string
	codeFile     string
	codeArgv     []string
	fileEncoding string
	uploadFrom   string
	readOut      string
)

var execCmd = &cobra.Command{
	Use:   "exec <command>...",
	Short: "Run a shell command in the sandbox",
	Example: `  daytona-adk exec -- ls -la /home
  daytona-adk exec --cwd /tmp --env GREETING=hi 'echo $GREETING'`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTool(cmd, daytonatools.OpExecuteCommand, daytonatools.CommandArgs{
			Command: strings.Join(args, " "),
			Cwd:     execCwd,
			Env:     toolEnv,
			Timeout: timeoutArg(cmd),
		})
	},
}

var codeCmd = &cobra.Command{
	Use:   "code [code]",
	Short: "Run Python, JavaScript or TypeScript code in the sandbox",
	Example: `  daytona-adk code 'print(sum(range(10)))'
  daytona-adk code --language typescript --file main.ts -- arg1 arg2
  echo 'console.log(1)' | daytona-adk code -l javascript`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		source, argv, err := codeSource(cmd, args)
		if err != nil {
			return err
		}
		return runTool(cmd, daytonatools.OpExecuteCode, daytonatools.CodeArgs{
			Code:     source,
			Language: codeLanguage,
			Env:      toolEnv,
			Argv:     append(argv, codeArgv...),
			Timeout:  timeoutArg(cmd),
		})
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <remote-path> [content]",
	Short: "Write a file in the sandbox",
	Long: `Write a file in the sandbox. The content is taken from the argument,
from --from <local-file>, or from stdin. Binary local files are sent
base64-encoded.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, encoding, err := uploadContent(cmd, args)
		if err != nil {
			return err
		}
		return runTool(cmd, daytonatools.OpUploadFile, daytonatools.UploadArgs{
			FilePath: args[0],
			Content:  content,
			Encoding: encoding,
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <remote-path>",
	Short: "Read a file from the sandbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		readArgs := daytonatools.ReadArgs{FilePath: args[0], Encoding: fileEncoding}
		if readOut == "" {
			return runTool(cmd, daytonatools.OpReadFile, readArgs)
		}
		return withPlugin(cmd, func(ctx context.Context, p *plugin.Plugin) error {
			res, err := callTool(ctx, p, daytonatools.OpReadFile, readArgs)
			if err != nil {
				return err
			}
			if res.IsError {
				printResult(cmd.OutOrStdout(), res)
				return errToolFailed
			}
			return writeReadResult(res, readOut)
		})
	},
}

var startCmd = &cobra.Command{
	Use:   "start <command>...",
	Short: "Start a background command in the sandbox",
	Long: `Start a command in a new sandbox session and return without waiting for
it to finish. Use --keep, otherwise the sandbox and the command are gone
when this process exits.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTool(cmd, daytonatools.OpStartLongRunning, daytonatools.StartArgs{
			Command: strings.Join(args, " "),
			Timeout: timeoutArg(cmd),
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{execCmd, codeCmd, startCmd} {
		c.Flags().IntVar(&toolTimeout, "timeout", 0, "timeout in seconds")
	}
	for _, c := range []*cobra.Command{execCmd, codeCmd} {
		c.Flags().StringToStringVarP(&toolEnv, "env", "e", nil, "environment variable KEY=VALUE (repeatable)")
	}
	execCmd.Flags().StringVar(&execCwd, "cwd", "", "working directory")

	codeCmd.Flags().StringVarP(&codeLanguage, "language", "l", daytonatools.LanguagePython, "python, javascript or typescript")
	codeCmd.Flags().StringVarP(&codeFile, "file", "f", "", "read the code from a local file")
	codeCmd.Flags().StringSliceVar(&codeArgv, "arg", nil, "argument passed to the program (repeatable)")

	for _, c := range []*cobra.Command{uploadCmd, readCmd} {
		c.Flags().StringVar(&fileEncoding, "encoding", "", "utf-8 or base64")
	}
	uploadCmd.Flags().StringVar(&uploadFrom, "from", "", "local file to upload")
	readCmd.Flags().StringVarP(&readOut, "output", "o", "", "write the decoded content to a local file instead of printing the result")
}

func timeoutArg(cmd *cobra.Command) *int {
	if !cmd.Flags().Changed("timeout") {
		return nil
	}
	t := toolTimeout
	return &t
}

// codeSource resolves the program text. Without --file the first argument
// is the code, or stdin when there is none; remaining arguments are argv.
func codeSource(cmd *cobra.Command, args []string) (string, []string, error) {
	if codeFile != "" {
		data, err := os.ReadFile(codeFile)
		if err != nil {
			return "", nil, err
		}
		return string(data), args, nil
	}
	if len(args) > 0 {
		return args[0], args[1:], nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", nil, fmt.Errorf("reading code from stdin: %w", err)
	}
	return string(data), nil, nil
}

func uploadContent(cmd *cobra.Command, args []string) (content, encoding string, err error) {
	var data []byte
	switch {
	case len(args) == 2:
		return args[1], fileEncoding, nil
	case uploadFrom != "":
		data, err = os.ReadFile(uploadFrom)
	default:
		data, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return "", "", err
	}
	if fileEncoding == daytonatools.EncodingBase64 || !isText(data) {
		return base64.StdEncoding.EncodeToString(data), daytonatools.EncodingBase64, nil
	}
	return string(data), daytonatools.EncodingUTF8, nil
}

func isText(data []byte) bool {
	return utf8.Valid(data) && bytes.IndexByte(data, 0) < 0
}

func writeReadResult(res *tools.ToolResult, path string) error {
	var out daytonatools.ReadResult
	if err := json.Unmarshal([]byte(res.Output), &out); err != nil {
		return fmt.Errorf("decoding result: %w", err)
	}
	data := []byte(out.Content)
	if out.Encoding == daytonatools.EncodingBase64 {
		var err error
		if data, err = base64.StdEncoding.DecodeString(out.Content); err != nil {
			return fmt.Errorf("decoding content: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// runTool makes one tool call and prints its result.
func runTool(cmd *cobra.Command, op daytonatools.Operation, args any) error {
	return withPlugin(cmd, func(ctx context.Context, p *plugin.Plugin) error {
		res, err := callTool(ctx, p, op, args)
		if err != nil {
			return err
		}
		printResult(cmd.OutOrStdout(), res)
		if res.IsError {
			return errToolFailed
		}
		return nil
	})
}

// withPlugin runs fn inside one plugin run.
func withPlugin(cmd *cobra.Command, fn func(ctx context.Context, p *plugin.Plugin) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg, err = validated(cfg); err != nil {
		return err
	}

	p, err := plugin.New(cfg.PluginConfig())
	if err != nil {
		return err
	}
	defer closePlugin(p)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := p.BeforeRun(ctx); err != nil {
		return err
	}
	defer p.AfterRun(ctx)

	return fn(ctx, p)
}

func callTool(ctx context.Context, p *plugin.Plugin, op daytonatools.Operation, args any) (*tools.ToolResult, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encoding arguments: %w", err)
	}
	return p.Call(ctx, tools.ToolCall{
		ID:        "cli_" + uuid.NewString(),
		Name:      op.Name(),
		Arguments: string(data),
	}), nil
}

// printResult pretty-prints the JSON output of a tool result.
func printResult(w io.Writer, res *tools.ToolResult) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(res.Output), "", "  "); err != nil {
		fmt.Fprintln(w, res.Output)
		return
	}
	buf.WriteByte('\n')
	_, _ = buf.WriteTo(w)
}
