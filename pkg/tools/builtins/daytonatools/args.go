package daytonatools

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"sort"
	"strings"

	"github.com/daytonaio/daytona-adk-plugin/pkg/daytona"
	"github.com/daytonaio/daytona-adk-plugin/pkg/tools"
)

// Supported languages of execute_code_in_daytona.
const (
	LanguagePython     = "python"
	LanguageJavaScript = "javascript"
	LanguageTypeScript = "typescript"
)

// Content encodings of the file tools.
const (
	EncodingUTF8   = "utf-8"
	EncodingBase64 = "base64"
)

// CodeArgs are the arguments of execute_code_in_daytona.
type CodeArgs struct {
	Code     string            `json:"code"`
	Language string            `json:"language,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Argv     []string          `json:"argv,omitempty"`
	Timeout  *int              `json:"timeout,omitempty"`
}

// CommandArgs are the arguments of execute_command_in_daytona.
type CommandArgs struct {
	Command string            `json:"command"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Timeout *int              `json:"timeout,omitempty"`
}

// UploadArgs are the arguments of upload_file_to_daytona.
type UploadArgs struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"`
}

// ReadArgs are the arguments of read_file_from_daytona.
type ReadArgs struct {
	FilePath string `json:"file_path"`
	Encoding string `json:"encoding,omitempty"`
}

// StartArgs are the arguments of start_long_running_command_daytona.
type StartArgs struct {
	Command string `json:"command"`
	Timeout *int   `json:"timeout,omitempty"`
}

// decodeArgs unmarshals the JSON arguments of a call. An empty string is
// treated as an empty object.
func decodeArgs(raw string, v any) error {
	data := bytes.TrimSpace([]byte(raw))
	if len(data) == 0 {
		data = []byte("{}")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return tools.NewValidationError("invalid arguments: %v", err)
	}
	return nil
}

func (a *CodeArgs) validate() error {
	if strings.TrimSpace(a.Code) == "" {
		return tools.NewValidationError("code is required")
	}
	a.Language = strings.ToLower(strings.TrimSpace(a.Language))
	switch a.Language {
	case "":
		a.Language = LanguagePython
	case LanguagePython, LanguageJavaScript, LanguageTypeScript:
	default:
		return tools.NewValidationError("unsupported language %q (supported: %s, %s, %s)",
			a.Language, LanguagePython, LanguageJavaScript, LanguageTypeScript)
	}
	if err := validateTimeout(a.Timeout); err != nil {
		return err
	}
	return validateEnv(a.Env)
}

func (a *CommandArgs) validate() error {
	if strings.TrimSpace(a.Command) == "" {
		return tools.NewValidationError("command is required")
	}
	if err := validateTimeout(a.Timeout); err != nil {
		return err
	}
	return validateEnv(a.Env)
}

func (a *UploadArgs) validate() error {
	if strings.TrimSpace(a.FilePath) == "" {
		return tools.NewValidationError("file_path is required")
	}
	return validateEncoding(a.Encoding)
}

// content returns the bytes to write.
func (a *UploadArgs) content() ([]byte, error) {
	if a.Encoding != EncodingBase64 {
		return []byte(a.Content), nil
	}
	data, err := base64.StdEncoding.DecodeString(a.Content)
	if err != nil {
		return nil, tools.NewValidationError("content is not valid base64: %v", err)
	}
	return data, nil
}

func (a *ReadArgs) validate() error {
	if strings.TrimSpace(a.FilePath) == "" {
		return tools.NewValidationError("file_path is required")
	}
	return validateEncoding(a.Encoding)
}

func (a *StartArgs) validate() error {
	if strings.TrimSpace(a.Command) == "" {
		return tools.NewValidationError("command is required")
	}
	return validateTimeout(a.Timeout)
}

func validateTimeout(timeout *int) error {
	if timeout != nil && *timeout <= 0 {
		return tools.NewValidationError("timeout must be a positive number of seconds, got %d", *timeout)
	}
	return nil
}

func validateEnv(env map[string]string) error {
	var bad []string
	for k := range env {
		if !daytona.ValidEnvName(k) {
			bad = append(bad, k)
		}
	}
	if len(bad) == 0 {
		return nil
	}
	sort.Strings(bad)
	return tools.NewValidationError("invalid environment variable names: %s", strings.Join(bad, ", "))
}

func validateEncoding(enc string) error {
	switch enc {
	case "", EncodingUTF8, EncodingBase64:
		return nil
	}
	return tools.NewValidationError("unsupported encoding %q (supported: %s, %s)", enc, EncodingUTF8, EncodingBase64)
}

func seconds(timeout *int) int {
	if timeout == nil {
		return 0
	}
	return *timeout
}
