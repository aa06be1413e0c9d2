package tools

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a tool failure. The value is reported to the model as
// error_type.
type Kind string

const (
	// KindValidation means the arguments were rejected before any remote
	// call was made.
	KindValidation Kind = "validation_error"

	// KindProvisioning means no usable sandbox could be obtained.
	KindProvisioning Kind = "provisioning_error"

	// KindExecution means running code or a command failed or timed out.
	KindExecution Kind = "execution_error"

	// KindIO means a file transfer failed.
	KindIO Kind = "io_error"

	// KindNotFound means the requested file does not exist.
	KindNotFound Kind = "not_found_error"
)

// Error is a classified tool failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError reports rejected arguments.
func NewValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewProvisioningError wraps a failure to obtain the sandbox.
func NewProvisioningError(message string, err error) *Error {
	return &Error{Kind: KindProvisioning, Message: message, Err: err}
}

// NewExecutionError wraps a failed code or command run.
func NewExecutionError(message string, err error) *Error {
	return &Error{Kind: KindExecution, Message: message, Err: err}
}

// NewIOError wraps a failed file transfer.
func NewIOError(message string, err error) *Error {
	return &Error{Kind: KindIO, Message: message, Err: err}
}

// NewNotFoundError reports a missing file.
func NewNotFoundError(message string, err error) *Error {
	return &Error{Kind: KindNotFound, Message: message, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindExecution for unclassified errors.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindExecution
}

// ErrorOutput renders err as the JSON body of a failed ToolResult.
// extra fields are merged in, so each tool can keep its own result shape
// (for example "exit_code": -1).
func ErrorOutput(err error, extra map[string]any) string {
	body := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		body[k] = v
	}
	body["error"] = err.Error()
	body["error_type"] = string(KindOf(err))

	data, mErr := json.Marshal(body)
	if mErr != nil {
		return fmt.Sprintf(`{"error":%q,"error_type":%q}`, err.Error(), KindOf(err))
	}
	return string(data)
}

// ErrorResult builds a failed ToolResult for call.
func ErrorResult(callID string, err error, extra map[string]any) *ToolResult {
	return &ToolResult{CallID: callID, Output: ErrorOutput(err, extra), IsError: true}
}
