package daytonatools

import "fmt"

// Operation is one of the tools the provider exposes.
type Operation int

const (
	OpExecuteCode Operation = iota + 1
	OpExecuteCommand
	OpUploadFile
	OpReadFile
	OpStartLongRunning
)

var operationNames = map[Operation]string{
	OpExecuteCode:      "execute_code_in_daytona",
	OpExecuteCommand:   "execute_command_in_daytona",
	OpUploadFile:       "upload_file_to_daytona",
	OpReadFile:         "read_file_from_daytona",
	OpStartLongRunning: "start_long_running_command_daytona",
}

// Operations returns every operation in declaration order.
func Operations() []Operation {
	return []Operation{OpExecuteCode, OpExecuteCommand, OpUploadFile, OpReadFile, OpStartLongRunning}
}

// ParseOperation maps a tool name to its operation.
func ParseOperation(name string) (Operation, bool) {
	for op, n := range operationNames {
		if n == name {
			return op, true
		}
	}
	return 0, false
}

// Name returns the tool name the model calls.
func (o Operation) Name() string {
	if n, ok := operationNames[o]; ok {
		return n
	}
	return fmt.Sprintf("Operation(%d)", int(o))
}

func (o Operation) String() string {
	return o.Name()
}
