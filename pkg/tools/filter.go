package tools

// FilterResult holds the outcome of filtering tool calls against an allow list.
type FilterResult struct {
	// Allowed contains tool calls that passed the filter.
	Allowed []ToolCall

	// Rejected contains tool calls that were not in the allowed list,
	// paired with error results to feed back to the model.
	Rejected []ToolResult
}

// FilterAllowedTools checks each tool call against the allowed list.
// If allowedTools is empty or nil, all tool calls are allowed.
func FilterAllowedTools(calls []ToolCall, allowedTools []string) FilterResult {
	if len(allowedTools) == 0 {
		return FilterResult{Allowed: calls}
	}

	allowed := make(map[string]bool, len(allowedTools))
	for _, name := range allowedTools {
		allowed[name] = true
	}

	var result FilterResult
	for _, call := range calls {
		if allowed[call.Name] {
			result.Allowed = append(result.Allowed, call)
			continue
		}
		err := NewValidationError("tool %s is not in the allowed tools list", call.Name)
		result.Rejected = append(result.Rejected, *ErrorResult(call.ID, err, nil))
	}

	return result
}

// FilterDefinitions returns the definitions whose names are in allowedTools,
// or all of them when allowedTools is empty.
func FilterDefinitions(defs []ToolDefinition, allowedTools []string) []ToolDefinition {
	if len(allowedTools) == 0 {
		return defs
	}

	allowed := make(map[string]bool, len(allowedTools))
	for _, name := range allowedTools {
		allowed[name] = true
	}

	var out []ToolDefinition
	for _, d := range defs {
		if allowed[d.Name] {
			out = append(out, d)
		}
	}
	return out
}
