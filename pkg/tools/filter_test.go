package tools

import (
	"encoding/json"
	"testing"
)

func TestFilterAllowedTools(t *testing.T) {
	tests := []struct {
		name         string
		calls        []ToolCall
		allowedTools []string
		wantAllowed  int
		wantRejected int
	}{
		{
			name: "all allowed when no filter",
			calls: []ToolCall{
				{ID: "c1", Name: "execute_code_in_daytona"},
				{ID: "c2", Name: "read_file_from_daytona"},
			},
			allowedTools: nil,
			wantAllowed:  2,
			wantRejected: 0,
		},
		{
			name: "all allowed when empty filter",
			calls: []ToolCall{
				{ID: "c1", Name: "execute_code_in_daytona"},
			},
			allowedTools: []string{},
			wantAllowed:  1,
			wantRejected: 0,
		},
		{
			name: "some rejected",
			calls: []ToolCall{
				{ID: "c1", Name: "read_file_from_daytona"},
				{ID: "c2", Name: "execute_command_in_daytona"},
				{ID: "c3", Name: "upload_file_to_daytona"},
			},
			allowedTools: []string{"read_file_from_daytona", "upload_file_to_daytona"},
			wantAllowed:  2,
			wantRejected: 1,
		},
		{
			name: "all rejected",
			calls: []ToolCall{
				{ID: "c1", Name: "execute_command_in_daytona"},
				{ID: "c2", Name: "start_long_running_command_daytona"},
			},
			allowedTools: []string{"read_file_from_daytona"},
			wantAllowed:  0,
			wantRejected: 2,
		},
		{
			name:         "empty calls",
			calls:        []ToolCall{},
			allowedTools: []string{"read_file_from_daytona"},
			wantAllowed:  0,
			wantRejected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FilterAllowedTools(tt.calls, tt.allowedTools)

			if len(result.Allowed) != tt.wantAllowed {
				t.Errorf("allowed count = %d, want %d", len(result.Allowed), tt.wantAllowed)
			}
			if len(result.Rejected) != tt.wantRejected {
				t.Errorf("rejected count = %d, want %d", len(result.Rejected), tt.wantRejected)
			}

			for _, r := range result.Rejected {
				if !r.IsError {
					t.Errorf("rejected result for %q should have IsError=true", r.CallID)
				}
				var body map[string]any
				if err := json.Unmarshal([]byte(r.Output), &body); err != nil {
					t.Fatalf("rejected output is not JSON: %v", err)
				}
				if body["error_type"] != string(KindValidation) {
					t.Errorf("error_type = %v, want %s", body["error_type"], KindValidation)
				}
			}
		})
	}
}

func TestFilterDefinitions(t *testing.T) {
	defs := []ToolDefinition{
		{Name: "execute_code_in_daytona"},
		{Name: "read_file_from_daytona"},
		{Name: "upload_file_to_daytona"},
	}

	if got := FilterDefinitions(defs, nil); len(got) != 3 {
		t.Errorf("no filter: got %d definitions, want 3", len(got))
	}

	got := FilterDefinitions(defs, []string{"read_file_from_daytona", "unknown"})
	if len(got) != 1 || got[0].Name != "read_file_from_daytona" {
		t.Errorf("filtered = %+v", got)
	}
}
