package daytona

import (
	"encoding/base64"
	"regexp"
	"strings"
	"testing"
)

func TestShellCommand(t *testing.T) {
	cmd := ShellCommand("echo hello", nil)
	want := `sh -c "echo '` + base64.StdEncoding.EncodeToString([]byte("echo hello")) + `' | base64 -d | sh"`
	if cmd != want {
		t.Errorf("ShellCommand = %q, want %q", cmd, want)
	}
}

func TestShellCommand_EnvSortedAndEncoded(t *testing.T) {
	cmd := ShellCommand("env", map[string]string{"B": "two words", "A": "it's"})

	a := "export A=$(echo '" + base64.StdEncoding.EncodeToString([]byte("it's")) + "' | base64 -d)"
	b := "export B=$(echo '" + base64.StdEncoding.EncodeToString([]byte("two words")) + "' | base64 -d)"

	ia, ib := strings.Index(cmd, a), strings.Index(cmd, b)
	if ia < 0 || ib < 0 {
		t.Fatalf("exports missing from %q", cmd)
	}
	if ia > ib {
		t.Errorf("exports should be sorted by key: %q", cmd)
	}
	if strings.Contains(cmd, "it's") {
		t.Errorf("raw env value leaked into command: %q", cmd)
	}
}

func TestPythonCommand(t *testing.T) {
	code := "import sys\nprint(sys.argv[1:])"
	cmd := PythonCommand(code, []string{"a b", "c"})

	re := regexp.MustCompile(`b64decode\('([A-Za-z0-9+/=]+)'\)`)
	m := re.FindStringSubmatch(cmd)
	if m == nil {
		t.Fatalf("no base64 payload in %q", cmd)
	}
	decoded, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if string(decoded) != code {
		t.Errorf("payload = %q, want %q", decoded, code)
	}
	if !strings.HasPrefix(cmd, "python3 -u -c ") {
		t.Errorf("unexpected prefix: %q", cmd)
	}
	if !strings.HasSuffix(cmd, ` 'a b' c`) {
		t.Errorf("argv not quoted: %q", cmd)
	}
}

func TestNodeAndTypeScriptCommand(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"node no args", NodeCommand("/tmp/script_1.js", nil), "node /tmp/script_1.js"},
		{"node with args", NodeCommand("/tmp/script_1.js", []string{"x", "y z"}), "node /tmp/script_1.js x 'y z'"},
		{
			"ts-node",
			TypeScriptCommand("/tmp/script_1.ts", []string{"1"}),
			`ts-node --transpile-only --skipProject --compilerOptions '{"module":"commonjs","moduleResolution":"node"}' /tmp/script_1.ts 1`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestValidEnvName(t *testing.T) {
	for name, want := range map[string]bool{
		"PATH":     true,
		"_private": true,
		"A1":       true,
		"1A":       false,
		"A-B":      false,
		"A B":      false,
		"":         false,
		"X;rm":     false,
	} {
		if got := ValidEnvName(name); got != want {
			t.Errorf("ValidEnvName(%q) = %v, want %v", name, got, want)
		}
	}
}
