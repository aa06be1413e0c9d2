package daytona

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"
)

// tsCompilerOptions lets ts-node run a lone script without a tsconfig.
const tsCompilerOptions = `{"module":"commonjs","moduleResolution":"node"}`

var envNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidEnvName reports whether name can be exported by a POSIX shell.
func ValidEnvName(name string) bool {
	return envNamePattern.MatchString(name)
}

// ShellCommand wraps command so that it runs under sh with env exported.
// Command and values travel base64-encoded, so no quoting of user input
// reaches the remote shell. Env keys must satisfy ValidEnvName.
func ShellCommand(command string, env map[string]string) string {
	inner := fmt.Sprintf("echo '%s' | base64 -d | sh", b64(command))

	if len(env) > 0 {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		exports := make([]string, 0, len(keys))
		for _, k := range keys {
			exports = append(exports, fmt.Sprintf("export %s=$(echo '%s' | base64 -d)", k, b64(env[k])))
		}
		inner = strings.Join(exports, ";") + "; " + inner
	}

	return fmt.Sprintf(`sh -c "%s"`, inner)
}

// PythonCommand runs Python source through python3 with argv appended as
// sys.argv[1:].
func PythonCommand(code string, argv []string) string {
	cmd := fmt.Sprintf(`python3 -u -c "exec(__import__('base64').b64decode('%s').decode())"`, b64(code))
	return withArgs(cmd, argv)
}

// NodeCommand runs a JavaScript file already present in the sandbox.
func NodeCommand(scriptPath string, argv []string) string {
	return withArgs("node "+shellquote.Join(scriptPath), argv)
}

// TypeScriptCommand runs a TypeScript file already present in the sandbox
// through ts-node, without type checking.
func TypeScriptCommand(scriptPath string, argv []string) string {
	cmd := "ts-node --transpile-only --skipProject --compilerOptions '" +
		tsCompilerOptions + "' " + shellquote.Join(scriptPath)
	return withArgs(cmd, argv)
}

func withArgs(cmd string, argv []string) string {
	if len(argv) == 0 {
		return cmd
	}
	return cmd + " " + shellquote.Join(argv...)
}

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}
