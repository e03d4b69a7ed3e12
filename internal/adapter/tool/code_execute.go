package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"maestro/internal/domain"
)

const (
	defaultCodeTimeout   = 10 * time.Second
	defaultCodeMaxOutput = 10000
)

// forbiddenModules are Python modules the sandbox refuses to import. They
// cover process control, filesystem, networking and serialization escapes.
var forbiddenModules = map[string]bool{
	"os": true, "subprocess": true, "sys": true, "shutil": true, "pathlib": true,
	"socket": true, "requests": true, "urllib": true, "http": true,
	"multiprocessing": true, "threading": true, "ctypes": true,
	"pickle": true, "marshal": true, "shelve": true,
	"importlib": true,
}

var (
	importRe  = regexp.MustCompile(`(?m)^[ \t]*import[ \t]+(.+)$`)
	fromRe    = regexp.MustCompile(`(?m)^[ \t]*from[ \t]+([A-Za-z_][\w.]*)`)
	builtinRe = regexp.MustCompile(`\b(exec|eval|compile|open|input|__import__|breakpoint|exit|quit)[ \t]*\(`)
)

// CodeExecuteTool runs Python snippets in an interpreter subprocess. Code is
// screened for forbidden imports and builtins before it runs, execution is
// bounded by a deadline, and captured output is capped.
type CodeExecuteTool struct {
	command   []string
	timeout   time.Duration
	maxOutput int
	logger    *slog.Logger
}

// NewCodeExecuteTool creates a code execution tool. Zero timeout and
// maxOutput select the defaults (10s, 10000 bytes).
func NewCodeExecuteTool(timeout time.Duration, maxOutput int, logger *slog.Logger) *CodeExecuteTool {
	if timeout <= 0 {
		timeout = defaultCodeTimeout
	}
	if maxOutput <= 0 {
		maxOutput = defaultCodeMaxOutput
	}
	return &CodeExecuteTool{
		command:   []string{"python3", "-I", "-c"},
		timeout:   timeout,
		maxOutput: maxOutput,
		logger:    logger,
	}
}

func (t *CodeExecuteTool) Name() string { return "code_execute" }
func (t *CodeExecuteTool) Description() string {
	return "Execute Python code in a sandboxed environment"
}

func (t *CodeExecuteTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"code": {"type": "string", "description": "Python code to execute"}
			},
			"required": ["code"],
			"additionalProperties": false
		}`),
	}
}

type codeExecuteParams struct {
	Code string `json:"code"`
}

func (t *CodeExecuteTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.code_execute", t.logger, params,
		func(ctx context.Context, span trace.Span, p codeExecuteParams) (any, error) {
			if err := RequireField("code", p.Code); err != nil {
				return nil, err
			}
			if err := screenCode(p.Code); err != nil {
				return nil, err
			}

			runCtx, cancel := context.WithTimeout(ctx, t.timeout)
			defer cancel()

			args := make([]string, 0, len(t.command))
			args = append(args, t.command[1:]...)
			args = append(args, p.Code)
			cmd := exec.CommandContext(runCtx, t.command[0], args...)

			var stdout, stderr bytes.Buffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			runErr := cmd.Run()
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				t.logger.Warn("code execution timed out", "timeout", t.timeout)
				return nil, fmt.Errorf("code execution timed out after %s", t.timeout)
			}

			out := truncateOutput(stdout.String(), t.maxOutput)
			errOut := truncateOutput(stderr.String(), t.maxOutput)
			if runErr != nil && errOut == "" {
				errOut = runErr.Error()
			}

			var parts []string
			if out != "" {
				parts = append(parts, "Output:\n"+out)
			}
			if errOut != "" {
				parts = append(parts, "Errors:\n"+errOut)
			}
			if len(parts) == 0 {
				return TextResult("Code executed successfully with no output."), nil
			}

			t.logger.Debug("code executed", "stdout", len(out), "stderr", len(errOut))
			if errOut != "" {
				return &domain.ToolResult{IsError: true, Content: strings.Join(parts, "\n\n")}, nil
			}
			return TextResult(strings.Join(parts, "\n\n")), nil
		},
	)
}

// screenCode rejects code that imports a forbidden module or calls a
// forbidden builtin. The scan is textual, so a module name inside a string
// literal is rejected too; over-blocking is the safe direction here.
func screenCode(code string) error {
	for _, m := range importRe.FindAllStringSubmatch(code, -1) {
		for _, part := range strings.Split(m[1], ",") {
			module := moduleRoot(part)
			if forbiddenModules[module] {
				return fmt.Errorf("import of %q is not allowed", module)
			}
		}
	}
	for _, m := range fromRe.FindAllStringSubmatch(code, -1) {
		module := moduleRoot(m[1])
		if forbiddenModules[module] {
			return fmt.Errorf("import from %q is not allowed", module)
		}
	}
	if m := builtinRe.FindStringSubmatch(code); m != nil {
		return fmt.Errorf("use of %q is not allowed", m[1])
	}
	return nil
}

// moduleRoot extracts the top-level module from an import clause fragment,
// handling dotted paths and "as" aliases.
func moduleRoot(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if i := strings.IndexAny(fragment, " \t"); i >= 0 {
		fragment = fragment[:i]
	}
	if i := strings.Index(fragment, "."); i >= 0 {
		fragment = fragment[:i]
	}
	return fragment
}

func truncateOutput(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
