package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultAllowlist maps commands to their permitted subcommands.
var DefaultAllowlist = map[string][]string{
	"go":  {"test", "vet"},
	"git": {"diff", "status", "log"},
}

const shellOutputLimit = 4000

// Shell runs allowlisted local commands.
type Shell struct {
	workDir   string
	allowlist map[string][]string
	timeout   time.Duration
}

// NewShell creates the shell tool. A nil allowlist uses DefaultAllowlist.
func NewShell(workDir string, allowlist map[string][]string, timeout time.Duration) *Shell {
	if allowlist == nil {
		allowlist = DefaultAllowlist
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Shell{workDir: workDir, allowlist: allowlist, timeout: timeout}
}

func (s *Shell) Name() string { return "shell" }

func (s *Shell) Description() string {
	return "Run an allowlisted local command and return its exit code and output."
}

func (s *Shell) Args() string { return `{"command": "git status"}` }

// IsAllowed checks the command and its first argument against the allowlist.
func (s *Shell) IsAllowed(cmd string, args []string) bool {
	allowedSubcmds, ok := s.allowlist[cmd]
	if !ok || len(args) == 0 {
		return false
	}
	for _, allowed := range allowedSubcmds {
		if args[0] == allowed {
			return true
		}
	}
	return false
}

func (s *Shell) Execute(ctx context.Context, args map[string]any) (map[string]any, error) {
	fields := strings.Fields(StringArg(args, "command"))
	if len(fields) == 0 {
		return nil, errors.New("command is required")
	}
	cmd, rest := fields[0], fields[1:]
	if !s.IsAllowed(cmd, rest) {
		return nil, fmt.Errorf("command not allowed: %s", strings.Join(fields, " "))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	execCmd := exec.CommandContext(ctx, cmd, rest...)
	if s.workDir != "" {
		execCmd.Dir = s.workDir
	}
	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	exitCode := 0
	if err := execCmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("exec error: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return map[string]any{
		"exit_code": exitCode,
		"stdout":    truncate(stdout.String(), shellOutputLimit),
		"stderr":    truncate(stderr.String(), shellOutputLimit),
	}, nil
}
