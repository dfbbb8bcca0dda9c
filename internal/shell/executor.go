package shell

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/banshee-data/aurora.cubes/internal/fsutil"
)

// Logger defines the interface for debug logging.
type Logger interface {
	Debugf(format string, args ...interface{})
}

// nopLogger is a no-op logger implementation.
type nopLogger struct{}

func (n nopLogger) Debugf(format string, args ...interface{}) {}

// globPattern restricts remote removal patterns to filename-safe characters
// plus '*', since they are expanded unquoted by the remote shell.
var globPattern = regexp.MustCompile(`^[A-Za-z0-9._*-]+$`)

// Executor runs commands inside a working directory on a local or remote
// target.
type Executor struct {
	Target  string
	SSHUser string
	SSHKey  string
	// Dir is the working directory on the target. Relative paths given to
	// WriteFile are resolved against it.
	Dir     string
	DryRun  bool
	// Stream, when set, receives command output as it is produced.
	Stream  io.Writer
	Logger  Logger
	Builder Builder
	FS      fsutil.FileSystem
}

// NewExecutor creates a new command executor.
func NewExecutor(target, sshUser, sshKey, dir string, dryRun bool) *Executor {
	return &Executor{
		Target:  target,
		SSHUser: sshUser,
		SSHKey:  sshKey,
		Dir:     dir,
		DryRun:  dryRun,
		Logger:  nopLogger{},
		Builder: ExecBuilder{},
		FS:      fsutil.OSFileSystem{},
	}
}

// SetLogger sets the debug logger for the executor.
func (e *Executor) SetLogger(logger Logger) {
	if logger != nil {
		e.Logger = logger
	}
}

// IsLocal returns true if target is localhost.
func (e *Executor) IsLocal() bool {
	return e.Target == "localhost" || e.Target == "127.0.0.1" || e.Target == ""
}

// Run executes name with args in the working directory and returns the
// combined output. A failing command returns its output alongside the error.
func (e *Executor) Run(ctx context.Context, name string, args ...string) (string, error) {
	commandLine := joinCommand(name, args)
	if e.DryRun {
		return fmt.Sprintf("[DRY-RUN] Would execute: %s", commandLine), nil
	}

	e.Logger.Debugf("Executing: %s (target=%s, dir=%s)", commandLine, e.Target, e.Dir)

	var cmd Cmd
	if e.IsLocal() {
		cmd = e.Builder.Build(ctx, name, args...)
		cmd.SetDir(e.Dir)
	} else {
		cmd = e.sshCommand(ctx, e.remoteCommand(commandLine))
	}
	if e.Stream != nil {
		cmd.Tee(e.Stream)
	}

	output, err := cmd.Run()
	if err != nil {
		e.Logger.Debugf("Command failed: %v, output: %s", err, output)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return string(output), fmt.Errorf("%s interrupted: %w", name, ctxErr)
		}
		return string(output), fmt.Errorf("%s failed: %w", name, err)
	}
	return string(output), nil
}

// WriteFile writes content to a file on the target, creating parent
// directories.
func (e *Executor) WriteFile(ctx context.Context, name string, content []byte) error {
	target := e.resolve(name)
	if e.DryRun {
		e.Logger.Debugf("[DRY-RUN] Would write %d bytes to %s", len(content), target)
		return nil
	}

	if e.IsLocal() {
		if err := e.FS.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", filepath.Dir(target), err)
		}
		return e.FS.WriteFile(target, content, 0644)
	}

	cmd := e.sshCommand(ctx, fmt.Sprintf("mkdir -p %s && cat > %s", shellQuote(path.Dir(target)), shellQuote(target)))
	cmd.SetStdin(content)
	if output, err := cmd.Run(); err != nil {
		return fmt.Errorf("ssh write failed: %w, output: %s", err, output)
	}
	return nil
}

// RemoveMatching removes files and directories in the working directory
// matching the glob patterns and returns the removed paths.
func (e *Executor) RemoveMatching(ctx context.Context, patterns ...string) ([]string, error) {
	if e.IsLocal() {
		if e.DryRun {
			var matches []string
			for _, p := range patterns {
				found, err := e.FS.Glob(filepath.Join(e.Dir, p))
				if err != nil {
					return nil, err
				}
				matches = append(matches, found...)
			}
			e.Logger.Debugf("[DRY-RUN] Would remove %v", matches)
			return nil, nil
		}
		return fsutil.DirCleaner{FS: e.FS, Dir: e.Dir}.RemoveMatching(ctx, patterns...)
	}

	for _, p := range patterns {
		if !globPattern.MatchString(p) {
			return nil, fmt.Errorf("refusing remote removal pattern %q", p)
		}
	}
	if e.DryRun {
		e.Logger.Debugf("[DRY-RUN] Would remove %v on %s", patterns, e.Target)
		return nil, nil
	}

	script := fmt.Sprintf(`for f in %s; do if [ -e "$f" ]; then rm -rf -- "$f" && echo "$f"; fi; done`, strings.Join(patterns, " "))
	output, err := e.sshCommand(ctx, e.remoteCommand(script)).Run()
	if err != nil {
		return nil, fmt.Errorf("remote removal failed: %w, output: %s", err, output)
	}

	var removed []string
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		if line != "" {
			removed = append(removed, path.Join(e.Dir, line))
		}
	}
	return removed, nil
}

func (e *Executor) resolve(name string) string {
	if e.IsLocal() {
		if filepath.IsAbs(name) || e.Dir == "" {
			return name
		}
		return filepath.Join(e.Dir, name)
	}
	if path.IsAbs(name) || e.Dir == "" {
		return name
	}
	return path.Join(e.Dir, name)
}

// remoteCommand prefixes command with a cd into the working directory.
func (e *Executor) remoteCommand(command string) string {
	if e.Dir == "" {
		return command
	}
	return fmt.Sprintf("cd %s && %s", shellQuote(e.Dir), command)
}

func (e *Executor) sshCommand(ctx context.Context, command string) Cmd {
	args := []string{"-o", "BatchMode=yes"}
	if e.SSHKey != "" {
		args = append(args, "-i", e.SSHKey)
	}

	target := e.Target
	if e.SSHUser != "" && !strings.Contains(target, "@") {
		target = fmt.Sprintf("%s@%s", e.SSHUser, target)
	}
	args = append(args, target, command)

	e.Logger.Debugf("SSH command: ssh %v", args)
	return e.Builder.Build(ctx, "ssh", args...)
}

func joinCommand(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(name))
	for _, a := range args {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

// shellQuote single-quotes s unless it consists only of characters the
// POSIX shell treats literally.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			strings.ContainsRune("@%+=:,./-_", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
