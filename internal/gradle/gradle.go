// Package gradle runs Gradle tasks for a project directory through a
// connect, run, close sequence, capturing the build's output.
package gradle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// TasksTask is Gradle's built-in task that lists runnable tasks.
const TasksTask = ":tasks"

// ErrIllegalState means Gradle cannot be run for the project at all:
// missing directory, no wrapper or executable, or a closed connection.
var ErrIllegalState = errors.New("gradle is not usable for this project")

// Request describes one Gradle invocation.
type Request struct {
	Tasks  []string
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

// Connection is an open handle on a project's Gradle build.
type Connection interface {
	Run(ctx context.Context, req *Request) error
	Close() error
}

// Connector opens connections to Gradle for a project directory.
type Connector interface {
	Connect(ctx context.Context, projectDir string) (Connection, error)
}

// ConnectionError reports a Gradle invocation that started but did not
// complete successfully.
type ConnectionError struct {
	Tasks    []string
	ExitCode int
	Err      error
	// Stderr holds the tail of the build's error stream.
	Stderr string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("gradle %s failed: %v", strings.Join(e.Tasks, " "), e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Diagnostic returns the full failure text: the error chain followed by the
// captured error stream.
func (e *ConnectionError) Diagnostic() string {
	var b strings.Builder
	b.WriteString(e.Error())
	for err := errors.Unwrap(e.Err); err != nil; err = errors.Unwrap(err) {
		b.WriteString("\nCaused by: ")
		b.WriteString(err.Error())
	}
	if e.Stderr != "" {
		b.WriteString("\n")
		b.WriteString(e.Stderr)
	}
	return b.String()
}

// ExecConnector runs Gradle as a child process.
type ExecConnector struct {
	// UseWrapper prefers the project's gradlew script over gradle on PATH.
	UseWrapper bool
	// Env is appended to the inherited environment of every invocation.
	Env []string
}

// NewConnector returns an ExecConnector that prefers the Gradle wrapper.
func NewConnector() *ExecConnector {
	return &ExecConnector{UseWrapper: true}
}

// Connect resolves the Gradle executable for projectDir.
func (c *ExecConnector) Connect(_ context.Context, projectDir string) (Connection, error) {
	info, err := os.Stat(projectDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: project directory %s does not exist", ErrIllegalState, projectDir)
	}

	bin, err := c.Resolve(projectDir)
	if err != nil {
		return nil, err
	}

	return &execConnection{dir: projectDir, bin: bin, env: c.Env}, nil
}

// Resolve returns the Gradle executable used for projectDir: the wrapper when
// UseWrapper is set and one exists, otherwise gradle on PATH.
func (c *ExecConnector) Resolve(projectDir string) (string, error) {
	if c.UseWrapper {
		wrapper := filepath.Join(projectDir, wrapperName())
		if _, err := os.Stat(wrapper); err == nil {
			return wrapper, nil
		}
	}

	if path, err := exec.LookPath("gradle"); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("%w: no %s in %s and gradle not found in PATH", ErrIllegalState, wrapperName(), projectDir)
}

func wrapperName() string {
	if runtime.GOOS == "windows" {
		return "gradlew.bat"
	}
	return "gradlew"
}

type execConnection struct {
	dir string
	bin string
	env []string

	mu     sync.Mutex
	closed bool
}

// stderrTailSize bounds how much of the error stream is kept for diagnostics.
const stderrTailSize = 64 * 1024

func (c *execConnection) Run(ctx context.Context, req *Request) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: connection closed", ErrIllegalState)
	}
	if len(req.Tasks) == 0 {
		return fmt.Errorf("%w: no tasks requested", ErrIllegalState)
	}

	args := []string{"--console=plain"}
	args = append(args, req.Args...)
	args = append(args, req.Tasks...)

	cmd := exec.CommandContext(ctx, c.bin, args...)
	cmd.Dir = c.dir
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}

	tail := &tailBuffer{max: stderrTailSize}
	cmd.Stdout = orDiscard(req.Stdout)
	cmd.Stderr = io.MultiWriter(orDiscard(req.Stderr), tail)

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("gradle %s: %w", strings.Join(req.Tasks, " "), ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ConnectionError{
			Tasks:    req.Tasks,
			ExitCode: exitErr.ExitCode(),
			Err:      err,
			Stderr:   tail.String(),
		}
	}
	// The process never started: bad executable or permissions.
	return fmt.Errorf("%w: start %s: %v", ErrIllegalState, c.bin, err)
}

func (c *execConnection) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

// SharedWriter serializes writes to w so stdout and stderr can feed one buffer.
func SharedWriter(w io.Writer) io.Writer {
	return &lockedWriter{w: w}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return string(t.buf) }
