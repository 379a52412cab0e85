// Package process binds handler references to external commands, so tools can
// be implemented in any language.
//
// A command receives its arguments twice: as TOOLGATE_ARG_<NAME> environment
// variables and as a JSON request on stdin. It answers on stdout with either a
// full response envelope (an object with an "ok" key), any other JSON value, or
// plain text. Exit status 75 (EX_TEMPFAIL) reports a transient failure and 69
// (EX_UNAVAILABLE) an unavailable upstream; other non-zero statuses are internal errors.
package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aretw0/toolgate/internal/logging"
	"github.com/aretw0/toolgate/pkg/domain"
)

const (
	exitTempFail    = 75
	exitUnavailable = 69

	waitDelay = 500 * time.Millisecond
)

// Request is written to the command's stdin.
type Request struct {
	ToolID       string              `json:"toolId"`
	Args         map[string]any      `json:"args"`
	Turn         int                 `json:"turn"`
	Capabilities domain.Capabilities `json:"capabilities,omitempty"`
}

// Runner resolves handler references to registered commands.
// Only registered commands run: references are an allow-list.
type Runner struct {
	registry map[string]HandlerConfig
	baseDir  string
	logger   *slog.Logger
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithRegistry populates the allow-list from a loaded config.
func WithRegistry(handlers map[string]HandlerConfig) RunnerOption {
	return func(r *Runner) {
		for ref, h := range handlers {
			h.Ref = ref
			r.registry[ref] = h
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// WithLogger configures a logger for the Runner.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a new Process Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: make(map[string]HandlerConfig),
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list.
func (r *Runner) Register(ref string, command string, args ...string) {
	r.registry[ref] = HandlerConfig{Ref: ref, Command: command, Args: args}
}

// Resolve implements registry.Resolver.
func (r *Runner) Resolve(ref string) (domain.Handler, error) {
	h, ok := r.registry[ref]
	if !ok {
		return nil, fmt.Errorf("%w: no process registered for %q", domain.ErrHandlerUnresolved, ref)
	}
	command, err := r.command(h.Command)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrHandlerUnresolved, ref, err)
	}
	h.Command = command
	return func(ctx context.Context, ec *domain.ExecContext) (*domain.ToolResponse, error) {
		return r.run(ctx, h, ec)
	}, nil
}

// command resolves a path-like command against the base directory, so a
// handlers file can name scripts next to itself. Bare names use PATH.
func (r *Runner) command(name string) (string, error) {
	if r.baseDir != "" && !filepath.IsAbs(name) && strings.ContainsRune(name, filepath.Separator) {
		abs, err := filepath.Abs(filepath.Join(r.baseDir, name))
		if err != nil {
			return "", err
		}
		name = abs
	}
	return exec.LookPath(name)
}

func (r *Runner) run(ctx context.Context, h HandlerConfig, ec *domain.ExecContext) (*domain.ToolResponse, error) {
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	stdin, err := json.Marshal(Request{
		ToolID:       ec.Tool.ToolID,
		Args:         ec.Args,
		Turn:         ec.Turn,
		Capabilities: ec.Capabilities,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	cmd := exec.CommandContext(ctx, h.Command, h.Args...)
	cmd.Dir = r.baseDir
	cmd.Env = append(cmd.Environ(), environment(h, ec.Args)...)
	cmd.Stdin = bytes.NewReader(stdin)
	// grandchildren holding stdout must not outlive a cancelled call
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && h.Timeout > 0 {
				return nil, domain.Transient("%s timed out after %s", h.Ref, h.Timeout)
			}
			return nil, ctx.Err()
		}
		return nil, exitError(h.Ref, err, strings.TrimSpace(stderr.String()))
	}

	r.logger.Debug("Process handler finished", "ref", h.Ref, "bytes", stdout.Len())
	return parseOutput(stdout.Bytes())
}

// environment renders arguments as TOOLGATE_ARG_* variables. Keys are
// upper-cased; objects and arrays are JSON encoded.
func environment(h HandlerConfig, args map[string]any) []string {
	env := make([]string, 0, len(h.Environment)+len(args))
	for k, v := range h.Environment {
		env = append(env, k+"="+v)
	}
	for k, v := range args {
		var val string
		switch v.(type) {
		case string, int, int64, float64, bool, json.Number:
			val = fmt.Sprintf("%v", v)
		case nil:
			val = ""
		default:
			if raw, err := json.Marshal(v); err == nil {
				val = string(raw)
			} else {
				val = fmt.Sprintf("%v", v)
			}
		}
		env = append(env, fmt.Sprintf("TOOLGATE_ARG_%s=%s", strings.ToUpper(k), val))
	}
	return env
}

func exitError(ref string, err error, stderr string) error {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("failed to start %s: %w", ref, err)
	}
	msg := stderr
	if msg == "" {
		msg = exitErr.Error()
	}
	switch exitErr.ExitCode() {
	case exitTempFail:
		return domain.Transient("%s", msg)
	case exitUnavailable:
		return domain.Unavailable("%s", msg)
	default:
		return fmt.Errorf("%s exited with status %d: %s", ref, exitErr.ExitCode(), msg)
	}
}

// parseOutput turns stdout into a response. An object carrying "ok" is taken
// as a full envelope; other JSON is the payload; anything else is text.
func parseOutput(out []byte) (*domain.ToolResponse, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return domain.Success(nil), nil
	}

	if trimmed[0] == '{' {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err == nil {
			if _, envelope := probe["ok"]; envelope {
				var resp domain.ToolResponse
				if err := json.Unmarshal(trimmed, &resp); err != nil {
					return nil, fmt.Errorf("failed to decode response envelope: %w", err)
				}
				if !resp.OK && resp.Error != nil {
					return nil, resp.Error
				}
				return &resp, nil
			}
		}
	}

	if trimmed[0] == '{' || trimmed[0] == '[' {
		var data any
		if err := json.Unmarshal(trimmed, &data); err == nil {
			return domain.Success(data), nil
		}
	}
	return domain.Success(string(trimmed)), nil
}
