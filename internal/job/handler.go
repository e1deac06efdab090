package job

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Handler performs the actual work of a job.
//
// Execute returns an error only when the handler could not run at all;
// a run that happened but failed is reported through Result.Success so
// the executor can apply retry policy.
type Handler interface {
	Execute() (Result, error)
	Type() string
}

// Describer is implemented by handlers with a display description.
type Describer interface {
	Description() string
}

// DescriptionOf returns the handler's description, falling back to its
// type name.
func DescriptionOf(h Handler) string {
	if d, ok := h.(Describer); ok {
		return d.Description()
	}
	return h.Type()
}

// DurationEstimator is implemented by handlers that can estimate their
// run time.
type DurationEstimator interface {
	EstimatedDuration() time.Duration
}

// EstimatedDurationOf returns the handler's estimate; ok is false when
// the handler has none.
func EstimatedDurationOf(h Handler) (time.Duration, bool) {
	if e, ok := h.(DurationEstimator); ok {
		if d := e.EstimatedDuration(); d > 0 {
			return d, true
		}
	}
	return 0, false
}

// IsSerializable reports whether the handler can round-trip through a
// HandlerSpec.
func IsSerializable(h Handler) bool {
	_, err := SpecFor(h)
	return err == nil
}

// CommandHandler runs a shell command and captures its output.
type CommandHandler struct {
	Command string        `json:"command"`
	Argv    []string      `json:"args,omitempty"`
	Dir     string        `json:"dir,omitempty"`
	Env     []string      `json:"env,omitempty"` // KEY=VALUE, appended to the process env
	Limit   time.Duration `json:"timeout,omitempty"`
}

// NewCommand returns a handler for the given command with a 5 minute
// timeout.
func NewCommand(command string) *CommandHandler {
	return &CommandHandler{Command: command, Limit: 5 * time.Minute}
}

// Args appends arguments.
func (h *CommandHandler) Args(args ...string) *CommandHandler {
	h.Argv = append(h.Argv, args...)
	return h
}

// InDir sets the working directory.
func (h *CommandHandler) InDir(dir string) *CommandHandler {
	h.Dir = dir
	return h
}

// WithEnv adds an environment variable.
func (h *CommandHandler) WithEnv(key, value string) *CommandHandler {
	h.Env = append(h.Env, key+"="+value)
	return h
}

// WithTimeout sets the execution deadline; zero disables it.
func (h *CommandHandler) WithTimeout(d time.Duration) *CommandHandler {
	h.Limit = d
	return h
}

// CommandLine returns the full command line for display.
func (h *CommandHandler) CommandLine() string {
	if len(h.Argv) == 0 {
		return h.Command
	}
	return h.Command + " " + strings.Join(h.Argv, " ")
}

// Execute runs the command through the shell. A nonzero exit is a
// failed Result, not an error; errors mean the command never ran.
func (h *CommandHandler) Execute() (Result, error) {
	start := time.Now()

	ctx := context.Background()
	if h.Limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Limit)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", h.CommandLine())
	if h.Dir != "" {
		cmd.Dir = h.Dir
	}
	if len(h.Env) > 0 {
		cmd.Env = append(os.Environ(), h.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	if err == nil {
		code := 0
		res.Success = true
		res.ExitCode = &code
		return res, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		res.ExitCode = &code
		return res, nil
	}
	return Result{}, fmt.Errorf("run %q: %w", h.CommandLine(), err)
}

func (h *CommandHandler) Type() string { return "command" }

func (h *CommandHandler) Description() string { return "command: " + h.CommandLine() }

// FuncHandler wraps an in-process function. It cannot be persisted, so
// jobs using it must be re-registered after a restart.
type FuncHandler struct {
	fn          func() error
	description string
	estimate    time.Duration
}

// NewFunc wraps fn as a handler.
func NewFunc(fn func() error) *FuncHandler {
	return &FuncHandler{fn: fn, description: "func"}
}

// WithDescription sets the display description.
func (h *FuncHandler) WithDescription(desc string) *FuncHandler {
	h.description = desc
	return h
}

// WithEstimate sets the estimated run time.
func (h *FuncHandler) WithEstimate(d time.Duration) *FuncHandler {
	h.estimate = d
	return h
}

// Execute runs the function. An error from it is a failed Result, not
// an execution error.
func (h *FuncHandler) Execute() (Result, error) {
	start := time.Now()
	if err := h.fn(); err != nil {
		return FailureResult(err.Error()).WithDuration(time.Since(start)), nil
	}
	return SuccessResult().WithDuration(time.Since(start)), nil
}

func (h *FuncHandler) Type() string { return "func" }

func (h *FuncHandler) Description() string { return h.description }

func (h *FuncHandler) EstimatedDuration() time.Duration { return h.estimate }

// ChainHandler runs several handlers in sequence, stopping at the
// first failure unless configured to continue.
type ChainHandler struct {
	handlers          []Handler
	continueOnFailure bool
	description       string
}

// NewChain returns an empty chain.
func NewChain() *ChainHandler {
	return &ChainHandler{description: "chained"}
}

// Then appends a handler to the chain.
func (h *ChainHandler) Then(next Handler) *ChainHandler {
	h.handlers = append(h.handlers, next)
	return h
}

// ContinueOnFailure keeps executing after a failed step.
func (h *ChainHandler) ContinueOnFailure() *ChainHandler {
	h.continueOnFailure = true
	return h
}

// WithDescription sets the display description.
func (h *ChainHandler) WithDescription(desc string) *ChainHandler {
	h.description = desc
	return h
}

// Len returns the number of chained handlers.
func (h *ChainHandler) Len() int { return len(h.handlers) }

// Execute runs the chain. Outputs are joined with a separator line.
func (h *ChainHandler) Execute() (Result, error) {
	start := time.Now()
	var outputs []string
	allSuccess := true

	for _, step := range h.handlers {
		res, err := step.Execute()
		if err != nil {
			if !h.continueOnFailure {
				return Result{}, err
			}
			allSuccess = false
			outputs = append(outputs, "error: "+err.Error())
			continue
		}
		if !res.Success {
			allSuccess = false
			if !h.continueOnFailure {
				return res, nil
			}
		}
		if res.Stdout != "" {
			outputs = append(outputs, res.Stdout)
		}
	}

	res := SuccessResult()
	if !allSuccess {
		res = FailureResult("one or more handlers failed")
	}
	res.Stdout = strings.Join(outputs, "\n---\n")
	res.Duration = time.Since(start)
	return res, nil
}

func (h *ChainHandler) Type() string { return "chained" }

func (h *ChainHandler) Description() string {
	return fmt.Sprintf("%s (%d handlers)", h.description, len(h.handlers))
}

func (h *ChainHandler) EstimatedDuration() time.Duration {
	var total time.Duration
	for _, step := range h.handlers {
		if d, ok := EstimatedDurationOf(step); ok {
			total += d
		}
	}
	return total
}

// HandlerSpec is the persistable descriptor of a handler. Only command
// handlers can round-trip; in-process handlers have no spec.
type HandlerSpec struct {
	Type   string          `json:"type"`
	Config json.RawMessage `json:"config"`
}

// SpecFor builds a spec for a serializable handler.
func SpecFor(h Handler) (*HandlerSpec, error) {
	cmd, ok := h.(*CommandHandler)
	if !ok {
		return nil, fmt.Errorf("handler type %q is not serializable", h.Type())
	}
	cfg, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal handler config: %w", err)
	}
	return &HandlerSpec{Type: cmd.Type(), Config: cfg}, nil
}

// Build reconstructs the live handler from the spec.
func (s *HandlerSpec) Build() (Handler, error) {
	switch s.Type {
	case "command":
		var cmd CommandHandler
		if err := json.Unmarshal(s.Config, &cmd); err != nil {
			return nil, fmt.Errorf("unmarshal handler config: %w", err)
		}
		return &cmd, nil
	default:
		return nil, fmt.Errorf("unknown handler type: %s", s.Type)
	}
}
