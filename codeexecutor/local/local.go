// Package local runs analysis scripts as local child processes. It is
// intended for development and tests; production deployments should prefer
// the container backend.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/wsdl-king/DataAgent/codeexecutor"
	"github.com/wsdl-king/DataAgent/log"
)

// Executor runs scripts with the local python3/bash interpreters.
type Executor struct {
	workDir string
	timeout time.Duration
	keep    bool
}

// Option configures the Executor.
type Option func(*Executor)

// WithWorkDir sets a fixed working directory instead of per-run temp dirs.
func WithWorkDir(dir string) Option {
	return func(e *Executor) { e.workDir = dir }
}

// WithTimeout bounds a single script execution.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithKeepFiles disables scratch dir cleanup, useful when debugging
// generated scripts.
func WithKeepFiles(keep bool) Option {
	return func(e *Executor) { e.keep = keep }
}

// New creates a local Executor.
func New(opts ...Option) *Executor {
	e := &Executor{timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements codeexecutor.Executor.
func (e *Executor) Execute(ctx context.Context, spec codeexecutor.Execution) (codeexecutor.Result, error) {
	dir, cleanup, err := e.scratchDir(spec.ExecutionID)
	if err != nil {
		return codeexecutor.Result{}, err
	}
	defer cleanup()

	name, args, err := command(spec.Language)
	if err != nil {
		return codeexecutor.Result{}, err
	}
	script := filepath.Join(dir, "script"+scriptExt(spec.Language))
	if err := os.WriteFile(script, []byte(spec.Script), 0o600); err != nil {
		return codeexecutor.Result{}, fmt.Errorf("write script: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, append(args, script)...)
	cmd.Dir = dir
	cmd.Stdin = bytes.NewReader([]byte(spec.Input))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debugf("local executor: running %s script for execution %s", spec.Language, spec.ExecutionID)
	err = cmd.Run()
	result := codeexecutor.Result{
		Output: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("run script: %w", err)
	}
	return result, nil
}

func (e *Executor) scratchDir(executionID string) (string, func(), error) {
	if e.workDir != "" {
		if err := os.MkdirAll(e.workDir, 0o755); err != nil {
			return "", nil, fmt.Errorf("create work directory: %w", err)
		}
		return e.workDir, func() {}, nil
	}
	dir, err := os.MkdirTemp("", "dataagent_"+executionID)
	if err != nil {
		return "", nil, fmt.Errorf("create temp directory: %w", err)
	}
	cleanup := func() {
		if !e.keep {
			os.RemoveAll(dir)
		}
	}
	return dir, cleanup, nil
}

func command(language string) (string, []string, error) {
	switch language {
	case codeexecutor.LanguagePython, "":
		return "python3", nil, nil
	case codeexecutor.LanguageBash:
		return "bash", nil, nil
	default:
		return "", nil, fmt.Errorf("unsupported language: %s", language)
	}
}

func scriptExt(language string) string {
	if language == codeexecutor.LanguageBash {
		return ".sh"
	}
	return ".py"
}
