// Package codeexecutor defines the boundary for running generated analysis
// scripts. The engine treats execution as an opaque external call; backends
// decide where the script actually runs.
package codeexecutor

import (
	"context"
	"regexp"
	"strings"
)

// Supported script languages.
const (
	LanguagePython = "python"
	LanguageBash   = "bash"
)

// Executor runs one generated analysis script.
// Implementations must be safe for concurrent use across runs.
type Executor interface {
	Execute(ctx context.Context, spec Execution) (Result, error)
}

// Execution describes one script run.
type Execution struct {
	// Script is the program text to run.
	Script string
	// Language selects the interpreter; defaults to python.
	Language string
	// ExecutionID correlates scratch dirs and containers with the run.
	ExecutionID string
	// Input is piped to the script on stdin, typically the SQL result the
	// script analyzes, as JSON.
	Input string
}

// Result is the outcome of a script run. A non-zero exit code is reported
// here rather than as an error so callers can route it as a controlled
// failure.
type Result struct {
	Output   string
	Stderr   string
	ExitCode int
}

// Succeeded reports whether the script exited cleanly.
func (r Result) Succeeded() bool { return r.ExitCode == 0 }

var fencePattern = regexp.MustCompile("(?s)```([^\\n]*)\\n(.*?)```")

// ExtractCode pulls the first fenced code block for the given language out
// of model output. When no fence matches it returns the trimmed input,
// since models frequently answer with bare code.
func ExtractCode(raw, language string) string {
	for _, match := range fencePattern.FindAllStringSubmatch(raw, -1) {
		lang := strings.TrimSpace(match[1])
		if lang == "" || strings.EqualFold(lang, language) {
			return strings.TrimSpace(match[2])
		}
	}
	return strings.TrimSpace(raw)
}
