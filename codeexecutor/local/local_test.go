package local

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsdl-king/DataAgent/codeexecutor"
)

func requireInterpreter(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func TestExecuteBashReadsStdin(t *testing.T) {
	requireInterpreter(t, "bash")
	e := New(WithTimeout(5 * time.Second))

	result, err := e.Execute(context.Background(), codeexecutor.Execution{
		Script:      "read line; echo \"got: $line\"",
		Language:    codeexecutor.LanguageBash,
		ExecutionID: "t1",
		Input:       "hello\n",
	})
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, "got: hello\n", result.Output)
}

func TestExecuteReportsNonZeroExit(t *testing.T) {
	requireInterpreter(t, "bash")
	e := New(WithTimeout(5 * time.Second))

	result, err := e.Execute(context.Background(), codeexecutor.Execution{
		Script:      "echo oops >&2; exit 3",
		Language:    codeexecutor.LanguageBash,
		ExecutionID: "t2",
	})
	// Controlled failure, not an error.
	require.NoError(t, err)
	assert.False(t, result.Succeeded())
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "oops\n", result.Stderr)
}

func TestExecuteRejectsUnknownLanguage(t *testing.T) {
	e := New()
	_, err := e.Execute(context.Background(), codeexecutor.Execution{
		Script:   "whatever",
		Language: "fortran",
	})
	require.Error(t, err)
}
