package graph

import (
	"errors"
	"fmt"
	"strings"
)

// GraphValidationError reports every violation found while compiling a
// graph, not just the first one.
type GraphValidationError struct {
	Violations []string
}

// Error implements the error interface.
func (e *GraphValidationError) Error() string {
	return fmt.Sprintf("graph validation failed: %s", strings.Join(e.Violations, "; "))
}

// DispatchContractViolation is a programming error: a conditional edge
// returned a result outside its declared candidate set, or no result at
// all. It is fatal to the run and never silently recovered.
type DispatchContractViolation struct {
	Node   string
	Result string
	Reason string
}

// Error implements the error interface.
func (e *DispatchContractViolation) Error() string {
	return fmt.Sprintf("dispatch contract violation at node %s: %s (result %q)", e.Node, e.Reason, e.Result)
}

// NodeExecutionError wraps an uncaught failure from a node executor. Node
// level failures that should be routable (retry vs terminal) are encoded
// into state by the node itself instead of returning an error.
type NodeExecutionError struct {
	Node string
	Err  error
}

// Error implements the error interface.
func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s execution failed: %v", e.Node, e.Err)
}

// Unwrap returns the underlying error.
func (e *NodeExecutionError) Unwrap() error { return e.Err }

// AsDispatchViolation extracts a DispatchContractViolation from err.
func AsDispatchViolation(err error) (*DispatchContractViolation, bool) {
	var v *DispatchContractViolation
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
