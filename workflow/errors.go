package workflow

import (
	"fmt"

	"github.com/wsdl-king/DataAgent/event"
)

// StageError is raised by the failure terminal node when a stage exhausts
// its retries or fails without a recovery path. It carries the stable
// reason code the stream's error event reports.
type StageError struct {
	Stage  string
	Code   string
	Reason string
}

// Error implements the error interface.
func (e *StageError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("stage %s failed", e.Stage)
	}
	return fmt.Sprintf("stage %s failed: %s", e.Stage, e.Reason)
}

// ReasonCode returns the stable code for the stream error event.
func (e *StageError) ReasonCode() string {
	if e.Code == "" {
		return event.CodeNodeFailed
	}
	return e.Code
}
