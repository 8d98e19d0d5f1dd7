package workflow

import (
	"errors"
	"fmt"

	"github.com/me/elemflow/pkg/template"
)

// ErrNotInBatch is returned by CommitBatch and RejectBatch outside a batch.
var ErrNotInBatch = errors.New("no batch update in progress")

// BatchUpdateFailedError is returned when the store was modified on disk
// after it was loaded, either at commit or when a task counter is written
// through.
type BatchUpdateFailedError struct {
	Path string
	Err  error
}

func (e *BatchUpdateFailedError) Error() string {
	return fmt.Sprintf("workflow batch update failed: %s was modified on disk", e.Path)
}

func (e *BatchUpdateFailedError) Unwrap() error { return e.Err }

// InvalidInputSourceTaskReferenceError reports an input source that names a
// task it cannot take values from.
type InvalidInputSourceTaskReferenceError struct {
	Source template.InputSource
	Input  string
	Reason string
}

func (e *InvalidInputSourceTaskReferenceError) Error() string {
	return fmt.Sprintf("invalid input source %s for input %q: %s", e.Source, e.Input, e.Reason)
}

// DuplicateTaskNameError reports a task whose unique name is already taken.
type DuplicateTaskNameError struct {
	Name string
}

func (e *DuplicateTaskNameError) Error() string {
	return fmt.Sprintf("duplicate task name %q", e.Name)
}

// MissingInputError reports a schema input that no source can provide.
type MissingInputError struct {
	Task  string
	Input string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("task %s: no value or source for input %q", e.Task, e.Input)
}
