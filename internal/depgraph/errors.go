package depgraph

import "fmt"

// UnknownTaskError is returned for an insert ID that is not in the graph.
type UnknownTaskError struct {
	InsertID int
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("no task with insert ID %d", e.InsertID)
}
