package project

import "fmt"

// ErrProjectionUndefined reports that role's local behaviour cannot be
// derived from g because the graph was never verified (or failed
// verification) and projection is therefore undefined per spec.md §4.5.
// Only ProjectVerified returns it; Reason says why.
type ErrProjectionUndefined struct {
	Protocol string
	Role     string
	Reason   string
}

func (e *ErrProjectionUndefined) Error() string {
	return fmt.Sprintf("project: %s/%s: projection undefined: %s", e.Protocol, e.Role, e.Reason)
}
