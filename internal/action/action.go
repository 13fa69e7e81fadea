// Package action invokes the harvest action in its two modes: a full
// harvest, and task mode for a single assigned issue.
package action

import (
	"context"
	"fmt"
)

// Action is what the runner calls. Implementations must honor ctx.
type Action interface {
	FullHarvest(ctx context.Context) error
	Task(ctx context.Context, issueNumber int) error
}

// ExitError reports a harvest process that exited non-zero.
type ExitError struct {
	Op   string // "full-harvest" or "task"
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("harvest %s exited with code %d", e.Op, e.Code)
}
