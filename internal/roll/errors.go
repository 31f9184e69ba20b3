package roll

import (
	"errors"
	"fmt"
)

// ErrRunDeclined is returned when the operator declines the run-start
// confirmation. Nothing has been mutated when it is returned.
var ErrRunDeclined = errors.New("roll: operator declined to start the run")

// DrainTimeoutError reports that an instance still had running tasks
// when the drain attempt ceiling was reached. The instance is left
// DRAINING for manual follow-up; reverting a drain is out of scope
// because in-flight work may already have stopped.
type DrainTimeoutError struct {
	InstanceID     string
	Attempts       int
	RemainingTasks int
}

func (e *DrainTimeoutError) Error() string {
	return fmt.Sprintf("instance %s still running %d tasks after %d drain attempts",
		e.InstanceID, e.RemainingTasks, e.Attempts)
}

// ActionError reports that the control plane rejected a maintenance
// action, e.g. the instance was already terminated by another process.
// Non-fatal for the run: the maintenance goal for that instance is
// arguably already achieved or moot.
type ActionError struct {
	InstanceID string
	Action     Action
	Err        error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s of instance %s rejected: %v", e.Action, e.InstanceID, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
