package capacity

import "fmt"

// CapacityTimeoutError reports that the cluster never reached the
// expected schedulable size within the attempt ceiling. When it occurs
// during overflow growth it is fatal to the run: draining must not start
// without the safety margin in place.
type CapacityTimeoutError struct {
	Group         string
	WantInstances int
	Attempts      int
}

func (e *CapacityTimeoutError) Error() string {
	return fmt.Sprintf("group %q: cluster did not reach %d schedulable instances within %d attempts",
		e.Group, e.WantInstances, e.Attempts)
}

// RestoreError reports that the group could not be returned to its
// original size. The fleet is functionally healthy, only over-provisioned,
// so the run reports it as a warning rather than aborting.
type RestoreError struct {
	Group string
	Err   error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("group %q: failed to restore original capacity: %v", e.Group, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }
