package roll

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// InstanceState is the orchestrator's per-instance progress. Held only
// in working memory, never persisted: a restarted run re-derives
// everything from live cluster state.
type InstanceState int

const (
	StatePending InstanceState = iota
	StateDraining
	StateDrainComplete
	StateActionApplied
	StateProtectionSet
	StateDone
	StateFailed
)

// String returns the state name.
func (s InstanceState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateDraining:
		return "DRAINING"
	case StateDrainComplete:
		return "DRAIN_COMPLETE"
	case StateActionApplied:
		return "ACTION_APPLIED"
	case StateProtectionSet:
		return "PROTECTION_SET"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// InstanceResult is one instance's terminal outcome.
type InstanceResult struct {
	InstanceID           string
	ContainerInstanceARN string
	State                InstanceState

	// Skipped marks a FAILED result caused by a declined confirmation
	// rather than a component error. No mutation was attempted past the
	// declined step.
	Skipped bool

	// Err is the component error for non-skipped failures.
	Err error
}

// Summary is the run-level report.
type Summary struct {
	Cluster          string
	Action           Action
	OriginalCapacity int32
	Results          []InstanceResult

	// RestoreSkipped marks an operator-declined capacity restore.
	// Protections are still cleared in that case.
	RestoreSkipped bool

	// RestoreErr is the run-level restore warning, if any.
	RestoreErr error
}

// Done returns the count of instances that completed their cycle.
func (s *Summary) Done() int {
	n := 0
	for _, r := range s.Results {
		if r.State == StateDone {
			n++
		}
	}
	return n
}

// Failed returns the count of instances that did not complete.
func (s *Summary) Failed() int {
	return len(s.Results) - s.Done()
}

// ExitCode maps the run outcome to the process exit code. Individually
// skipped or rejected instances do not fail the run; a drain that hit
// its attempt ceiling or a failed capacity restore does.
func (s *Summary) ExitCode() int {
	if s.RestoreErr != nil {
		return 1
	}
	for _, r := range s.Results {
		var drainErr *DrainTimeoutError
		if errors.As(r.Err, &drainErr) {
			return 1
		}
	}
	return 0
}

// Log writes the per-instance outcomes and run totals.
func (s *Summary) Log(logger *slog.Logger) {
	for _, r := range s.Results {
		attrs := []any{
			"instance", r.InstanceID,
			"state", r.State.String(),
		}
		if r.Skipped {
			attrs = append(attrs, "skipped", true)
		}
		if r.Err != nil {
			attrs = append(attrs, "error", r.Err.Error())
		}
		logger.Info("instance result", attrs...)
	}

	logger.Info("maintenance run complete",
		"cluster", s.Cluster,
		"action", s.Action.String(),
		"done", s.Done(),
		"failed", s.Failed(),
		"restore_skipped", s.RestoreSkipped,
	)
	if s.RestoreErr != nil {
		logger.Warn("capacity restore did not complete; the group is oversized but healthy",
			"error", s.RestoreErr.Error(),
		)
	}
}

// String renders a compact one-line-per-instance report.
func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cluster %s, action %s: %d done, %d failed\n",
		s.Cluster, s.Action, s.Done(), s.Failed())
	for _, r := range s.Results {
		fmt.Fprintf(&b, "  %-20s %s", r.InstanceID, r.State)
		if r.Skipped {
			b.WriteString(" (skipped)")
		}
		if r.Err != nil {
			fmt.Fprintf(&b, ": %v", r.Err)
		}
		b.WriteString("\n")
	}
	return b.String()
}
