package compute

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finnigja/ecsroll/internal/backoff"
)

// StatusTimeoutError reports that an instance never reached the awaited
// condition within the attempt ceiling. Per-instance, not fatal to a
// maintenance run.
type StatusTimeoutError struct {
	InstanceID string
	Condition  string
	Attempts   int
}

func (e *StatusTimeoutError) Error() string {
	return fmt.Sprintf("instance %s did not reach %s within %d attempts",
		e.InstanceID, e.Condition, e.Attempts)
}

// Waiter polls an instance's status checks until they pass.
type Waiter struct {
	ec2     EC2Client
	logger  *slog.Logger
	backoff backoff.Policy
}

// NewWaiter creates a status waiter with the given poll policy.
func NewWaiter(ec2 EC2Client, logger *slog.Logger, policy backoff.Policy) *Waiter {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.Base <= 0 {
		policy = backoff.New(30*time.Second, 20)
	}
	return &Waiter{
		ec2:     ec2,
		logger:  logger,
		backoff: policy,
	}
}

// WaitInstanceOK blocks until the instance reports "ok" status checks,
// or the attempt ceiling is reached.
func (w *Waiter) WaitInstanceOK(ctx context.Context, instanceID string) error {
	for attempt := 1; ; attempt++ {
		status, err := w.ec2.InstanceStatus(ctx, instanceID)
		if err != nil {
			return err
		}
		if status == StatusOK {
			return nil
		}

		if w.backoff.Exhausted(attempt) {
			return &StatusTimeoutError{
				InstanceID: instanceID,
				Condition:  fmt.Sprintf("passing status checks, last %q", status),
				Attempts:   attempt,
			}
		}

		w.logger.Info("waiting for instance status checks",
			"instance", instanceID,
			"status", status,
			"attempt", attempt,
		)
		if err := w.backoff.Wait(ctx, attempt); err != nil {
			return err
		}
	}
}
