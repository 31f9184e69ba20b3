package roll

import (
	"context"
	"log/slog"

	"github.com/finnigja/ecsroll/internal/backoff"
	"github.com/finnigja/ecsroll/internal/cluster"
	"github.com/finnigja/ecsroll/internal/metrics"
)

// DrainCoordinator marks an instance DRAINING and polls until the
// scheduler has migrated every running task off it.
type DrainCoordinator struct {
	ecs         cluster.ECSClient
	clusterName string
	backoff     backoff.Policy
	logger      *slog.Logger
}

// NewDrainCoordinator creates a drain coordinator.
func NewDrainCoordinator(ecs cluster.ECSClient, clusterName string, policy backoff.Policy, logger *slog.Logger) *DrainCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &DrainCoordinator{
		ecs:         ecs,
		clusterName: clusterName,
		backoff:     policy,
		logger:      logger,
	}
}

// Drain transitions the instance to DRAINING and blocks until its
// running-task count reaches zero. There is no wall-clock timeout:
// draining may legitimately take a long time for long-running tasks, and
// only the attempt ceiling stops the wait, yielding *DrainTimeoutError.
// The instance is then left DRAINING for manual follow-up.
func (d *DrainCoordinator) Drain(ctx context.Context, inst cluster.Instance) error {
	if inst.Status != cluster.StatusDraining {
		d.logger.Info("marking instance as draining",
			"instance", inst.InstanceID,
			"container_instance", inst.ContainerInstanceARN,
		)
		if err := d.ecs.SetInstanceStatus(ctx, d.clusterName, inst.ContainerInstanceARN, cluster.StatusDraining); err != nil {
			return err
		}
		metrics.DrainsStarted.Inc()
	}

	for attempt := 1; ; attempt++ {
		running, err := d.ecs.RunningTaskCount(ctx, d.clusterName, inst.ContainerInstanceARN)
		if err != nil {
			return err
		}
		if running == 0 {
			metrics.DrainAttempts.Observe(float64(attempt))
			d.logger.Info("instance drained",
				"instance", inst.InstanceID,
				"attempts", attempt,
			)
			return nil
		}

		if d.backoff.Exhausted(attempt) {
			return &DrainTimeoutError{
				InstanceID:     inst.InstanceID,
				Attempts:       attempt,
				RemainingTasks: running,
			}
		}

		d.logger.Info("waiting for instance to drain",
			"instance", inst.InstanceID,
			"running_tasks", running,
			"attempt", attempt,
		)
		if err := d.backoff.Wait(ctx, attempt); err != nil {
			return err
		}
	}
}
