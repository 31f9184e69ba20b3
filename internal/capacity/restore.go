package capacity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finnigja/ecsroll/internal/backoff"
	"github.com/finnigja/ecsroll/internal/metrics"
)

// Restorer returns the group to its original desired capacity once every
// instance has been cycled, then clears the protections set during the
// run.
type Restorer struct {
	asg        ASGClient
	reader     SnapshotReader
	protection *ProtectionManager
	logger     *slog.Logger
	backoff    backoff.Policy
}

// RestorerConfig configures the capacity restorer.
type RestorerConfig struct {
	ASG        ASGClient
	Reader     SnapshotReader
	Protection *ProtectionManager
	Logger     *slog.Logger
	Backoff    backoff.Policy
}

// NewRestorer creates a restorer.
func NewRestorer(cfg RestorerConfig) *Restorer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = backoff.New(30*time.Second, 20)
	}
	return &Restorer{
		asg:        cfg.ASG,
		reader:     cfg.Reader,
		protection: cfg.Protection,
		logger:     cfg.Logger,
		backoff:    cfg.Backoff,
	}
}

// Restore shrinks the group by delta, waits for the cluster to return to
// originalCount instances, and clears all protections. Protections are
// cleared even when the shrink fails or stalls: a leaked protected flag
// would silently defeat future scale-in.
//
// Failure to reach the original size within the attempt ceiling yields
// *RestoreError.
func (r *Restorer) Restore(ctx context.Context, clusterName, group string, delta int32, originalCount int) error {
	r.logger.Info("restoring original capacity",
		"group", group,
		"delta", -delta,
		"want_instances", originalCount,
	)

	restoreErr := r.shrinkAndWait(ctx, clusterName, group, delta, originalCount)

	if err := r.protection.ClearAll(ctx); err != nil {
		if restoreErr != nil {
			return &RestoreError{Group: group, Err: fmt.Errorf("%v; also failed to clear protection: %w", restoreErr, err)}
		}
		return &RestoreError{Group: group, Err: fmt.Errorf("failed to clear scale-in protection: %w", err)}
	}

	if restoreErr != nil {
		return &RestoreError{Group: group, Err: restoreErr}
	}

	r.logger.Info("cluster restored to original size",
		"group", group,
		"instances", originalCount,
	)
	return nil
}

// ClearProtections removes run-applied protections without resizing.
// Used when the operator declines the restore step.
func (r *Restorer) ClearProtections(ctx context.Context) error {
	return r.protection.ClearAll(ctx)
}

func (r *Restorer) shrinkAndWait(ctx context.Context, clusterName, group string, delta int32, originalCount int) error {
	if err := r.asg.ResizeGroup(ctx, group, -delta); err != nil {
		return fmt.Errorf("failed to shrink group: %w", err)
	}

	for attempt := 1; ; attempt++ {
		snap, err := r.reader.Snapshot(ctx, clusterName)
		if err != nil {
			return fmt.Errorf("failed to refresh cluster state: %w", err)
		}
		metrics.ClusterInstances.Set(float64(len(snap.Instances)))
		metrics.GroupDesiredCapacity.Set(float64(snap.DesiredCapacity))

		if len(snap.Instances) == originalCount {
			return nil
		}

		if r.backoff.Exhausted(attempt) {
			return fmt.Errorf("cluster still has %d instances after %d attempts, want %d",
				len(snap.Instances), attempt, originalCount)
		}

		r.logger.Info("waiting for cluster to downsize",
			"group", group,
			"have", len(snap.Instances),
			"want", originalCount,
			"attempt", attempt,
		)
		if err := r.backoff.Wait(ctx, attempt); err != nil {
			return err
		}
	}
}
