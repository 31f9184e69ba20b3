package capacity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/finnigja/ecsroll/internal/backoff"
	"github.com/finnigja/ecsroll/internal/cluster"
	"github.com/finnigja/ecsroll/internal/metrics"
)

// SnapshotReader re-derives the cluster's instance list. Satisfied by
// cluster.StateReader.
type SnapshotReader interface {
	Snapshot(ctx context.Context, clusterName string) (*cluster.Snapshot, error)
}

// InstanceOKFunc waits until an EC2 instance passes its status checks.
// Satisfied by compute.Waiter.WaitInstanceOK.
type InstanceOKFunc func(ctx context.Context, instanceID string) error

// OverflowManager adds the temporary overflow unit before maintenance
// begins and waits for it to become schedulable, so total capacity is
// preserved while one instance at a time is taken out of service.
type OverflowManager struct {
	asg            ASGClient
	reader         SnapshotReader
	waitInstanceOK InstanceOKFunc
	logger         *slog.Logger
	backoff        backoff.Policy
}

// OverflowManagerConfig configures the overflow manager.
type OverflowManagerConfig struct {
	ASG     ASGClient
	Reader  SnapshotReader
	Logger  *slog.Logger
	Backoff backoff.Policy

	// WaitInstanceOK, when set, gates overflow readiness on the EC2
	// status checks in addition to ECS registration.
	WaitInstanceOK InstanceOKFunc
}

// NewOverflowManager creates an overflow manager.
func NewOverflowManager(cfg OverflowManagerConfig) *OverflowManager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = backoff.New(30*time.Second, 20)
	}
	return &OverflowManager{
		asg:            cfg.ASG,
		reader:         cfg.Reader,
		waitInstanceOK: cfg.WaitInstanceOK,
		logger:         cfg.Logger,
		backoff:        cfg.Backoff,
	}
}

// Grow raises the group size by delta and blocks until the cluster
// registers that many additional schedulable instances. Returns the
// newly joined instances.
//
// Exhausting the attempt ceiling yields *CapacityTimeoutError, which is
// fatal: existing capacity must not be drained without the margin.
func (m *OverflowManager) Grow(ctx context.Context, snap *cluster.Snapshot, delta int32) ([]cluster.Instance, error) {
	known := make(map[string]bool, len(snap.Instances))
	for _, inst := range snap.Instances {
		known[inst.InstanceID] = true
	}
	wantDesired := snap.DesiredCapacity + delta
	wantCount := len(snap.Instances) + int(delta)

	m.logger.Info("adding overflow capacity",
		"group", snap.GroupName,
		"delta", delta,
		"desired", wantDesired,
	)

	if err := m.asg.ResizeGroup(ctx, snap.GroupName, delta); err != nil {
		return nil, fmt.Errorf("failed to grow group %q: %w", snap.GroupName, err)
	}
	metrics.GroupDesiredCapacity.Set(float64(wantDesired))

	fresh, err := m.waitSchedulable(ctx, snap, known, wantDesired, wantCount)
	if err != nil {
		return nil, err
	}

	if m.waitInstanceOK != nil {
		for _, inst := range fresh {
			if err := m.waitInstanceOK(ctx, inst.InstanceID); err != nil {
				return nil, fmt.Errorf("overflow instance %s never passed status checks: %w", inst.InstanceID, err)
			}
		}
	}

	for _, inst := range fresh {
		m.logger.Info("overflow instance joined cluster",
			"instance", inst.InstanceID,
			"container_instance", inst.ContainerInstanceARN,
		)
	}

	return fresh, nil
}

func (m *OverflowManager) waitSchedulable(ctx context.Context, snap *cluster.Snapshot, known map[string]bool, wantDesired int32, wantCount int) ([]cluster.Instance, error) {
	for attempt := 1; ; attempt++ {
		desired, err := m.asg.GroupDesiredCapacity(ctx, snap.GroupName)
		if err != nil {
			return nil, fmt.Errorf("failed to read group capacity: %w", err)
		}

		current, err := m.reader.Snapshot(ctx, snap.Cluster)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh cluster state: %w", err)
		}
		metrics.ClusterInstances.Set(float64(len(current.Instances)))

		if desired == wantDesired && len(current.Instances) >= wantCount {
			fresh := current.NewInstances(known)
			allSchedulable := len(fresh) >= wantCount-len(known)
			for _, inst := range fresh {
				if !inst.Schedulable() {
					allSchedulable = false
				}
			}
			if allSchedulable {
				return fresh, nil
			}
		}

		if m.backoff.Exhausted(attempt) {
			return nil, &CapacityTimeoutError{
				Group:         snap.GroupName,
				WantInstances: wantCount,
				Attempts:      attempt,
			}
		}

		m.logger.Info("waiting for overflow capacity",
			"group", snap.GroupName,
			"have", len(current.Instances),
			"want", wantCount,
			"attempt", attempt,
		)
		if err := m.backoff.Wait(ctx, attempt); err != nil {
			return nil, err
		}
	}
}
