package roll

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/finnigja/ecsroll/internal/backoff"
	"github.com/finnigja/ecsroll/internal/capacity"
	"github.com/finnigja/ecsroll/internal/cluster"
	"github.com/finnigja/ecsroll/internal/compute"
	"github.com/finnigja/ecsroll/internal/config"
	"github.com/finnigja/ecsroll/internal/metrics"
)

// SnapshotReader re-derives the cluster's state. Satisfied by
// cluster.StateReader.
type SnapshotReader interface {
	Snapshot(ctx context.Context, clusterName string) (*cluster.Snapshot, error)
}

// ActionExecutor applies the maintenance action to a drained instance.
type ActionExecutor struct {
	ecs    cluster.ECSClient
	ec2    compute.EC2Client
	reader SnapshotReader
	waiter *compute.Waiter
	logger *slog.Logger

	clusterName string
	groupName   string
	action      Action

	// expectCount is the cluster size during the roll (original count
	// plus the overflow unit); a replacement has registered once the
	// cluster is back at this size.
	expectCount int

	capacityBackoff   backoff.Policy
	statusBackoff     backoff.Policy
	replacementPolicy string
}

// ExecutorConfig configures the action executor.
type ExecutorConfig struct {
	ECS    cluster.ECSClient
	EC2    compute.EC2Client
	Reader SnapshotReader
	Waiter *compute.Waiter
	Logger *slog.Logger

	ClusterName string
	GroupName   string
	Action      Action
	ExpectCount int

	CapacityBackoff   backoff.Policy
	StatusBackoff     backoff.Policy
	ReplacementPolicy string
}

// NewActionExecutor creates an executor.
func NewActionExecutor(cfg ExecutorConfig) *ActionExecutor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReplacementPolicy == "" {
		cfg.ReplacementPolicy = config.ReplacementPolicyFail
	}
	return &ActionExecutor{
		ecs:               cfg.ECS,
		ec2:               cfg.EC2,
		reader:            cfg.Reader,
		waiter:            cfg.Waiter,
		logger:            cfg.Logger,
		clusterName:       cfg.ClusterName,
		groupName:         cfg.GroupName,
		action:            cfg.Action,
		expectCount:       cfg.ExpectCount,
		capacityBackoff:   cfg.CapacityBackoff,
		statusBackoff:     cfg.StatusBackoff,
		replacementPolicy: cfg.ReplacementPolicy,
	}
}

// Execute applies the configured action to a drained instance. It
// returns the EC2 instance ID that now represents the instance's slot
// in healthy capacity: the replacement's ID for REPLACE, the same ID
// for REBOOT. That instance is the one to protect from scale-in.
//
// API rejections come back as *ActionError; newly seen instance IDs are
// recorded in seen so later iterations never act on them.
func (e *ActionExecutor) Execute(ctx context.Context, inst cluster.Instance, seen map[string]bool) (string, error) {
	switch e.action {
	case ActionReplace:
		return e.replace(ctx, inst, seen)
	case ActionReboot:
		return e.reboot(ctx, inst)
	default:
		return "", fmt.Errorf("unknown action %d", e.action)
	}
}

// replace terminates the instance and waits for the scaling group's own
// replacement policy to register a substitute. The group is not resized:
// its desired capacity already accounts for the terminated instance.
func (e *ActionExecutor) replace(ctx context.Context, inst cluster.Instance, seen map[string]bool) (string, error) {
	if err := e.ec2.TerminateInstance(ctx, inst.InstanceID); err != nil {
		return "", &ActionError{InstanceID: inst.InstanceID, Action: ActionReplace, Err: err}
	}
	metrics.ActionsApplied.WithLabelValues("replace").Inc()

	policy := e.capacityBackoff
	if e.replacementPolicy == config.ReplacementPolicyWait {
		policy.MaxAttempts = 0
	}

	for attempt := 1; ; attempt++ {
		snap, err := e.reader.Snapshot(ctx, e.clusterName)
		if err != nil {
			return "", fmt.Errorf("failed to refresh cluster state: %w", err)
		}
		metrics.ClusterInstances.Set(float64(len(snap.Instances)))

		_, stillThere := snap.InstanceByID(inst.InstanceID)
		if !stillThere && len(snap.Instances) >= e.expectCount {
			for _, fresh := range snap.NewInstances(seen) {
				if !fresh.Schedulable() {
					continue
				}
				if e.waiter != nil {
					if err := e.waiter.WaitInstanceOK(ctx, fresh.InstanceID); err != nil {
						return "", fmt.Errorf("replacement %s never passed status checks: %w", fresh.InstanceID, err)
					}
				}
				seen[fresh.InstanceID] = true
				e.logger.Info("replacement instance registered",
					"replaced", inst.InstanceID,
					"replacement", fresh.InstanceID,
				)
				return fresh.InstanceID, nil
			}
		}

		if policy.Exhausted(attempt) {
			return "", &capacity.CapacityTimeoutError{
				Group:         e.groupName,
				WantInstances: e.expectCount,
				Attempts:      attempt,
			}
		}

		e.logger.Info("waiting for replacement instance",
			"replaced", inst.InstanceID,
			"have", len(snap.Instances),
			"want", e.expectCount,
			"attempt", attempt,
		)
		if err := policy.Wait(ctx, attempt); err != nil {
			return "", err
		}
	}
}

// reboot reboots the instance twice: the first boot applies any pending
// security updates, the second boots the new kernel if one was
// installed. After both, the instance is flipped back to ACTIVE.
func (e *ActionExecutor) reboot(ctx context.Context, inst cluster.Instance) (string, error) {
	for pass := 1; pass <= 2; pass++ {
		e.logger.Info("rebooting instance",
			"instance", inst.InstanceID,
			"pass", pass,
		)
		if err := e.ec2.RebootInstance(ctx, inst.InstanceID); err != nil {
			return "", &ActionError{InstanceID: inst.InstanceID, Action: ActionReboot, Err: err}
		}
		if e.waiter != nil {
			if err := e.waiter.WaitInstanceOK(ctx, inst.InstanceID); err != nil {
				return "", err
			}
		}
		if err := e.waitAgentConnected(ctx, inst); err != nil {
			return "", err
		}
	}
	metrics.ActionsApplied.WithLabelValues("reboot").Inc()

	if err := e.ecs.SetInstanceStatus(ctx, e.clusterName, inst.ContainerInstanceARN, cluster.StatusActive); err != nil {
		return "", &ActionError{InstanceID: inst.InstanceID, Action: ActionReboot, Err: err}
	}
	if err := e.waitStatus(ctx, inst, cluster.StatusActive); err != nil {
		return "", err
	}

	return inst.InstanceID, nil
}

func (e *ActionExecutor) waitAgentConnected(ctx context.Context, inst cluster.Instance) error {
	return e.pollInstance(ctx, inst, "agent reconnect", func(current cluster.Instance) bool {
		return current.AgentConnected
	})
}

func (e *ActionExecutor) waitStatus(ctx context.Context, inst cluster.Instance, want cluster.Status) error {
	return e.pollInstance(ctx, inst, fmt.Sprintf("status %s", want), func(current cluster.Instance) bool {
		return current.Status == want
	})
}

func (e *ActionExecutor) pollInstance(ctx context.Context, inst cluster.Instance, what string, ready func(cluster.Instance) bool) error {
	for attempt := 1; ; attempt++ {
		described, err := e.ecs.DescribeContainerInstances(ctx, e.clusterName, []string{inst.ContainerInstanceARN})
		if err != nil {
			return err
		}
		if len(described) == 0 {
			return fmt.Errorf("container instance %s disappeared while waiting for %s", inst.ContainerInstanceARN, what)
		}
		if ready(described[0]) {
			return nil
		}

		if e.statusBackoff.Exhausted(attempt) {
			return &compute.StatusTimeoutError{
				InstanceID: inst.InstanceID,
				Condition:  what,
				Attempts:   attempt,
			}
		}

		e.logger.Info("waiting for instance",
			"instance", inst.InstanceID,
			"condition", what,
			"attempt", attempt,
		)
		if err := e.statusBackoff.Wait(ctx, attempt); err != nil {
			return err
		}
	}
}
