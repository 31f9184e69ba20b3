package cluster

import (
	"context"
	"fmt"
	"log/slog"
)

// GroupResolver resolves Auto Scaling Group membership for EC2 instances.
// Satisfied by capacity.AWSASGClient and capacity.FakeASGClient.
type GroupResolver interface {
	// GroupsForInstances returns the distinct ASG names the given EC2
	// instances belong to.
	GroupsForInstances(ctx context.Context, instanceIDs []string) ([]string, error)

	// GroupDesiredCapacity returns the current desired capacity of a group.
	GroupDesiredCapacity(ctx context.Context, group string) (int32, error)
}

// StateReader takes point-in-time snapshots of a cluster. It is
// side-effect free and repeatable; the orchestrator re-snapshots after
// every destructive action rather than trusting a stale list.
type StateReader struct {
	ecs    ECSClient
	groups GroupResolver
	logger *slog.Logger
}

// NewStateReader creates a reader over the given control-plane clients.
func NewStateReader(ecs ECSClient, groups GroupResolver, logger *slog.Logger) *StateReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateReader{
		ecs:    ecs,
		groups: groups,
		logger: logger,
	}
}

// Snapshot captures the cluster's current instances, their single
// backing Auto Scaling Group, and that group's desired capacity.
//
// Returns *LookupError when the cluster does not exist, has no
// registered instances, or its instances span anything other than
// exactly one ASG.
func (r *StateReader) Snapshot(ctx context.Context, clusterName string) (*Snapshot, error) {
	exists, err := r.ecs.ClusterExists(ctx, clusterName)
	if err != nil {
		return nil, fmt.Errorf("failed to check cluster existence: %w", err)
	}
	if !exists {
		return nil, &LookupError{Cluster: clusterName, Reason: "cluster does not exist"}
	}

	arn, err := r.ecs.ClusterARN(ctx, clusterName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cluster ARN: %w", err)
	}

	instances, err := r.instances(ctx, clusterName)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, &LookupError{Cluster: clusterName, Reason: "cluster has no registered container instances"}
	}

	ids := make([]string, 0, len(instances))
	for _, inst := range instances {
		ids = append(ids, inst.InstanceID)
	}
	groups, err := r.groups.GroupsForInstances(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve autoscaling groups: %w", err)
	}
	if len(groups) != 1 {
		return nil, &LookupError{
			Cluster: clusterName,
			Reason:  fmt.Sprintf("instances belong to %d autoscaling groups, want exactly 1", len(groups)),
		}
	}

	desired, err := r.groups.GroupDesiredCapacity(ctx, groups[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read desired capacity of %q: %w", groups[0], err)
	}

	snap := &Snapshot{
		Cluster:         clusterName,
		ClusterARN:      arn,
		GroupName:       groups[0],
		DesiredCapacity: desired,
		Instances:       instances,
	}

	r.logger.Debug("captured cluster snapshot",
		"cluster", clusterName,
		"group", snap.GroupName,
		"desired_capacity", desired,
		"instance_count", len(instances),
	)

	return snap, nil
}

func (r *StateReader) instances(ctx context.Context, clusterName string) ([]Instance, error) {
	arns, err := r.ecs.ListContainerInstances(ctx, clusterName)
	if err != nil {
		return nil, fmt.Errorf("failed to list container instances: %w", err)
	}
	if len(arns) == 0 {
		return nil, nil
	}
	instances, err := r.ecs.DescribeContainerInstances(ctx, clusterName, arns)
	if err != nil {
		return nil, fmt.Errorf("failed to describe container instances: %w", err)
	}
	return instances, nil
}
