package cluster

import (
	"context"
	"fmt"
	"sync"
)

// ECSClient abstracts the ECS control-plane calls the roll needs.
// This interface enables testing against an in-memory fake.
type ECSClient interface {
	// ClusterExists reports whether the named cluster exists.
	ClusterExists(ctx context.Context, cluster string) (bool, error)

	// ClusterARN returns the ARN of the named cluster.
	ClusterARN(ctx context.Context, cluster string) (string, error)

	// ListContainerInstances returns all container instance ARNs
	// registered to the cluster.
	ListContainerInstances(ctx context.Context, cluster string) ([]string, error)

	// DescribeContainerInstances returns details for the given ARNs.
	DescribeContainerInstances(ctx context.Context, cluster string, arns []string) ([]Instance, error)

	// SetInstanceStatus transitions a container instance to the given
	// registration status (ACTIVE or DRAINING).
	SetInstanceStatus(ctx context.Context, cluster, containerInstanceARN string, status Status) error

	// RunningTaskCount returns the number of RUNNING tasks on a
	// container instance.
	RunningTaskCount(ctx context.Context, cluster, containerInstanceARN string) (int, error)
}

// FakeECSClient implements ECSClient in memory for tests.
// Status transitions and task counts are simulated; recorded call slices
// support assertions.
type FakeECSClient struct {
	mu sync.Mutex

	clusters  map[string][]*Instance // cluster name -> instances
	taskPlans map[string][]int       // container instance ARN -> remaining counts per poll
	stuck     map[string]bool        // container instance ARN -> drain never completes

	// StatusCalls records every SetInstanceStatus invocation.
	StatusCalls []fakeStatusCall
	// TaskPolls counts RunningTaskCount calls per container instance ARN.
	TaskPolls map[string]int
}

type fakeStatusCall struct {
	Cluster string
	ARN     string
	Status  Status
}

// NewFakeECSClient creates an empty fake ECS control plane.
func NewFakeECSClient() *FakeECSClient {
	return &FakeECSClient{
		clusters:  make(map[string][]*Instance),
		taskPlans: make(map[string][]int),
		stuck:     make(map[string]bool),
		TaskPolls: make(map[string]int),
	}
}

// AddInstance registers an instance to a cluster.
func (f *FakeECSClient) AddInstance(cluster string, inst Instance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := inst
	f.clusters[cluster] = append(f.clusters[cluster], &copy)
}

// RemoveInstance deregisters an instance, as termination would.
func (f *FakeECSClient) RemoveInstance(cluster, instanceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	instances := f.clusters[cluster]
	for i, inst := range instances {
		if inst.InstanceID == instanceID {
			f.clusters[cluster] = append(instances[:i:i], instances[i+1:]...)
			return
		}
	}
}

// SetTaskDrainPlan sets the sequence of running-task counts returned by
// successive RunningTaskCount polls for an instance. After the plan is
// exhausted the count is zero.
func (f *FakeECSClient) SetTaskDrainPlan(arn string, counts []int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taskPlans[arn] = counts
}

// SetStuck marks an instance whose drain never reaches zero tasks.
func (f *FakeECSClient) SetStuck(arn string, stuck bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stuck[arn] = stuck
}

// SetAgentConnected flips the agent-connected flag on an instance.
func (f *FakeECSClient) SetAgentConnected(cluster, instanceID string, connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inst := range f.clusters[cluster] {
		if inst.InstanceID == instanceID {
			inst.AgentConnected = connected
		}
	}
}

// Instances returns a copy of the cluster's instances (for assertions).
func (f *FakeECSClient) Instances(cluster string) []Instance {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Instance, 0, len(f.clusters[cluster]))
	for _, inst := range f.clusters[cluster] {
		out = append(out, *inst)
	}
	return out
}

func (f *FakeECSClient) ClusterExists(ctx context.Context, cluster string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.clusters[cluster]
	return ok, nil
}

func (f *FakeECSClient) ClusterARN(ctx context.Context, cluster string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clusters[cluster]; !ok {
		return "", fmt.Errorf("cluster %q not found", cluster)
	}
	return "arn:aws:ecs:us-east-1:000000000000:cluster/" + cluster, nil
}

func (f *FakeECSClient) ListContainerInstances(ctx context.Context, cluster string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var arns []string
	for _, inst := range f.clusters[cluster] {
		arns = append(arns, inst.ContainerInstanceARN)
	}
	return arns, nil
}

func (f *FakeECSClient) DescribeContainerInstances(ctx context.Context, cluster string, arns []string) ([]Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[string]bool, len(arns))
	for _, arn := range arns {
		want[arn] = true
	}
	var out []Instance
	for _, inst := range f.clusters[cluster] {
		if want[inst.ContainerInstanceARN] {
			out = append(out, *inst)
		}
	}
	return out, nil
}

func (f *FakeECSClient) SetInstanceStatus(ctx context.Context, cluster, arn string, status Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StatusCalls = append(f.StatusCalls, fakeStatusCall{Cluster: cluster, ARN: arn, Status: status})
	for _, inst := range f.clusters[cluster] {
		if inst.ContainerInstanceARN == arn {
			inst.Status = status
			return nil
		}
	}
	return fmt.Errorf("container instance %q not found in cluster %q", arn, cluster)
}

func (f *FakeECSClient) RunningTaskCount(ctx context.Context, cluster, arn string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.TaskPolls[arn]++
	for _, inst := range f.clusters[cluster] {
		if inst.ContainerInstanceARN == arn {
			if f.stuck[arn] {
				if inst.RunningTasks == 0 {
					inst.RunningTasks = 1
				}
				return inst.RunningTasks, nil
			}
			if plan := f.taskPlans[arn]; len(plan) > 0 {
				inst.RunningTasks = plan[0]
				f.taskPlans[arn] = plan[1:]
			} else {
				inst.RunningTasks = 0
			}
			return inst.RunningTasks, nil
		}
	}
	return 0, fmt.Errorf("container instance %q not found in cluster %q", arn, cluster)
}

// DrainingCount returns the number of instances currently DRAINING
// (for invariant assertions in tests).
func (f *FakeECSClient) DrainingCount(cluster string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, inst := range f.clusters[cluster] {
		if inst.Status == StatusDraining {
			n++
		}
	}
	return n
}

// Compile-time interface check.
var _ ECSClient = (*FakeECSClient)(nil)
