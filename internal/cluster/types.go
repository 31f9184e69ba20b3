// Package cluster provides read access to the state of an ECS cluster
// and the container instances registered to it.
package cluster

import "fmt"

// Status is the ECS registration status of a container instance.
type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusDraining     Status = "DRAINING"
	StatusDeregistered Status = "DEREGISTERED"
)

// Instance describes one container instance registered to the cluster.
type Instance struct {
	// InstanceID is the backing EC2 instance ID.
	InstanceID string

	// ContainerInstanceARN is the ECS container instance ARN.
	ContainerInstanceARN string

	// Status is the ECS registration status.
	Status Status

	// RunningTasks is the number of tasks in RUNNING state on the instance.
	RunningTasks int

	// PendingTasks is the number of tasks in PENDING state on the instance.
	PendingTasks int

	// AgentConnected reports whether the ECS agent is connected.
	AgentConnected bool

	// Protected reports whether scale-in protection is set on the instance.
	Protected bool
}

// Schedulable reports whether the instance can accept new work.
func (i Instance) Schedulable() bool {
	return i.Status == StatusActive && i.AgentConnected
}

// Snapshot is a point-in-time view of a cluster and its backing Auto
// Scaling Group. Snapshots are values: refresh by taking a new one, never
// by mutating an old one.
type Snapshot struct {
	// Cluster is the ECS cluster name.
	Cluster string

	// ClusterARN is the full cluster ARN.
	ClusterARN string

	// GroupName is the single Auto Scaling Group backing the cluster.
	GroupName string

	// DesiredCapacity is the group's desired capacity at snapshot time.
	DesiredCapacity int32

	// Instances are the registered container instances, in discovery order.
	Instances []Instance
}

// InstanceByID returns the instance with the given EC2 instance ID.
func (s *Snapshot) InstanceByID(id string) (Instance, bool) {
	for _, inst := range s.Instances {
		if inst.InstanceID == id {
			return inst, true
		}
	}
	return Instance{}, false
}

// InstanceIDs returns the EC2 instance IDs in snapshot order.
func (s *Snapshot) InstanceIDs() []string {
	ids := make([]string, 0, len(s.Instances))
	for _, inst := range s.Instances {
		ids = append(ids, inst.InstanceID)
	}
	return ids
}

// NewInstances returns the instances in s that are absent from the given
// set of EC2 instance IDs. Used to spot overflow and replacement
// instances after a resize.
func (s *Snapshot) NewInstances(known map[string]bool) []Instance {
	var fresh []Instance
	for _, inst := range s.Instances {
		if !known[inst.InstanceID] {
			fresh = append(fresh, inst)
		}
	}
	return fresh
}

// SchedulableCount returns the number of schedulable instances.
func (s *Snapshot) SchedulableCount() int {
	n := 0
	for _, inst := range s.Instances {
		if inst.Schedulable() {
			n++
		}
	}
	return n
}

// LookupError reports that the target cluster, or the single backing
// Auto Scaling Group, could not be resolved. It is fatal: nothing has
// been mutated when it is returned.
type LookupError struct {
	Cluster string
	Reason  string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("cluster %q: %s", e.Cluster, e.Reason)
}
