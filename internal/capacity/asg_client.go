// Package capacity manages the Auto Scaling Group backing the cluster:
// the temporary overflow unit, scale-in protection, and the return to
// the original desired capacity.
package capacity

import (
	"context"
	"fmt"
	"sync"
)

// GroupInstance is one instance as the Auto Scaling Group sees it.
type GroupInstance struct {
	InstanceID string
	Protected  bool
}

// GroupInfo describes the state of an Auto Scaling Group.
type GroupInfo struct {
	Name            string
	MinSize         int32
	MaxSize         int32
	DesiredCapacity int32
	Instances       []GroupInstance
}

// ASGClient abstracts the Auto Scaling operations the roll needs.
// This interface enables testing with a fake client.
type ASGClient interface {
	// DescribeGroup returns the current state of a group.
	DescribeGroup(ctx context.Context, group string) (*GroupInfo, error)

	// ResizeGroup shifts MinSize, MaxSize, and DesiredCapacity together
	// by delta. Min and max move with desired so the resize can never be
	// clamped by the group's own bounds.
	ResizeGroup(ctx context.Context, group string, delta int32) error

	// SetInstanceProtection sets or clears scale-in protection on the
	// given instances.
	SetInstanceProtection(ctx context.Context, group string, instanceIDs []string, protected bool) error

	// GroupsForInstances returns the distinct group names the given EC2
	// instances belong to.
	GroupsForInstances(ctx context.Context, instanceIDs []string) ([]string, error)

	// GroupDesiredCapacity returns the group's current desired capacity.
	GroupDesiredCapacity(ctx context.Context, group string) (int32, error)
}

// FakeASGClient implements ASGClient in memory for tests.
type FakeASGClient struct {
	mu         sync.Mutex
	groups     map[string]*GroupInfo
	membership map[string]string // instance ID -> group name

	// OnResize, when set, runs after every ResizeGroup with the group's
	// new state. Test harnesses use it to couple the fake ASG to a fake
	// cluster.
	OnResize func(group GroupInfo, delta int32)

	// ResizeCalls records every ResizeGroup invocation.
	ResizeCalls []fakeResizeCall
	// ProtectionCalls records every SetInstanceProtection invocation.
	ProtectionCalls []fakeProtectionCall
}

type fakeResizeCall struct {
	Group string
	Delta int32
}

type fakeProtectionCall struct {
	Group       string
	InstanceIDs []string
	Protected   bool
}

// NewFakeASGClient creates an empty fake Auto Scaling control plane.
func NewFakeASGClient() *FakeASGClient {
	return &FakeASGClient{
		groups:     make(map[string]*GroupInfo),
		membership: make(map[string]string),
	}
}

// AddGroup registers a group with the given size and member instances.
func (f *FakeASGClient) AddGroup(name string, desired int32, instanceIDs []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	g := &GroupInfo{
		Name:            name,
		MinSize:         desired,
		MaxSize:         desired,
		DesiredCapacity: desired,
	}
	for _, id := range instanceIDs {
		g.Instances = append(g.Instances, GroupInstance{InstanceID: id})
		f.membership[id] = name
	}
	f.groups[name] = g
}

// AddInstance joins an instance to a group, as a scale-out launch would.
func (f *FakeASGClient) AddInstance(group, instanceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.groups[group]; ok {
		g.Instances = append(g.Instances, GroupInstance{InstanceID: instanceID})
		f.membership[instanceID] = group
	}
}

// RemoveInstance drops an instance from its group, as termination would.
func (f *FakeASGClient) RemoveInstance(instanceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	group, ok := f.membership[instanceID]
	if !ok {
		return
	}
	delete(f.membership, instanceID)
	g := f.groups[group]
	for i, inst := range g.Instances {
		if inst.InstanceID == instanceID {
			g.Instances = append(g.Instances[:i:i], g.Instances[i+1:]...)
			break
		}
	}
}

// GetGroup returns a copy of the group's state (for test assertions).
func (f *FakeASGClient) GetGroup(name string) *GroupInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.groups[name]; ok {
		out := *g
		out.Instances = append([]GroupInstance(nil), g.Instances...)
		return &out
	}
	return nil
}

func (f *FakeASGClient) DescribeGroup(ctx context.Context, group string) (*GroupInfo, error) {
	if g := f.GetGroup(group); g != nil {
		return g, nil
	}
	return nil, fmt.Errorf("autoscaling group %q not found", group)
}

func (f *FakeASGClient) ResizeGroup(ctx context.Context, group string, delta int32) error {
	f.mu.Lock()
	g, ok := f.groups[group]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("autoscaling group %q not found", group)
	}
	g.MinSize += delta
	g.MaxSize += delta
	g.DesiredCapacity += delta
	f.ResizeCalls = append(f.ResizeCalls, fakeResizeCall{Group: group, Delta: delta})
	snapshot := *g
	hook := f.OnResize
	f.mu.Unlock()

	if hook != nil {
		hook(snapshot, delta)
	}
	return nil
}

func (f *FakeASGClient) SetInstanceProtection(ctx context.Context, group string, instanceIDs []string, protected bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[group]
	if !ok {
		return fmt.Errorf("autoscaling group %q not found", group)
	}
	want := make(map[string]bool, len(instanceIDs))
	for _, id := range instanceIDs {
		want[id] = true
	}
	for i := range g.Instances {
		if want[g.Instances[i].InstanceID] {
			g.Instances[i].Protected = protected
		}
	}
	f.ProtectionCalls = append(f.ProtectionCalls, fakeProtectionCall{
		Group:       group,
		InstanceIDs: append([]string(nil), instanceIDs...),
		Protected:   protected,
	})
	return nil
}

func (f *FakeASGClient) GroupsForInstances(ctx context.Context, instanceIDs []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool)
	var groups []string
	for _, id := range instanceIDs {
		if group, ok := f.membership[id]; ok && !seen[group] {
			seen[group] = true
			groups = append(groups, group)
		}
	}
	return groups, nil
}

func (f *FakeASGClient) GroupDesiredCapacity(ctx context.Context, group string) (int32, error) {
	g, err := f.DescribeGroup(ctx, group)
	if err != nil {
		return 0, err
	}
	return g.DesiredCapacity, nil
}

// ProtectedIDs returns the instance IDs currently protected in a group
// (for invariant assertions in tests).
func (f *FakeASGClient) ProtectedIDs(group string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[group]
	if !ok {
		return nil
	}
	var ids []string
	for _, inst := range g.Instances {
		if inst.Protected {
			ids = append(ids, inst.InstanceID)
		}
	}
	return ids
}

// Compile-time interface check.
var _ ASGClient = (*FakeASGClient)(nil)
