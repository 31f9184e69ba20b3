package cluster

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

// fakeResolver satisfies GroupResolver without pulling in the capacity
// package.
type fakeResolver struct {
	groups  map[string]string // instance ID -> group
	desired map[string]int32
}

func (r *fakeResolver) GroupsForInstances(ctx context.Context, instanceIDs []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, id := range instanceIDs {
		g, ok := r.groups[id]
		if !ok {
			continue
		}
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *fakeResolver) GroupDesiredCapacity(ctx context.Context, group string) (int32, error) {
	return r.desired[group], nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testARN(id string) string {
	return "arn:aws:ecs:us-east-1:000000000000:container-instance/test-ecs-cluster/" + id
}

func TestSnapshot_ResolvesClusterAndGroup(t *testing.T) {
	ecs := NewFakeECSClient()
	for _, id := range []string{"i-1", "i-2"} {
		ecs.AddInstance("test-ecs-cluster", Instance{
			InstanceID:           id,
			ContainerInstanceARN: testARN(id),
			Status:               StatusActive,
			AgentConnected:       true,
		})
	}
	resolver := &fakeResolver{
		groups:  map[string]string{"i-1": "test-asg", "i-2": "test-asg"},
		desired: map[string]int32{"test-asg": 2},
	}

	r := NewStateReader(ecs, resolver, testLogger())
	snap, err := r.Snapshot(context.Background(), "test-ecs-cluster")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if snap.Cluster != "test-ecs-cluster" {
		t.Errorf("Cluster=%s, want test-ecs-cluster", snap.Cluster)
	}
	if snap.GroupName != "test-asg" {
		t.Errorf("GroupName=%s, want test-asg", snap.GroupName)
	}
	if snap.DesiredCapacity != 2 {
		t.Errorf("DesiredCapacity=%d, want 2", snap.DesiredCapacity)
	}
	if len(snap.Instances) != 2 {
		t.Fatalf("instances=%d, want 2", len(snap.Instances))
	}
	if snap.ClusterARN == "" {
		t.Error("ClusterARN is empty")
	}
}

func TestSnapshot_MissingCluster(t *testing.T) {
	r := NewStateReader(NewFakeECSClient(), &fakeResolver{}, testLogger())

	_, err := r.Snapshot(context.Background(), "no-such-cluster")
	var lookupErr *LookupError
	if !errors.As(err, &lookupErr) {
		t.Fatalf("Snapshot error=%v, want LookupError", err)
	}
	if lookupErr.Cluster != "no-such-cluster" {
		t.Errorf("Cluster=%s, want no-such-cluster", lookupErr.Cluster)
	}
}

func TestSnapshot_EmptyCluster(t *testing.T) {
	ecs := NewFakeECSClient()
	ecs.AddInstance("test-ecs-cluster", Instance{InstanceID: "i-1", ContainerInstanceARN: testARN("i-1")})
	ecs.RemoveInstance("test-ecs-cluster", "i-1")

	r := NewStateReader(ecs, &fakeResolver{}, testLogger())
	_, err := r.Snapshot(context.Background(), "test-ecs-cluster")
	var lookupErr *LookupError
	if !errors.As(err, &lookupErr) {
		t.Fatalf("Snapshot error=%v, want LookupError for empty cluster", err)
	}
}

func TestSnapshot_MultipleGroups(t *testing.T) {
	ecs := NewFakeECSClient()
	for _, id := range []string{"i-1", "i-2"} {
		ecs.AddInstance("test-ecs-cluster", Instance{
			InstanceID:           id,
			ContainerInstanceARN: testARN(id),
			Status:               StatusActive,
		})
	}
	resolver := &fakeResolver{
		groups: map[string]string{"i-1": "asg-a", "i-2": "asg-b"},
	}

	r := NewStateReader(ecs, resolver, testLogger())
	_, err := r.Snapshot(context.Background(), "test-ecs-cluster")
	var lookupErr *LookupError
	if !errors.As(err, &lookupErr) {
		t.Fatalf("Snapshot error=%v, want LookupError for split groups", err)
	}
}

func TestSnapshot_NewInstances(t *testing.T) {
	snap := &Snapshot{Instances: []Instance{
		{InstanceID: "i-1"},
		{InstanceID: "i-2"},
		{InstanceID: "i-fresh"},
	}}
	fresh := snap.NewInstances(map[string]bool{"i-1": true, "i-2": true})
	if len(fresh) != 1 || fresh[0].InstanceID != "i-fresh" {
		t.Errorf("NewInstances=%+v, want [i-fresh]", fresh)
	}
}

func TestInstance_Schedulable(t *testing.T) {
	tests := []struct {
		name string
		inst Instance
		want bool
	}{
		{"active connected", Instance{Status: StatusActive, AgentConnected: true}, true},
		{"active disconnected", Instance{Status: StatusActive}, false},
		{"draining", Instance{Status: StatusDraining, AgentConnected: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.inst.Schedulable(); got != tt.want {
				t.Errorf("Schedulable=%v, want %v", got, tt.want)
			}
		})
	}
}
