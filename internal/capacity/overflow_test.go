package capacity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/finnigja/ecsroll/internal/backoff"
	"github.com/finnigja/ecsroll/internal/cluster"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func testPolicy(maxAttempts int) backoff.Policy {
	return backoff.Policy{
		Base:        time.Second,
		Factor:      1.0,
		MaxAttempts: maxAttempts,
		Sleep:       noSleep,
	}
}

// capacityFixture couples a fake ECS cluster to a fake scaling group so
// resize effects show up in snapshots.
type capacityFixture struct {
	ecs    *cluster.FakeECSClient
	asg    *FakeASGClient
	reader *cluster.StateReader
}

func newCapacityFixture(instanceIDs []string) *capacityFixture {
	f := &capacityFixture{
		ecs: cluster.NewFakeECSClient(),
		asg: NewFakeASGClient(),
	}
	f.asg.AddGroup("test-asg", int32(len(instanceIDs)), instanceIDs)
	for _, id := range instanceIDs {
		f.register(id)
	}
	f.reader = cluster.NewStateReader(f.ecs, f.asg, discardLogger())
	return f
}

func (f *capacityFixture) register(id string) {
	f.ecs.AddInstance("test-ecs-cluster", cluster.Instance{
		InstanceID:           id,
		ContainerInstanceARN: "arn:aws:ecs:us-east-1:000000000000:container-instance/test-ecs-cluster/" + id,
		Status:               cluster.StatusActive,
		AgentConnected:       true,
	})
}

func (f *capacityFixture) launch(id string) {
	f.asg.AddInstance("test-asg", id)
	f.register(id)
}

func (f *capacityFixture) snapshot(t *testing.T) *cluster.Snapshot {
	t.Helper()
	snap, err := f.reader.Snapshot(context.Background(), "test-ecs-cluster")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return snap
}

func TestGrow_ReturnsFreshInstances(t *testing.T) {
	f := newCapacityFixture([]string{"i-1", "i-2"})
	f.asg.OnResize = func(g GroupInfo, delta int32) {
		if delta > 0 {
			f.launch("i-over")
		}
	}

	m := NewOverflowManager(OverflowManagerConfig{
		ASG:     f.asg,
		Reader:  f.reader,
		Logger:  discardLogger(),
		Backoff: testPolicy(5),
	})

	fresh, err := m.Grow(context.Background(), f.snapshot(t), 1)
	if err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if len(fresh) != 1 || fresh[0].InstanceID != "i-over" {
		t.Fatalf("fresh=%+v, want [i-over]", fresh)
	}
	if got := f.asg.GetGroup("test-asg").DesiredCapacity; got != 3 {
		t.Errorf("desired capacity=%d, want 3", got)
	}
}

func TestGrow_WaitsForAgentConnection(t *testing.T) {
	f := newCapacityFixture([]string{"i-1"})
	f.asg.OnResize = func(g GroupInfo, delta int32) {
		if delta > 0 {
			f.launch("i-over")
			// Registered but the agent has not connected yet.
			f.ecs.SetAgentConnected("test-ecs-cluster", "i-over", false)
		}
	}

	var polls int
	connectLater := func(ctx context.Context, _ time.Duration) error {
		polls++
		if polls == 2 {
			f.ecs.SetAgentConnected("test-ecs-cluster", "i-over", true)
		}
		return ctx.Err()
	}

	m := NewOverflowManager(OverflowManagerConfig{
		ASG:    f.asg,
		Reader: f.reader,
		Logger: discardLogger(),
		Backoff: backoff.Policy{
			Base:        time.Second,
			Factor:      1.0,
			MaxAttempts: 5,
			Sleep:       connectLater,
		},
	})

	fresh, err := m.Grow(context.Background(), f.snapshot(t), 1)
	if err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if len(fresh) != 1 || fresh[0].InstanceID != "i-over" {
		t.Fatalf("fresh=%+v, want [i-over]", fresh)
	}
	if polls < 2 {
		t.Errorf("polls=%d, want the wait to span the agent reconnect", polls)
	}
}

func TestGrow_TimeoutWhenNothingRegisters(t *testing.T) {
	f := newCapacityFixture([]string{"i-1", "i-2"})

	m := NewOverflowManager(OverflowManagerConfig{
		ASG:     f.asg,
		Reader:  f.reader,
		Logger:  discardLogger(),
		Backoff: testPolicy(4),
	})

	_, err := m.Grow(context.Background(), f.snapshot(t), 1)
	var capErr *CapacityTimeoutError
	if !errors.As(err, &capErr) {
		t.Fatalf("Grow error=%v, want CapacityTimeoutError", err)
	}
	if capErr.Group != "test-asg" {
		t.Errorf("Group=%s, want test-asg", capErr.Group)
	}
	if capErr.WantInstances != 3 {
		t.Errorf("WantInstances=%d, want 3", capErr.WantInstances)
	}
	if capErr.Attempts != 4 {
		t.Errorf("Attempts=%d, want 4", capErr.Attempts)
	}
}

func TestGrow_ChecksInstanceStatus(t *testing.T) {
	f := newCapacityFixture([]string{"i-1"})
	f.asg.OnResize = func(g GroupInfo, delta int32) {
		if delta > 0 {
			f.launch("i-over")
		}
	}

	var checked []string
	m := NewOverflowManager(OverflowManagerConfig{
		ASG:     f.asg,
		Reader:  f.reader,
		Logger:  discardLogger(),
		Backoff: testPolicy(5),
		WaitInstanceOK: func(ctx context.Context, instanceID string) error {
			checked = append(checked, instanceID)
			return nil
		},
	})

	if _, err := m.Grow(context.Background(), f.snapshot(t), 1); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if len(checked) != 1 || checked[0] != "i-over" {
		t.Errorf("status checks=%v, want [i-over]", checked)
	}
}
