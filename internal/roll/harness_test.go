package roll

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/finnigja/ecsroll/internal/capacity"
	"github.com/finnigja/ecsroll/internal/cluster"
	"github.com/finnigja/ecsroll/internal/compute"
	"github.com/finnigja/ecsroll/internal/config"
)

// harness wires the three fake control planes together so they converge
// the way AWS eventually would: resizing the group registers or removes
// cluster instances, terminating an instance makes the group launch a
// substitute. It also records capacity at every observation point for
// invariant assertions.
type harness struct {
	ecs *cluster.FakeECSClient
	asg *capacity.FakeASGClient
	ec2 *compute.FakeEC2Client

	clusterName string
	groupName   string

	mu          sync.Mutex
	launchSeq   int
	overflowSeq int

	// capacityObservations records the healthy (schedulable,
	// non-draining) instance count at every snapshot.
	capacityObservations []int
	// drainingObservations records how many instances were DRAINING at
	// every snapshot.
	drainingObservations []int
}

func newHarness(clusterName, groupName string, instanceIDs []string) *harness {
	h := &harness{
		ecs:         cluster.NewFakeECSClient(),
		asg:         capacity.NewFakeASGClient(),
		ec2:         compute.NewFakeEC2Client(),
		clusterName: clusterName,
		groupName:   groupName,
	}

	for _, id := range instanceIDs {
		h.ecs.AddInstance(clusterName, cluster.Instance{
			InstanceID:           id,
			ContainerInstanceARN: arnFor(id),
			Status:               cluster.StatusActive,
			AgentConnected:       true,
		})
	}
	h.asg.AddGroup(groupName, int32(len(instanceIDs)), instanceIDs)

	h.asg.OnResize = h.onResize
	h.ec2.OnTerminate = h.onTerminate

	return h
}

func arnFor(id string) string {
	return "arn:aws:ecs:us-east-1:000000000000:container-instance/" + id
}

// onResize simulates the group converging on its new desired capacity:
// growth launches a fresh schedulable instance, shrink removes the last
// unprotected one (protected instances are never eligible).
func (h *harness) onResize(group capacity.GroupInfo, delta int32) {
	if delta > 0 {
		for i := int32(0); i < delta; i++ {
			h.mu.Lock()
			h.overflowSeq++
			id := fmt.Sprintf("i-overflow-%d", h.overflowSeq)
			h.mu.Unlock()
			h.launch(id)
		}
		return
	}
	for i := delta; i < 0; i++ {
		victim := ""
		for _, inst := range h.asg.GetGroup(h.groupName).Instances {
			if !inst.Protected {
				victim = inst.InstanceID
			}
		}
		if victim == "" {
			return
		}
		h.asg.RemoveInstance(victim)
		h.ecs.RemoveInstance(h.clusterName, victim)
	}
}

// onTerminate simulates the group's health-check replacement policy:
// the terminated instance leaves the cluster and a substitute registers.
func (h *harness) onTerminate(instanceID string) {
	h.asg.RemoveInstance(instanceID)
	h.ecs.RemoveInstance(h.clusterName, instanceID)

	h.mu.Lock()
	h.launchSeq++
	id := fmt.Sprintf("i-replacement-%d", h.launchSeq)
	h.mu.Unlock()
	h.launch(id)
}

func (h *harness) launch(id string) {
	h.asg.AddInstance(h.groupName, id)
	h.ecs.AddInstance(h.clusterName, cluster.Instance{
		InstanceID:           id,
		ContainerInstanceARN: arnFor(id),
		Status:               cluster.StatusActive,
		AgentConnected:       true,
	})
}

// reader returns a SnapshotReader that records capacity observations.
func (h *harness) reader() SnapshotReader {
	inner := cluster.NewStateReader(h.ecs, h.asg, discardLogger())
	return &recordingReader{inner: inner, h: h}
}

type recordingReader struct {
	inner *cluster.StateReader
	h     *harness
}

func (r *recordingReader) Snapshot(ctx context.Context, clusterName string) (*cluster.Snapshot, error) {
	snap, err := r.inner.Snapshot(ctx, clusterName)
	if err != nil {
		return nil, err
	}

	healthy := 0
	draining := 0
	for _, inst := range snap.Instances {
		if inst.Schedulable() {
			healthy++
		}
		if inst.Status == cluster.StatusDraining {
			draining++
		}
	}
	r.h.mu.Lock()
	r.h.capacityObservations = append(r.h.capacityObservations, healthy)
	r.h.drainingObservations = append(r.h.drainingObservations, draining)
	r.h.mu.Unlock()

	return snap, err
}

// orchestrator builds an orchestrator over the harness with fast,
// timer-free polling.
func (h *harness) orchestrator(action Action, gate Gate) *Orchestrator {
	return New(Config{
		Reader:  h.reader(),
		ECS:     h.ecs,
		ASG:     h.asg,
		EC2:     h.ec2,
		Gate:    gate,
		Logger:  discardLogger(),
		Cluster: h.clusterName,
		Action:  action,
		Wait:    testWait(),
		Sleep:   noSleep,
	})
}

func testWait() config.WaitConfig {
	return config.WaitConfig{
		BaseSeconds:         1,
		Factor:              1.0,
		Jitter:              0,
		DrainMaxAttempts:    5,
		CapacityMaxAttempts: 5,
		StatusMaxAttempts:   5,
	}
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
