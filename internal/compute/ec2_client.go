// Package compute controls the EC2 instances underneath the cluster:
// terminate for REPLACE, reboot for REBOOT, and status-check polling.
package compute

import (
	"context"
	"sync"
)

// Status check values as reported by DescribeInstanceStatus.
const (
	StatusOK           = "ok"
	StatusInitializing = "initializing"
	StatusImpaired     = "impaired"
)

// EC2Client abstracts the EC2 instance operations the roll needs.
type EC2Client interface {
	// TerminateInstance terminates an instance.
	TerminateInstance(ctx context.Context, instanceID string) error

	// RebootInstance reboots an instance in place.
	RebootInstance(ctx context.Context, instanceID string) error

	// InstanceStatus returns the instance status check summary
	// ("ok", "initializing", "impaired", ...).
	InstanceStatus(ctx context.Context, instanceID string) (string, error)
}

// FakeEC2Client implements EC2Client in memory for tests.
type FakeEC2Client struct {
	mu       sync.Mutex
	statuses map[string][]string // instance ID -> status per poll; exhausted = ok
	failures map[string]error    // instance ID -> error returned by mutations

	// TerminateCalls records terminated instance IDs in order.
	TerminateCalls []string
	// RebootCalls records rebooted instance IDs in order.
	RebootCalls []string

	// OnTerminate, when set, runs after every successful termination.
	// Test harnesses use it to remove the instance from fake control planes.
	OnTerminate func(instanceID string)
}

// NewFakeEC2Client creates a fake EC2 control plane where every
// instance immediately reports "ok".
func NewFakeEC2Client() *FakeEC2Client {
	return &FakeEC2Client{
		statuses: make(map[string][]string),
		failures: make(map[string]error),
	}
}

// SetStatusSequence sets the statuses returned by successive
// InstanceStatus polls. After the sequence is exhausted the status is "ok".
func (f *FakeEC2Client) SetStatusSequence(instanceID string, statuses []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[instanceID] = statuses
}

// FailActions makes mutations against the instance return err, simulating
// an API rejection such as "instance already terminated".
func (f *FakeEC2Client) FailActions(instanceID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[instanceID] = err
}

func (f *FakeEC2Client) TerminateInstance(ctx context.Context, instanceID string) error {
	f.mu.Lock()
	if err := f.failures[instanceID]; err != nil {
		f.mu.Unlock()
		return err
	}
	f.TerminateCalls = append(f.TerminateCalls, instanceID)
	hook := f.OnTerminate
	f.mu.Unlock()

	if hook != nil {
		hook(instanceID)
	}
	return nil
}

func (f *FakeEC2Client) RebootInstance(ctx context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failures[instanceID]; err != nil {
		return err
	}
	f.RebootCalls = append(f.RebootCalls, instanceID)
	return nil
}

func (f *FakeEC2Client) InstanceStatus(ctx context.Context, instanceID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if seq := f.statuses[instanceID]; len(seq) > 0 {
		status := seq[0]
		f.statuses[instanceID] = seq[1:]
		return status, nil
	}
	return StatusOK, nil
}

// Compile-time interface check.
var _ EC2Client = (*FakeEC2Client)(nil)
