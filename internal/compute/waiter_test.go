package compute

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/finnigja/ecsroll/internal/backoff"
)

func testWaiter(ec2 EC2Client, maxAttempts int) *Waiter {
	policy := backoff.Policy{
		Base:        time.Second,
		Factor:      1.0,
		MaxAttempts: maxAttempts,
		Sleep: func(ctx context.Context, _ time.Duration) error {
			return ctx.Err()
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWaiter(ec2, logger, policy)
}

func TestWaitInstanceOK_ImmediateOK(t *testing.T) {
	ec2 := NewFakeEC2Client()
	w := testWaiter(ec2, 5)
	if err := w.WaitInstanceOK(context.Background(), "i-1"); err != nil {
		t.Fatalf("WaitInstanceOK: %v", err)
	}
}

func TestWaitInstanceOK_PollsThroughInitializing(t *testing.T) {
	ec2 := NewFakeEC2Client()
	ec2.SetStatusSequence("i-1", []string{StatusInitializing, StatusInitializing, StatusOK})

	w := testWaiter(ec2, 10)
	if err := w.WaitInstanceOK(context.Background(), "i-1"); err != nil {
		t.Fatalf("WaitInstanceOK: %v", err)
	}
}

func TestWaitInstanceOK_AttemptCeiling(t *testing.T) {
	ec2 := NewFakeEC2Client()
	ec2.SetStatusSequence("i-1", []string{
		StatusImpaired, StatusImpaired, StatusImpaired, StatusImpaired, StatusImpaired,
	})

	w := testWaiter(ec2, 3)
	err := w.WaitInstanceOK(context.Background(), "i-1")

	var statusErr *StatusTimeoutError
	if !errors.As(err, &statusErr) {
		t.Fatalf("WaitInstanceOK error=%v, want StatusTimeoutError", err)
	}
	if statusErr.InstanceID != "i-1" {
		t.Errorf("InstanceID=%s, want i-1", statusErr.InstanceID)
	}
	if statusErr.Attempts != 3 {
		t.Errorf("Attempts=%d, want 3", statusErr.Attempts)
	}
	if !strings.Contains(err.Error(), "impaired") {
		t.Errorf("error %q does not report the last status", err)
	}
}

func TestWaitInstanceOK_ContextCancel(t *testing.T) {
	ec2 := NewFakeEC2Client()
	ec2.SetStatusSequence("i-1", []string{StatusInitializing, StatusInitializing})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := testWaiter(ec2, 10)
	if err := w.WaitInstanceOK(ctx, "i-1"); err == nil {
		t.Fatal("WaitInstanceOK: want error on cancelled context")
	}
}
