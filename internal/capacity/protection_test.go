package capacity

import (
	"context"
	"testing"
)

func TestProtection_SetSkipsAlreadyApplied(t *testing.T) {
	asg := NewFakeASGClient()
	asg.AddGroup("test-asg", 2, []string{"i-1", "i-2"})

	m := NewProtectionManager(asg, "test-asg", discardLogger())

	if err := m.Set(context.Background(), []string{"i-1"}, true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Set(context.Background(), []string{"i-1"}, true); err != nil {
		t.Fatalf("Set (repeat): %v", err)
	}
	if len(asg.ProtectionCalls) != 1 {
		t.Fatalf("protection calls=%d, want 1 for a repeated set", len(asg.ProtectionCalls))
	}

	// A mixed batch only sends the instances whose state changes.
	if err := m.Set(context.Background(), []string{"i-1", "i-2"}, true); err != nil {
		t.Fatalf("Set (batch): %v", err)
	}
	if len(asg.ProtectionCalls) != 2 {
		t.Fatalf("protection calls=%d, want 2", len(asg.ProtectionCalls))
	}
	second := asg.ProtectionCalls[1]
	if len(second.InstanceIDs) != 1 || second.InstanceIDs[0] != "i-2" {
		t.Errorf("second call instances=%v, want [i-2]", second.InstanceIDs)
	}
}

func TestProtection_ClearAll(t *testing.T) {
	asg := NewFakeASGClient()
	asg.AddGroup("test-asg", 3, []string{"i-1", "i-2", "i-3"})

	m := NewProtectionManager(asg, "test-asg", discardLogger())
	if err := m.Set(context.Background(), []string{"i-1", "i-2"}, true); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := len(m.Protected()); got != 2 {
		t.Fatalf("protected=%d, want 2", got)
	}

	if err := m.ClearAll(context.Background()); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if got := m.Protected(); len(got) != 0 {
		t.Errorf("protected after clear=%v, want none", got)
	}
	if ids := asg.ProtectedIDs("test-asg"); len(ids) != 0 {
		t.Errorf("group still protects %v", ids)
	}

	// Nothing left to clear, so no further API call.
	calls := len(asg.ProtectionCalls)
	if err := m.ClearAll(context.Background()); err != nil {
		t.Fatalf("ClearAll (repeat): %v", err)
	}
	if len(asg.ProtectionCalls) != calls {
		t.Errorf("protection calls grew from %d to %d on an empty clear", calls, len(asg.ProtectionCalls))
	}
}

func TestProtection_ClearUntouchedInstanceIsNoOp(t *testing.T) {
	asg := NewFakeASGClient()
	asg.AddGroup("test-asg", 1, []string{"i-1"})

	m := NewProtectionManager(asg, "test-asg", discardLogger())
	if err := m.Set(context.Background(), []string{"i-1"}, false); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if len(asg.ProtectionCalls) != 0 {
		t.Errorf("protection calls=%+v, want none for an already-unprotected instance", asg.ProtectionCalls)
	}
}
