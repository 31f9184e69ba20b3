package capacity

import (
	"context"
	"log/slog"
)

// ProtectionManager sets and clears scale-in protection so the capacity
// restoration step removes the overflow unit rather than an arbitrary
// freshly-matured instance. It remembers what it applied: setting the
// same value twice is a no-op with no underlying API call, and ClearAll
// guarantees nothing it set leaks past the run.
type ProtectionManager struct {
	asg    ASGClient
	group  string
	logger *slog.Logger

	// applied tracks the last state this manager set per instance.
	// Instances it never touched are assumed unprotected.
	applied map[string]bool
}

// NewProtectionManager creates a protection manager for one group.
func NewProtectionManager(asg ASGClient, group string, logger *slog.Logger) *ProtectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProtectionManager{
		asg:     asg,
		group:   group,
		logger:  logger,
		applied: make(map[string]bool),
	}
}

// Set applies the given protection state to the instances, skipping any
// already in that state.
func (m *ProtectionManager) Set(ctx context.Context, instanceIDs []string, protected bool) error {
	var pending []string
	for _, id := range instanceIDs {
		if m.applied[id] != protected {
			pending = append(pending, id)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	if err := m.asg.SetInstanceProtection(ctx, m.group, pending, protected); err != nil {
		return err
	}
	for _, id := range pending {
		m.applied[id] = protected
	}

	m.logger.Debug("scale-in protection updated",
		"group", m.group,
		"instances", pending,
		"protected", protected,
	)

	return nil
}

// Protected returns the instances currently protected by this manager.
func (m *ProtectionManager) Protected() []string {
	var ids []string
	for id, p := range m.applied {
		if p {
			ids = append(ids, id)
		}
	}
	return ids
}

// ClearAll removes protection from every instance this manager protected.
func (m *ProtectionManager) ClearAll(ctx context.Context) error {
	return m.Set(ctx, m.Protected(), false)
}
