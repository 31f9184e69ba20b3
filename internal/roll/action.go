// Package roll implements the maintenance orchestrator: the per-instance
// state machine that drains each container instance, applies the
// requested action, and keeps cluster capacity protected throughout.
package roll

import "fmt"

// Action is the maintenance applied to each instance.
type Action int

const (
	// ActionReplace terminates the instance and lets the Auto Scaling
	// Group launch a substitute.
	ActionReplace Action = iota
	// ActionReboot reboots the instance in place; the same instance ID
	// persists.
	ActionReboot
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionReplace:
		return "replace"
	case ActionReboot:
		return "reboot"
	default:
		return "unknown"
	}
}

// ParseAction parses an action name.
func ParseAction(s string) (Action, error) {
	switch s {
	case "replace":
		return ActionReplace, nil
	case "reboot":
		return ActionReboot, nil
	default:
		return 0, fmt.Errorf("unknown action %q (want \"replace\" or \"reboot\")", s)
	}
}
