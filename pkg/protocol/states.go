package protocol

import "regexp"

// RobotState is the externally observable robot state.
type RobotState string

const (
	RobotStateIdle           RobotState = "idle"
	RobotStateActive         RobotState = "active"
	RobotStateSafeStop       RobotState = "safe_stop"
	RobotStateSafeStopFailed RobotState = "safe_stop_failed"
)

// Teleoperation action scopes.
const (
	ScopeView    = "teleop:view"
	ScopeControl = "teleop:control"
	ScopeEStop   = "teleop:estop"
)

// actionPattern constrains action strings to lower-case namespace:verb.
var actionPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*:[a-z][a-z0-9_-]*$`)

// IsValidAction reports whether s is a well-formed action string.
func IsValidAction(s string) bool {
	return actionPattern.MatchString(s)
}
