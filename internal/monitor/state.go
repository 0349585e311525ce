package monitor

import "fmt"

// RunState is the coarse lifecycle state of a running pipeline.
type RunState int32

const (
	StateIdle RunState = iota
	StateRunning
	StateStoppedEOS
	StateStoppedError
)

// String returns the state name (IDLE, RUNNING, STOPPED_EOS, STOPPED_ERROR).
func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStoppedEOS:
		return "STOPPED_EOS"
	case StateStoppedError:
		return "STOPPED_ERROR"
	default:
		return fmt.Sprintf("RunState(%d)", int32(s))
	}
}

// Stopped reports whether s is one of the terminal states.
func (s RunState) Stopped() bool {
	return s == StateStoppedEOS || s == StateStoppedError
}
