package station

// State is a station's position in the worker state machine (§4.2 of
// spec.md). It is held as an atomic word on Worker, mirroring the
// `QAtomicInt`-backed state field in original_source/core/WorkStation.h.
type State int32

const (
	Idle State = iota
	Running
	Paused
	Blocked
	Stopping
	Stopped
	Error
)

var stateNames = [...]string{
	"Idle", "Running", "Paused", "Blocked", "Stopping", "Stopped", "Error",
}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}
