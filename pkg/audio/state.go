package audio

// State is the lifecycle phase of a playback session.
type State int

const (
	// StateIdle means no session exists.
	StateIdle State = iota
	// StatePrebuffering means the session waits for enough data to open the device.
	StatePrebuffering
	// StatePlaying means chunks are being written to the device.
	StatePlaying
	// StateDraining means the queue is empty and the session waits for more data.
	StateDraining
	// StateStopped means the session has ended and released the device.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrebuffering:
		return "prebuffering"
	case StatePlaying:
		return "playing"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name for JSON status responses.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
