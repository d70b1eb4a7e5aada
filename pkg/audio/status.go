package audio

// StatusListening is the only status value a session reports: playback is
// over and the host may start listening again.
const StatusListening = "listening"

// Reason says why a session ended.
type Reason string

const (
	// ReasonEnded means the stream was marked ended and fully played.
	ReasonEnded Reason = "ended"
	// ReasonDrained means no data arrived within the drain window.
	ReasonDrained Reason = "drained"
	// ReasonStopped means Stop interrupted the session.
	ReasonStopped Reason = "stopped"
	// ReasonFailed means the device failed to open or write.
	ReasonFailed Reason = "failed"
	// ReasonClosed means Close interrupted the session.
	ReasonClosed Reason = "closed"
)

// Status is emitted exactly once when a session ends.
type Status struct {
	Status    string  `json:"status"`
	SessionID string  `json:"session_id"`
	Reason    Reason  `json:"reason"`
	Err       error   `json:"-"`
	Error     string  `json:"error,omitempty"`
	Metrics   Metrics `json:"metrics"`
}

func newStatus(id string, reason Reason, err error, m Metrics) Status {
	st := Status{
		Status:    StatusListening,
		SessionID: id,
		Reason:    reason,
		Err:       err,
		Metrics:   m,
	}
	if err != nil {
		st.Error = err.Error()
	}
	return st
}
