package copier

// State tracks where the reconciliation loop is in its lifecycle.
// Stopped and Fatal are terminal.
type State string

const (
	StateIdle      State = "IDLE"
	StateMaster    State = "MASTER_SESSION_ACTIVE"
	StatePolling   State = "POLLING"
	StateReplaying State = "REPLAYING_ON_SLAVE"
	StateStopped   State = "STOPPED"
	StateFatal     State = "FATAL"
)

// gaugeValue maps states to the loop-state metric.
func (s State) gaugeValue() float64 {
	switch s {
	case StateIdle:
		return 0
	case StateMaster:
		return 1
	case StatePolling:
		return 2
	case StateReplaying:
		return 3
	case StateStopped:
		return 4
	case StateFatal:
		return 5
	default:
		return -1
	}
}
