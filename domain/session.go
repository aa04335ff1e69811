package domain

// SessionState is the lifecycle of one connection handled by the gateway.
type SessionState int32

const (
	Disconnected SessionState = iota
	Joining
	Active
	Leaving
)

func (s SessionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Joining:
		return "Joining"
	case Active:
		return "Active"
	case Leaving:
		return "Leaving"
	default:
		return "Unknown"
	}
}
