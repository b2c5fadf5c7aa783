package auth

// State is a step of the authentication pipeline.
type State int

const (
	StateStart State = iota
	StateUserToken
	StateDeviceToken
	StateIdentityExchange
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateUserToken:
		return "user token"
	case StateDeviceToken:
		return "device token"
	case StateIdentityExchange:
		return "identity exchange"
	case StateComplete:
		return "complete"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
