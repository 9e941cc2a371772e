package workflow

// State names a node of the turn graph.
type State string

const (
	StateStart            State = "START"
	StateResolveReference State = "RESOLVE_REFERENCE"
	StateResolveIntent    State = "RESOLVE_INTENT"
	StateAuthorize        State = "AUTHORIZE"
	StateDispatchDevice   State = "DISPATCH_DEVICE"
	StateQueryStatus      State = "QUERY_STATUS"
	StateRetrieveMemory   State = "RETRIEVE_MEMORY"
	StateChat             State = "CHAT"
	StateComposeReply     State = "COMPOSE_REPLY"
	StateEnd              State = "END"
	StateError            State = "ERROR"
)

// transitions is the complete edge set. ERROR is reachable from every
// non-terminal node and is not listed; it is itself terminal.
var transitions = map[State][]State{
	StateStart:            {StateResolveReference},
	StateResolveReference: {StateResolveIntent},
	StateResolveIntent:    {StateAuthorize, StateQueryStatus, StateRetrieveMemory, StateChat, StateComposeReply},
	StateAuthorize:        {StateDispatchDevice, StateComposeReply},
	StateDispatchDevice:   {StateComposeReply},
	StateQueryStatus:      {StateComposeReply},
	StateRetrieveMemory:   {StateComposeReply},
	StateChat:             {StateComposeReply},
	StateComposeReply:     {StateEnd},
}

func (s State) Terminal() bool {
	return s == StateEnd || s == StateError
}

func allowed(from, to State) bool {
	if to == StateError {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Outcome classifies what a turn ended up doing; it drives reply templates
// and is carried to background work.
type Outcome string

const (
	OutcomeDeviceSuccess Outcome = "device_success"
	OutcomeDeviceFailure Outcome = "device_failure"
	OutcomeDenied        Outcome = "denied"
	OutcomeUnknownDevice Outcome = "unknown_device"
	OutcomeClarify       Outcome = "clarify"
	OutcomeStatus        Outcome = "status"
	OutcomeMemory        Outcome = "memory"
	OutcomeChat          Outcome = "chat"
	OutcomeError         Outcome = "error"
)
