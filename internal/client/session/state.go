package session

// State is the position of the client in the session lifecycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Searching
	Matched
	InCall
)

var stateNames = [...]string{"disconnected", "connecting", "connected", "searching", "matched", "in-call"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// AllStates lists every state in lifecycle order.
var AllStates = []State{Disconnected, Connecting, Connected, Searching, Matched, InCall}

// Trigger is anything that can move the machine.
type Trigger int

const (
	TrigConnect Trigger = iota
	TrigConnected
	TrigConnectFailed
	TrigFindMatch
	TrigSearchCanceled
	TrigMatchFound
	TrigNegotiated
	TrigCallEnded
	TrigTransportLost
	TrigDisconnect
)

var triggerNames = [...]string{
	"connect", "connected", "connect-failed", "find-match", "search-canceled",
	"match-found", "negotiated", "call-ended", "transport-lost", "disconnect",
}

func (t Trigger) String() string {
	if int(t) < len(triggerNames) {
		return triggerNames[t]
	}
	return "unknown"
}

var AllTriggers = []Trigger{
	TrigConnect, TrigConnected, TrigConnectFailed, TrigFindMatch, TrigSearchCanceled,
	TrigMatchFound, TrigNegotiated, TrigCallEnded, TrigTransportLost, TrigDisconnect,
}

// transitions is the complete table. A pair missing here is rejected.
//
//	disconnected --connect--> connecting --connected--> connected
//	connecting --connect-failed--> disconnected
//	connected --find-match--> searching --match-found--> matched --negotiated--> in-call
//	searching --search-canceled--> connected
//	matched, in-call --call-ended--> connected
//	connected, searching, matched, in-call --transport-lost--> connecting
//	any --disconnect--> disconnected
var transitions = map[State]map[Trigger]State{
	Disconnected: {
		TrigConnect:    Connecting,
		TrigDisconnect: Disconnected,
	},
	Connecting: {
		TrigConnected:     Connected,
		TrigConnectFailed: Disconnected,
		TrigDisconnect:    Disconnected,
	},
	Connected: {
		TrigFindMatch:     Searching,
		TrigTransportLost: Connecting,
		TrigDisconnect:    Disconnected,
	},
	Searching: {
		TrigSearchCanceled: Connected,
		TrigMatchFound:     Matched,
		TrigTransportLost:  Connecting,
		TrigDisconnect:     Disconnected,
	},
	Matched: {
		TrigNegotiated:    InCall,
		TrigCallEnded:     Connected,
		TrigTransportLost: Connecting,
		TrigDisconnect:    Disconnected,
	},
	InCall: {
		TrigCallEnded:     Connected,
		TrigTransportLost: Connecting,
		TrigDisconnect:    Disconnected,
	},
}

// Next returns the state t leads to from s.
func Next(s State, t Trigger) (State, bool) {
	n, ok := transitions[s][t]
	return n, ok
}

// inRoom reports whether s holds a media session.
func (s State) inRoom() bool { return s == Matched || s == InCall }
