package protocol

type FindMatch struct {
	Mode string `json:"mode,omitempty"`
}

type RoomRef struct {
	RoomID string `json:"roomId"`
}

type Matched struct {
	RoomID    string `json:"roomId"`
	PartnerID string `json:"partnerId"`
}

type MatchFound struct {
	RoomID    string `json:"roomId"`
	PartnerID string `json:"partnerId"`
	Role      string `json:"role"`
}

// ChatMessage is sent by clients with RoomID and delivered with SenderID.
type ChatMessage struct {
	RoomID   string `json:"roomId,omitempty"`
	Msg      string `json:"msg"`
	SenderID string `json:"senderId,omitempty"`
}

type Typing struct {
	RoomID   string `json:"roomId,omitempty"`
	IsTyping bool   `json:"isTyping"`
	SenderID string `json:"senderId,omitempty"`
}

type OnlineUsers struct {
	Count int `json:"count"`
}

type Error struct {
	Message string `json:"message"`
}

// SessionDescription mirrors the offer/answer SDP shape of the media engine.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidate mirrors the trickled candidate shape of the media engine.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type Offer struct {
	RoomID string             `json:"roomId,omitempty"`
	Offer  SessionDescription `json:"offer"`
}

type Answer struct {
	RoomID string             `json:"roomId,omitempty"`
	Answer SessionDescription `json:"answer"`
}

type Candidate struct {
	RoomID    string       `json:"roomId,omitempty"`
	Candidate ICECandidate `json:"candidate"`
}
