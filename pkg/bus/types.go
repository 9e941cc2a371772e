package bus

import "time"

// InboundMessage is one user turn arriving from a channel.
type InboundMessage struct {
	Channel   string
	UserID    string
	SessionID string
	Content   string
	// ReceivedAt is stamped by PublishInbound when left zero.
	ReceivedAt time.Time
}

// OutboundMessage carries the reply for a turn back to its channel. Error is
// set when the turn could not be processed at all.
type OutboundMessage struct {
	Channel   string
	UserID    string
	SessionID string
	Content   string
	Error     string
}
