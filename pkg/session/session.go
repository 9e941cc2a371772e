package session

import (
	"slices"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is immutable once appended to a session.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// IntentRecord is the slice of a resolved intent kept for reference resolution.
type IntentRecord struct {
	Device     string    `json:"device,omitempty"`
	Action     string    `json:"action,omitempty"`
	Confidence float64   `json:"confidence"`
	Fallback   bool      `json:"fallback,omitempty"`
	At         time.Time `json:"at"`
}

type DeviceAction struct {
	DeviceID  string    `json:"device_id"`
	Command   string    `json:"command"`
	TurnIndex int       `json:"turn_index"`
	At        time.Time `json:"at"`
}

// Session is the mutable state of one conversation. Values returned by the
// Store are detached copies; only the copy handed to a WithSession callback
// is ever committed back.
type Session struct {
	ID               string                    `json:"id"`
	UserID           string                    `json:"user_id"`
	TrustScore       int                       `json:"trust_score"`
	History          []Turn                    `json:"history"`
	DeviceStates     map[string]map[string]any `json:"device_states"`
	LastDeviceAction *DeviceAction             `json:"last_device_action,omitempty"`
	PendingIntent    *IntentRecord             `json:"pending_intent,omitempty"`
	Intents          []IntentRecord            `json:"intents"`
	// Seq counts every turn ever appended; it orders the durable log.
	Seq              int                       `json:"seq"`
	CreatedAt        time.Time                 `json:"created_at"`
	LastActivityAt   time.Time                 `json:"last_activity_at"`
}

func (s *Session) Clone() Session {
	out := *s
	out.History = slices.Clone(s.History)
	out.Intents = slices.Clone(s.Intents)
	if s.DeviceStates != nil {
		out.DeviceStates = make(map[string]map[string]any, len(s.DeviceStates))
		for id, state := range s.DeviceStates {
			out.DeviceStates[id] = cloneState(state)
		}
	}
	if s.LastDeviceAction != nil {
		action := *s.LastDeviceAction
		out.LastDeviceAction = &action
	}
	if s.PendingIntent != nil {
		pending := *s.PendingIntent
		out.PendingIntent = &pending
	}
	return out
}

func cloneState(state map[string]any) map[string]any {
	if state == nil {
		return nil
	}
	out := make(map[string]any, len(state))
	for k, v := range state {
		out[k] = v
	}
	return out
}

func (s *Session) Tone() Tone {
	return ToneFor(s.TrustScore)
}

func (s *Session) AppendTurn(turn Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	s.History = append(s.History, turn)
	s.Seq++
	if turn.Timestamp.After(s.LastActivityAt) {
		s.LastActivityAt = turn.Timestamp
	}
}

// RecentHistory returns at most n of the newest turns, oldest first.
func (s *Session) RecentHistory(n int) []Turn {
	if n <= 0 || len(s.History) <= n {
		return slices.Clone(s.History)
	}
	return slices.Clone(s.History[len(s.History)-n:])
}

// SetLastDeviceAction points at the newest turn; the device stays the target
// of pronoun resolution until another device is touched.
func (s *Session) SetLastDeviceAction(deviceID, command string, at time.Time) {
	if deviceID == "" {
		return
	}
	s.LastDeviceAction = &DeviceAction{
		DeviceID:  deviceID,
		Command:   command,
		TurnIndex: len(s.History) - 1,
		At:        at,
	}
}

func (s *Session) SetDeviceState(deviceID string, state map[string]any) {
	if deviceID == "" {
		return
	}
	if s.DeviceStates == nil {
		s.DeviceStates = make(map[string]map[string]any)
	}
	s.DeviceStates[deviceID] = cloneState(state)
}

// RecordIntent appends to the bounded intent history, dropping the oldest.
func (s *Session) RecordIntent(rec IntentRecord, limit int) {
	s.Intents = append(s.Intents, rec)
	if limit > 0 && len(s.Intents) > limit {
		s.Intents = slices.Clone(s.Intents[len(s.Intents)-limit:])
	}
}

func (s *Session) BumpTrust(delta int) {
	s.TrustScore = ClampTrust(s.TrustScore + delta)
}

// RaiseTrust merges score into the session without ever lowering it.
func (s *Session) RaiseTrust(score int) {
	score = ClampTrust(score)
	if score > s.TrustScore {
		s.TrustScore = score
	}
}

func ClampTrust(score int) int {
	return max(0, min(100, score))
}
