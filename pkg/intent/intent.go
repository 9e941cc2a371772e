package intent

import (
	"context"
	"strings"
	"time"

	"github.com/dotsetgreg/homeagent/pkg/config"
	"github.com/dotsetgreg/homeagent/pkg/session"
)

// Origin records which path produced an intent.
type Origin string

const (
	OriginResolver Origin = "resolver"
	OriginFallback Origin = "fallback"
)

// MaxFallbackConfidence is an exclusive ceiling for heuristic intents.
const MaxFallbackConfidence = 0.5

type Intent struct {
	InvolvesHardware bool           `json:"involves_hardware"`
	Device           string         `json:"device,omitempty"`
	Action           string         `json:"action,omitempty"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	Confidence       float64        `json:"confidence"`
	HasReference     bool           `json:"has_reference"`
	ReferenceWord    string         `json:"reference_word,omitempty"`
	ResolvedDevice   string         `json:"resolved_device,omitempty"`
	RequiresStatus   bool           `json:"requires_status"`
	RequiresMemory   bool           `json:"requires_memory"`
	Origin           Origin         `json:"origin"`
	// FallbackCause names why the resolver result was not used.
	FallbackCause string `json:"fallback_cause,omitempty"`
}

func (i Intent) IsFallback() bool {
	return i.Origin == OriginFallback
}

// Record is the reduced form kept in session intent history.
func (i Intent) Record(at time.Time) session.IntentRecord {
	return session.IntentRecord{
		Device:     i.Device,
		Action:     i.Action,
		Confidence: i.Confidence,
		Fallback:   i.IsFallback(),
		At:         at,
	}
}

// Request is what the language-understanding collaborator receives.
type Request struct {
	Text          string
	// History holds the turns before Text, oldest first.
	History       []session.Turn
	Devices       []KnownDevice
	DeviceContext map[string]map[string]any
	TrustScore    int
	// ReferenceHint is the device a pronoun in Text was resolved to, if any.
	ReferenceHint string
}

// KnownDevice is a registered device the resolver may name.
type KnownDevice struct {
	ID    string
	Class string
	Name  string
}

// DevicesFrom lists the configured seed devices, skipping entries without an id.
func DevicesFrom(seed []config.DeviceSpec) []KnownDevice {
	out := make([]KnownDevice, 0, len(seed))
	for _, spec := range seed {
		id := strings.TrimSpace(spec.ID)
		if id == "" {
			continue
		}
		class := strings.TrimSpace(spec.Class)
		if class == "" {
			class = id
		}
		out = append(out, KnownDevice{ID: id, Class: class, Name: strings.TrimSpace(spec.Name)})
	}
	return out
}

// Collaborator resolves text into raw structured output. It may fail, time
// out, or return text that is not valid intent JSON.
type Collaborator interface {
	ResolveIntent(ctx context.Context, req Request) (string, error)
}
