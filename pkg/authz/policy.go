package authz

import (
	"fmt"
	"strings"

	"github.com/dotsetgreg/homeagent/pkg/config"
)

type Reason string

const (
	ReasonAllowed           Reason = "allowed"
	ReasonInsufficientTrust Reason = "insufficient_trust"
	ReasonUnconfirmedIntent Reason = "unconfirmed_intent"
	ReasonUnknownAction     Reason = "unknown_action"
)

// Disclosure modes for denial replies.
const (
	DisclosureNone = "none"
	DisclosureHint = "hint"
)

var knownActions = map[string]struct{}{
	"turn_on":         {},
	"turn_off":        {},
	"set_brightness":  {},
	"set_color":       {},
	"set_hue":         {},
	"set_saturation":  {},
	"set_temperature": {},
	"set_mode":        {},
	"set_volume":      {},
	"play":            {},
	"pause":           {},
	"set_channel":     {},
	"set_position":    {},
	"open_curtain":    {},
	"close_curtain":   {},
}

// Modifiers adjust a check. CriticalKey selects the penalty applied when
// Critical is set.
type Modifiers struct {
	Critical    bool
	CriticalKey string
	Fallback    bool
}

type Decision struct {
	Allowed       bool   `json:"allowed"`
	RequiredScore int    `json:"required_score"`
	CurrentScore  int    `json:"current_score"`
	Reason        Reason `json:"reason"`
}

// Gap is how far the current score falls short of the requirement.
func (d Decision) Gap() int {
	if d.CurrentScore >= d.RequiredScore {
		return 0
	}
	return d.RequiredScore - d.CurrentScore
}

// Policy is a pure function of its configuration: the same inputs always
// produce the same decision.
type Policy struct {
	thresholds       map[string]int
	defaultThreshold int
	penalties        map[string]int
	temperatureHigh  float64
	temperatureLow   float64
	volumeHigh       float64
	disclosure       string
}

func NewPolicy(cfg config.AuthorizationConfig) *Policy {
	p := &Policy{
		thresholds:       make(map[string]int, len(cfg.Thresholds)),
		defaultThreshold: cfg.DefaultThreshold,
		penalties:        make(map[string]int, len(cfg.CriticalPenalty)),
		temperatureHigh:  float64(cfg.TemperatureHigh),
		temperatureLow:   float64(cfg.TemperatureLow),
		volumeHigh:       float64(cfg.VolumeHigh),
		disclosure:       strings.ToLower(strings.TrimSpace(cfg.Disclosure)),
	}
	for class, threshold := range cfg.Thresholds {
		p.thresholds[normalize(class)] = threshold
	}
	for key, penalty := range cfg.CriticalPenalty {
		p.penalties[normalize(key)] = penalty
	}
	if p.defaultThreshold <= 0 {
		p.defaultThreshold = 50
	}
	if p.disclosure != DisclosureHint {
		p.disclosure = DisclosureNone
	}
	return p
}

func (p *Policy) Disclosure() string {
	return p.disclosure
}

// Threshold returns the base trust needed to operate a device class.
func (p *Policy) Threshold(class string) int {
	if threshold, ok := p.thresholds[normalize(class)]; ok {
		return threshold
	}
	return p.defaultThreshold
}

// Check decides whether a user with score may run action on a device of the
// given class.
func (p *Policy) Check(class, action string, score int, mods Modifiers) Decision {
	required := p.Threshold(class)
	if mods.Critical {
		required += p.penalty(mods.CriticalKey)
	}
	required = min(required, 100)

	d := Decision{RequiredScore: required, CurrentScore: score}
	switch {
	case !KnownAction(action):
		d.Reason = ReasonUnknownAction
	case mods.Critical && mods.Fallback:
		d.Reason = ReasonUnconfirmedIntent
	case score >= required:
		d.Allowed = true
		d.Reason = ReasonAllowed
	default:
		d.Reason = ReasonInsufficientTrust
	}
	return d
}

// Evaluate classifies the action's parameters and runs Check.
func (p *Policy) Evaluate(class, action string, params map[string]any, score int, fallback bool) Decision {
	key, critical := p.IsCritical(action, params)
	return p.Check(class, action, score, Modifiers{Critical: critical, CriticalKey: key, Fallback: fallback})
}

func (p *Policy) penalty(key string) int {
	if penalty, ok := p.penalties[normalize(key)]; ok {
		return penalty
	}
	highest := 0
	for _, penalty := range p.penalties {
		highest = max(highest, penalty)
	}
	return highest
}

// IsCritical reports whether the parameters push a device to an extreme
// set-point, and which penalty key applies.
func (p *Policy) IsCritical(action string, params map[string]any) (string, bool) {
	switch normalize(action) {
	case "set_temperature":
		value, ok := number(params, "temperature", "value")
		if !ok {
			return "", false
		}
		if value >= p.temperatureHigh {
			return "set_temperature_high", true
		}
		if value <= p.temperatureLow {
			return "set_temperature_low", true
		}
	case "set_volume":
		value, ok := number(params, "volume", "value", "level")
		if ok && value >= p.volumeHigh {
			return "set_volume_high", true
		}
	}
	return "", false
}

func KnownAction(action string) bool {
	_, ok := knownActions[normalize(action)]
	return ok
}

// DenialHint returns a short non-numeric explanation for a denied decision,
// or "" when the mode discloses nothing.
func DenialHint(d Decision, mode string) string {
	if d.Allowed || mode != DisclosureHint {
		return ""
	}
	switch d.Reason {
	case ReasonUnconfirmedIntent:
		return "I want to be sure I understood you before making a change that big."
	case ReasonUnknownAction:
		return "I'm not sure how to do that with this device."
	}
	if d.Gap() <= 10 {
		return "We're nearly there; a little more time together and I can do this for you."
	}
	return "I'd like us to get to know each other a bit better first."
}

func (d Decision) String() string {
	return fmt.Sprintf("%s (required=%d current=%d)", d.Reason, d.RequiredScore, d.CurrentScore)
}

func number(params map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		raw, ok := params[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case float64:
			return v, true
		case float32:
			return float64(v), true
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		case string:
			var f float64
			if _, err := fmt.Sscanf(strings.TrimSpace(v), "%g", &f); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
