package authz

import (
	"strings"
	"testing"
	"unicode"

	"github.com/dotsetgreg/homeagent/pkg/config"
)

func newTestPolicy() *Policy {
	return NewPolicy(config.DefaultConfig().Authorization)
}

func TestPolicy_ThresholdTable(t *testing.T) {
	p := newTestPolicy()

	cases := []struct {
		class  string
		score  int
		allow  bool
		reason Reason
	}{
		{"lights", 30, true, ReasonAllowed},
		{"lights", 29, false, ReasonInsufficientTrust},
		{"air_conditioner", 59, false, ReasonInsufficientTrust},
		{"air_conditioner", 60, true, ReasonAllowed},
		{"tv", 40, true, ReasonAllowed},
		{"unknown_class", 49, false, ReasonInsufficientTrust},
		{"unknown_class", 50, true, ReasonAllowed},
	}
	for _, tc := range cases {
		d := p.Check(tc.class, "turn_on", tc.score, Modifiers{})
		if d.Allowed != tc.allow || d.Reason != tc.reason {
			t.Fatalf("Check(%s, %d) = %s, want allowed=%t reason=%s", tc.class, tc.score, d, tc.allow, tc.reason)
		}
		if d.CurrentScore != tc.score {
			t.Fatalf("CurrentScore = %d, want %d", d.CurrentScore, tc.score)
		}
	}
}

func TestPolicy_LowTrustAirConditioner(t *testing.T) {
	p := newTestPolicy()
	d := p.Evaluate("air_conditioner", "turn_on", nil, 25, false)
	if d.Allowed {
		t.Fatalf("expected denial, got %s", d)
	}
	if d.RequiredScore != 60 || d.Gap() != 35 {
		t.Fatalf("unexpected decision %s gap=%d", d, d.Gap())
	}
}

func TestPolicy_CriticalSetPointsAddPenalty(t *testing.T) {
	p := newTestPolicy()

	hot := p.Evaluate("air_conditioner", "set_temperature", map[string]any{"temperature": 29.0}, 70, false)
	if hot.Allowed || hot.RequiredScore != 80 || hot.Reason != ReasonInsufficientTrust {
		t.Fatalf("hot set-point: %s", hot)
	}
	cold := p.Evaluate("air_conditioner", "set_temperature", map[string]any{"temperature": 16}, 80, false)
	if !cold.Allowed || cold.RequiredScore != 80 {
		t.Fatalf("cold set-point: %s", cold)
	}
	mild := p.Evaluate("air_conditioner", "set_temperature", map[string]any{"temperature": "22"}, 60, false)
	if !mild.Allowed || mild.RequiredScore != 60 {
		t.Fatalf("mild set-point: %s", mild)
	}
	loud := p.Evaluate("speaker", "set_volume", map[string]any{"volume": 90}, 55, false)
	if loud.Allowed || loud.RequiredScore != 60 {
		t.Fatalf("loud volume: %s", loud)
	}
}

func TestPolicy_FallbackCriticalIsUnconfirmed(t *testing.T) {
	p := newTestPolicy()
	d := p.Evaluate("air_conditioner", "set_temperature", map[string]any{"temperature": 30}, 100, true)
	if d.Allowed || d.Reason != ReasonUnconfirmedIntent {
		t.Fatalf("expected unconfirmed_intent, got %s", d)
	}

	// A fallback intent on a non-critical action is judged on trust alone.
	ok := p.Evaluate("lights", "turn_on", nil, 40, true)
	if !ok.Allowed {
		t.Fatalf("expected allow, got %s", ok)
	}
}

func TestPolicy_UnknownAction(t *testing.T) {
	p := newTestPolicy()
	for _, action := range []string{"", "explode", "self_destruct"} {
		d := p.Check("lights", action, 100, Modifiers{})
		if d.Allowed || d.Reason != ReasonUnknownAction {
			t.Fatalf("Check(%q) = %s, want unknown_action", action, d)
		}
	}
}

func TestPolicy_Deterministic(t *testing.T) {
	p := newTestPolicy()
	params := map[string]any{"temperature": 28}
	first := p.Evaluate("air_conditioner", "set_temperature", params, 65, false)
	for i := 0; i < 100; i++ {
		if got := p.Evaluate("air_conditioner", "set_temperature", params, 65, false); got != first {
			t.Fatalf("decision changed on iteration %d: %s vs %s", i, got, first)
		}
	}
}

func TestDenialHint_NeverDisclosesNumbers(t *testing.T) {
	p := newTestPolicy()
	denials := []Decision{
		p.Evaluate("air_conditioner", "turn_on", nil, 10, false),
		p.Evaluate("air_conditioner", "turn_on", nil, 55, false),
		p.Evaluate("air_conditioner", "set_temperature", map[string]any{"temperature": 30}, 90, true),
		p.Check("tv", "levitate", 90, Modifiers{}),
	}
	for _, d := range denials {
		if hint := DenialHint(d, DisclosureNone); hint != "" {
			t.Fatalf("disclosure none should stay silent, got %q", hint)
		}
		hint := DenialHint(d, DisclosureHint)
		if strings.TrimSpace(hint) == "" {
			t.Fatalf("expected a hint for %s", d)
		}
		if strings.IndexFunc(hint, unicode.IsDigit) >= 0 {
			t.Fatalf("hint %q leaks a number", hint)
		}
	}
	if hint := DenialHint(Decision{Allowed: true}, DisclosureHint); hint != "" {
		t.Fatalf("allowed decisions have no hint, got %q", hint)
	}
}

func TestNewPolicy_NormalizesDisclosure(t *testing.T) {
	cfg := config.DefaultConfig().Authorization
	cfg.Disclosure = "HINT"
	if got := NewPolicy(cfg).Disclosure(); got != DisclosureHint {
		t.Fatalf("Disclosure() = %q", got)
	}
	cfg.Disclosure = "full"
	if got := NewPolicy(cfg).Disclosure(); got != DisclosureNone {
		t.Fatalf("Disclosure() = %q", got)
	}
}
