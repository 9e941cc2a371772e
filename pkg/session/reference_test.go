package session

import (
	"testing"
	"time"
)

func TestDetectReference(t *testing.T) {
	cases := []struct {
		text string
		word string
		ok   bool
	}{
		{"dim it", "it", true},
		{"Turn THAT off please", "that", true},
		{"把它关掉", "它", true},
		{"打开刚才的灯", "刚才的", true},
		{"turn on the lights", "", false},
		{"itinerary for today", "", false},
	}
	for _, tc := range cases {
		word, ok := DetectReference(tc.text)
		if ok != tc.ok || word != tc.word {
			t.Fatalf("DetectReference(%q) = (%q, %v), want (%q, %v)", tc.text, word, ok, tc.word, tc.ok)
		}
	}
}

func TestResolveReferencePrefersLastDeviceAction(t *testing.T) {
	snap := Session{
		Intents: []IntentRecord{{Device: "tv"}, {Device: "speaker"}},
	}
	snap.SetLastDeviceAction("lights", "turn_on", time.Now())

	got, ok := ResolveReference(snap, "it", 3)
	if !ok || got != "lights" {
		t.Fatalf("ResolveReference = (%q, %v), want lights", got, ok)
	}
}

func TestResolveReferenceScansRecentIntents(t *testing.T) {
	snap := Session{
		Intents: []IntentRecord{
			{Device: "curtains"},
			{Device: "tv"},
			{},
			{},
		},
	}
	if got, ok := ResolveReference(snap, "that", 3); !ok || got != "tv" {
		t.Fatalf("ResolveReference = (%q, %v), want tv", got, ok)
	}
	// The curtains intent sits outside a scan of two.
	if got, ok := ResolveReference(snap, "that", 2); ok {
		t.Fatalf("expected no match within scan=2, got %q", got)
	}
	if _, ok := ResolveReference(Session{}, "it", 3); ok {
		t.Fatal("empty session must not resolve")
	}
	if _, ok := ResolveReference(snap, "", 3); ok {
		t.Fatal("empty word must not resolve")
	}
}

func TestResolveReferenceIdempotent(t *testing.T) {
	snap := Session{Intents: []IntentRecord{{Device: "speaker"}}}
	first, ok1 := ResolveReference(snap, "it", 3)
	second, ok2 := ResolveReference(snap, "it", 3)
	if first != second || ok1 != ok2 {
		t.Fatalf("resolution not idempotent: (%q,%v) vs (%q,%v)", first, ok1, second, ok2)
	}
}
