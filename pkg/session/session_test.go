package session

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestBumpTrustClamps(t *testing.T) {
	deltas := []int{-1 << 30, -500, -101, -1, 0, 1, 7, 99, 101, 1 << 30}
	for _, start := range []int{0, 25, 50, 100} {
		for _, delta := range deltas {
			s := Session{TrustScore: start}
			s.BumpTrust(delta)
			if s.TrustScore < 0 || s.TrustScore > 100 {
				t.Fatalf("BumpTrust(%d) from %d produced %d", delta, start, s.TrustScore)
			}
		}
	}
}

func TestRaiseTrustNeverLowers(t *testing.T) {
	s := Session{TrustScore: 70}
	s.RaiseTrust(40)
	if s.TrustScore != 70 {
		t.Fatalf("trust lowered to %d", s.TrustScore)
	}
	s.RaiseTrust(250)
	if s.TrustScore != 100 {
		t.Fatalf("trust = %d, want clamp at 100", s.TrustScore)
	}
}

func TestAppendTurnKeepsOrder(t *testing.T) {
	s := Session{}
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i := 0; i < 25; i++ {
		before := len(s.History)
		s.AppendTurn(Turn{ID: fmt.Sprint(i), Role: RoleUser, Content: fmt.Sprint(i), Timestamp: base.Add(time.Duration(i) * time.Second)})
		if len(s.History) != before+1 {
			t.Fatalf("history length %d after append, want %d", len(s.History), before+1)
		}
	}
	for i, turn := range s.History {
		if turn.ID != fmt.Sprint(i) {
			t.Fatalf("turn %d has id %s", i, turn.ID)
		}
	}
	if !s.LastActivityAt.Equal(base.Add(24 * time.Second)) {
		t.Fatalf("last activity = %v", s.LastActivityAt)
	}
	recent := s.RecentHistory(3)
	if len(recent) != 3 || recent[0].ID != "22" || recent[2].ID != "24" {
		t.Fatalf("unexpected recent window: %+v", recent)
	}
}

func TestCloneIsDetached(t *testing.T) {
	s := Session{
		ID:           "s1",
		History:      []Turn{{ID: "t1", Role: RoleUser, Content: "hi"}},
		DeviceStates: map[string]map[string]any{"lights": {"status": "on"}},
		Intents:      []IntentRecord{{Device: "lights"}},
	}
	s.SetLastDeviceAction("lights", "turn_on", time.Now())

	c := s.Clone()
	if diff := cmp.Diff(s, c); diff != "" {
		t.Fatalf("clone differs (-orig +clone):\n%s", diff)
	}

	c.History[0].Content = "changed"
	c.DeviceStates["lights"]["status"] = "off"
	c.LastDeviceAction.DeviceID = "tv"
	c.Intents[0].Device = "tv"

	if s.History[0].Content != "hi" || s.DeviceStates["lights"]["status"] != "on" ||
		s.LastDeviceAction.DeviceID != "lights" || s.Intents[0].Device != "lights" {
		t.Fatalf("mutating clone leaked into original: %+v", s)
	}
}

func TestRecordIntentBounded(t *testing.T) {
	s := Session{}
	for i := 0; i < 15; i++ {
		s.RecordIntent(IntentRecord{Action: fmt.Sprint(i)}, 10)
	}
	if len(s.Intents) != 10 || s.Intents[0].Action != "5" || s.Intents[9].Action != "14" {
		t.Fatalf("unexpected intent window: %+v", s.Intents)
	}
}

func TestToneBands(t *testing.T) {
	cases := map[int]Tone{0: ToneFormal, 29: ToneFormal, 30: TonePolite, 59: TonePolite, 60: ToneCasual, 79: ToneCasual, 80: ToneIntimate, 100: ToneIntimate}
	for score, want := range cases {
		if got := ToneFor(score); got != want {
			t.Fatalf("ToneFor(%d) = %s, want %s", score, got, want)
		}
	}
}
