package workflow

import (
	"regexp"
	"strings"
	"testing"

	"github.com/dotsetgreg/homeagent/pkg/authz"
	"github.com/dotsetgreg/homeagent/pkg/devices"
	"github.com/dotsetgreg/homeagent/pkg/session"
	"github.com/dotsetgreg/homeagent/pkg/store"
)

var allTones = []session.Tone{session.ToneFormal, session.TonePolite, session.ToneCasual, session.ToneIntimate}

func TestComposerDenialsNeverCarryNumbers(t *testing.T) {
	digits := regexp.MustCompile(`\d`)
	decisions := []authz.Decision{
		{RequiredScore: 60, CurrentScore: 20, Reason: authz.ReasonInsufficientTrust},
		{RequiredScore: 60, CurrentScore: 55, Reason: authz.ReasonInsufficientTrust},
		{RequiredScore: 80, CurrentScore: 90, Reason: authz.ReasonUnconfirmedIntent},
		{RequiredScore: 100, CurrentScore: 40, Reason: authz.ReasonUnknownAction},
	}
	for _, mode := range []string{authz.DisclosureNone, authz.DisclosureHint} {
		c := Composer{Disclosure: mode}
		for _, tone := range allTones {
			for _, d := range decisions {
				reply := c.Compose(ReplyContext{Outcome: OutcomeDenied, Tone: tone, Device: "air_conditioner", Decision: &d})
				if digits.MatchString(reply) {
					t.Fatalf("mode=%s tone=%s reason=%s leaked a number: %q", mode, tone, d.Reason, reply)
				}
				if !strings.Contains(reply, "air conditioner") {
					t.Fatalf("reply %q does not name the device", reply)
				}
			}
		}
	}
}

func TestComposerHintOnlyWhenDisclosed(t *testing.T) {
	d := authz.Decision{RequiredScore: 60, CurrentScore: 20, Reason: authz.ReasonInsufficientTrust}
	quiet := Composer{Disclosure: authz.DisclosureNone}.Compose(ReplyContext{Outcome: OutcomeDenied, Tone: session.ToneFormal, Device: "tv", Decision: &d})
	hinted := Composer{Disclosure: authz.DisclosureHint}.Compose(ReplyContext{Outcome: OutcomeDenied, Tone: session.ToneFormal, Device: "tv", Decision: &d})
	if !strings.HasPrefix(hinted, quiet) || len(hinted) <= len(quiet) {
		t.Fatalf("hint reply %q should extend %q", hinted, quiet)
	}
}

func TestComposerTonesDiffer(t *testing.T) {
	c := Composer{}
	seen := map[string]bool{}
	for _, tone := range allTones {
		seen[c.Compose(ReplyContext{Outcome: OutcomeChat, Tone: tone})] = true
	}
	if len(seen) != len(allTones) {
		t.Fatalf("expected a distinct greeting per tone, got %d", len(seen))
	}
}

func TestComposerOutcomes(t *testing.T) {
	c := Composer{}
	cases := []struct {
		name string
		rc   ReplyContext
		want string
	}{
		{"success", ReplyContext{Outcome: OutcomeDeviceSuccess, Tone: session.ToneFormal, Result: &devices.Result{Message: "Living room lights turned on"}}, "Certainly. Living room lights turned on."},
		{"failure", ReplyContext{Outcome: OutcomeDeviceFailure, Tone: session.TonePolite, Device: "speaker"}, "Sorry, I couldn't reach the speaker just now. Could you try again in a moment?"},
		{"unknown device", ReplyContext{Outcome: OutcomeUnknownDevice, Device: "garage"}, `I couldn't find a device called "garage".`},
		{"clarify", ReplyContext{Outcome: OutcomeClarify, Tone: session.ToneCasual}, "Which device do you mean?"},
		{"status", ReplyContext{Outcome: OutcomeStatus, Tone: session.ToneFormal}, "Here is the current status. No devices are registered."},
		{"memory none", ReplyContext{Outcome: OutcomeMemory}, "I don't recall us talking about that yet."},
		{"memory one", ReplyContext{Outcome: OutcomeMemory, Memories: []store.Message{{Content: "I love jazz"}}}, `I remember you saying "I love jazz".`},
		{"chat", ReplyContext{Outcome: OutcomeChat, Chat: "  Lovely weather today.  "}, "Lovely weather today."},
		{"unset", ReplyContext{Tone: session.ToneFormal}, errorReplies.pick(session.ToneFormal)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Compose(tc.rc); got != tc.want {
				t.Fatalf("Compose() = %q, want %q", got, tc.want)
			}
		})
	}
}
