package workflow

import (
	"fmt"
	"strings"

	"github.com/dotsetgreg/homeagent/pkg/authz"
	"github.com/dotsetgreg/homeagent/pkg/devices"
	"github.com/dotsetgreg/homeagent/pkg/session"
	"github.com/dotsetgreg/homeagent/pkg/store"
)

// ReplyContext is everything the composer may draw on for one reply.
type ReplyContext struct {
	Outcome  Outcome
	Tone     session.Tone
	Device   string
	Decision *authz.Decision
	Result   *devices.Result
	Devices  []devices.Device
	Memories []store.Message
	Chat     string
}

type toneSet map[session.Tone]string

func (ts toneSet) pick(tone session.Tone) string {
	if s, ok := ts[tone]; ok {
		return s
	}
	return ts[session.TonePolite]
}

var (
	successReplies = toneSet{
		session.ToneFormal:   "Certainly. %s.",
		session.TonePolite:   "Done. %s.",
		session.ToneCasual:   "Done! %s.",
		session.ToneIntimate: "You got it! %s.",
	}
	failureReplies = toneSet{
		session.ToneFormal:   "I apologise, but I was unable to reach the %s. Please try again shortly.",
		session.TonePolite:   "Sorry, I couldn't reach the %s just now. Could you try again in a moment?",
		session.ToneCasual:   "Hmm, the %s isn't responding right now. Want to try again?",
		session.ToneIntimate: "Ugh, the %s isn't answering me right now. Let's try again in a bit.",
	}
	refusalReplies = toneSet{
		session.ToneFormal:   "I'm sorry, but I'm not able to operate the %s on your behalf yet.",
		session.TonePolite:   "Sorry, I can't operate the %s for you just yet.",
		session.ToneCasual:   "I can't change the %s for you just yet.",
		session.ToneIntimate: "I can't do that one with the %s yet.",
	}
	confirmReplies = toneSet{
		session.ToneFormal:   "Could you please confirm exactly what you would like me to do with the %s?",
		session.TonePolite:   "Could you tell me exactly what you'd like me to do with the %s?",
		session.ToneCasual:   "Just to be sure, what exactly should I do with the %s?",
		session.ToneIntimate: "Just checking, what exactly do you want with the %s?",
	}
	clarifyReplies = toneSet{
		session.ToneFormal:   "Which device would you like me to operate?",
		session.TonePolite:   "Which device would you like me to use?",
		session.ToneCasual:   "Which device do you mean?",
		session.ToneIntimate: "Which one do you mean?",
	}
	statusReplies = toneSet{
		session.ToneFormal:   "Here is the current status. %s",
		session.TonePolite:   "Here's the current status. %s",
		session.ToneCasual:   "Here's how things look: %s",
		session.ToneIntimate: "Here's the rundown: %s",
	}
	greetingReplies = toneSet{
		session.ToneFormal:   "Hello. How may I assist you today?",
		session.TonePolite:   "Hi there! How can I help?",
		session.ToneCasual:   "Hey! What can I do for you?",
		session.ToneIntimate: "Hey you! What's up?",
	}
	errorReplies = toneSet{
		session.ToneFormal:   "I apologise, something went wrong on my side. Please try that again.",
		session.TonePolite:   "Sorry, something went wrong on my side. Could you try that again?",
		session.ToneCasual:   "Oops, something went wrong on my end. Mind trying again?",
		session.ToneIntimate: "Oops, I tripped over something there. Try me again?",
	}
)

// Composer turns a finished turn into a reply in the session's tone. Denial
// replies never carry scores, thresholds, or gaps; with hint disclosure they
// may add a non-numeric hint.
type Composer struct {
	Disclosure string
}

func (c Composer) Compose(rc ReplyContext) string {
	name := displayName(rc.Device)
	switch rc.Outcome {
	case OutcomeDeviceSuccess:
		msg := name + " updated"
		if rc.Result != nil && rc.Result.Message != "" {
			msg = rc.Result.Message
		}
		return fmt.Sprintf(successReplies.pick(rc.Tone), msg)
	case OutcomeDeviceFailure:
		return fmt.Sprintf(failureReplies.pick(rc.Tone), name)
	case OutcomeDenied:
		return c.denial(rc, name)
	case OutcomeUnknownDevice:
		return fmt.Sprintf("I couldn't find a device called %q.", rc.Device)
	case OutcomeClarify:
		return clarifyReplies.pick(rc.Tone)
	case OutcomeStatus:
		return fmt.Sprintf(statusReplies.pick(rc.Tone), devices.Summary(rc.Devices))
	case OutcomeMemory:
		return memoryReply(rc.Memories)
	case OutcomeChat:
		if chat := strings.TrimSpace(rc.Chat); chat != "" {
			return chat
		}
		return greetingReplies.pick(rc.Tone)
	}
	return c.Error(rc.Tone)
}

func (c Composer) Error(tone session.Tone) string {
	return errorReplies.pick(tone)
}

func (c Composer) denial(rc ReplyContext, name string) string {
	if rc.Decision == nil {
		return fmt.Sprintf(refusalReplies.pick(rc.Tone), name)
	}
	var reply string
	switch rc.Decision.Reason {
	case authz.ReasonUnconfirmedIntent:
		reply = fmt.Sprintf(confirmReplies.pick(rc.Tone), name)
	case authz.ReasonUnknownAction:
		reply = fmt.Sprintf("I'm not sure how to do that with the %s.", name)
	default:
		reply = fmt.Sprintf(refusalReplies.pick(rc.Tone), name)
	}
	if hint := authz.DenialHint(*rc.Decision, c.Disclosure); hint != "" && rc.Decision.Reason == authz.ReasonInsufficientTrust {
		reply += " " + hint
	}
	return reply
}

func memoryReply(memories []store.Message) string {
	if len(memories) == 0 {
		return "I don't recall us talking about that yet."
	}
	quotes := make([]string, 0, len(memories))
	for _, m := range memories {
		quotes = append(quotes, fmt.Sprintf("%q", m.Content))
	}
	if len(quotes) == 1 {
		return "I remember you saying " + quotes[0] + "."
	}
	return "Here's what I remember you saying: " + strings.Join(quotes, "; ") + "."
}

// displayName turns a device id into words for a reply.
func displayName(deviceID string) string {
	switch deviceID {
	case "":
		return "device"
	case devices.ClassAirConditioner:
		return "air conditioner"
	case devices.ClassTV:
		return "TV"
	}
	return strings.ReplaceAll(deviceID, "_", " ")
}
