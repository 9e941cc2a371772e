package intent

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dotsetgreg/homeagent/pkg/session"
	"github.com/tidwall/gjson"
)

// Confidence levels for heuristic intents; all stay below MaxFallbackConfidence.
const (
	confidenceKeywordMatch = 0.4
	confidencePartialMatch = 0.3
	confidenceDefault      = 0.1
)

type keyword struct {
	phrase string
	value  string
}

// Longer phrases come first so "turn on" beats "on".
var deviceKeywords = []keyword{
	{"air conditioning", "air_conditioner"},
	{"air conditioner", "air_conditioner"},
	{"aircon", "air_conditioner"},
	{"a/c", "air_conditioner"},
	{"ac", "air_conditioner"},
	{"空调", "air_conditioner"},
	{"television", "tv"},
	{"tv", "tv"},
	{"电视", "tv"},
	{"speakers", "speaker"},
	{"speaker", "speaker"},
	{"music", "speaker"},
	{"音响", "speaker"},
	{"音箱", "speaker"},
	{"curtains", "curtains"},
	{"curtain", "curtains"},
	{"blinds", "curtains"},
	{"窗帘", "curtains"},
	{"lights", "lights"},
	{"light", "lights"},
	{"lamps", "lights"},
	{"lamp", "lights"},
	{"灯", "lights"},
}

var actionKeywords = []keyword{
	{"turn on", "turn_on"},
	{"switch on", "turn_on"},
	{"power on", "turn_on"},
	{"turn off", "turn_off"},
	{"switch off", "turn_off"},
	{"power off", "turn_off"},
	{"打开", "turn_on"},
	{"关闭", "turn_off"},
	{"关掉", "turn_off"},
	{"brightness", "set_brightness"},
	{"brighten", "set_brightness"},
	{"dim", "set_brightness"},
	{"调暗", "set_brightness"},
	{"调亮", "set_brightness"},
	{"亮度", "set_brightness"},
	{"temperature", "set_temperature"},
	{"degrees", "set_temperature"},
	{"温度", "set_temperature"},
	{"volume", "set_volume"},
	{"louder", "set_volume"},
	{"quieter", "set_volume"},
	{"音量", "set_volume"},
	{"colour", "set_color"},
	{"color", "set_color"},
	{"颜色", "set_color"},
	{"channel", "set_channel"},
	{"pause", "pause"},
	{"play", "play"},
	{"open", "turn_on"},
	{"close", "turn_off"},
	{"shut", "turn_off"},
	{"开", "turn_on"},
	{"关", "turn_off"},
}

var statusKeywords = []string{
	"status", "is the", "are the", "is it on", "is it off", "what's on", "whats on",
	"which devices", "how warm", "how bright", "状态", "开着吗", "关了吗",
}

var memoryKeywords = []string{
	"remember", "last time", "did i", "what did i", "earlier i", "told you", "记得", "上次", "之前说",
}

// impliedDevice fills in the device when only the action names it.
var impliedDevice = map[string]string{
	"set_brightness":  "lights",
	"set_color":       "lights",
	"set_temperature": "air_conditioner",
	"set_volume":      "speaker",
	"set_channel":     "tv",
}

var numberPattern = regexp.MustCompile(`-?\d+(\.\d+)?`)

// splitToggle catches "turn the lights off" where the particle trails the device.
var splitToggle = regexp.MustCompile(`\b(?:turn|switch|power)\s+(?:[\p{L}\d/'_-]+\s+){1,4}?(on|off)\b`)

// maxNumber bounds numbers read from free text so the int conversion is
// defined; anything this large is still over every critical set-point.
const maxNumber = 1_000_000

var colorWords = []string{"red", "green", "blue", "white", "warm", "yellow", "purple", "orange", "pink"}

// Heuristic is the deterministic fallback extractor used whenever the
// resolver fails or its output cannot be decoded. Every intent it returns is
// tagged OriginFallback with confidence below MaxFallbackConfidence.
type Heuristic struct {
	ReferenceScan int
}

// Resolve builds an intent from the user's text, the raw resolver output
// (possibly empty) and the session snapshot.
func (h Heuristic) Resolve(text, raw string, snap session.Session, hint, cause string) Intent {
	lower := " " + strings.ToLower(strings.TrimSpace(text)) + " "
	out := Intent{
		Parameters:    map[string]any{},
		Origin:        OriginFallback,
		FallbackCause: cause,
		Confidence:    confidenceDefault,
	}

	device := matchKeyword(lower, deviceKeywords)
	action := matchSplitToggle(lower)
	if action == "" {
		action = matchKeyword(lower, actionKeywords)
	}
	if action != "" {
		out.Parameters = actionParameters(action, lower)
		if action == "turn_on" && device == "curtains" {
			action = "open_curtain"
		}
		if action == "turn_off" && device == "curtains" {
			action = "close_curtain"
		}
	}

	salvaged := salvage(raw)
	if device == "" {
		device = salvaged.Device
	}
	if action == "" {
		action = salvaged.Action
	}

	if word, ok := session.DetectReference(text); ok {
		out.HasReference = true
		out.ReferenceWord = word
		resolved := hint
		if resolved == "" {
			resolved, _ = session.ResolveReference(snap, word, h.ReferenceScan)
		}
		out.ResolvedDevice = resolved
		if device == "" {
			device = resolved
		}
	}
	if device == "" && action != "" {
		device = impliedDevice[action]
	}

	out.Device = device
	out.Action = action
	out.RequiresStatus = containsAny(lower, statusKeywords)
	out.RequiresMemory = !out.RequiresStatus && containsAny(lower, memoryKeywords)
	out.InvolvesHardware = device != "" && action != "" && !out.RequiresStatus

	switch {
	case out.InvolvesHardware && salvaged.Device == "" && salvaged.Action == "":
		out.Confidence = confidenceKeywordMatch
	case out.InvolvesHardware, device != "", action != "", out.RequiresStatus, out.RequiresMemory:
		out.Confidence = confidencePartialMatch
	}
	if out.Confidence >= MaxFallbackConfidence {
		out.Confidence = confidencePartialMatch
	}
	return out
}

type salvaged struct {
	Device string
	Action string
}

// salvage pulls recognizable fields out of resolver output that failed the
// schema, e.g. a truncated object or one with wrongly typed fields.
func salvage(raw string) salvaged {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return salvaged{}
	}
	doc := raw
	if obj, ok := extractObject(raw); ok {
		doc = obj
	}
	if !gjson.Valid(doc) {
		return salvaged{}
	}
	res := gjson.GetMany(doc, "device", "action", "reference_resolution.resolved_device")
	out := salvaged{
		Device: normalizeToken(res[0].String()),
		Action: normalizeToken(res[1].String()),
	}
	if out.Device == "" {
		out.Device = normalizeToken(res[2].String())
	}
	if !knownDevice(out.Device) {
		out.Device = ""
	}
	return out
}

func knownDevice(device string) bool {
	for _, kw := range deviceKeywords {
		if kw.value == device {
			return true
		}
	}
	return false
}

func matchSplitToggle(lower string) string {
	m := splitToggle.FindStringSubmatch(lower)
	if m == nil {
		return ""
	}
	if m[1] == "on" {
		return "turn_on"
	}
	return "turn_off"
}

func matchKeyword(padded string, table []keyword) string {
	for _, kw := range table {
		if isCJK(kw.phrase) {
			if strings.Contains(padded, kw.phrase) {
				return kw.value
			}
			continue
		}
		if containsWord(padded, kw.phrase) {
			return kw.value
		}
	}
	return ""
}

func containsAny(padded string, phrases []string) bool {
	for _, phrase := range phrases {
		if isCJK(phrase) {
			if strings.Contains(padded, phrase) {
				return true
			}
			continue
		}
		if containsWord(padded, phrase) {
			return true
		}
	}
	return false
}

// containsWord matches phrase on word boundaries inside a space-padded string.
func containsWord(padded, phrase string) bool {
	idx := 0
	for {
		pos := strings.Index(padded[idx:], phrase)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(phrase)
		if isBoundary(padded, start-1) && isBoundary(padded, end) {
			return true
		}
		idx = start + 1
	}
}

func isBoundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := s[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_')
}

func isCJK(s string) bool {
	for _, r := range s {
		if r >= 0x2E80 {
			return true
		}
	}
	return false
}

func actionParameters(action, lower string) map[string]any {
	params := map[string]any{}
	number, hasNumber := firstNumber(lower)
	switch action {
	case "set_brightness":
		switch {
		case hasNumber:
			params["brightness"] = number
		case containsWord(lower, "dim") || strings.Contains(lower, "调暗"):
			params["brightness"] = 30
		default:
			params["brightness"] = 100
		}
	case "set_temperature":
		if hasNumber {
			params["temperature"] = number
		}
	case "set_volume":
		switch {
		case hasNumber:
			params["volume"] = number
		case containsWord(lower, "louder"):
			params["delta"] = 10
		case containsWord(lower, "quieter"):
			params["delta"] = -10
		}
	case "set_channel":
		if hasNumber {
			params["channel"] = number
		}
	case "set_color":
		for _, color := range colorWords {
			if containsWord(lower, color) {
				params["color"] = color
				break
			}
		}
	}
	return params
}

func firstNumber(s string) (int, bool) {
	match := numberPattern.FindString(s)
	if match == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(match, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, false
	}
	return int(math.Max(-maxNumber, math.Min(maxNumber, f))), true
}
