package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrMalformedResponse marks resolver output that could not be decoded into
// an intent.
var ErrMalformedResponse = errors.New("malformed intent response")

const intentSchema = `{
  "type": "object",
  "required": ["involves_hardware"],
  "properties": {
    "involves_hardware": {"type": "boolean"},
    "device": {"type": ["string", "null"]},
    "action": {"type": ["string", "null"]},
    "parameters": {"type": ["object", "null"]},
    "confidence": {"type": "number"},
    "has_reference": {"type": "boolean"},
    "reference_word": {"type": ["string", "null"]},
    "resolved_device": {"type": ["string", "null"]},
    "requires_status": {"type": "boolean"},
    "requires_status_query": {"type": "boolean"},
    "requires_memory": {"type": "boolean"},
    "reference_resolution": {
      "type": ["object", "null"],
      "properties": {
        "has_reference": {"type": "boolean"},
        "reference_word": {"type": ["string", "null"]},
        "resolved_device": {"type": ["string", "null"]}
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(intentSchema)

type wireIntent struct {
	InvolvesHardware    bool           `json:"involves_hardware"`
	Device              *string        `json:"device"`
	Action              *string        `json:"action"`
	Parameters          map[string]any `json:"parameters"`
	Confidence          *float64       `json:"confidence"`
	HasReference        bool           `json:"has_reference"`
	ReferenceWord       *string        `json:"reference_word"`
	ResolvedDevice      *string        `json:"resolved_device"`
	RequiresStatus      bool           `json:"requires_status"`
	RequiresStatusQuery bool           `json:"requires_status_query"`
	RequiresMemory      bool           `json:"requires_memory"`
	ReferenceResolution *struct {
		HasReference   bool    `json:"has_reference"`
		ReferenceWord  *string `json:"reference_word"`
		ResolvedDevice *string `json:"resolved_device"`
	} `json:"reference_resolution"`
}

// Decode turns resolver output into an intent. The whole text is tried as a
// JSON document first, then the first balanced object embedded in it. Either
// candidate must satisfy the intent schema.
func Decode(raw string) (Intent, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return Intent{}, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	candidates := []string{text}
	if embedded, ok := extractObject(text); ok && embedded != text {
		candidates = append(candidates, embedded)
	}

	var lastErr error
	for _, candidate := range candidates {
		intent, err := decodeStrict([]byte(candidate))
		if err == nil {
			return intent, nil
		}
		lastErr = err
	}
	return Intent{}, lastErr
}

func decodeStrict(data []byte) (Intent, error) {
	if !json.Valid(data) {
		return Intent{}, fmt.Errorf("%w: not a JSON document", ErrMalformedResponse)
	}
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return Intent{}, fmt.Errorf("%w: %s", ErrMalformedResponse, strings.Join(problems, "; "))
	}

	var wire wireIntent
	if err := json.Unmarshal(data, &wire); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return wire.intent(), nil
}

func (w wireIntent) intent() Intent {
	out := Intent{
		InvolvesHardware: w.InvolvesHardware,
		Device:           normalizeToken(deref(w.Device)),
		Action:           normalizeToken(deref(w.Action)),
		Parameters:       w.Parameters,
		Confidence:       0.8,
		HasReference:     w.HasReference,
		ReferenceWord:    deref(w.ReferenceWord),
		ResolvedDevice:   normalizeToken(deref(w.ResolvedDevice)),
		RequiresStatus:   w.RequiresStatus || w.RequiresStatusQuery,
		RequiresMemory:   w.RequiresMemory,
		Origin:           OriginResolver,
	}
	if w.Confidence != nil {
		out.Confidence = max(0, min(1, *w.Confidence))
	}
	if rr := w.ReferenceResolution; rr != nil {
		out.HasReference = out.HasReference || rr.HasReference
		if out.ReferenceWord == "" {
			out.ReferenceWord = deref(rr.ReferenceWord)
		}
		if out.ResolvedDevice == "" {
			out.ResolvedDevice = normalizeToken(deref(rr.ResolvedDevice))
		}
	}
	if out.Parameters == nil {
		out.Parameters = map[string]any{}
	}
	return out
}

// extractObject returns the first balanced {...} span, honouring strings.
func extractObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(text); i++ {
			c := text[i]
			switch {
			case escaped:
				escaped = false
			case c == '\\' && inString:
				escaped = true
			case c == '"':
				inString = !inString
			case inString:
			case c == '{':
				depth++
			case c == '}':
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "null", "none", "nil":
		return ""
	}
	return strings.ReplaceAll(s, " ", "_")
}
