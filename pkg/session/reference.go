package session

import (
	"strings"
	"unicode"
)

var englishReferenceWords = map[string]struct{}{
	"it":   {},
	"that": {},
	"this": {},
	"them": {},
}

var cjkReferenceWords = []string{"刚才的", "之前的", "那个", "这个", "它"}

// DetectReference returns the first pronoun-like token that points back at
// something said earlier.
func DetectReference(text string) (string, bool) {
	for _, word := range cjkReferenceWords {
		if strings.Contains(text, word) {
			return word, true
		}
	}
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	for _, field := range fields {
		if _, ok := englishReferenceWords[field]; ok {
			return field, true
		}
	}
	return "", false
}

// ResolveReference maps a reference word onto the device it most plausibly
// names. The last dispatched device wins; otherwise the newest of the last
// scan recorded intents that named a device. An empty word resolves nothing.
func ResolveReference(snap Session, word string, scan int) (string, bool) {
	if strings.TrimSpace(word) == "" {
		return "", false
	}
	if snap.LastDeviceAction != nil && snap.LastDeviceAction.DeviceID != "" {
		return snap.LastDeviceAction.DeviceID, true
	}
	if scan <= 0 {
		scan = 3
	}
	seen := 0
	for i := len(snap.Intents) - 1; i >= 0 && seen < scan; i-- {
		seen++
		if device := snap.Intents[i].Device; device != "" {
			return device, true
		}
	}
	return "", false
}
