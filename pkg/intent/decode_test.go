package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStrictObject(t *testing.T) {
	got, err := Decode(`{"involves_hardware": true, "device": "Lights", "action": "turn on", "parameters": {"brightness": 40}, "confidence": 0.92}`)
	require.NoError(t, err)
	assert.True(t, got.InvolvesHardware)
	assert.Equal(t, "lights", got.Device)
	assert.Equal(t, "turn_on", got.Action)
	assert.Equal(t, float64(40), got.Parameters["brightness"])
	assert.InDelta(t, 0.92, got.Confidence, 1e-9)
	assert.Equal(t, OriginResolver, got.Origin)
}

func TestDecodeEmbeddedObject(t *testing.T) {
	raw := "Sure! Here is the intent:\n```json\n{\"involves_hardware\": false, \"requires_status_query\": true, \"note\": \"braces } in strings\"}\n```"
	got, err := Decode(raw)
	require.NoError(t, err)
	assert.False(t, got.InvolvesHardware)
	assert.True(t, got.RequiresStatus)
	assert.Equal(t, 0.8, got.Confidence, "absent confidence defaults")
}

func TestDecodeNestedReferenceResolution(t *testing.T) {
	got, err := Decode(`{"involves_hardware": true, "action": "turn_off", "device": null,
		"reference_resolution": {"has_reference": true, "reference_word": "it", "resolved_device": "air_conditioner"}}`)
	require.NoError(t, err)
	assert.True(t, got.HasReference)
	assert.Equal(t, "it", got.ReferenceWord)
	assert.Equal(t, "air_conditioner", got.ResolvedDevice)
	assert.Empty(t, got.Device)
}

func TestDecodeClampsConfidence(t *testing.T) {
	high, err := Decode(`{"involves_hardware": true, "confidence": 1.7}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, high.Confidence)

	low, err := Decode(`{"involves_hardware": true, "confidence": -3}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, low.Confidence)
}

func TestDecodeRejectsNonConforming(t *testing.T) {
	cases := map[string]string{
		"empty":            "   ",
		"prose":            "I think you want the lights on",
		"missing required": `{"device": "lights"}`,
		"wrong type":       `{"involves_hardware": "yes"}`,
		"truncated":        `{"involves_hardware": true, "device": "li`,
		"array":            `[{"involves_hardware": true}]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(raw)
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestExtractObject(t *testing.T) {
	obj, ok := extractObject(`noise {"a": "}{", "b": {"c": 1}} trailing {"x": 2}`)
	require.True(t, ok)
	assert.Equal(t, `{"a": "}{", "b": {"c": 1}}`, obj)

	_, ok = extractObject(`{"never closed": true`)
	assert.False(t, ok)
}
