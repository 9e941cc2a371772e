package session

type Tone string

const (
	ToneFormal   Tone = "formal"
	TonePolite   Tone = "polite"
	ToneCasual   Tone = "casual"
	ToneIntimate Tone = "intimate"
)

// ToneFor maps a trust score onto its familiarity band.
func ToneFor(score int) Tone {
	switch {
	case score < 30:
		return ToneFormal
	case score < 60:
		return TonePolite
	case score < 80:
		return ToneCasual
	default:
		return ToneIntimate
	}
}
