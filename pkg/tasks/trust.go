package tasks

// NextTrust is the trust score after one more processed interaction. The
// increment shrinks as trust grows (+3 below 30, +2 below 60, +1 above) and
// the result is floored at the curve for the interaction count, so returning
// users who missed updates catch up. The result never drops below current
// and never exceeds 100.
func NextTrust(current, interactions int) int {
	current = max(0, min(100, current))
	inc := 1
	switch {
	case current < 30:
		inc = 3
	case current < 60:
		inc = 2
	}
	next := max(current+inc, TrustFloor(interactions))
	return min(100, next)
}

// TrustFloor is the minimum trust earned by n interactions: fast familiarity
// over the first ten, slower up to thirty, then a long tail capped at 100.
func TrustFloor(n int) int {
	switch {
	case n <= 0:
		return 0
	case n <= 10:
		return min(30, 3*n)
	case n <= 30:
		return min(60, 30+(3*(n-10))/2)
	default:
		return min(100, 60+(4*(n-30))/5)
	}
}
