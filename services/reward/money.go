package reward

// All amounts are integer cents and all rates are basis points so repeated
// grants never accumulate floating-point drift. Conversion to display
// dollars happens only at the HTTP boundary.

// ApplyRateBps returns amount × rate, where rate is in basis points.
func ApplyRateBps(amountCents, rateBps int64) int64 {
	return amountCents * rateBps / 10000
}

// CapTotal returns deposit × cap, where cap is a percentage (300 = 3.0×).
func CapTotal(depositCents, capPct int64) int64 {
	return depositCents * capPct / 100
}

// ClampBps bounds a rate to [min, max] basis points.
func ClampBps(rate, min, max int64) int64 {
	if rate < min {
		return min
	}
	if rate > max {
		return max
	}
	return rate
}

// Dollars converts cents to a float dollar amount, exact to 2 decimal places.
func Dollars(cents int64) float64 {
	return float64(cents) / 100
}
