package classify

// Checksum validators for structured identifiers. A passing checksum is the
// strongest structural confirmation a matcher can earn; a failing one
// disqualifies the type claim and lowers the confidence of whatever the
// value classifies as instead.

// luhnValid runs the Luhn algorithm over a digit string (payment cards).
func luhnValid(digits string) bool {
	if len(digits) < 12 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

var abnWeights = [11]int{10, 1, 3, 5, 7, 9, 11, 13, 15, 17, 19}

// abnValid checks an 11-digit Australian Business Number: subtract one from
// the leading digit, apply the published weights, and the weighted sum must
// divide by 89.
func abnValid(digits string) bool {
	if len(digits) != 11 {
		return false
	}
	sum := 0
	for i := 0; i < 11; i++ {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if i == 0 {
			d--
			if d < 0 {
				return false
			}
		}
		sum += d * abnWeights[i]
	}
	return sum%89 == 0
}

var tfnWeights = [9]int{1, 4, 3, 7, 5, 8, 6, 9, 10}

// tfnValid checks a 9-digit tax file number with the standard weighted
// modulus-11 algorithm.
func tfnValid(digits string) bool {
	if len(digits) != 9 {
		return false
	}
	sum := 0
	for i := 0; i < 9; i++ {
		c := digits[i]
		if c < '0' || c > '9' {
			return false
		}
		sum += int(c-'0') * tfnWeights[i]
	}
	return sum%11 == 0
}

// digitsOnly strips separators commonly used inside identifiers. Any other
// character makes the value non-numeric and returns false.
func digitsOnly(s string) (string, bool) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			out = append(out, c)
		case c == ' ' || c == '-':
			// separator, skip
		default:
			return "", false
		}
	}
	if len(out) == 0 {
		return "", false
	}
	return string(out), true
}
