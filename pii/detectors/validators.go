package pii

import (
	"strings"
	"time"
	"unicode"
)

// residentChecksumWeights are the weights applied to the first 12 digits
// of a resident registration number.
var residentChecksumWeights = [12]int{2, 3, 4, 5, 6, 7, 8, 9, 2, 3, 4, 5}

// stripSeparators removes whitespace and hyphens, keeping everything else.
func stripSeparators(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '-' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ValidateLuhn reports whether the candidate passes the Luhn checksum.
// Separators are stripped first; anything shorter than 13 digits or
// containing non-digit characters fails closed.
func ValidateLuhn(number string) bool {
	cleaned := stripSeparators(number)
	if len(cleaned) < 13 {
		return false
	}

	sum := 0
	double := false
	for i := len(cleaned) - 1; i >= 0; i-- {
		c := cleaned[i]
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

// ValidateResidentNumber reports whether the candidate is a structurally
// valid Korean resident registration number. The gender digit selects the
// birth century, the encoded date must be a real calendar date, and the
// weighted checksum must match. Numbers issued from 2020 onward carry a
// randomized serial, so for birth years >= 2020 the checksum is skipped.
func ValidateResidentNumber(number string) bool {
	cleaned := stripSeparators(number)
	if len(cleaned) != 13 {
		return false
	}
	for i := 0; i < len(cleaned); i++ {
		if cleaned[i] < '0' || cleaned[i] > '9' {
			return false
		}
	}

	var century int
	switch cleaned[6] {
	case '1', '2', '5', '6':
		century = 1900
	case '3', '4', '7', '8':
		century = 2000
	default:
		return false
	}

	year := century + int(cleaned[0]-'0')*10 + int(cleaned[1]-'0')
	month := int(cleaned[2]-'0')*10 + int(cleaned[3]-'0')
	day := int(cleaned[4]-'0')*10 + int(cleaned[5]-'0')

	if !isValidDate(year, month, day) {
		return false
	}

	// Post-2020 numbers have no public checksum scheme.
	if year >= 2020 {
		return true
	}

	sum := 0
	for i, w := range residentChecksumWeights {
		sum += int(cleaned[i]-'0') * w
	}
	check := (11 - sum%11) % 10
	return check == int(cleaned[12]-'0')
}

// isValidDate checks a real calendar date by round-tripping through
// time.Date, which normalizes out-of-range components.
func isValidDate(year, month, day int) bool {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return t.Year() == year && int(t.Month()) == month && t.Day() == day
}
