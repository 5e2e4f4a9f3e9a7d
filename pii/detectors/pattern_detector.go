package pii

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// boundary describes what may not sit directly next to a match.
type boundary int

const (
	boundaryNone  boundary = iota
	boundaryDigit          // neighbors must not be digits
	boundaryAlnum          // neighbors must not be ASCII letters or digits
)

// patternRule binds a detection type to its compiled expression.
// RE2 has no lookaround, so adjacency constraints are expressed as
// boundary checks against the match neighborhood instead.
type patternRule struct {
	typ   DetectionType
	re    *regexp.Regexp
	bound boundary
}

// rawRules run over the original text. Order matters: earlier rules win
// the value-level dedup against later ones.
var rawRules = []patternRule{
	{TypeResident, regexp.MustCompile(`\d{6}[\s-]?[1-4]\d{6}`), boundaryDigit},
	{TypeAlienReg, regexp.MustCompile(`\d{6}[\s-]?[5-8]\d{6}`), boundaryDigit},
	{TypeDriverLicense, regexp.MustCompile(`(?:1[1-9]|2[0-8])[\s-]?\d{2}[\s-]?\d{6}[\s-]?\d{2}`), boundaryDigit},
	{TypePassport, regexp.MustCompile(`[A-Z]\d{2,3}[A-Z]?\d{4,5}`), boundaryAlnum},
	{TypeCard, regexp.MustCompile(`\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}`), boundaryDigit},
	{TypePhone, regexp.MustCompile(`(?:(?:\+82[\s-]?)?0?1[016789]|\+82[\s-]?\d{1,2}|0\d{1,2})[\s-]?\d{3,4}[\s-]?\d{4}`), boundaryDigit},
	{TypeEmail, regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`), boundaryNone},
	{TypeBirth, regexp.MustCompile(`(?:19\d{2}|200[0-5])[년.\-/\s]{1,3}(?:0?[1-9]|1[0-2])[월.\-/\s]{1,3}(?:0?[1-9]|[12]\d|3[01])일?`), boundaryDigit},
	{TypeAccount, regexp.MustCompile(`\d{3,6}[\s-]\d{2,6}[\s-]\d{2,6}`), boundaryDigit},
	{TypeIP, regexp.MustCompile(`(?:\d{1,3}\.){3}\d{1,3}`), boundaryDigit},
}

// normRules run over the text with whitespace and hyphens removed, to
// catch formats that pad digits with separators the raw rules miss.
var normRules = []patternRule{
	{TypeResident, regexp.MustCompile(`\d{6}[1-4]\d{6}`), boundaryDigit},
	{TypeAlienReg, regexp.MustCompile(`\d{6}[5-8]\d{6}`), boundaryDigit},
	{TypeDriverLicense, regexp.MustCompile(`(?:1[1-9]|2[0-8])\d{10}`), boundaryDigit},
	{TypeCard, regexp.MustCompile(`\d{16}`), boundaryDigit},
	{TypePhone, regexp.MustCompile(`(?:\+?82)?0?1[016789]\d{7,8}`), boundaryDigit},
}

// PatternDetector finds personal data by regular expressions, in two
// passes: one over the raw text and one over a separator-normalized copy
// whose matches are mapped back to raw-text spans.
type PatternDetector struct{}

func NewPatternDetector() *PatternDetector {
	return &PatternDetector{}
}

func (d *PatternDetector) GetName() string {
	return "pattern_detector"
}

// DetectItems runs both passes and returns deduplicated detection items.
// Dedup is by separator-stripped value; the raw pass wins on collision.
func (d *PatternDetector) DetectItems(text string) []DetectionItem {
	items := []DetectionItem{}
	seen := make(map[string]bool)
	var taken []Span

	for _, rule := range rawRules {
		for _, loc := range rule.re.FindAllStringIndex(text, -1) {
			if !boundaryOK(text, loc[0], loc[1], rule.bound) {
				continue
			}
			// A span claimed by an earlier rule wins outright, so an
			// account pattern never re-reports part of a card number.
			if overlapsAny(taken, loc[0], loc[1]) {
				continue
			}
			value := text[loc[0]:loc[1]]
			if !plausibleMatch(rule.typ, value) {
				continue
			}
			key := dedupKey(value)
			if seen[key] {
				continue
			}
			seen[key] = true
			taken = append(taken, Span{Start: loc[0], End: loc[1]})
			items = append(items, DetectionItem{
				Type:   rule.typ,
				Value:  value,
				Span:   &Span{Start: loc[0], End: loc[1]},
				Status: checksumStatus(rule.typ, value),
			})
		}
	}

	normText, origIndex := normalizeText(text)
	for _, rule := range normRules {
		for _, loc := range rule.re.FindAllStringIndex(normText, -1) {
			if !boundaryOK(normText, loc[0], loc[1], rule.bound) {
				continue
			}
			value := normText[loc[0]:loc[1]]
			if !plausibleMatch(rule.typ, value) {
				continue
			}
			key := dedupKey(value)
			if seen[key] {
				continue
			}
			seen[key] = true

			// Recover the span in the original text. The normalized
			// match may span stripped separators, so the raw value is
			// re-sliced from the recovered offsets.
			start := origIndex[loc[0]]
			last := origIndex[loc[1]-1]
			_, lastLen := utf8.DecodeRuneInString(text[last:])
			end := last + lastLen
			items = append(items, DetectionItem{
				Type:   rule.typ,
				Value:  text[start:end],
				Span:   &Span{Start: start, End: end},
				Status: checksumStatus(rule.typ, value),
			})
		}
	}

	return items
}

func overlapsAny(spans []Span, start, end int) bool {
	for _, s := range spans {
		if start < s.End && end > s.Start {
			return true
		}
	}
	return false
}

// normalizeText strips whitespace and hyphens and returns, for every byte
// of the normalized text, the byte offset it came from in the original.
func normalizeText(text string) (string, []int) {
	var b strings.Builder
	b.Grow(len(text))
	index := make([]int, 0, len(text))
	for i, r := range text {
		if r == '-' || unicode.IsSpace(r) {
			continue
		}
		n := utf8.RuneLen(r)
		for j := 0; j < n; j++ {
			index = append(index, i)
		}
		b.WriteRune(r)
	}
	return b.String(), index
}

func boundaryOK(text string, start, end int, bound boundary) bool {
	if bound == boundaryNone {
		return true
	}
	before, after := byte(0), byte(0)
	if start > 0 {
		before = text[start-1]
	}
	if end < len(text) {
		after = text[end]
	}
	switch bound {
	case boundaryDigit:
		return !isDigitByte(before) && !isDigitByte(after)
	case boundaryAlnum:
		return !isAlnumByte(before) && !isAlnumByte(after)
	}
	return true
}

func isDigitByte(b byte) bool {
	return b >= '0' && b <= '9'
}

func isAlnumByte(b byte) bool {
	return isDigitByte(b) || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// plausibleMatch rejects matches the pattern alone cannot rule out.
func plausibleMatch(typ DetectionType, value string) bool {
	switch typ {
	case TypeIP:
		for _, part := range strings.Split(value, ".") {
			if len(part) > 1 && part[0] == '0' {
				return false
			}
			n := 0
			for i := 0; i < len(part); i++ {
				n = n*10 + int(part[i]-'0')
			}
			if n > 255 {
				return false
			}
		}
		return true
	case TypePhone:
		digits := digitCount(value)
		return digits >= 9 && digits <= 13
	}
	return true
}

func digitCount(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if isDigitByte(s[i]) {
			n++
		}
	}
	return n
}

// checksumStatus attaches a validation verdict where one exists. Failing
// the checksum does not drop the detection; the item is reported with
// status "invalid" so downstream policy can decide.
func checksumStatus(typ DetectionType, value string) string {
	switch typ {
	case TypeCard:
		if ValidateLuhn(value) {
			return "valid"
		}
		return "invalid"
	case TypeResident:
		if ValidateResidentNumber(value) {
			return "valid"
		}
		return "invalid"
	case TypeAlienReg:
		if validAlienRegistration(value) {
			return "valid"
		}
		return "invalid"
	}
	return ""
}

// validAlienRegistration checks length, century digit and the encoded
// date. Alien registration serials issued since 2020 are randomized, so
// no checksum is applied.
func validAlienRegistration(number string) bool {
	cleaned := stripSeparators(number)
	if len(cleaned) != 13 {
		return false
	}
	var century int
	switch cleaned[6] {
	case '5', '6':
		century = 1900
	case '7', '8':
		century = 2000
	default:
		return false
	}
	year := century + int(cleaned[0]-'0')*10 + int(cleaned[1]-'0')
	month := int(cleaned[2]-'0')*10 + int(cleaned[3]-'0')
	day := int(cleaned[4]-'0')*10 + int(cleaned[5]-'0')
	return isValidDate(year, month, day)
}

// dedupKey normalizes a detected value for cross-pass deduplication.
func dedupKey(value string) string {
	return strings.ToLower(stripSeparators(value))
}
