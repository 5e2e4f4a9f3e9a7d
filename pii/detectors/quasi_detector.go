package pii

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// memberIDRe matches student or employee numbers: 8 to 10 digits opening
// with a plausible year prefix. Matches adjacent to other digits or to
// letters are rejected, so the digit tail of a passport number never
// reads as a member ID.
var memberIDRe = regexp.MustCompile(`(?:19|20)\d{6,8}`)

// schoolOrgRe and companyOrgRe catch organization names by suffix even
// when the entity model misses them.
var schoolOrgRe = regexp.MustCompile(`[가-힣]{2,10}(?:대학교|고등학교|중학교|초등학교)`)
var companyOrgRe = regexp.MustCompile(`[가-힣A-Za-z0-9]{2,8}(?:전자|그룹|물산|은행|증권|보험|카드|건설|항공|중공업)`)

// positionTitles are job titles treated as quasi-identifiers when they
// appear as standalone words.
var positionTitles = []string{
	"대표이사", "부사장", "본부장", "사장", "전무", "상무", "이사",
	"부장", "실장", "팀장", "차장", "과장", "대리", "사원",
	"교수", "연구원", "매니저",
}

// QuasiDetector finds attributes that identify a person only in
// combination: member IDs, organization names, job titles.
type QuasiDetector struct{}

func NewQuasiDetector() *QuasiDetector {
	return &QuasiDetector{}
}

func (d *QuasiDetector) GetName() string {
	return "quasi_detector"
}

// DetectItems returns quasi-identifier detections, value-deduplicated.
func (d *QuasiDetector) DetectItems(text string) []DetectionItem {
	items := []DetectionItem{}
	seen := make(map[string]bool)

	for _, loc := range memberIDRe.FindAllStringIndex(text, -1) {
		if !boundaryOK(text, loc[0], loc[1], boundaryDigit) || letterAdjacent(text, loc[0], loc[1]) {
			continue
		}
		value := text[loc[0]:loc[1]]
		if seen[value] {
			continue
		}
		seen[value] = true
		items = append(items, DetectionItem{
			Type:  TypeStudentID,
			Value: value,
			Span:  &Span{Start: loc[0], End: loc[1]},
		})
	}

	for _, re := range []*regexp.Regexp{schoolOrgRe, companyOrgRe} {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			value := text[loc[0]:loc[1]]
			if seen[value] {
				continue
			}
			seen[value] = true
			items = append(items, DetectionItem{
				Type:  TypeOrg,
				Value: value,
				Span:  &Span{Start: loc[0], End: loc[1]},
			})
		}
	}

	for _, title := range positionTitles {
		idx := 0
		for {
			pos := strings.Index(text[idx:], title)
			if pos < 0 {
				break
			}
			start := idx + pos
			end := start + len(title)
			idx = end
			if !standaloneWord(text, start, end) {
				continue
			}
			if seen[title] {
				continue
			}
			seen[title] = true
			items = append(items, DetectionItem{
				Type:  TypePosition,
				Value: title,
				Span:  &Span{Start: start, End: end},
			})
		}
	}

	return items
}

// letterAdjacent reports whether the rune immediately before start or
// after end is a letter in any script.
func letterAdjacent(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if unicode.IsLetter(r) {
			return true
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// standaloneWord rejects title matches embedded in a longer Hangul word,
// e.g. the 과장 inside 소화과장애.
func standaloneWord(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isHangul(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isHangul(r) {
			return false
		}
	}
	return true
}
