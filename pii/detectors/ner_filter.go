package pii

import (
	"regexp"
	"strings"
	"unicode"
)

// canonicalLabels maps model label vocabularies onto the detection types
// used downstream. Unknown labels are dropped.
var canonicalLabels = map[string]DetectionType{
	"PS":           TypePerson,
	"PER":          TypePerson,
	"PERSON":       TypePerson,
	"NAME":         TypePerson,
	"ORG":          TypeOrg,
	"OG":           TypeOrg,
	"ORGANIZATION": TypeOrg,
	"COMPANY":      TypeOrg,
	"LC":           TypeLocation,
	"LOC":          TypeLocation,
	"LOCATION":     TypeLocation,
	"GPE":          TypeLocation,
	"ADDRESS":      TypeLocation,
	"DT":           TypeStudentID,
	"QT":           TypeStudentID,
}

// koreanSurnames gates short Hangul name candidates. A two to four
// character Hangul string is only accepted as a person name when it
// starts with a known surname.
var koreanSurnames = map[rune]bool{
	'김': true, '이': true, '박': true, '최': true, '정': true,
	'강': true, '조': true, '윤': true, '장': true, '임': true,
	'한': true, '오': true, '서': true, '신': true, '권': true,
	'황': true, '안': true, '송': true, '전': true, '홍': true,
	'유': true, '고': true, '문': true, '양': true, '손': true,
	'배': true, '백': true, '허': true, '남': true, '심': true,
	'노': true, '하': true, '곽': true, '성': true, '차': true,
	'주': true, '우': true, '구': true, '민': true, '류': true,
	'나': true, '진': true, '지': true, '엄': true, '채': true,
	'원': true, '천': true, '방': true, '공': true, '현': true,
	'함': true, '변': true, '염': true, '여': true, '추': true,
	'도': true, '소': true, '석': true, '선': true, '설': true,
	'마': true, '길': true, '위': true, '표': true, '기': true,
	'반': true, '왕': true, '금': true, '옥': true, '육': true,
	'인': true, '맹': true, '제': true, '모': true, '탁': true,
}

// nameWhitelist bypasses the surname and confidence gates entirely.
var nameWhitelist = map[string]bool{
	"홍길동": true,
}

// nameBlacklist drops values the model keeps mistaking for names.
var nameBlacklist = map[string]bool{
	"컴퓨터": true,
	"키보드": true,
	"마우스": true,
	"모니터": true,
	"프린터": true,
}

// orgKeywords reclassify a person candidate as an organization when the
// value ends with (or contains) one of these.
var orgKeywords = []string{
	"전자", "그룹", "주식회사", "물산", "건설", "카드", "은행",
	"증권", "보험", "대학교", "학교", "병원", "연구소", "협회",
	"재단", "팀", "부서", "본부", "센터",
}

// orgSplitSuffixes are department markers that end an organization
// fragment when a compound value like "삼성전자 인사팀" is split.
var orgSplitSuffixes = []string{"팀", "부서", "본부", "지점", "센터", "연구소", "부"}

// labeledNameRe recovers names the model misses when the document labels
// them explicitly, e.g. "성명: 김철수".
var labeledNameRe = regexp.MustCompile(`(?:성명|이름)\s*[:：]?\s*([가-힣]{2,4})`)

var digitRunRe = regexp.MustCompile(`\d{8,}`)

// FilterEntities turns raw model entities into detection items, applying
// the per-label cleanup and rejection rules. Fragile model output (short
// names, department fragments, location pieces) is the main source of
// noise, so most of the logic lives in the person and organization paths.
func FilterEntities(text string, entities []Entity) []DetectionItem {
	items := []DetectionItem{}
	var orgItems []DetectionItem
	var locParts []string
	seenValues := make(map[string]bool)

	for _, entity := range entities {
		typ, ok := canonicalLabels[strings.ToUpper(entity.Label)]
		if !ok {
			continue
		}

		value := cleanEntityValue(entity.Text)
		if value == "" {
			continue
		}

		switch typ {
		case TypePerson:
			item, ok := filterPerson(value, entity)
			if !ok {
				continue
			}
			if item.Type == TypeOrg {
				orgItems = append(orgItems, splitOrganization(item)...)
				continue
			}
			if seenValues[item.Value] {
				continue
			}
			seenValues[item.Value] = true
			items = append(items, item)
		case TypeOrg:
			orgItems = append(orgItems, splitOrganization(DetectionItem{
				Type:  TypeOrg,
				Value: value,
				Span:  &Span{Start: entity.StartPos, End: entity.EndPos},
			})...)
		case TypeLocation:
			locParts = append(locParts, value)
		case TypeStudentID:
			run := digitRunRe.FindString(value)
			if run == "" {
				continue
			}
			if seenValues[run] {
				continue
			}
			seenValues[run] = true
			items = append(items, DetectionItem{
				Type:  TypeStudentID,
				Value: run,
				Span:  &Span{Start: entity.StartPos, End: entity.EndPos},
			})
		}
	}

	// Labeled names are authoritative regardless of model output.
	for _, m := range labeledNameRe.FindAllStringSubmatchIndex(text, -1) {
		name := text[m[2]:m[3]]
		if seenValues[name] || nameBlacklist[name] {
			continue
		}
		first, _ := firstRune(name)
		if !nameWhitelist[name] && !koreanSurnames[first] {
			continue
		}
		seenValues[name] = true
		items = append(items, DetectionItem{
			Type:  TypePerson,
			Value: name,
			Span:  &Span{Start: m[2], End: m[3]},
		})
	}

	items = append(items, dedupOrganizations(orgItems)...)

	if len(locParts) > 0 {
		items = append(items, DetectionItem{
			Type:  TypeLocation,
			Value: mergeLocationParts(locParts),
		})
	}

	return items
}

// filterPerson applies the person-name rejection rules. The returned
// item may be reclassified as an organization.
func filterPerson(value string, entity Entity) (DetectionItem, bool) {
	compact := strings.ReplaceAll(value, " ", "")
	runes := []rune(compact)

	if len(runes) <= 1 {
		return DetectionItem{}, false
	}
	if nameBlacklist[compact] {
		return DetectionItem{}, false
	}

	hasLetter := false
	allDigits := true
	for _, r := range runes {
		if unicode.IsLetter(r) {
			hasLetter = true
		}
		if !unicode.IsDigit(r) {
			allDigits = false
		}
	}
	if allDigits || !hasLetter {
		return DetectionItem{}, false
	}

	for _, kw := range orgKeywords {
		if strings.Contains(compact, kw) {
			return DetectionItem{
				Type:  TypeOrg,
				Value: value,
				Span:  &Span{Start: entity.StartPos, End: entity.EndPos},
			}, true
		}
	}

	if nameWhitelist[compact] {
		return DetectionItem{
			Type:  TypePerson,
			Value: compact,
			Span:  &Span{Start: entity.StartPos, End: entity.EndPos},
		}, true
	}

	// Shorter candidates need more model confidence.
	var threshold float64
	switch {
	case len(runes) == 2:
		threshold = 0.85
	case len(runes) <= 4:
		threshold = 0.6
	default:
		threshold = 0.5
	}
	if entity.Confidence < threshold {
		return DetectionItem{}, false
	}

	// Hangul names of typical length must start with a known surname.
	if len(runes) >= 2 && len(runes) <= 4 && isHangul(runes[0]) && !koreanSurnames[runes[0]] {
		return DetectionItem{}, false
	}

	return DetectionItem{
		Type:  TypePerson,
		Value: compact,
		Span:  &Span{Start: entity.StartPos, End: entity.EndPos},
	}, true
}

// splitOrganization breaks a compound organization value into fragments
// on whitespace and department suffixes.
func splitOrganization(item DetectionItem) []DetectionItem {
	fields := strings.Fields(item.Value)
	var out []DetectionItem
	for _, f := range fields {
		parts := splitOnDeptSuffix(f)
		for _, p := range parts {
			if len([]rune(p)) < 2 {
				continue
			}
			out = append(out, DetectionItem{Type: TypeOrg, Value: p, Span: item.Span})
		}
	}
	return out
}

// splitOnDeptSuffix cuts after an interior department suffix, so
// "삼성전자인사팀" yields "삼성전자인사팀" unchanged but
// "인사팀총무부" yields both fragments.
func splitOnDeptSuffix(value string) []string {
	runes := []rune(value)
	var parts []string
	start := 0
	for i := 0; i < len(runes); i++ {
		for _, suffix := range orgSplitSuffixes {
			sr := []rune(suffix)
			end := i + len(sr)
			if end > len(runes) || end == len(runes) {
				continue
			}
			if string(runes[i:end]) == suffix && isHangul(runes[end]) {
				parts = append(parts, string(runes[start:end]))
				start = end
				i = end - 1
				break
			}
		}
	}
	parts = append(parts, string(runes[start:]))
	return parts
}

// dedupOrganizations removes fragments contained in another value.
func dedupOrganizations(orgs []DetectionItem) []DetectionItem {
	var out []DetectionItem
	seen := make(map[string]bool)
	for i, org := range orgs {
		if seen[org.Value] {
			continue
		}
		contained := false
		for j, other := range orgs {
			if i == j || org.Value == other.Value {
				continue
			}
			if strings.Contains(other.Value, org.Value) {
				contained = true
				break
			}
		}
		if contained {
			continue
		}
		seen[org.Value] = true
		out = append(out, org)
	}
	return out
}

// mergeLocationParts consolidates location fragments into one value,
// dropping exact duplicates while preserving order.
func mergeLocationParts(parts []string) string {
	seen := make(map[string]bool)
	var kept []string
	for _, p := range parts {
		if seen[p] {
			continue
		}
		seen[p] = true
		kept = append(kept, p)
	}
	return strings.Join(kept, " ")
}

// cleanEntityValue strips subword markers and non-letter edges.
func cleanEntityValue(value string) string {
	value = strings.ReplaceAll(value, "##", "")
	value = strings.TrimSpace(value)
	return strings.TrimFunc(value, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func isHangul(r rune) bool {
	return r >= 0xAC00 && r <= 0xD7A3
}

func firstRune(s string) (rune, bool) {
	for _, r := range s {
		return r, true
	}
	return 0, false
}
