package pii

import (
	"fmt"
	"sort"
	"strings"

	detectors "github.com/hannes/docguard/pii/detectors"
)

// RiskCategory groups detection types by how strongly they identify a
// person on their own.
type RiskCategory string

const (
	CategoryIdentifier RiskCategory = "identifier"
	CategorySensitive  RiskCategory = "sensitive"
	CategoryQuasi      RiskCategory = "quasi"
	CategoryOther      RiskCategory = "other"
)

// RiskLevel orders combination-risk verdicts.
type RiskLevel string

const (
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// AtLeast reports whether l is at or above other.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return riskRank[l] >= riskRank[other]
}

// RiskVerdict is the outcome of combination-risk analysis.
type RiskVerdict struct {
	Level   RiskLevel                 `json:"level"`
	Message string                    `json:"message"`
	Items   []detectors.DetectionItem `json:"items"`
	Counts  map[RiskCategory]int      `json:"counts"`
}

// typeCategories assigns each detection type its risk category. Person
// names and IP addresses identify someone only in combination, so both
// are quasi-identifiers here.
var typeCategories = map[detectors.DetectionType]RiskCategory{
	detectors.TypePhone:         CategoryIdentifier,
	detectors.TypeEmail:         CategoryIdentifier,
	detectors.TypeResident:      CategoryIdentifier,
	detectors.TypeAlienReg:      CategoryIdentifier,
	detectors.TypeDriverLicense: CategoryIdentifier,
	detectors.TypePassport:      CategoryIdentifier,
	detectors.TypeAccount:       CategoryIdentifier,
	detectors.TypeCard:          CategoryIdentifier,
	detectors.TypeImageFace:     CategorySensitive,
	detectors.TypePerson:        CategoryQuasi,
	detectors.TypeOrg:           CategoryQuasi,
	detectors.TypeLocation:      CategoryQuasi,
	detectors.TypeStudentID:     CategoryQuasi,
	detectors.TypePosition:      CategoryQuasi,
	detectors.TypeBirth:         CategoryQuasi,
	detectors.TypeIP:            CategoryQuasi,
}

// displayLabels are the human-readable names used in verdict messages
// and masking summaries.
var displayLabels = map[detectors.DetectionType]string{
	detectors.TypePhone:         "전화번호",
	detectors.TypeEmail:         "이메일",
	detectors.TypeBirth:         "생년월일",
	detectors.TypeResident:      "주민등록번호",
	detectors.TypeAlienReg:      "외국인등록번호",
	detectors.TypeDriverLicense: "운전면허번호",
	detectors.TypePassport:      "여권번호",
	detectors.TypeAccount:       "계좌번호",
	detectors.TypeCard:          "카드번호",
	detectors.TypeIP:            "IP주소",
	detectors.TypePerson:        "이름",
	detectors.TypeOrg:           "소속",
	detectors.TypeLocation:      "지역",
	detectors.TypeStudentID:     "학번/사번",
	detectors.TypePosition:      "직책",
	detectors.TypeImageFace:     "얼굴 이미지",
	detectors.TypeParseError:    "파일 분석 오류",
}

// Categorize returns the risk category for a detection type.
func Categorize(typ detectors.DetectionType) RiskCategory {
	if cat, ok := typeCategories[typ]; ok {
		return cat
	}
	return CategoryOther
}

// DisplayLabel returns the human-readable name for a detection type.
func DisplayLabel(typ detectors.DetectionType) string {
	if label, ok := displayLabels[typ]; ok {
		return label
	}
	return string(typ)
}

// AnalyzeCombinationRisk evaluates re-identification risk from the
// combination of detected items. It returns nil when fewer than two
// items are present or no rule fires. Rules are checked in descending
// severity, so the highest applicable level wins.
func AnalyzeCombinationRisk(items []detectors.DetectionItem) *RiskVerdict {
	if len(items) < 2 {
		return nil
	}

	counts := map[RiskCategory]int{}
	quasiTypes := map[detectors.DetectionType]bool{}
	var contributing []detectors.DetectionItem

	for _, item := range items {
		cat := Categorize(item.Type)
		if cat == CategoryOther {
			continue
		}
		counts[cat]++
		if cat == CategoryQuasi {
			quasiTypes[item.Type] = true
		}
		contributing = append(contributing, item)
	}

	ids := counts[CategoryIdentifier]
	sens := counts[CategorySensitive]
	quasi := counts[CategoryQuasi]

	var level RiskLevel
	switch {
	case sens >= 1 && ids >= 1:
		level = RiskCritical
	case ids >= 3:
		level = RiskHigh
	case ids >= 1 && quasi >= 2:
		level = RiskHigh
	case ids >= 2:
		level = RiskMedium
	case ids >= 1 && quasi >= 1:
		level = RiskMedium
	case quasi >= 2 && len(quasiTypes) >= 2 && !weakQuasiPair(quasiTypes):
		level = RiskMedium
	default:
		return nil
	}

	return &RiskVerdict{
		Level:   level,
		Message: verdictMessage(level, contributing),
		Items:   contributing,
		Counts:  counts,
	}
}

// weakQuasiPair reports whether the quasi-identifier combination is
// exactly organization plus location, which alone does not narrow down
// an individual.
func weakQuasiPair(quasiTypes map[detectors.DetectionType]bool) bool {
	return len(quasiTypes) == 2 &&
		quasiTypes[detectors.TypeOrg] &&
		quasiTypes[detectors.TypeLocation]
}

var categoryLabels = map[RiskCategory]string{
	CategoryIdentifier: "식별자",
	CategorySensitive:  "민감정보",
	CategoryQuasi:      "준식별자",
}

// verdictMessage builds a readable summary of what combined into the
// verdict, naming each category with its labels and count, e.g.
// "조합 위험(높음): 식별자(전화번호) 1건 + 준식별자(이름, 소속) 2건".
func verdictMessage(level RiskLevel, items []detectors.DetectionItem) string {
	type group struct {
		count  int
		seen   map[string]bool
		labels []string
	}
	groups := map[RiskCategory]*group{}
	for _, item := range items {
		cat := Categorize(item.Type)
		g := groups[cat]
		if g == nil {
			g = &group{seen: map[string]bool{}}
			groups[cat] = g
		}
		g.count++
		label := DisplayLabel(item.Type)
		if !g.seen[label] {
			g.seen[label] = true
			g.labels = append(g.labels, label)
		}
	}

	var parts []string
	for _, cat := range []RiskCategory{CategoryIdentifier, CategorySensitive, CategoryQuasi} {
		g := groups[cat]
		if g == nil {
			continue
		}
		sort.Strings(g.labels)
		parts = append(parts, fmt.Sprintf("%s(%s) %d건", categoryLabels[cat], strings.Join(g.labels, ", "), g.count))
	}

	levelLabel := map[RiskLevel]string{
		RiskMedium:   "중간",
		RiskHigh:     "높음",
		RiskCritical: "심각",
	}[level]

	return fmt.Sprintf("조합 위험(%s): %s", levelLabel, strings.Join(parts, " + "))
}
