package pii

import (
	"testing"
)

func TestFilterEntities_AcceptsFullName(t *testing.T) {
	entities := []Entity{
		{Text: "김철수", Label: "PS", StartPos: 0, EndPos: 9, Confidence: 0.9},
	}
	items := FilterEntities("김철수 부장님께", entities)
	persons := findByType(items, TypePerson)
	if len(persons) != 1 {
		t.Fatalf("Expected 1 person item, got %d", len(persons))
	}
	if persons[0].Value != "김철수" {
		t.Errorf("Expected '김철수', got %q", persons[0].Value)
	}
}

func TestFilterEntities_RejectsUnknownSurname(t *testing.T) {
	// 철 is not a surname, so a 2-char candidate is dropped even at
	// high confidence.
	entities := []Entity{
		{Text: "철수", Label: "PS", Confidence: 0.99},
	}
	items := FilterEntities("철수", entities)
	if persons := findByType(items, TypePerson); len(persons) != 0 {
		t.Errorf("Expected non-surname candidate to be rejected, got %+v", persons)
	}
}

func TestFilterEntities_ShortNameNeedsHighConfidence(t *testing.T) {
	entities := []Entity{
		{Text: "김구", Label: "PS", Confidence: 0.7},
	}
	items := FilterEntities("김구", entities)
	if persons := findByType(items, TypePerson); len(persons) != 0 {
		t.Errorf("Expected low-confidence 2-char name to be rejected, got %+v", persons)
	}

	entities[0].Confidence = 0.9
	items = FilterEntities("김구", entities)
	if persons := findByType(items, TypePerson); len(persons) != 1 {
		t.Errorf("Expected high-confidence 2-char name to pass, got %+v", persons)
	}
}

func TestFilterEntities_Blacklist(t *testing.T) {
	entities := []Entity{
		{Text: "컴퓨터", Label: "PS", Confidence: 0.99},
	}
	items := FilterEntities("컴퓨터", entities)
	if len(items) != 0 {
		t.Errorf("Expected blacklisted value to be dropped, got %+v", items)
	}
}

func TestFilterEntities_WhitelistBypassesGates(t *testing.T) {
	entities := []Entity{
		{Text: "홍길동", Label: "PS", Confidence: 0.1},
	}
	items := FilterEntities("홍길동", entities)
	persons := findByType(items, TypePerson)
	if len(persons) != 1 {
		t.Errorf("Expected whitelisted name to pass regardless of confidence, got %+v", items)
	}
}

func TestFilterEntities_RejectsDigitsAndSingles(t *testing.T) {
	entities := []Entity{
		{Text: "123456", Label: "PS", Confidence: 0.95},
		{Text: "김", Label: "PS", Confidence: 0.95},
		{Text: "!!", Label: "PS", Confidence: 0.95},
	}
	items := FilterEntities("123456 김 !!", entities)
	if persons := findByType(items, TypePerson); len(persons) != 0 {
		t.Errorf("Expected digit-only, single-char and symbol values to be dropped, got %+v", persons)
	}
}

func TestFilterEntities_OrgKeywordReclassifies(t *testing.T) {
	entities := []Entity{
		{Text: "삼성전자", Label: "PS", Confidence: 0.9},
	}
	items := FilterEntities("삼성전자", entities)
	if persons := findByType(items, TypePerson); len(persons) != 0 {
		t.Errorf("Expected org-keyword value not to be a person, got %+v", persons)
	}
	orgs := findByType(items, TypeOrg)
	if len(orgs) != 1 || orgs[0].Value != "삼성전자" {
		t.Errorf("Expected reclassified org '삼성전자', got %+v", orgs)
	}
}

func TestFilterEntities_OrgSplitAndContainmentDedup(t *testing.T) {
	entities := []Entity{
		{Text: "삼성전자 인사팀", Label: "ORG", Confidence: 0.9},
		{Text: "삼성전자", Label: "ORG", Confidence: 0.9},
	}
	items := FilterEntities("삼성전자 인사팀", entities)
	orgs := findByType(items, TypeOrg)
	if len(orgs) != 2 {
		t.Fatalf("Expected 2 org fragments after split and dedup, got %d: %+v", len(orgs), orgs)
	}
	values := map[string]bool{}
	for _, org := range orgs {
		values[org.Value] = true
	}
	if !values["삼성전자"] || !values["인사팀"] {
		t.Errorf("Expected fragments '삼성전자' and '인사팀', got %+v", values)
	}
}

func TestFilterEntities_LocationMerge(t *testing.T) {
	entities := []Entity{
		{Text: "서울", Label: "LC", Confidence: 0.9},
		{Text: "강남구", Label: "LC", Confidence: 0.9},
		{Text: "서울", Label: "LC", Confidence: 0.9},
	}
	items := FilterEntities("서울 강남구 서울", entities)
	locs := findByType(items, TypeLocation)
	if len(locs) != 1 {
		t.Fatalf("Expected a single merged location item, got %d", len(locs))
	}
	if locs[0].Value != "서울 강남구" {
		t.Errorf("Expected merged value '서울 강남구', got %q", locs[0].Value)
	}
	if locs[0].Span != nil {
		t.Errorf("Expected merged location to carry no span")
	}
}

func TestFilterEntities_LabeledNameFallback(t *testing.T) {
	text := "성명: 김영희, 부서: 총무"
	items := FilterEntities(text, nil)
	persons := findByType(items, TypePerson)
	if len(persons) != 1 {
		t.Fatalf("Expected labeled name to be recovered, got %d persons", len(persons))
	}
	if persons[0].Value != "김영희" {
		t.Errorf("Expected '김영희', got %q", persons[0].Value)
	}
	if persons[0].Span == nil || text[persons[0].Span.Start:persons[0].Span.End] != "김영희" {
		t.Errorf("Expected span to point at the name in the source text")
	}
}

func TestFilterEntities_LabeledNameDedupedAgainstModel(t *testing.T) {
	entities := []Entity{
		{Text: "김영희", Label: "PS", Confidence: 0.9},
	}
	items := FilterEntities("이름: 김영희", entities)
	persons := findByType(items, TypePerson)
	if len(persons) != 1 {
		t.Errorf("Expected model and fallback detections to merge, got %d", len(persons))
	}
}

func TestFilterEntities_StudentIDFromDigitRun(t *testing.T) {
	entities := []Entity{
		{Text: "20231234", Label: "QT", Confidence: 0.9},
		{Text: "42", Label: "QT", Confidence: 0.9},
	}
	items := FilterEntities("학번 20231234 나이 42", entities)
	ids := findByType(items, TypeStudentID)
	if len(ids) != 1 {
		t.Fatalf("Expected 1 student id item, got %d", len(ids))
	}
	if ids[0].Value != "20231234" {
		t.Errorf("Expected '20231234', got %q", ids[0].Value)
	}
}

func TestFilterEntities_UnknownLabelDropped(t *testing.T) {
	entities := []Entity{
		{Text: "어제", Label: "TI", Confidence: 0.9},
	}
	items := FilterEntities("어제", entities)
	if len(items) != 0 {
		t.Errorf("Expected unknown label to be dropped, got %+v", items)
	}
}
