package pii

import (
	"testing"
)

func findByType(items []DetectionItem, typ DetectionType) []DetectionItem {
	var out []DetectionItem
	for _, item := range items {
		if item.Type == typ {
			out = append(out, item)
		}
	}
	return out
}

func TestPatternDetector_GetName(t *testing.T) {
	detector := NewPatternDetector()
	if detector.GetName() != "pattern_detector" {
		t.Errorf("Expected name 'pattern_detector', got '%s'", detector.GetName())
	}
}

func TestPatternDetector_PhoneSingleItemPerFormat(t *testing.T) {
	detector := NewPatternDetector()

	for _, text := range []string{"010-1234-5678", "01012345678", "010 1234 5678"} {
		items := detector.DetectItems(text)
		phones := findByType(items, TypePhone)
		if len(phones) != 1 {
			t.Errorf("Expected exactly 1 phone item for %q, got %d", text, len(phones))
			continue
		}
		if phones[0].Value != text {
			t.Errorf("Expected phone value %q, got %q", text, phones[0].Value)
		}
	}
}

func TestPatternDetector_PhoneNormalizedPassRecoversSpan(t *testing.T) {
	detector := NewPatternDetector()
	text := "연락처 010--1234--5678 입니다"

	items := detector.DetectItems(text)
	phones := findByType(items, TypePhone)
	if len(phones) != 1 {
		t.Fatalf("Expected 1 phone item, got %d", len(phones))
	}
	phone := phones[0]
	if phone.Span == nil {
		t.Fatalf("Expected a span on the normalized-pass phone item")
	}
	if got := text[phone.Span.Start:phone.Span.End]; got != "010--1234--5678" {
		t.Errorf("Expected span to cover '010--1234--5678', got %q", got)
	}
	if phone.Value != "010--1234--5678" {
		t.Errorf("Expected raw value '010--1234--5678', got %q", phone.Value)
	}
}

func TestPatternDetector_PhoneNotInsideLongerDigitRun(t *testing.T) {
	detector := NewPatternDetector()
	items := detector.DetectItems("계약번호 9901012345678123")
	if phones := findByType(items, TypePhone); len(phones) != 0 {
		t.Errorf("Expected no phone inside a longer digit run, got %d", len(phones))
	}
}

func TestPatternDetector_Email(t *testing.T) {
	detector := NewPatternDetector()
	items := detector.DetectItems("문의: hong.gildong+hr@example.co.kr 로 주세요")
	emails := findByType(items, TypeEmail)
	if len(emails) != 1 {
		t.Fatalf("Expected 1 email item, got %d", len(emails))
	}
	if emails[0].Value != "hong.gildong+hr@example.co.kr" {
		t.Errorf("Expected full address, got %q", emails[0].Value)
	}
}

func TestPatternDetector_ResidentNumberStatus(t *testing.T) {
	detector := NewPatternDetector()

	items := detector.DetectItems("주민등록번호 900101-1234568")
	residents := findByType(items, TypeResident)
	if len(residents) != 1 {
		t.Fatalf("Expected 1 resident number item, got %d", len(residents))
	}
	if residents[0].Status != "valid" {
		t.Errorf("Expected status 'valid', got %q", residents[0].Status)
	}

	items = detector.DetectItems("주민등록번호 900101-1234561")
	residents = findByType(items, TypeResident)
	if len(residents) != 1 {
		t.Fatalf("Expected failing checksum to still be reported, got %d items", len(residents))
	}
	if residents[0].Status != "invalid" {
		t.Errorf("Expected status 'invalid', got %q", residents[0].Status)
	}
}

func TestPatternDetector_CardLuhnStatus(t *testing.T) {
	detector := NewPatternDetector()

	items := detector.DetectItems("카드번호 4111-1111-1111-1111")
	cards := findByType(items, TypeCard)
	if len(cards) != 1 {
		t.Fatalf("Expected 1 card item, got %d", len(cards))
	}
	if cards[0].Status != "valid" {
		t.Errorf("Expected status 'valid', got %q", cards[0].Status)
	}

	items = detector.DetectItems("카드번호 4111-1111-1111-1112")
	cards = findByType(items, TypeCard)
	if len(cards) != 1 || cards[0].Status != "invalid" {
		t.Errorf("Expected reported card with status 'invalid', got %+v", cards)
	}
}

func TestPatternDetector_AlienRegistration(t *testing.T) {
	detector := NewPatternDetector()
	items := detector.DetectItems("외국인등록번호 900101-5234567")
	aliens := findByType(items, TypeAlienReg)
	if len(aliens) != 1 {
		t.Fatalf("Expected 1 alien registration item, got %d", len(aliens))
	}
	if aliens[0].Status != "valid" {
		t.Errorf("Expected status 'valid', got %q", aliens[0].Status)
	}
}

func TestPatternDetector_DedupAcrossPasses(t *testing.T) {
	detector := NewPatternDetector()
	// The same number in raw and separator-padded form collapses to the
	// raw-pass detection.
	items := detector.DetectItems("01012345678 그리고 010 1234 5678")
	phones := findByType(items, TypePhone)
	if len(phones) != 1 {
		t.Errorf("Expected value-level dedup to one phone item, got %d", len(phones))
	}
}

func TestPatternDetector_BirthDate(t *testing.T) {
	detector := NewPatternDetector()
	for _, text := range []string{"1990년 5월 3일", "1990.05.03", "1990-5-3"} {
		items := detector.DetectItems("생년월일 " + text)
		births := findByType(items, TypeBirth)
		if len(births) != 1 {
			t.Errorf("Expected 1 birth item for %q, got %d", text, len(births))
		}
	}
}

func TestPatternDetector_IPValidation(t *testing.T) {
	detector := NewPatternDetector()

	items := detector.DetectItems("서버 10.20.30.40 접속")
	if ips := findByType(items, TypeIP); len(ips) != 1 {
		t.Errorf("Expected 1 ip item, got %d", len(ips))
	}

	items = detector.DetectItems("버전 999.1.1.1")
	if ips := findByType(items, TypeIP); len(ips) != 0 {
		t.Errorf("Expected out-of-range octet to be rejected, got %d items", len(ips))
	}

	items = detector.DetectItems("값 01.2.3.4")
	if ips := findByType(items, TypeIP); len(ips) != 0 {
		t.Errorf("Expected leading-zero octet to be rejected, got %d items", len(ips))
	}
}

func TestPatternDetector_Passport(t *testing.T) {
	detector := NewPatternDetector()
	items := detector.DetectItems("여권번호 M12345678")
	passports := findByType(items, TypePassport)
	if len(passports) != 1 {
		t.Fatalf("Expected 1 passport item, got %d", len(passports))
	}
	if passports[0].Value != "M12345678" {
		t.Errorf("Expected 'M12345678', got %q", passports[0].Value)
	}
}

func TestPatternDetector_NoMatches(t *testing.T) {
	detector := NewPatternDetector()
	items := detector.DetectItems("오늘 회의는 3시에 시작합니다.")
	if len(items) != 0 {
		t.Errorf("Expected 0 items, got %d: %+v", len(items), items)
	}
}
