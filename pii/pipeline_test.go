package pii

import (
	"context"
	"strings"
	"testing"

	"github.com/hannes/docguard/parser"
	detectors "github.com/hannes/docguard/pii/detectors"
)

// stubDetector stands in for the ONNX model. It reports a person entity
// wherever the probe name appears in the chunk it is given.
type stubDetector struct {
	name string
	err  error
}

func (s *stubDetector) GetName() string {
	return "stub"
}

func (s *stubDetector) Detect(ctx context.Context, input detectors.DetectorInput) (detectors.DetectorOutput, error) {
	if s.err != nil {
		return detectors.DetectorOutput{}, s.err
	}
	output := detectors.DetectorOutput{Text: input.Text}
	if idx := strings.Index(input.Text, s.name); idx >= 0 {
		output.Entities = append(output.Entities, detectors.Entity{
			Text:       s.name,
			Label:      "PS",
			StartPos:   idx,
			EndPos:     idx + len(s.name),
			Confidence: 0.9,
		})
	}
	return output, nil
}

func (s *stubDetector) Close() error {
	return nil
}

type stubProvider struct {
	det detectors.Detector
	err error
}

func (s *stubProvider) GetDetector() (detectors.Detector, error) {
	return s.det, s.err
}

func TestProcessText_IdentifierPairIsMediumRisk(t *testing.T) {
	p := NewPipeline(PipelineOptions{History: NewHistory(10)})

	result, err := p.ProcessText(context.Background(), "event", "주민번호 900101-1234568 연락처 010-1234-5678")
	if err != nil {
		t.Fatalf("ProcessText failed: %v", err)
	}

	if result.Risk == nil {
		t.Fatal("Expected a combination risk verdict")
	}
	if result.Risk.Level != RiskMedium {
		t.Errorf("Expected medium risk, got %s", result.Risk.Level)
	}
	if result.Visibility != VisibilityBoth {
		t.Errorf("Expected visibility both, got %s", result.Visibility)
	}
	if result.EntryID == "" {
		t.Error("Expected the event to be recorded")
	}
	if p.History().Len() != 1 {
		t.Errorf("Expected 1 history entry, got %d", p.History().Len())
	}
}

func TestProcessText_SingleQuasiTypeStaysOnTerminal(t *testing.T) {
	p := NewPipeline(PipelineOptions{History: NewHistory(10)})

	result, err := p.ProcessText(context.Background(), "event", "담당 과장 님께 전달 바랍니다")
	if err != nil {
		t.Fatalf("ProcessText failed: %v", err)
	}

	if result.Risk != nil {
		t.Errorf("Expected no risk verdict, got %s", result.Risk.Level)
	}
	if len(result.Items) != 0 {
		t.Errorf("Expected quasi-only items to be narrowed away, got %d", len(result.Items))
	}
	if result.Visibility != VisibilityTerminal {
		t.Errorf("Expected terminal visibility, got %s", result.Visibility)
	}
	if result.EntryID != "" {
		t.Error("Expected no history entry for a narrowed quasi-only event")
	}
}

func TestProcessText_OrgLocationPairSuppressed(t *testing.T) {
	entities := &fixedItemDetector{items: []detectors.DetectionItem{
		{Type: detectors.TypeLocation, Value: "서울 강남구"},
	}}
	p := NewPipeline(PipelineOptions{History: NewHistory(10), Entities: entities})

	result, err := p.ProcessText(context.Background(), "event", "한국대학교 안내문입니다")
	if err != nil {
		t.Fatalf("ProcessText failed: %v", err)
	}

	if result.Risk != nil {
		t.Errorf("Expected no risk for an org plus location pair, got %s", result.Risk.Level)
	}
	if result.Visibility != VisibilitySuppressed {
		t.Errorf("Expected suppressed visibility, got %s", result.Visibility)
	}
	if p.History().Len() != 0 {
		t.Errorf("Expected no history entry for a suppressed event, got %d", p.History().Len())
	}
}

func TestProcessText_QuasiKeptWhenConfigured(t *testing.T) {
	p := NewPipeline(PipelineOptions{History: NewHistory(10), IncludeQuasiWithoutRisk: true})

	result, err := p.ProcessText(context.Background(), "event", "담당 과장 님께 전달 바랍니다")
	if err != nil {
		t.Fatalf("ProcessText failed: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("Expected the quasi item to be kept, got %d items", len(result.Items))
	}
	if result.Items[0].Type != detectors.TypePosition {
		t.Errorf("Expected position item, got %s", result.Items[0].Type)
	}
}

func TestProcessFile_TextDocument(t *testing.T) {
	p := NewPipeline(PipelineOptions{
		History: NewHistory(10),
		Parser:  parser.New(nil, nil),
	})

	data := []byte("수신자 주민등록번호 900101-1234568 문의는 010-1234-5678")
	result, err := p.ProcessFile(context.Background(), "file_collect", "010-9999-8888_명단.txt", data)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}

	if result.HadParseError {
		t.Error("Expected no parse error for plain text")
	}
	if result.Risk == nil || result.Risk.Level != RiskHigh {
		t.Fatalf("Expected high risk for three identifiers, got %+v", result.Risk)
	}
	if result.MaskedFilename != "*************_명단.txt" {
		t.Errorf("Unexpected masked filename: %q", result.MaskedFilename)
	}
	foundPhoneLabel := false
	for _, label := range result.MaskedLabels {
		if label == "전화번호" {
			foundPhoneLabel = true
		}
	}
	if !foundPhoneLabel {
		t.Errorf("Expected phone label in masked labels, got %v", result.MaskedLabels)
	}
}

// recordingDetector captures the text handed to the entity path.
type recordingDetector struct {
	lastText string
}

func (r *recordingDetector) DetectItems(ctx context.Context, text string) ([]detectors.DetectionItem, error) {
	r.lastText = text
	return nil, nil
}

func TestProcessFile_PrefixesFilenameWithoutExtension(t *testing.T) {
	entities := &recordingDetector{}
	p := NewPipeline(PipelineOptions{
		History:  NewHistory(10),
		Parser:   parser.New(nil, nil),
		Entities: entities,
	})

	_, err := p.ProcessFile(context.Background(), "file_collect", "명단.txt", []byte("본문"))
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}

	if !strings.HasPrefix(entities.lastText, "명단\n") {
		t.Errorf("Expected extension-trimmed filename prefix, got %q", entities.lastText)
	}
	if strings.Contains(entities.lastText, ".txt") {
		t.Errorf("Extension leaked into detection text: %q", entities.lastText)
	}
}

func TestProcessFile_UnsupportedFormatDegrades(t *testing.T) {
	p := NewPipeline(PipelineOptions{
		History: NewHistory(10),
		Parser:  parser.New(nil, nil),
	})

	result, err := p.ProcessFile(context.Background(), "file_collect", "old.hwp", []byte{0x0e, 0x00})
	if err != nil {
		t.Fatalf("ProcessFile should degrade, not fail: %v", err)
	}

	if !result.HadParseError {
		t.Error("Expected HadParseError for a legacy format")
	}
	found := false
	for _, item := range result.Items {
		if item.Type == detectors.TypeParseError {
			found = true
		}
	}
	if !found {
		t.Error("Expected a parse error detection item")
	}
	if result.Visibility != VisibilityBoth {
		t.Errorf("Expected parse errors to surface, got %s", result.Visibility)
	}
}

func TestChunkText_ReassemblesAndBoundsRunes(t *testing.T) {
	text := strings.Repeat("가나다라 마바사 ", 40)
	chunks := chunkText(text, 25)
	if len(chunks) < 2 {
		t.Fatalf("Expected multiple chunks, got %d", len(chunks))
	}

	var rebuilt strings.Builder
	for _, chunk := range chunks {
		if chunk.offset != rebuilt.Len() {
			t.Errorf("Expected offset %d, got %d", rebuilt.Len(), chunk.offset)
		}
		if n := len([]rune(chunk.text)); n > 25 {
			t.Errorf("Chunk exceeds rune bound: %d", n)
		}
		rebuilt.WriteString(chunk.text)
	}
	if rebuilt.String() != text {
		t.Error("Chunks do not reassemble into the original text")
	}
}

func TestChunkText_Empty(t *testing.T) {
	if chunks := chunkText("", 100); chunks != nil {
		t.Errorf("Expected no chunks for empty text, got %d", len(chunks))
	}
}

func TestEntityDetector_ShiftsSpansAcrossChunks(t *testing.T) {
	det := NewEntityDetector(&stubProvider{det: &stubDetector{name: "김철수"}}, 5)

	text := "아아아아아 김철수 배정"
	items, err := det.DetectItems(context.Background(), text)
	if err != nil {
		t.Fatalf("DetectItems failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}

	item := items[0]
	if item.Type != detectors.TypePerson || item.Value != "김철수" {
		t.Errorf("Expected person 김철수, got %s %q", item.Type, item.Value)
	}
	if item.Span == nil {
		t.Fatal("Expected a span on the shifted item")
	}
	wantStart := strings.Index(text, "김철수")
	if item.Span.Start != wantStart || item.Span.End != wantStart+len("김철수") {
		t.Errorf("Expected span [%d,%d), got [%d,%d)", wantStart, wantStart+len("김철수"), item.Span.Start, item.Span.End)
	}
}

func TestEntityDetector_ProviderError(t *testing.T) {
	det := NewEntityDetector(&stubProvider{err: context.DeadlineExceeded}, 0)
	if _, err := det.DetectItems(context.Background(), "아무 텍스트"); err == nil {
		t.Error("Expected an error when no detector is available")
	}
}

func TestProcessText_DedupsAcrossDetectors(t *testing.T) {
	entities := &fixedItemDetector{items: []detectors.DetectionItem{
		{Type: detectors.TypePerson, Value: "010-1234-5678"},
	}}
	p := NewPipeline(PipelineOptions{History: NewHistory(10), Entities: entities})

	result, err := p.ProcessText(context.Background(), "event", "연락처 010-1234-5678 와 010 1234 5678")
	if err != nil {
		t.Fatalf("ProcessText failed: %v", err)
	}

	phones := 0
	for _, item := range result.Items {
		if normalizeValue(item.Value) == "01012345678" {
			phones++
			if item.Type != detectors.TypePhone {
				t.Errorf("Expected pattern type to win the collision, got %s", item.Type)
			}
		}
	}
	if phones != 1 {
		t.Errorf("Expected a single deduplicated phone item, got %d", phones)
	}
}
