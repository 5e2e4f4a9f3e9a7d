package pii

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hannes/docguard/facescan"
	"github.com/hannes/docguard/parser"
	detectors "github.com/hannes/docguard/pii/detectors"
)

// DetectorProvider hands out the current entity model. ModelManager
// implements it; tests substitute fixed detectors.
type DetectorProvider interface {
	GetDetector() (detectors.Detector, error)
}

// defaultChunkRunes keeps chunks comfortably inside the model's
// 512-token window for Korean text.
const defaultChunkRunes = 400

// EntityDetector adapts the model detector into the item-producing
// interface: it chunks long text, runs inference per chunk, post-filters
// the entities and shifts spans back into full-text coordinates.
type EntityDetector struct {
	provider   DetectorProvider
	chunkRunes int
}

func NewEntityDetector(provider DetectorProvider, chunkRunes int) *EntityDetector {
	if chunkRunes <= 0 {
		chunkRunes = defaultChunkRunes
	}
	return &EntityDetector{provider: provider, chunkRunes: chunkRunes}
}

func (e *EntityDetector) DetectItems(ctx context.Context, text string) ([]detectors.DetectionItem, error) {
	det, err := e.provider.GetDetector()
	if err != nil {
		return nil, fmt.Errorf("entity model unavailable: %w", err)
	}

	var items []detectors.DetectionItem
	for _, chunk := range chunkText(text, e.chunkRunes) {
		output, err := det.Detect(ctx, detectors.DetectorInput{Text: chunk.text})
		if err != nil {
			return nil, fmt.Errorf("entity detection failed: %w", err)
		}
		for _, item := range detectors.FilterEntities(chunk.text, output.Entities) {
			if item.Span != nil {
				item.Span = &detectors.Span{
					Start: item.Span.Start + chunk.offset,
					End:   item.Span.End + chunk.offset,
				}
			}
			items = append(items, item)
		}
	}
	return items, nil
}

type textChunk struct {
	text   string
	offset int
}

// chunkText splits text into rune-bounded chunks, preferring to cut at
// whitespace so entities are not split mid-word.
func chunkText(text string, maxRunes int) []textChunk {
	if text == "" {
		return nil
	}
	var chunks []textChunk
	start := 0
	for start < len(text) {
		end := start
		runes := 0
		lastSpace := -1
		for i := start; i < len(text); {
			r, size := utf8.DecodeRuneInString(text[i:])
			if runes >= maxRunes {
				break
			}
			if unicode.IsSpace(r) {
				lastSpace = i
			}
			i += size
			runes++
			end = i
		}
		if end < len(text) && lastSpace > start {
			end = lastSpace + 1
		}
		chunks = append(chunks, textChunk{text: text[start:end], offset: start})
		start = end
	}
	return chunks
}

// Result is the outcome of processing one event or file.
type Result struct {
	Items          []detectors.DetectionItem `json:"items"`
	Risk           *RiskVerdict              `json:"risk,omitempty"`
	MaskedFilename string                    `json:"masked_filename,omitempty"`
	MaskedLabels   []string                  `json:"masked_labels,omitempty"`
	Faces          []facescan.Face           `json:"faces,omitempty"`
	HadParseError  bool                      `json:"had_parse_error"`
	Visibility     Visibility                `json:"visibility"`
	EntryID        string                    `json:"entry_id,omitempty"`
}

// Pipeline wires the detectors, parser, face scanner and recording
// stages into the end-to-end document flow.
type Pipeline struct {
	patterns *detectors.PatternDetector
	quasi    *detectors.QuasiDetector
	entities ItemDetector
	masker   *FilenameMasker
	parser   *parser.Parser
	scanner  *facescan.Scanner
	history  *History
	db       DetectionLogDB

	includeQuasiWithoutRisk bool
}

// PipelineOptions configures optional pipeline stages. Entities, Parser,
// Scanner and DB may be nil; the pipeline degrades accordingly.
type PipelineOptions struct {
	Entities                ItemDetector
	Parser                  *parser.Parser
	Scanner                 *facescan.Scanner
	History                 *History
	DB                      DetectionLogDB
	IncludeQuasiWithoutRisk bool
}

func NewPipeline(opts PipelineOptions) *Pipeline {
	patterns := detectors.NewPatternDetector()
	history := opts.History
	if history == nil {
		history = NewHistory(DefaultHistorySize)
	}
	return &Pipeline{
		patterns:                patterns,
		quasi:                   detectors.NewQuasiDetector(),
		entities:                opts.Entities,
		masker:                  NewFilenameMasker(patterns, opts.Entities),
		parser:                  opts.Parser,
		scanner:                 opts.Scanner,
		history:                 history,
		db:                      opts.DB,
		includeQuasiWithoutRisk: opts.IncludeQuasiWithoutRisk,
	}
}

// History exposes the pipeline's detection record buffer.
func (p *Pipeline) History() *History {
	return p.history
}

// ProcessText runs detection over free text from an endpoint event.
func (p *Pipeline) ProcessText(ctx context.Context, source, text string) (Result, error) {
	items := p.detectText(ctx, text)
	return p.finish(ctx, source, "", items, nil, false), nil
}

// ProcessFile runs the full document flow: parse, detect over the
// filename-prefixed text, scan embedded images for faces, classify
// combination risk, mask the filename and record the event. Parse
// failures degrade to a detection item rather than aborting, so the
// face scan and filename handling still run.
func (p *Pipeline) ProcessFile(ctx context.Context, source, filename string, data []byte) (Result, error) {
	format := parser.FormatOf(filename)
	base := filepath.Base(filename)

	var text string
	hadParseError := false
	var items []detectors.DetectionItem

	if p.parser != nil {
		doc, err := p.parser.Parse(data, format)
		if err != nil {
			var perr *parser.ParseError
			if !errors.As(err, &perr) {
				return Result{}, fmt.Errorf("failed to parse %s: %w", base, err)
			}
			hadParseError = true
			items = append(items, detectors.DetectionItem{
				Type:   detectors.TypeParseError,
				Value:  perr.Error(),
				Status: perr.KindLabel(),
			})
			log.Printf("Pipeline: parse failed for %s (%s), continuing with degraded scan", base, perr.KindLabel())
		} else {
			text = doc.Text
		}
	}

	// The filename is scanned as text too, so personal data embedded in
	// it is detected even when the body yields nothing. The extension is
	// dropped so it never reads as content.
	combined := strings.TrimSuffix(base, filepath.Ext(base)) + "\n" + text
	items = append(items, p.detectText(ctx, combined)...)

	var faces []facescan.Face
	if p.scanner != nil && p.parser != nil {
		images, err := p.parser.ExtractImages(data, format)
		if err != nil {
			log.Printf("Pipeline: image extraction failed for %s: %v", base, err)
		} else if len(images) > 0 {
			faces = p.scanner.ScanImages(ctx, images)
			for _, face := range faces {
				items = append(items, detectors.DetectionItem{
					Type:   detectors.TypeImageFace,
					Value:  face.ImageName,
					Status: fmt.Sprintf("%.3f", face.Confidence),
				})
			}
		}
	}

	return p.finish(ctx, source, base, items, faces, hadParseError), nil
}

// detectText merges the three text detectors with first-seen dedup on
// the normalized value. Pattern detections run first so their types win
// value collisions against the entity model.
func (p *Pipeline) detectText(ctx context.Context, text string) []detectors.DetectionItem {
	items := p.patterns.DetectItems(text)

	if p.entities != nil {
		nerItems, err := p.entities.DetectItems(ctx, text)
		if err != nil {
			log.Printf("Pipeline: entity detection unavailable: %v", err)
		} else {
			items = append(items, nerItems...)
		}
	}

	items = append(items, p.quasi.DetectItems(text)...)

	return dedupItems(items)
}

func dedupItems(items []detectors.DetectionItem) []detectors.DetectionItem {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, item := range items {
		key := normalizeValue(item.Value)
		if key != "" && seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

func normalizeValue(value string) string {
	var b []rune
	for _, r := range value {
		if r == '-' || unicode.IsSpace(r) {
			continue
		}
		b = append(b, unicode.ToLower(r))
	}
	return string(b)
}

// finish classifies, narrows, masks and records.
func (p *Pipeline) finish(ctx context.Context, source, filename string, items []detectors.DetectionItem, faces []facescan.Face, hadParseError bool) Result {
	risk := AnalyzeCombinationRisk(items)

	reported := items
	if risk == nil && !p.includeQuasiWithoutRisk {
		reported = narrowToDirect(items)
	}

	result := Result{
		Items:         reported,
		Risk:          risk,
		Faces:         faces,
		HadParseError: hadParseError,
		Visibility:    classifyVisibility(reported, items, risk),
	}

	if filename != "" {
		masked, labels := p.masker.MaskFilename(ctx, filename)
		result.MaskedFilename = masked
		result.MaskedLabels = labels
	}

	if result.Visibility != VisibilitySuppressed && (len(reported) > 0 || risk != nil) {
		entry := p.history.Add(HistoryEntry{
			Source:         source,
			Filename:       filename,
			MaskedFilename: result.MaskedFilename,
			Items:          reported,
			Risk:           risk,
			Visibility:     result.Visibility,
		})
		result.EntryID = entry.ID
		if p.db != nil {
			if err := p.db.InsertEntry(ctx, entry); err != nil {
				log.Printf("Pipeline: failed to persist detection entry: %v", err)
			}
		}
	}

	return result
}

// narrowToDirect keeps only directly identifying and sensitive items,
// plus parse errors. Quasi-identifiers alone are routine document
// content and would swamp the feed.
func narrowToDirect(items []detectors.DetectionItem) []detectors.DetectionItem {
	var out []detectors.DetectionItem
	for _, item := range items {
		if item.Type == detectors.TypeParseError {
			out = append(out, item)
			continue
		}
		switch Categorize(item.Type) {
		case CategoryIdentifier, CategorySensitive:
			out = append(out, item)
		}
	}
	return out
}

// classifyVisibility applies the feed policy: risky and directly
// identifying events surface everywhere, single-type quasi noise stays
// on the terminal, and a lone organization plus location pair is
// dropped entirely.
func classifyVisibility(reported, all []detectors.DetectionItem, risk *RiskVerdict) Visibility {
	if risk != nil {
		return VisibilityBoth
	}
	if len(reported) > 0 {
		return VisibilityBoth
	}

	quasiTypes := map[detectors.DetectionType]bool{}
	for _, item := range all {
		if Categorize(item.Type) == CategoryQuasi {
			quasiTypes[item.Type] = true
		}
	}
	switch {
	case len(quasiTypes) == 0:
		return VisibilitySuppressed
	case len(quasiTypes) == 1:
		return VisibilityTerminal
	case weakQuasiPair(quasiTypes):
		return VisibilitySuppressed
	default:
		return VisibilityBoth
	}
}
