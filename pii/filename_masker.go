package pii

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	detectors "github.com/hannes/docguard/pii/detectors"
)

// ItemDetector produces detection items for a piece of text. The
// pattern and entity paths of the pipeline both satisfy it.
type ItemDetector interface {
	DetectItems(ctx context.Context, text string) ([]detectors.DetectionItem, error)
}

// FilenameMasker replaces personal data in file names with asterisks.
type FilenameMasker struct {
	patterns *detectors.PatternDetector
	entities ItemDetector
}

// NewFilenameMasker creates a masker. The entity detector may be nil,
// in which case only pattern detection applies.
func NewFilenameMasker(patterns *detectors.PatternDetector, entities ItemDetector) *FilenameMasker {
	return &FilenameMasker{patterns: patterns, entities: entities}
}

// MaskFilename masks detected personal data in the base name, keeping
// the extension and the rune length of each masked segment. It returns
// the masked name and the sorted display labels of what was masked.
func (m *FilenameMasker) MaskFilename(ctx context.Context, filename string) (string, []string) {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	if base == "" {
		return filename, nil
	}

	items := m.patterns.DetectItems(base)
	if m.entities != nil {
		nerItems, err := m.entities.DetectItems(ctx, base)
		if err == nil {
			items = append(items, nerItems...)
		}
	}

	spans := selectMaskSpans(items, len(base))
	if len(spans) == 0 {
		return filename, nil
	}

	masked := base
	labelSet := map[string]bool{}
	// Right to left, so earlier byte offsets stay valid.
	for i := len(spans) - 1; i >= 0; i-- {
		s := spans[i]
		segment := masked[s.span.Start:s.span.End]
		stars := strings.Repeat("*", utf8.RuneCountInString(segment))
		masked = masked[:s.span.Start] + stars + masked[s.span.End:]
		labelSet[DisplayLabel(s.typ)] = true
	}

	labels := make([]string, 0, len(labelSet))
	for label := range labelSet {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	return masked + ext, labels
}

type maskSpan struct {
	typ  detectors.DetectionType
	span detectors.Span
}

// selectMaskSpans resolves overlaps greedily left to right: the earliest
// start wins, ties go to the longer span. Spans outside the text bounds
// are skipped. The result is sorted and non-overlapping.
func selectMaskSpans(items []detectors.DetectionItem, limit int) []maskSpan {
	var candidates []maskSpan
	for _, item := range items {
		if item.Span == nil || item.Span.End <= item.Span.Start {
			continue
		}
		if item.Span.Start < 0 || item.Span.End > limit {
			continue
		}
		candidates = append(candidates, maskSpan{typ: item.Type, span: *item.Span})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].span.Start != candidates[j].span.Start {
			return candidates[i].span.Start < candidates[j].span.Start
		}
		return candidates[i].span.End > candidates[j].span.End
	})

	var selected []maskSpan
	lastEnd := -1
	for _, c := range candidates {
		if c.span.Start < lastEnd {
			continue
		}
		selected = append(selected, c)
		lastEnd = c.span.End
	}
	return selected
}
