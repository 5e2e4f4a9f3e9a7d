package pii

import (
	"sync"
	"time"

	"github.com/google/uuid"

	detectors "github.com/hannes/docguard/pii/detectors"
)

// DefaultHistorySize is how many detection records the in-memory buffer
// retains before evicting the oldest.
const DefaultHistorySize = 1000

// Visibility controls where a detection record surfaces.
type Visibility string

const (
	VisibilityBoth       Visibility = "both"
	VisibilityDashboard  Visibility = "dashboard"
	VisibilityTerminal   Visibility = "terminal"
	VisibilitySuppressed Visibility = "suppressed"
)

// HistoryEntry is one recorded detection event.
type HistoryEntry struct {
	ID             string                    `json:"id"`
	Timestamp      time.Time                 `json:"timestamp"`
	Source         string                    `json:"source"`
	Filename       string                    `json:"filename,omitempty"`
	MaskedFilename string                    `json:"masked_filename,omitempty"`
	Items          []detectors.DetectionItem `json:"items"`
	Risk           *RiskVerdict              `json:"risk,omitempty"`
	Visibility     Visibility                `json:"visibility"`
}

// History is a fixed-capacity ring buffer of detection records. Writers
// never block on capacity; the oldest entry is dropped instead.
type History struct {
	mu      sync.Mutex
	entries []HistoryEntry
	next    int
	full    bool
}

// NewHistory creates a history buffer. A size of zero or less uses
// DefaultHistorySize.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{entries: make([]HistoryEntry, size)}
}

// Add records an entry, assigning an ID and timestamp when missing, and
// returns the stored entry.
func (h *History) Add(entry HistoryEntry) HistoryEntry {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries[h.next] = entry
	h.next++
	if h.next == len(h.entries) {
		h.next = 0
		h.full = true
	}
	return entry
}

// Len returns the number of stored entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return len(h.entries)
	}
	return h.next
}

// Recent returns up to n entries, newest first.
func (h *History) Recent(n int) []HistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	size := h.next
	if h.full {
		size = len(h.entries)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]HistoryEntry, 0, n)
	for i := 0; i < n; i++ {
		idx := h.next - 1 - i
		if idx < 0 {
			idx += len(h.entries)
		}
		out = append(out, h.entries[idx])
	}
	return out
}

// Clear drops all entries.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next = 0
	h.full = false
	for i := range h.entries {
		h.entries[i] = HistoryEntry{}
	}
}
