package rfid

import (
	"sync"
)

// DefaultWindowSize is the number of distinct tags kept when no explicit
// capacity is configured.
const DefaultWindowSize = 10

// RecencyWindow holds the most recently seen distinct tags, newest first.
// A repeat sighting of an EPC moves its entry to the front and refreshes
// the observation fields; mapping state survives the move. The window is
// safe for concurrent snapshots, but mutations are expected to come from
// a single owner.
type RecencyWindow struct {
	mu       sync.RWMutex
	capacity int
	tags     []*ScannedTag
}

// NewRecencyWindow creates a window bounded to capacity entries.
// A capacity of zero or less falls back to DefaultWindowSize.
func NewRecencyWindow(capacity int) *RecencyWindow {
	if capacity <= 0 {
		capacity = DefaultWindowSize
	}
	return &RecencyWindow{
		capacity: capacity,
		tags:     make([]*ScannedTag, 0, capacity),
	}
}

// Observe records a sighting. If the EPC is already present its entry is
// moved to the front with rssi, antenna port and timestamp refreshed,
// keeping any mapping state already applied. New EPCs are inserted at the
// front and the oldest entry beyond capacity is dropped. It reports
// whether the EPC was already in the window.
func (w *RecencyWindow) Observe(tag ScannedTag) bool {
	tag.EPC = NormalizeEPC(tag.EPC)
	if tag.EPC == "" {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for i, existing := range w.tags {
		if existing.EPC != tag.EPC {
			continue
		}
		// Repeat sighting: refresh observation fields in place, carry
		// over mapping state, move to front.
		tag.Mapped = existing.Mapped
		tag.TargetCode = existing.TargetCode
		w.tags = append(w.tags[:i], w.tags[i+1:]...)
		w.tags = append([]*ScannedTag{&tag}, w.tags...)
		return true
	}

	w.tags = append([]*ScannedTag{&tag}, w.tags...)
	if len(w.tags) > w.capacity {
		w.tags = w.tags[:w.capacity]
	}
	return false
}

// ApplyMappingResult updates the mapping fields of the entry with the
// given EPC without changing its position. An empty code leaves
// TargetCode untouched so a conflict can mark a tag mapped before the
// code is known. It reports whether an entry was found.
func (w *RecencyWindow) ApplyMappingResult(epc string, mapped bool, targetCode string) bool {
	epc = NormalizeEPC(epc)

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, existing := range w.tags {
		if existing.EPC != epc {
			continue
		}
		existing.Mapped = mapped
		if targetCode != "" {
			code := targetCode
			existing.TargetCode = &code
		}
		return true
	}
	return false
}

// Get returns a copy of the entry for the given EPC.
func (w *RecencyWindow) Get(epc string) (ScannedTag, bool) {
	epc = NormalizeEPC(epc)

	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, existing := range w.tags {
		if existing.EPC == epc {
			return *existing, true
		}
	}
	return ScannedTag{}, false
}

// Snapshot returns a copy of the window contents, most recent first.
func (w *RecencyWindow) Snapshot() []ScannedTag {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]ScannedTag, len(w.tags))
	for i, t := range w.tags {
		out[i] = *t
	}
	return out
}

// Len returns the number of entries currently held.
func (w *RecencyWindow) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.tags)
}

// Clear empties the window. Used by an explicit operator action only.
func (w *RecencyWindow) Clear() {
	w.mu.Lock()
	w.tags = w.tags[:0]
	w.mu.Unlock()
}
