package composition

import "slices"

// History assigns stable identities to multi-speaker connector sets. A set
// keeps the index of its first occurrence for the life of the process.
type History struct {
	entries []historyEntry
}

type historyEntry struct {
	set     []int // sorted, for unordered comparison
	ordered []int // most recent ordering used for the layout
}

// Identify returns the identity of the unordered set of ordered, recording
// it when unseen. The stored ordering is refreshed on every call.
func (h *History) Identify(ordered []int) int {
	set := slices.Clone(ordered)
	slices.Sort(set)
	for i := range h.entries {
		if slices.Equal(h.entries[i].set, set) {
			h.entries[i].ordered = slices.Clone(ordered)
			return i
		}
	}
	h.entries = append(h.entries, historyEntry{set: set, ordered: slices.Clone(ordered)})
	return len(h.entries) - 1
}

// Ordered returns the connector list stored for an identity.
func (h *History) Ordered(id int) ([]int, bool) {
	if id < 0 || id >= len(h.entries) {
		return nil, false
	}
	return slices.Clone(h.entries[id].ordered), true
}

// Len returns the number of distinct sets seen.
func (h *History) Len() int { return len(h.entries) }
