package composition

import "slices"

// FilterPresence removes connectors whose owning unit reports no people.
// Connectors without a known owner are kept. If every connector would be
// removed the original list is returned, so a layout is never blank.
func FilterPresence(connectors []int, owners map[int]string, hasPeople func(owner string) bool) []int {
	kept := make([]int, 0, len(connectors))
	for _, conn := range connectors {
		owner, known := owners[conn]
		if known && !hasPeople(owner) {
			continue
		}
		kept = append(kept, conn)
	}
	if len(kept) == 0 {
		return slices.Clone(connectors)
	}
	return kept
}
