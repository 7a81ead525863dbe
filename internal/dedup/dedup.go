// Package dedup decides which parsed entries have not been seen before.
package dedup

import "feedrelay/internal/model"

// Diff returns the entries whose ID is absent from the seen-set, in
// document order. Identity, not position, decides newness, so a feed
// that reorders or reverses its entries still diffs correctly.
// Duplicate IDs within one document yield a single entry.
//
// Diff never mutates the seen-set; the caller commits the updated set
// only after delivery has been submitted, so a crash in between
// re-processes the same entries on restart.
func Diff(seen []string, entries []model.Entry) []model.Entry {
	known := make(map[string]struct{}, len(seen))
	for _, id := range seen {
		known[id] = struct{}{}
	}

	var fresh []model.Entry
	for _, e := range entries {
		if _, ok := known[e.ID]; ok {
			continue
		}
		known[e.ID] = struct{}{}
		fresh = append(fresh, e)
	}
	return fresh
}
