package memory

import "strings"

// Merge applies the deduplicating merge rule (§4.6) to every collection
// of existing against new, returning the merged record. Per collection,
// each new item is:
//  1. matched against an existing item with the same non-null external
//     id; if found, the new item replaces it only when strictly more
//     complete (more non-null fields, or it supplies an id where the
//     existing item had none);
//  2. else matched against an existing item whose display field is
//     case-insensitively equal, with the same more-complete replacement
//     rule;
//  3. else appended.
//
// Merge(x, Empty()) == x, Merge(x, x) == x, and Merge is associative up
// to element order within a collection — all exercised in merge_test.go.
func Merge(existing, incoming UserMemory) UserMemory {
	return UserMemory{
		Accounts:      mergeCollection(existing.Accounts, incoming.Accounts),
		Contacts:      mergeCollection(existing.Contacts, incoming.Contacts),
		Opportunities: mergeCollection(existing.Opportunities, incoming.Opportunities),
		Cases:         mergeCollection(existing.Cases, incoming.Cases),
		Tasks:         mergeCollection(existing.Tasks, incoming.Tasks),
		Leads:         mergeCollection(existing.Leads, incoming.Leads),
	}
}

func mergeCollection(existing, incoming []Entity) []Entity {
	out := append([]Entity(nil), existing...)

	for _, item := range incoming {
		if item.ID != "" {
			if idx := findByID(out, item.ID); idx >= 0 {
				if moreComplete(item, out[idx]) {
					out[idx] = item
				}
				continue
			}
		}
		if idx := findByDisplayName(out, item.DisplayName); idx >= 0 {
			if moreComplete(item, out[idx]) {
				out[idx] = item
			}
			continue
		}
		out = append(out, item)
	}
	return out
}

func findByID(items []Entity, id string) int {
	for i, e := range items {
		if e.ID != "" && e.ID == id {
			return i
		}
	}
	return -1
}

func findByDisplayName(items []Entity, name string) int {
	for i, e := range items {
		if strings.EqualFold(e.DisplayName, name) {
			return i
		}
	}
	return -1
}

// moreComplete reports whether candidate should replace current: either
// candidate supplies an id the current item lacks, or candidate has
// strictly more non-null fields.
func moreComplete(candidate, current Entity) bool {
	if candidate.ID != "" && current.ID == "" {
		return true
	}
	return candidate.nonNullFieldCount() > current.nonNullFieldCount()
}
