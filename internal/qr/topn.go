package qr

import (
	"sort"

	"github.com/tapon/qrengine/internal/model"
)

// DefaultBreakdownCapacity is the number of keys kept per breakdown.
const DefaultBreakdownCapacity = 10

// Bump counts one more occurrence of key in a breakdown kept sorted by count
// (descending, earlier arrivals first among equals) and holding at most
// capacity entries. When a new key overflows the list, the smallest entry is
// dropped; among equal smallest counts the latest arrival goes. A full list
// therefore never admits a new key: it enters with count 1 and is the one
// evicted. This is a bounded first-come ranking, not a heavy-hitters sketch.
func Bump[K comparable](entries []model.BreakdownEntry[K], key K, capacity int) []model.BreakdownEntry[K] {
	if capacity <= 0 {
		capacity = DefaultBreakdownCapacity
	}

	found := false
	for i := range entries {
		if entries[i].Key == key {
			entries[i].Count++
			found = true
			break
		}
	}
	if !found {
		entries = append(entries, model.BreakdownEntry[K]{Key: key, Count: 1})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})

	if len(entries) > capacity {
		entries = entries[:capacity]
	}
	return entries
}
