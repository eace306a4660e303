// Package rank orders accumulated candidates for dispatch. Selection is
// round-robin across sources so one prolific account cannot monopolize a
// cycle, then freshest-first within the selection.
package rank

import (
	"sort"

	"github.com/hazyhaar/engage/internal/content"
)

// Rank selects up to max items, taking one item per source per round in
// source order of first appearance, each source's items freshest first.
// The selection is then ordered freshest first overall. The input is not
// modified; max <= 0 returns nil.
func Rank(items []content.Item, max int) []content.Item {
	if max <= 0 || len(items) == 0 {
		return nil
	}

	var order []string
	buckets := make(map[string][]content.Item)
	for _, it := range items {
		if _, ok := buckets[it.SourceID]; !ok {
			order = append(order, it.SourceID)
		}
		buckets[it.SourceID] = append(buckets[it.SourceID], it)
	}
	for _, src := range order {
		b := buckets[src]
		sort.SliceStable(b, func(i, j int) bool { return b[i].RankHint < b[j].RankHint })
	}

	picked := make([]content.Item, 0, max)
	for round := 0; len(picked) < max; round++ {
		took := false
		for _, src := range order {
			b := buckets[src]
			if round >= len(b) {
				continue
			}
			picked = append(picked, b[round])
			took = true
			if len(picked) == max {
				break
			}
		}
		if !took {
			break
		}
	}

	sort.SliceStable(picked, func(i, j int) bool { return picked[i].RankHint < picked[j].RankHint })
	return picked
}
