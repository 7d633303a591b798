package collector

// Normalize deduplicates collected items across sources. Items sharing a
// type-specific dedup key collapse into one record: the higher-confidence
// item wins, missing fields are filled from the loser, and losing source
// URLs are kept as additional sources. Order of first appearance is
// preserved.
func Normalize(targetID string, items []Item) []Item {
	type slot struct {
		index int
		item  Item
	}

	seen := make(map[string]slot, len(items))
	order := make([]string, 0, len(items))

	for _, item := range items {
		key := item.Type + "|" + item.DedupKey(targetID)

		existing, ok := seen[key]
		if !ok {
			seen[key] = slot{index: len(order), item: item}
			order = append(order, key)

			continue
		}

		existing.item = Merge(existing.item, item)
		seen[key] = existing
	}

	result := make([]Item, len(order))
	for _, key := range order {
		s := seen[key]
		result[s.index] = s.item
	}

	return result
}
