package schedule

// ApplyExtras appends one-off availability entries to the candidate set.
// Only visible extras are offered, and when a kind filter is given, only
// extras of that kind. Extras are single candidates; they are not carved
// into sub-slots.
func ApplyExtras(candidates []ComputedSlot, extras []ExtraAvailability, kindFilter BookingKind) []ComputedSlot {
	for i := range extras {
		e := &extras[i]
		if !e.Visible {
			continue
		}
		if kindFilter != "" && e.Kind != kindFilter {
			continue
		}
		candidates = append(candidates, ComputedSlot{
			Start:   e.StartTime,
			End:     e.EndTime,
			Kind:    e.Kind,
			Visible: e.Visible,
		})
	}
	return candidates
}

// RemoveBlocked drops every candidate that overlaps an agenda block, even
// partially. Blocks are destructive: a partially covered slot is removed in
// full, not split into a free remainder. Edge-touching intervals do not
// count as overlap.
func RemoveBlocked(candidates []ComputedSlot, blocks []AgendaBlock) []ComputedSlot {
	if len(blocks) == 0 {
		return candidates
	}
	kept := candidates[:0]
	for _, slot := range candidates {
		blocked := false
		for i := range blocks {
			if slot.Overlaps(blocks[i].StartTime, blocks[i].EndTime) {
				blocked = true
				break
			}
		}
		if !blocked {
			kept = append(kept, slot)
		}
	}
	return kept
}
