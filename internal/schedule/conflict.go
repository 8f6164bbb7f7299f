package schedule

import (
	"sort"
	"time"
)

// ResolveConflicts drops every candidate that overlaps an occupying
// appointment and returns the survivors sorted ascending by start time.
// The ordering is a published guarantee; consumers rely on it.
func ResolveConflicts(candidates []ComputedSlot, appointments []Appointment) []ComputedSlot {
	kept := candidates[:0]
	for _, slot := range candidates {
		conflict := false
		for i := range appointments {
			a := &appointments[i]
			if !a.Occupying() {
				continue
			}
			if slot.Overlaps(a.StartTime, a.EndTime) {
				conflict = true
				break
			}
		}
		if !conflict {
			kept = append(kept, slot)
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		if !kept[i].Start.Equal(kept[j].Start) {
			return kept[i].Start.Before(kept[j].Start)
		}
		if !kept[i].End.Equal(kept[j].End) {
			return kept[i].End.Before(kept[j].End)
		}
		return kept[i].Kind < kept[j].Kind
	})

	return kept
}

// PipelineInput bundles the persisted state the slot pipeline consumes for
// one query window. Everything here is read-only to the pipeline.
type PipelineInput struct {
	Rules        []AvailabilityRule
	Extras       []ExtraAvailability
	Blocks       []AgendaBlock
	Appointments []Appointment
}

// ComputeSlots runs the full pipeline: rule expansion, kind filtering,
// extras, blackout removal and conflict resolution. Pure; safe for
// arbitrary parallel callers.
func ComputeSlots(cal *Calendar, in PipelineInput, windowStart, windowEnd time.Time, kindFilter BookingKind) ([]ComputedSlot, error) {
	candidates, err := ExpandRules(cal, in.Rules, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	if kindFilter != "" {
		filtered := candidates[:0]
		for _, slot := range candidates {
			if slot.Kind == kindFilter {
				filtered = append(filtered, slot)
			}
		}
		candidates = filtered
	}

	candidates = ApplyExtras(candidates, in.Extras, kindFilter)
	candidates = RemoveBlocked(candidates, in.Blocks)
	return ResolveConflicts(candidates, in.Appointments), nil
}
