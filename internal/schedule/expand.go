package schedule

import (
	"time"
)

// ExpandRules turns the calendar's recurring weekly rules into candidate
// slots over [windowStart, windowEnd). It is a pure function of its inputs:
// no store access, no clock reads.
//
// Each calendar day in the window is evaluated against every rule. A rule
// matching the day's weekday (and active on that date, if it carries a date
// range) anchors its start/end times-of-day onto the day in the calendar's
// time zone, then emits slots of the rule's duration stepped by
// duration + buffer_before + buffer_after until the next slot would spill
// past the rule window. Buffers sit between consecutive slots only, never
// before the first or after the last.
//
// Overlapping rules on the same weekday are expanded independently; the
// candidate set may contain redundant slots at this stage. Conflict
// resolution against real bookings happens downstream.
func ExpandRules(cal *Calendar, rules []AvailabilityRule, windowStart, windowEnd time.Time) ([]ComputedSlot, error) {
	loc, err := cal.Location()
	if err != nil {
		return nil, err
	}

	var slots []ComputedSlot

	// Anchor each day at local midnight via time.Date so DST transitions
	// shift the wall clock, not the slot boundaries.
	local := windowStart.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	for day.Before(windowEnd) {
		for i := range rules {
			r := &rules[i]
			if !r.appliesOn(day) {
				continue
			}
			dur := r.duration(cal.SlotDuration)
			if dur <= 0 {
				continue
			}

			winStart := atMinute(day, r.StartMinute, loc)
			winEnd := atMinute(day, r.EndMinute, loc)
			if !winStart.Before(winEnd) {
				continue
			}

			kind := r.Kind
			if kind == KindAny || kind == "" {
				kind = cal.DefaultKind
			}

			step := dur + cal.BufferBefore + cal.BufferAfter
			for s := winStart; !s.Add(dur).After(winEnd); s = s.Add(step) {
				slots = append(slots, ComputedSlot{
					Start:   s,
					End:     s.Add(dur),
					Kind:    kind,
					Visible: cal.Visible,
				})
			}
		}
		day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, loc)
	}

	return slots, nil
}

func atMinute(day time.Time, minute int, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minute/60, minute%60, 0, 0, loc)
}
