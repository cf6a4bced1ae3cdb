// Package slots computes the bookable start times of an agent on a date.
package slots

import (
	"fmt"

	"agentbook/internal/model"
)

// StepMinutes is the fixed distance between two candidate slots.
const StepMinutes = 60

// DefaultWindow applies to an available exception that carries no hours.
var DefaultWindow = model.Hours{Start: "09:00", End: "18:00"}

// Window is a working day in minutes since midnight.
type Window struct {
	Start      int
	End        int
	BreakStart int
	BreakEnd   int
	HasBreak   bool
}

// WindowFromHours parses "HH:MM" hours into a Window.
func WindowFromHours(h model.Hours) (Window, error) {
	var w Window
	var err error

	if w.Start, err = model.ParseClock(h.Start); err != nil {
		return Window{}, fmt.Errorf("start: %w", err)
	}
	if w.End, err = model.ParseClock(h.End); err != nil {
		return Window{}, fmt.Errorf("end: %w", err)
	}

	if h.BreakStart != "" && h.BreakEnd != "" {
		if w.BreakStart, err = model.ParseClock(h.BreakStart); err != nil {
			return Window{}, fmt.Errorf("break start: %w", err)
		}
		if w.BreakEnd, err = model.ParseClock(h.BreakEnd); err != nil {
			return Window{}, fmt.Errorf("break end: %w", err)
		}
		w.HasBreak = true
	}
	return w, nil
}

func (w Window) inBreak(minute int) bool {
	return w.HasBreak && minute >= w.BreakStart && minute < w.BreakEnd
}

// Generate walks the window in StepMinutes steps and returns the start times
// that are outside the break, not booked and not below cutoff.
// A cutoff of 0 keeps every slot.
func Generate(w Window, booked map[string]bool, cutoff int) []string {
	result := make([]string, 0, max(0, (w.End-w.Start)/StepMinutes+1))
	for t := w.Start; t < w.End; t += StepMinutes {
		if w.inBreak(t) || t < cutoff {
			continue
		}
		clock := model.FormatClock(t)
		if booked[clock] {
			continue
		}
		result = append(result, clock)
	}
	return result
}

// ApplyCutoff drops slots whose start is below cutoff minutes.
func ApplyCutoff(slots []string, cutoff int) []string {
	if cutoff <= 0 {
		return slots
	}
	result := make([]string, 0, len(slots))
	for _, s := range slots {
		m, err := model.ParseClock(s)
		if err != nil || m < cutoff {
			continue
		}
		result = append(result, s)
	}
	return result
}

// BookedSet indexes booked times for Generate.
func BookedSet(times []string) map[string]bool {
	set := make(map[string]bool, len(times))
	for _, t := range times {
		set[t] = true
	}
	return set
}
