package model

import (
	"fmt"
	"time"
)

// WeeklyRule is the recurring schedule of an agent for one weekday.
// DayOfWeek follows time.Weekday: 0 is Sunday.
type WeeklyRule struct {
	AgentID     int64     `json:"agent_id"`
	DayOfWeek   int       `json:"day_of_week"`
	IsAvailable bool      `json:"is_available"`
	StartTime   string    `json:"start_time"`            // "09:00"
	EndTime     string    `json:"end_time"`              // "18:00"
	BreakStart  string    `json:"break_start,omitempty"` // "13:00" (optional)
	BreakEnd    string    `json:"break_end,omitempty"`   // "14:00" (optional)
	UpdatedAt   time.Time `json:"updated_at"`
}

// DateException replaces the weekly rule of an agent for a single date.
type DateException struct {
	AgentID     int64     `json:"agent_id"`
	Date        time.Time `json:"date"`
	IsAvailable bool      `json:"is_available"`
	StartTime   string    `json:"start_time,omitempty"`
	EndTime     string    `json:"end_time,omitempty"`
	BreakStart  string    `json:"break_start,omitempty"`
	BreakEnd    string    `json:"break_end,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DaysInWeek is the number of rows in a full weekly schedule.
const DaysInWeek = 7

// Hours is a working window with an optional break.
type Hours struct {
	Start      string
	End        string
	BreakStart string
	BreakEnd   string
}

// DefaultHours is the standard working window of a freshly activated agent.
var DefaultHours = Hours{
	Start:      "09:00",
	End:        "18:00",
	BreakStart: "13:00",
	BreakEnd:   "14:00",
}

// DefaultWeek returns the standard work week: hours on every day except
// daysOff, which are closed.
func DefaultWeek(agentID int64, hours Hours, daysOff []int) []WeeklyRule {
	off := make(map[int]bool, len(daysOff))
	for _, d := range daysOff {
		off[d] = true
	}

	week := make([]WeeklyRule, 0, DaysInWeek)
	for day := 0; day < DaysInWeek; day++ {
		week = append(week, WeeklyRule{
			AgentID:     agentID,
			DayOfWeek:   day,
			IsAvailable: !off[day],
			StartTime:   hours.Start,
			EndTime:     hours.End,
			BreakStart:  hours.BreakStart,
			BreakEnd:    hours.BreakEnd,
		})
	}
	return week
}

// StandardDaysOff closes Saturday and Sunday.
var StandardDaysOff = []int{int(time.Sunday), int(time.Saturday)}

// ValidateHours checks the wall-clock fields of a rule. Empty start and end
// are accepted when allowEmpty is set.
func ValidateHours(h Hours, allowEmpty bool) error {
	if allowEmpty && h.Start == "" && h.End == "" {
		return validateBreak(h)
	}

	start, err := ParseClock(h.Start)
	if err != nil {
		return fmt.Errorf("start_time: %w", err)
	}
	end, err := ParseClock(h.End)
	if err != nil {
		return fmt.Errorf("end_time: %w", err)
	}
	if end <= start {
		return fmt.Errorf("end_time must be after start_time")
	}
	return validateBreak(h)
}

func validateBreak(h Hours) error {
	if h.BreakStart == "" && h.BreakEnd == "" {
		return nil
	}
	if h.BreakStart == "" || h.BreakEnd == "" {
		return fmt.Errorf("break_start and break_end must be set together")
	}
	bs, err := ParseClock(h.BreakStart)
	if err != nil {
		return fmt.Errorf("break_start: %w", err)
	}
	be, err := ParseClock(h.BreakEnd)
	if err != nil {
		return fmt.Errorf("break_end: %w", err)
	}
	if be <= bs {
		return fmt.Errorf("break_end must be after break_start")
	}
	return nil
}

// Hours returns the rule's working window.
func (r WeeklyRule) Hours() Hours {
	return Hours{Start: r.StartTime, End: r.EndTime, BreakStart: r.BreakStart, BreakEnd: r.BreakEnd}
}

// Hours returns the exception's working window.
func (e DateException) Hours() Hours {
	return Hours{Start: e.StartTime, End: e.EndTime, BreakStart: e.BreakStart, BreakEnd: e.BreakEnd}
}
