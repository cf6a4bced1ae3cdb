package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"agentbook/internal/apperr"
	"agentbook/internal/model"
)

// MaxExceptionsRangeDays bounds GET /api/v1/agents/{agentID}/exceptions.
const MaxExceptionsRangeDays = 366

// WeeklyRuleRequest is one weekday of PUT /api/v1/agents/{agentID}/schedule.
type WeeklyRuleRequest struct {
	DayOfWeek   int    `json:"day_of_week"` // 0 = Sunday
	IsAvailable bool   `json:"is_available"`
	StartTime   string `json:"start_time,omitempty"`
	EndTime     string `json:"end_time,omitempty"`
	BreakStart  string `json:"break_start,omitempty"`
	BreakEnd    string `json:"break_end,omitempty"`
}

// ScheduleRequest replaces the whole week.
type ScheduleRequest struct {
	Rules []WeeklyRuleRequest `json:"rules"`
}

// ExceptionRequest is the body of PUT /api/v1/agents/{agentID}/exceptions/{date}.
type ExceptionRequest struct {
	IsAvailable bool   `json:"is_available"`
	StartTime   string `json:"start_time,omitempty"`
	EndTime     string `json:"end_time,omitempty"`
	BreakStart  string `json:"break_start,omitempty"`
	BreakEnd    string `json:"break_end,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// ActivateAgentRequest is the body of POST /api/v1/agents.
type ActivateAgentRequest struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	UserID int64  `json:"user_id,omitempty"`
	ChatID int64  `json:"chat_id,omitempty"`
	Hours  *struct {
		StartTime  string `json:"start_time"`
		EndTime    string `json:"end_time"`
		BreakStart string `json:"break_start,omitempty"`
		BreakEnd   string `json:"break_end,omitempty"`
	} `json:"hours,omitempty"`
}

// handleActivateAgent registers an agent and seeds the standard week for
// weekdays that have no rule yet.
// POST /api/v1/agents
func (s *HTTPServer) handleActivateAgent(w http.ResponseWriter, r *http.Request) {
	var req ActivateAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var hours *model.Hours
	if req.Hours != nil {
		hours = &model.Hours{
			Start:      req.Hours.StartTime,
			End:        req.Hours.EndTime,
			BreakStart: req.Hours.BreakStart,
			BreakEnd:   req.Hours.BreakEnd,
		}
	}

	agent := model.Agent{ID: req.ID, Name: req.Name, UserID: req.UserID, ChatID: req.ChatID}
	if err := s.schedule.ActivateAgent(r.Context(), agent, hours); err != nil {
		s.writeError(w, r, err)
		return
	}
	r.SetPathValue("agentID", strconv.FormatInt(req.ID, 10))
	s.handleGetSchedule(w, r)
}

// GET /api/v1/agents/{agentID}/schedule
func (s *HTTPServer) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	agentID, err := agentIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rules, err := s.schedule.GetWeeklySchedule(r.Context(), agentID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent_id": agentID, "rules": rules})
}

// handlePutSchedule replaces all seven weekly rules. Rules may come in any
// order but every weekday must appear exactly once.
// PUT /api/v1/agents/{agentID}/schedule
func (s *HTTPServer) handlePutSchedule(w http.ResponseWriter, r *http.Request) {
	agentID, err := agentIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req ScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Rules) != model.DaysInWeek {
		s.writeError(w, r, apperr.Invalid("rules", "expected %d weekdays, got %d", model.DaysInWeek, len(req.Rules)))
		return
	}

	var (
		week [model.DaysInWeek]model.WeeklyRule
		seen [model.DaysInWeek]bool
	)
	for i, rule := range req.Rules {
		day := rule.DayOfWeek
		if day < 0 || day >= model.DaysInWeek {
			s.writeError(w, r, apperr.Invalid(fmt.Sprintf("rules[%d].day_of_week", i), "must be within 0..6"))
			return
		}
		if seen[day] {
			s.writeError(w, r, apperr.Invalid(fmt.Sprintf("rules[%d].day_of_week", i), "duplicate weekday %d", day))
			return
		}
		seen[day] = true
		week[day] = model.WeeklyRule{
			AgentID:     agentID,
			DayOfWeek:   day,
			IsAvailable: rule.IsAvailable,
			StartTime:   rule.StartTime,
			EndTime:     rule.EndTime,
			BreakStart:  rule.BreakStart,
			BreakEnd:    rule.BreakEnd,
		}
	}

	if err := s.schedule.SetWeeklySchedule(r.Context(), agentID, week); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleGetSchedule(w, r)
}

// GET /api/v1/agents/{agentID}/exceptions?from=YYYY-MM-DD&to=YYYY-MM-DD
func (s *HTTPServer) handleListExceptions(w http.ResponseWriter, r *http.Request) {
	agentID, err := agentIDParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	q := r.URL.Query()
	from, err := model.ParseDate(q.Get("from"))
	if err != nil {
		s.writeError(w, r, apperr.Invalid("from", "expected YYYY-MM-DD"))
		return
	}
	to, err := model.ParseDate(q.Get("to"))
	if err != nil {
		s.writeError(w, r, apperr.Invalid("to", "expected YYYY-MM-DD"))
		return
	}
	if to.Sub(from).Hours()/24 > MaxExceptionsRangeDays {
		s.writeError(w, r, apperr.Invalid("to", "range exceeds %d days", MaxExceptionsRangeDays))
		return
	}

	list, err := s.schedule.ListExceptions(r.Context(), agentID, from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agent_id": agentID, "exceptions": list})
}

// PUT /api/v1/agents/{agentID}/exceptions/{date}
func (s *HTTPServer) handlePutException(w http.ResponseWriter, r *http.Request) {
	agentID, date, err := exceptionParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var req ExceptionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	err = s.schedule.SetException(r.Context(), agentID, date, &model.DateException{
		IsAvailable: req.IsAvailable,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		BreakStart:  req.BreakStart,
		BreakEnd:    req.BreakEnd,
		Reason:      req.Reason,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DELETE /api/v1/agents/{agentID}/exceptions/{date}
func (s *HTTPServer) handleDeleteException(w http.ResponseWriter, r *http.Request) {
	agentID, date, err := exceptionParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.schedule.SetException(r.Context(), agentID, date, nil); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func exceptionParams(r *http.Request) (int64, time.Time, error) {
	agentID, err := agentIDParam(r)
	if err != nil {
		return 0, time.Time{}, err
	}
	raw := r.PathValue("date")
	date, err := model.ParseDate(raw)
	if err != nil {
		return 0, time.Time{}, apperr.Invalid("date", "expected YYYY-MM-DD, got %q", raw)
	}
	return agentID, date, nil
}
