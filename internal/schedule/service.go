// Package schedule maintains agents' weekly rules and date exceptions.
package schedule

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"agentbook/internal/apperr"
	"agentbook/internal/db"
	"agentbook/internal/metrics"
	"agentbook/internal/model"
	"github.com/rs/zerolog"
)

// Invalidator drops derived availability of an agent after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, agentID int64)
}

// Service writes schedules. Every write is idempotent.
type Service struct {
	db          *db.DB
	invalidator Invalidator
	logger      *zerolog.Logger

	mu      sync.RWMutex
	daysOff []int
}

func NewService(store *db.DB, invalidator Invalidator, logger *zerolog.Logger) *Service {
	l := logger.With().Str("component", "schedule").Logger()
	return &Service{
		db:          store,
		invalidator: invalidator,
		daysOff:     model.StandardDaysOff,
		logger:      &l,
	}
}

// SetDaysOff changes the weekdays closed in the default week of newly activated agents.
func (s *Service) SetDaysOff(days []int) {
	s.mu.Lock()
	s.daysOff = slices.Clone(days)
	s.mu.Unlock()
}

// SetWeeklySchedule replaces all seven weekly rules of the agent in one transaction.
// Rule i must describe weekday i.
func (s *Service) SetWeeklySchedule(ctx context.Context, agentID int64, rules [model.DaysInWeek]model.WeeklyRule) error {
	for day, r := range rules {
		if r.DayOfWeek != day {
			return apperr.Invalid(fmt.Sprintf("rules[%d].day_of_week", day), "must be %d, got %d", day, r.DayOfWeek)
		}
		if err := model.ValidateHours(r.Hours(), !r.IsAvailable); err != nil {
			return apperr.Invalid(fmt.Sprintf("rules[%d]", day), "%v", err)
		}
	}

	err := s.db.WithTx(ctx, func(tx *db.Tx) error {
		if _, err := tx.GetAgent(ctx, agentID); err != nil {
			return err
		}
		for _, r := range rules {
			r.AgentID = agentID
			if err := tx.UpsertWeeklyRule(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperr.Transient("set weekly schedule", err)
	}

	metrics.IncScheduleWrite("weekly")
	s.logger.Info().Int64("agent_id", agentID).Msg("Weekly schedule replaced")
	s.invalidate(ctx, agentID)
	return nil
}

// GetWeeklySchedule returns the stored rules ordered by weekday.
func (s *Service) GetWeeklySchedule(ctx context.Context, agentID int64) ([]model.WeeklyRule, error) {
	if _, err := s.db.GetAgent(ctx, agentID); err != nil {
		return nil, apperr.Transient("get weekly schedule", err)
	}
	rules, err := s.db.GetWeeklySchedule(ctx, agentID)
	if err != nil {
		return nil, apperr.Transient("get weekly schedule", err)
	}
	if rules == nil {
		rules = []model.WeeklyRule{}
	}
	return rules, nil
}

// SetException stores rule as the only schedule of date, or removes the
// exception when rule is nil.
func (s *Service) SetException(ctx context.Context, agentID int64, date time.Time, rule *model.DateException) error {
	date = model.DateOnly(date)

	if rule == nil {
		if err := s.db.DeleteException(ctx, agentID, date); err != nil {
			return apperr.Transient("delete exception", err)
		}
		metrics.IncScheduleWrite("exception_delete")
		s.logger.Info().Int64("agent_id", agentID).Str("date", model.FormatDate(date)).Msg("Exception removed")
		s.invalidate(ctx, agentID)
		return nil
	}

	if rule.IsAvailable {
		if err := model.ValidateHours(rule.Hours(), true); err != nil {
			return apperr.Invalid("exception", "%v", err)
		}
	}

	e := *rule
	e.AgentID = agentID
	e.Date = date
	if !e.IsAvailable {
		e.StartTime, e.EndTime, e.BreakStart, e.BreakEnd = "", "", "", ""
	}

	if _, err := s.db.GetAgent(ctx, agentID); err != nil {
		return apperr.Transient("set exception", err)
	}
	if err := s.db.UpsertException(ctx, e); err != nil {
		return apperr.Transient("set exception", err)
	}

	metrics.IncScheduleWrite("exception")
	s.logger.Info().
		Int64("agent_id", agentID).
		Str("date", model.FormatDate(date)).
		Bool("available", e.IsAvailable).
		Msg("Exception stored")
	s.invalidate(ctx, agentID)
	return nil
}

// ListExceptions returns exceptions with from <= date <= to.
func (s *Service) ListExceptions(ctx context.Context, agentID int64, from, to time.Time) ([]model.DateException, error) {
	from, to = model.DateOnly(from), model.DateOnly(to)
	if to.Before(from) {
		return nil, apperr.Invalid("to", "must not be before from")
	}
	list, err := s.db.ListExceptions(ctx, agentID, from, to)
	if err != nil {
		return nil, apperr.Transient("list exceptions", err)
	}
	if list == nil {
		list = []model.DateException{}
	}
	return list, nil
}

// ActivateAgent stores the agent as active and seeds the standard week for
// the weekdays that have no rule yet. hours nil means model.DefaultHours.
func (s *Service) ActivateAgent(ctx context.Context, agent model.Agent, hours *model.Hours) error {
	if agent.ID <= 0 {
		return apperr.Invalid("id", "must be positive")
	}
	if agent.Name == "" {
		return apperr.Invalid("name", "is required")
	}
	h := model.DefaultHours
	if hours != nil {
		if err := model.ValidateHours(*hours, false); err != nil {
			return apperr.Invalid("hours", "%v", err)
		}
		h = *hours
	}

	s.mu.RLock()
	week := model.DefaultWeek(agent.ID, h, s.daysOff)
	s.mu.RUnlock()

	agent.IsActive = true
	var created int
	err := s.db.WithTx(ctx, func(tx *db.Tx) error {
		if err := tx.UpsertAgent(ctx, &agent); err != nil {
			return err
		}
		n, err := tx.EnsureDefaultWeek(ctx, week)
		created = n
		return err
	})
	if err != nil {
		return apperr.Transient("activate agent", err)
	}

	s.logger.Info().Int64("agent_id", agent.ID).Int("rules_created", created).Msg("Agent activated")
	s.invalidate(ctx, agent.ID)
	return nil
}

func (s *Service) invalidate(ctx context.Context, agentID int64) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, agentID)
	}
}
