package slots

import (
	"context"
	"fmt"
	"time"

	"agentbook/internal/metrics"
	"agentbook/internal/model"
	"github.com/rs/zerolog"
)

// DefaultLeadTime is the same-day margin between now and the first offered slot.
const DefaultLeadTime = 30 * time.Minute

// Store is the read side the generator needs. Both db.DB and db.Tx satisfy it.
type Store interface {
	GetAgent(ctx context.Context, id int64) (*model.Agent, error)
	GetWeeklyRule(ctx context.Context, agentID int64, dayOfWeek int) (*model.WeeklyRule, error)
	GetException(ctx context.Context, agentID int64, date time.Time) (*model.DateException, error)
	BookedTimes(ctx context.Context, agentID int64, date time.Time) ([]string, error)
}

// Cache stores the day's slots before the cutoff filter.
type Cache interface {
	Get(ctx context.Context, agentID int64, date time.Time) ([]string, bool)
	Set(ctx context.Context, agentID int64, date time.Time, slots []string)
	InvalidateAgent(ctx context.Context, agentID int64) error
}

// Service answers availability queries.
type Service struct {
	store  Store
	cache  Cache
	lead   time.Duration
	loc    *time.Location
	now    func() time.Time
	logger *zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables the slot cache for GetAvailableSlots.
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithLeadTime overrides DefaultLeadTime.
func WithLeadTime(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lead = d
		}
	}
}

// WithLocation sets the zone "today" and server time are read in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, logger *zerolog.Logger, opts ...Option) *Service {
	l := logger.With().Str("component", "slots").Logger()
	s := &Service{
		store:  store,
		lead:   DefaultLeadTime,
		loc:    time.Local,
		now:    time.Now,
		logger: &l,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetAvailableSlots returns the bookable "HH:MM" start times of the agent on
// date in chronological order. clientNow, when a valid "HH:MM", replaces the
// server clock for the same-day cutoff.
func (s *Service) GetAvailableSlots(ctx context.Context, agentID int64, date time.Time, clientNow string) ([]string, error) {
	date = model.DateOnly(date)
	start := time.Now()
	defer func() { metrics.ObserveSlotGeneration(time.Since(start)) }()

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, agentID, date); ok {
			metrics.IncSlotCache(true)
			return ApplyCutoff(cached, s.cutoff(date, clientNow)), nil
		}
		metrics.IncSlotCache(false)
	}

	day, err := s.daySlots(ctx, s.store, agentID, date)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, agentID, date, day)
	}
	return ApplyCutoff(day, s.cutoff(date, clientNow)), nil
}

// Compute is GetAvailableSlots against store, bypassing the cache.
// The booking coordinator calls it with a transaction-scoped store.
func (s *Service) Compute(ctx context.Context, store Store, agentID int64, date time.Time, clientNow string) ([]string, error) {
	date = model.DateOnly(date)
	day, err := s.daySlots(ctx, store, agentID, date)
	if err != nil {
		return nil, err
	}
	return ApplyCutoff(day, s.cutoff(date, clientNow)), nil
}

// Invalidate drops cached slots of the agent. It is a no-op without a cache.
func (s *Service) Invalidate(ctx context.Context, agentID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAgent(ctx, agentID); err != nil {
		s.logger.Warn().Err(err).Int64("agent_id", agentID).Msg("Failed to invalidate slot cache")
	}
}

// Today returns the current calendar date in the service location.
func (s *Service) Today() time.Time {
	return model.DateOnly(s.now().In(s.loc))
}

func (s *Service) daySlots(ctx context.Context, store Store, agentID int64, date time.Time) ([]string, error) {
	agent, err := store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !agent.IsActive {
		return []string{}, nil
	}

	hours, open, err := effectiveHours(ctx, store, agentID, date)
	if err != nil {
		return nil, err
	}
	if !open {
		return []string{}, nil
	}

	w, err := WindowFromHours(hours)
	if err != nil {
		return nil, fmt.Errorf("agent %d schedule on %s: %w", agentID, model.FormatDate(date), err)
	}

	booked, err := store.BookedTimes(ctx, agentID, date)
	if err != nil {
		return nil, err
	}
	return Generate(w, BookedSet(booked), 0), nil
}

// effectiveHours resolves the working window of a date: an exception wins
// over the weekly rule.
func effectiveHours(ctx context.Context, store Store, agentID int64, date time.Time) (model.Hours, bool, error) {
	exc, err := store.GetException(ctx, agentID, date)
	if err != nil {
		return model.Hours{}, false, err
	}
	if exc != nil {
		if !exc.IsAvailable {
			return model.Hours{}, false, nil
		}
		h := exc.Hours()
		if h.Start == "" || h.End == "" {
			h.Start, h.End = DefaultWindow.Start, DefaultWindow.End
		}
		return h, true, nil
	}

	rule, err := store.GetWeeklyRule(ctx, agentID, int(date.Weekday()))
	if err != nil {
		return model.Hours{}, false, err
	}
	if rule == nil || !rule.IsAvailable {
		return model.Hours{}, false, nil
	}
	return rule.Hours(), true, nil
}

// cutoff returns the first allowed minute for date, or 0 when date is not today.
func (s *Service) cutoff(date time.Time, clientNow string) int {
	now := s.now().In(s.loc)
	if !model.DateOnly(now).Equal(date) {
		return 0
	}

	current := now.Hour()*60 + now.Minute()
	if clientNow != "" {
		m, err := model.ParseClock(clientNow)
		if err != nil {
			s.logger.Warn().Str("client_now", clientNow).Msg("Ignoring malformed client time, using server time")
		} else {
			current = m
		}
	}
	return current + int(s.lead/time.Minute)
}
