// Package agenda sends each agent a daily digest of the next day's reservations.
package agenda

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"agentbook/internal/metrics"
	"agentbook/internal/model"
	"agentbook/internal/notify"
	"github.com/rs/zerolog"
)

// Store is the subset of the database the scheduler reads.
type Store interface {
	ListAgents(ctx context.Context, activeOnly bool) ([]model.Agent, error)
	ListReservations(ctx context.Context, agentID int64, date time.Time) ([]model.Reservation, error)
}

// Config holds the daily run time in the scheduler's location.
type Config struct {
	DailyHour     int
	DailyMinute   int
	CheckInterval time.Duration
}

// DefaultConfig returns an evening run checked every minute.
func DefaultConfig() Config {
	return Config{
		DailyHour:     19,
		DailyMinute:   0,
		CheckInterval: time.Minute,
	}
}

// Stats summarises one run.
type Stats struct {
	Agents  int
	Sent    int
	Skipped int
	Failed  int
}

// Scheduler fires once per calendar day at the configured time.
type Scheduler struct {
	config   Config
	store    Store
	notifier notify.Notifier
	location *time.Location
	now      func() time.Time
	logger   *zerolog.Logger

	mu          sync.Mutex
	lastRunDate string
}

func NewScheduler(cfg Config, store Store, notifier notify.Notifier, loc *time.Location, logger *zerolog.Logger) *Scheduler {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	if loc == nil {
		loc = time.Local
	}
	l := logger.With().Str("component", "agenda").Logger()
	return &Scheduler{
		config:   cfg,
		store:    store,
		notifier: notifier,
		location: loc,
		now:      time.Now,
		logger:   &l,
	}
}

// Start blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Str("daily_time", s.formatTime()).Str("timezone", s.location.String()).Msg("Agenda scheduler started")

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkAndRun(ctx)
		}
	}
}

// checkAndRun runs at most once per local day, at or after the configured minute.
func (s *Scheduler) checkAndRun(ctx context.Context) bool {
	now := s.now().In(s.location)
	today := model.FormatDate(now)

	s.mu.Lock()
	if s.lastRunDate == today || now.Hour()*60+now.Minute() < s.config.DailyHour*60+s.config.DailyMinute {
		s.mu.Unlock()
		return false
	}
	s.lastRunDate = today
	s.mu.Unlock()

	s.RunFor(ctx, model.DateOnly(now).AddDate(0, 0, 1))
	return true
}

// RunFor notifies every active agent about their reservations on day.
// Agents with an empty day or no Telegram user are skipped.
func (s *Scheduler) RunFor(ctx context.Context, day time.Time) Stats {
	var stats Stats
	start := s.now()

	agents, err := s.store.ListAgents(ctx, true)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list agents")
		return stats
	}
	stats.Agents = len(agents)

	for _, agent := range agents {
		if ctx.Err() != nil {
			s.logger.Info().Int("sent", stats.Sent).Msg("Agenda run interrupted")
			return stats
		}
		if agent.UserID == 0 {
			stats.Skipped++
			continue
		}

		list, err := s.store.ListReservations(ctx, agent.ID, day)
		if err != nil {
			stats.Failed++
			s.logger.Error().Err(err).Int64("agent_id", agent.ID).Msg("Failed to list reservations")
			continue
		}
		active := list[:0]
		for _, r := range list {
			if r.IsActive() {
				active = append(active, r)
			}
		}
		if len(active) == 0 {
			stats.Skipped++
			continue
		}

		if err := s.notifier.Notify(ctx, agent.UserID, Digest(day, active)); err != nil {
			stats.Failed++
			metrics.IncSideEffectFailure("agenda")
			s.logger.Error().Err(err).Int64("agent_id", agent.ID).Msg("Failed to send agenda")
			continue
		}
		stats.Sent++
	}

	s.logger.Info().
		Str("date", model.FormatDate(day)).
		Int("agents", stats.Agents).
		Int("sent", stats.Sent).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Dur("duration", s.now().Sub(start)).
		Msg("Agenda processed")
	return stats
}

// Digest renders the day's reservations ordered as stored (by time).
func Digest(day time.Time, reservations []model.Reservation) notify.Notification {
	var b strings.Builder
	for i, r := range reservations {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s %s (%s)", r.Time, r.DisplayName(), r.Status)
	}
	return notify.Notification{
		Title: fmt.Sprintf("Agenda for %s: %d booked", model.FormatDate(day), len(reservations)),
		Body:  b.String(),
		Data: map[string]string{
			"date":  model.FormatDate(day),
			"count": fmt.Sprint(len(reservations)),
		},
	}
}

func (s *Scheduler) formatTime() string {
	return model.FormatClock(s.config.DailyHour*60 + s.config.DailyMinute)
}
