package db

import (
	"context"
	"fmt"
	"time"

	"agentbook/internal/config"
	"agentbook/internal/model"
)

// SyncAgentsFromConfig applies agents.yaml to the database.
// It upserts agents, seeds the default week of active agents that have no
// schedule yet, marks missing agents inactive and closes configured holidays.
// It returns the ids of the agents present in the file.
func (db *DB) SyncAgentsFromConfig(ctx context.Context, cfg *config.AgentsConfig) ([]int64, error) {
	if cfg == nil {
		return nil, fmt.Errorf("agents config is nil")
	}

	now := time.Now()
	seen := make(map[int64]struct{}, len(cfg.Agents))
	ids := make([]int64, 0, len(cfg.Agents))

	for _, a := range cfg.Agents {
		agent := &model.Agent{
			ID:       a.ID,
			Name:     a.Name,
			UserID:   a.UserID,
			ChatID:   a.ChatID,
			IsActive: a.IsActive,
		}
		if err := db.UpsertAgent(ctx, agent); err != nil {
			return nil, fmt.Errorf("sync agent %d: %w", a.ID, err)
		}
		seen[a.ID] = struct{}{}
		ids = append(ids, a.ID)

		if !a.IsActive {
			continue
		}
		week := model.DefaultWeek(a.ID, HoursFromConfig(a.DefaultSchedule), cfg.DaysOff())
		if _, err := db.EnsureDefaultWeek(ctx, week); err != nil {
			return nil, fmt.Errorf("sync agent %d schedule: %w", a.ID, err)
		}
	}

	// Deactivate agents that disappeared from config.
	existing, err := db.ListAgents(ctx, true)
	if err != nil {
		return nil, err
	}
	for _, a := range existing {
		if _, ok := seen[a.ID]; ok {
			continue
		}
		if _, err := db.ExecContext(ctx, `UPDATE agents SET is_active = 0, updated_at = ? WHERE id = ?`, now, a.ID); err != nil {
			return nil, fmt.Errorf("deactivate agent %d: %w", a.ID, err)
		}
		db.logger.Info().Int64("agent_id", a.ID).Msg("Agent removed from roster, deactivated")
	}

	for _, h := range cfg.Holidays {
		date, err := model.ParseDate(h.Date)
		if err != nil {
			return nil, fmt.Errorf("parse holiday %s: %w", h.Date, err)
		}
		for id := range seen {
			if err := db.AddClosedDay(ctx, id, date, h.Name); err != nil {
				db.logger.Warn().Err(err).Int64("agent_id", id).Str("date", h.Date).Msg("Failed to apply holiday")
			}
		}
	}

	return ids, nil
}

// HoursFromConfig converts a roster schedule, falling back to model.DefaultHours.
func HoursFromConfig(s *config.ScheduleConfig) model.Hours {
	if s == nil {
		return model.DefaultHours
	}
	h := model.Hours{
		Start:      s.StartTime,
		End:        s.EndTime,
		BreakStart: s.BreakStart,
		BreakEnd:   s.BreakEnd,
	}
	if h.Start == "" {
		h.Start = model.DefaultHours.Start
	}
	if h.End == "" {
		h.End = model.DefaultHours.End
	}
	return h
}
