package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agentbook/internal/apperr"
	"agentbook/internal/model"
)

const agentColumns = `id, name, user_id, chat_id, is_active, created_at, updated_at`

func scanAgent(row interface{ Scan(...any) error }) (*model.Agent, error) {
	var a model.Agent
	if err := row.Scan(&a.ID, &a.Name, &a.UserID, &a.ChatID, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAgent returns the agent by id or apperr.ErrNotFound.
func (s store) GetAgent(ctx context.Context, id int64) (*model.Agent, error) {
	a, err := scanAgent(s.q.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %d: %w", id, err)
	}
	return a, nil
}

// ListAgents returns agents ordered by id.
func (s store) ListAgents(ctx context.Context, activeOnly bool) ([]model.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// UpsertAgent creates or updates an agent, keeping created_at of existing rows.
func (s store) UpsertAgent(ctx context.Context, a *model.Agent) error {
	if a == nil {
		return fmt.Errorf("agent is nil")
	}

	now := time.Now()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO agents (id, name, user_id, chat_id, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, COALESCE((SELECT created_at FROM agents WHERE id = ?), ?), ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			user_id = excluded.user_id,
			chat_id = excluded.chat_id,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		a.ID, a.Name, a.UserID, a.ChatID, a.IsActive, a.ID, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert agent %d: %w", a.ID, err)
	}
	return nil
}

// SetAgentActive toggles whether an agent accepts bookings.
func (s store) SetAgentActive(ctx context.Context, id int64, active bool) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE agents SET is_active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("set agent %d active: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %d: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// ChatIDForUser resolves the Telegram chat of the agent owning userID.
// Private chats share the user's id, which is the fallback.
func (s store) ChatIDForUser(ctx context.Context, userID int64) (int64, error) {
	var chatID int64
	err := s.q.QueryRowContext(ctx,
		`SELECT chat_id FROM agents WHERE user_id = ? ORDER BY id LIMIT 1`, userID,
	).Scan(&chatID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && chatID == 0) {
		return userID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("chat for user %d: %w", userID, err)
	}
	return chatID, nil
}

// EnsureDefaultWeek inserts the rules of week that are missing for the agent.
// Existing rows are left as they are. It reports how many rows were created.
func (s store) EnsureDefaultWeek(ctx context.Context, week []model.WeeklyRule) (int, error) {
	now := time.Now()
	created := 0
	for _, r := range week {
		res, err := s.q.ExecContext(ctx, `
			INSERT OR IGNORE INTO weekly_rules (
				agent_id, day_of_week, is_available, start_time, end_time, break_start, break_end, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.AgentID, r.DayOfWeek, r.IsAvailable, r.StartTime, r.EndTime,
			nullString(r.BreakStart), nullString(r.BreakEnd), now,
		)
		if err != nil {
			return created, fmt.Errorf("ensure rule agent %d day %d: %w", r.AgentID, r.DayOfWeek, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created++
		}
	}
	return created, nil
}
