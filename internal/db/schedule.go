package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agentbook/internal/model"
)

func scanWeeklyRule(row interface{ Scan(...any) error }) (*model.WeeklyRule, error) {
	var r model.WeeklyRule
	var breakStart, breakEnd sql.NullString
	if err := row.Scan(
		&r.AgentID, &r.DayOfWeek, &r.IsAvailable, &r.StartTime, &r.EndTime,
		&breakStart, &breakEnd, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.BreakStart = breakStart.String
	r.BreakEnd = breakEnd.String
	return &r, nil
}

const weeklyRuleColumns = `agent_id, day_of_week, is_available, start_time, end_time, break_start, break_end, updated_at`

// GetWeeklyRule returns the rule for one weekday, or nil when the agent has none.
func (s store) GetWeeklyRule(ctx context.Context, agentID int64, dayOfWeek int) (*model.WeeklyRule, error) {
	r, err := scanWeeklyRule(s.q.QueryRowContext(ctx, `
		SELECT `+weeklyRuleColumns+`
		FROM weekly_rules
		WHERE agent_id = ? AND day_of_week = ?`,
		agentID, dayOfWeek,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get weekly rule agent %d day %d: %w", agentID, dayOfWeek, err)
	}
	return r, nil
}

// GetWeeklySchedule returns every stored rule of the agent ordered by weekday.
func (s store) GetWeeklySchedule(ctx context.Context, agentID int64) ([]model.WeeklyRule, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+weeklyRuleColumns+`
		FROM weekly_rules
		WHERE agent_id = ?
		ORDER BY day_of_week`,
		agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list weekly rules agent %d: %w", agentID, err)
	}
	defer rows.Close()

	var rules []model.WeeklyRule
	for rows.Next() {
		r, err := scanWeeklyRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

// UpsertWeeklyRule creates or replaces the rule of (agent, weekday).
func (s store) UpsertWeeklyRule(ctx context.Context, r model.WeeklyRule) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO weekly_rules (
			agent_id, day_of_week, is_available, start_time, end_time, break_start, break_end, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, day_of_week) DO UPDATE SET
			is_available = excluded.is_available,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			break_start = excluded.break_start,
			break_end = excluded.break_end,
			updated_at = excluded.updated_at`,
		r.AgentID, r.DayOfWeek, r.IsAvailable, r.StartTime, r.EndTime,
		nullString(r.BreakStart), nullString(r.BreakEnd), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("upsert weekly rule agent %d day %d: %w", r.AgentID, r.DayOfWeek, err)
	}
	return nil
}

const exceptionColumns = `agent_id, date, is_available, start_time, end_time, break_start, break_end, reason, created_at, updated_at`

func scanException(row interface{ Scan(...any) error }) (*model.DateException, error) {
	var e model.DateException
	var date string
	var startTime, endTime, breakStart, breakEnd, reason sql.NullString
	if err := row.Scan(
		&e.AgentID, &date, &e.IsAvailable, &startTime, &endTime,
		&breakStart, &breakEnd, &reason, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d, err := model.ParseDate(date)
	if err != nil {
		return nil, err
	}
	e.Date = d
	e.StartTime = startTime.String
	e.EndTime = endTime.String
	e.BreakStart = breakStart.String
	e.BreakEnd = breakEnd.String
	e.Reason = reason.String
	return &e, nil
}

// GetException returns the exception of (agent, date), or nil when none exists.
func (s store) GetException(ctx context.Context, agentID int64, date time.Time) (*model.DateException, error) {
	e, err := scanException(s.q.QueryRowContext(ctx, `
		SELECT `+exceptionColumns+`
		FROM date_exceptions
		WHERE agent_id = ? AND date = ?`,
		agentID, model.FormatDate(date),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get exception agent %d on %s: %w", agentID, model.FormatDate(date), err)
	}
	return e, nil
}

// UpsertException creates or replaces the exception of (agent, date).
func (s store) UpsertException(ctx context.Context, e model.DateException) error {
	now := time.Now()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO date_exceptions (
			agent_id, date, is_available, start_time, end_time,
			break_start, break_end, reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id, date) DO UPDATE SET
			is_available = excluded.is_available,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			break_start = excluded.break_start,
			break_end = excluded.break_end,
			reason = excluded.reason,
			updated_at = excluded.updated_at`,
		e.AgentID, model.FormatDate(e.Date), e.IsAvailable,
		nullString(e.StartTime), nullString(e.EndTime),
		nullString(e.BreakStart), nullString(e.BreakEnd), nullString(e.Reason),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert exception agent %d on %s: %w", e.AgentID, model.FormatDate(e.Date), err)
	}
	return nil
}

// AddClosedDay closes the agent on date unless an exception already exists.
func (s store) AddClosedDay(ctx context.Context, agentID int64, date time.Time, reason string) error {
	now := time.Now()
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO date_exceptions (agent_id, date, is_available, reason, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?)
		ON CONFLICT(agent_id, date) DO NOTHING`,
		agentID, model.FormatDate(date), nullString(reason), now, now,
	)
	if err != nil {
		return fmt.Errorf("add closed day agent %d on %s: %w", agentID, model.FormatDate(date), err)
	}
	return nil
}

// DeleteException removes the exception of (agent, date). Missing rows are not an error.
func (s store) DeleteException(ctx context.Context, agentID int64, date time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM date_exceptions WHERE agent_id = ? AND date = ?`,
		agentID, model.FormatDate(date),
	)
	if err != nil {
		return fmt.Errorf("delete exception agent %d on %s: %w", agentID, model.FormatDate(date), err)
	}
	return nil
}

// ListExceptions returns exceptions with from <= date <= to ordered by date.
func (s store) ListExceptions(ctx context.Context, agentID int64, from, to time.Time) ([]model.DateException, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+exceptionColumns+`
		FROM date_exceptions
		WHERE agent_id = ? AND date >= ? AND date <= ?
		ORDER BY date`,
		agentID, model.FormatDate(from), model.FormatDate(to),
	)
	if err != nil {
		return nil, fmt.Errorf("list exceptions agent %d: %w", agentID, err)
	}
	defer rows.Close()

	var result []model.DateException
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}
