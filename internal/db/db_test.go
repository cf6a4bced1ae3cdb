package db

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"agentbook/internal/apperr"
	"agentbook/internal/config"
	"agentbook/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedAgent(t *testing.T, db *DB, id int64) {
	t.Helper()
	require.NoError(t, db.UpsertAgent(context.Background(), &model.Agent{
		ID: id, Name: "Agent", UserID: id * 100, IsActive: true,
	}))
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := model.ParseDate(s)
	require.NoError(t, err)
	return d
}

func newReservation(agentID int64, date time.Time, clock string) *model.Reservation {
	now := time.Now()
	return &model.Reservation{
		ID:            clock + "-" + model.FormatDate(date),
		AgentID:       agentID,
		Requester:     model.Registered{ClientID: 7},
		Date:          date,
		Time:          clock,
		Status:        model.StatusPending,
		PaymentMethod: "cash",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestAgents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.GetAgent(ctx, 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, db.UpsertAgent(ctx, &model.Agent{ID: 1, Name: "Anna", UserID: 10, ChatID: 99, IsActive: true}))
	a, err := db.GetAgent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Anna", a.Name)
	created := a.CreatedAt

	require.NoError(t, db.UpsertAgent(ctx, &model.Agent{ID: 1, Name: "Anna K", UserID: 10, ChatID: 99, IsActive: true}))
	a, err = db.GetAgent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Anna K", a.Name)
	assert.True(t, created.Equal(a.CreatedAt))

	chat, err := db.ChatIDForUser(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(99), chat)

	chat, err = db.ChatIDForUser(ctx, 555)
	require.NoError(t, err)
	assert.Equal(t, int64(555), chat)

	require.NoError(t, db.SetAgentActive(ctx, 1, false))
	active, err := db.ListAgents(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, active)

	assert.ErrorIs(t, db.SetAgentActive(ctx, 42, true), apperr.ErrNotFound)
}

func TestEnsureDefaultWeekKeepsExistingRows(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedAgent(t, db, 1)

	require.NoError(t, db.UpsertWeeklyRule(ctx, model.WeeklyRule{
		AgentID: 1, DayOfWeek: 1, IsAvailable: true, StartTime: "07:00", EndTime: "11:00",
	}))

	created, err := db.EnsureDefaultWeek(ctx, model.DefaultWeek(1, model.DefaultHours, model.StandardDaysOff))
	require.NoError(t, err)
	assert.Equal(t, 6, created)

	monday, err := db.GetWeeklyRule(ctx, 1, 1)
	require.NoError(t, err)
	require.NotNil(t, monday)
	assert.Equal(t, "07:00", monday.StartTime)
	assert.Empty(t, monday.BreakStart)

	week, err := db.GetWeeklySchedule(ctx, 1)
	require.NoError(t, err)
	require.Len(t, week, model.DaysInWeek)
	assert.False(t, week[0].IsAvailable)
	assert.Equal(t, "13:00", week[2].BreakStart)

	created, err = db.EnsureDefaultWeek(ctx, model.DefaultWeek(1, model.DefaultHours, model.StandardDaysOff))
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestWeeklyRuleMissing(t *testing.T) {
	db := newTestDB(t)
	seedAgent(t, db, 1)

	r, err := db.GetWeeklyRule(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestExceptions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedAgent(t, db, 1)
	date := mustDate(t, "2026-11-03")

	e, err := db.GetException(ctx, 1, date)
	require.NoError(t, err)
	assert.Nil(t, e)

	require.NoError(t, db.UpsertException(ctx, model.DateException{
		AgentID: 1, Date: date, IsAvailable: true, StartTime: "10:00", EndTime: "12:00", Reason: "short day",
	}))
	require.NoError(t, db.UpsertException(ctx, model.DateException{
		AgentID: 1, Date: date, IsAvailable: false, Reason: "sick",
	}))

	e, err = db.GetException(ctx, 1, date)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.False(t, e.IsAvailable)
	assert.Empty(t, e.StartTime)
	assert.Equal(t, "sick", e.Reason)
	assert.Equal(t, date, e.Date)

	// A holiday does not overwrite an existing exception.
	require.NoError(t, db.AddClosedDay(ctx, 1, date, "holiday"))
	e, err = db.GetException(ctx, 1, date)
	require.NoError(t, err)
	assert.Equal(t, "sick", e.Reason)

	require.NoError(t, db.AddClosedDay(ctx, 1, mustDate(t, "2026-11-10"), "holiday"))
	list, err := db.ListExceptions(ctx, 1, mustDate(t, "2026-11-01"), mustDate(t, "2026-11-30"))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "2026-11-10", model.FormatDate(list[1].Date))

	require.NoError(t, db.DeleteException(ctx, 1, date))
	require.NoError(t, db.DeleteException(ctx, 1, date))
	e, err = db.GetException(ctx, 1, date)
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestReservationsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedAgent(t, db, 1)
	date := mustDate(t, "2026-11-03")

	service := int64(3)
	guest := newReservation(1, date, "10:00")
	guest.Requester = model.Guest{Name: "Walk-in", Phone: "+100"}
	guest.ServiceID = &service
	guest.PaymentStatus = model.PaymentPending
	guest.PaymentProofRef = "receipt-1"
	require.NoError(t, db.InsertReservation(ctx, guest))

	got, err := db.GetReservation(ctx, guest.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Guest{Name: "Walk-in", Phone: "+100"}, got.Requester)
	require.NotNil(t, got.ServiceID)
	assert.Equal(t, service, *got.ServiceID)
	assert.Equal(t, model.PaymentPending, got.PaymentStatus)
	assert.Equal(t, "2026-11-03", got.DateString())
	assert.Nil(t, got.CancelledAt)

	_, err = db.GetReservation(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	times, err := db.BookedTimes(ctx, 1, date)
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00"}, times)
}

func TestUniqueActiveSlot(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedAgent(t, db, 1)
	date := mustDate(t, "2026-11-03")

	first := newReservation(1, date, "10:00")
	require.NoError(t, db.InsertReservation(ctx, first))

	dup := newReservation(1, date, "10:00")
	dup.ID = "other"
	err := db.InsertReservation(ctx, dup)
	assert.ErrorIs(t, err, apperr.ErrSlotUnavailable)

	require.NoError(t, db.UpdateReservationStatus(ctx, first.ID, model.StatusPending, model.StatusCancelled, time.Now()))
	require.NoError(t, db.InsertReservation(ctx, dup))

	times, err := db.BookedTimes(ctx, 1, date)
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00"}, times)

	all, err := db.ListReservations(ctx, 1, date)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	cancelled, err := db.GetReservation(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)
}

func TestGuardedUpdates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedAgent(t, db, 1)

	r := newReservation(1, mustDate(t, "2026-11-03"), "11:00")
	require.NoError(t, db.InsertReservation(ctx, r))

	err := db.UpdateReservationStatus(ctx, r.ID, model.StatusConfirmed, model.StatusCompleted, time.Now())
	assert.ErrorIs(t, err, apperr.ErrConcurrentModification)

	require.NoError(t, db.UpdateReservationPayment(ctx, r.ID, model.StatusPending, model.StatusConfirmed, model.PaymentVerified, time.Now()))
	got, err := db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, got.Status)
	assert.Equal(t, model.PaymentVerified, got.PaymentStatus)
}

func TestWithTxRollsBack(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedAgent(t, db, 1)
	date := mustDate(t, "2026-11-03")
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(tx *Tx) error {
		require.NoError(t, tx.InsertReservation(ctx, newReservation(1, date, "09:00")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	times, err := db.BookedTimes(ctx, 1, date)
	require.NoError(t, err)
	assert.Empty(t, times)

	require.NoError(t, db.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertReservation(ctx, newReservation(1, date, "09:00"))
	}))
	times, err = db.BookedTimes(ctx, 1, date)
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00"}, times)
}

func TestSyncAgentsFromConfig(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedAgent(t, db, 9)

	cfg := &config.AgentsConfig{
		Agents: []config.AgentConfig{
			{ID: 1, Name: "Anna", UserID: 100, ChatID: 1000, IsActive: true},
			{ID: 2, Name: "Boris", UserID: 200, IsActive: true, DefaultSchedule: &config.ScheduleConfig{
				StartTime: "10:00", EndTime: "16:00",
			}},
			{ID: 3, Name: "Idle", IsActive: false},
		},
		Defaults: config.DefaultsConfig{DaysOff: []int{0}},
		Holidays: []config.HolidayConfig{{Date: "2026-12-25", Name: "Christmas"}},
	}

	ids, err := db.SyncAgentsFromConfig(ctx, cfg)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3}, ids)

	removed, err := db.GetAgent(ctx, 9)
	require.NoError(t, err)
	assert.False(t, removed.IsActive)

	saturday, err := db.GetWeeklyRule(ctx, 1, int(time.Saturday))
	require.NoError(t, err)
	require.NotNil(t, saturday)
	assert.True(t, saturday.IsAvailable)
	assert.Equal(t, "09:00", saturday.StartTime)

	boris, err := db.GetWeeklyRule(ctx, 2, int(time.Monday))
	require.NoError(t, err)
	require.NotNil(t, boris)
	assert.Equal(t, "10:00", boris.StartTime)
	assert.Empty(t, boris.BreakStart)

	idle, err := db.GetWeeklySchedule(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, idle)

	holiday, err := db.GetException(ctx, 1, mustDate(t, "2026-12-25"))
	require.NoError(t, err)
	require.NotNil(t, holiday)
	assert.False(t, holiday.IsAvailable)
	assert.Equal(t, "Christmas", holiday.Reason)

	_, err = db.SyncAgentsFromConfig(ctx, nil)
	assert.Error(t, err)
}

func TestBackupService(t *testing.T) {
	db := newTestDB(t)
	seedAgent(t, db, 1)
	logger := zerolog.New(io.Discard)
	dir := filepath.Join(t.TempDir(), "backups")

	svc := NewBackupService(db, config.BackupConfig{Enabled: true, StoragePath: dir, RetentionDays: 1}, &logger)

	path, err := svc.PerformBackup(context.Background())
	require.NoError(t, err)
	assert.FileExists(t, path)

	old := filepath.Join(dir, "backup_old.db")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	past := time.Now().AddDate(0, 0, -3)
	require.NoError(t, os.Chtimes(old, past, past))

	assert.Equal(t, 1, svc.CleanupOldBackups())
	assert.NoFileExists(t, old)
	assert.FileExists(t, path)
}
