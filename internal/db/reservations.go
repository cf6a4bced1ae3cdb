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

const reservationColumns = `id, agent_id, client_id, guest_name, guest_phone, service_id, date, time,
	status, payment_status, payment_method, payment_proof_ref, notes, created_at, updated_at, cancelled_at`

func scanReservation(row interface{ Scan(...any) error }) (*model.Reservation, error) {
	var (
		r                              model.Reservation
		clientID, serviceID            sql.NullInt64
		guestName, guestPhone          sql.NullString
		date, status                   string
		paymentStatus, proofRef, notes sql.NullString
		cancelledAt                    sql.NullTime
	)
	if err := row.Scan(
		&r.ID, &r.AgentID, &clientID, &guestName, &guestPhone, &serviceID, &date, &r.Time,
		&status, &paymentStatus, &r.PaymentMethod, &proofRef, &notes, &r.CreatedAt, &r.UpdatedAt, &cancelledAt,
	); err != nil {
		return nil, err
	}

	d, err := model.ParseDate(date)
	if err != nil {
		return nil, err
	}
	r.Date = d
	r.Status = model.Status(status)
	r.PaymentStatus = model.PaymentStatus(paymentStatus.String)
	r.PaymentProofRef = proofRef.String
	r.Notes = notes.String

	if clientID.Valid {
		r.Requester = model.Registered{ClientID: clientID.Int64}
	} else {
		r.Requester = model.Guest{Name: guestName.String, Phone: guestPhone.String}
	}
	if serviceID.Valid {
		id := serviceID.Int64
		r.ServiceID = &id
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		r.CancelledAt = &t
	}
	return &r, nil
}

// BookedTimes returns the times held by non-cancelled reservations of (agent, date).
func (s store) BookedTimes(ctx context.Context, agentID int64, date time.Time) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT time FROM reservations
		WHERE agent_id = ? AND date = ? AND status != ?
		ORDER BY time`,
		agentID, model.FormatDate(date), model.StatusCancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("booked times agent %d on %s: %w", agentID, model.FormatDate(date), err)
	}
	defer rows.Close()

	var times []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t)
	}
	return times, rows.Err()
}

// ActiveReservationAt returns the non-cancelled reservation holding the slot, or nil.
func (s store) ActiveReservationAt(ctx context.Context, agentID int64, date time.Time, clock string) (*model.Reservation, error) {
	r, err := scanReservation(s.q.QueryRowContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE agent_id = ? AND date = ? AND time = ? AND status != ?
		LIMIT 1`,
		agentID, model.FormatDate(date), clock, model.StatusCancelled,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reservation at %s %s: %w", model.FormatDate(date), clock, err)
	}
	return r, nil
}

// InsertReservation stores a new reservation. A live reservation on the
// same slot yields apperr.ErrSlotUnavailable.
func (s store) InsertReservation(ctx context.Context, r *model.Reservation) error {
	if r == nil {
		return fmt.Errorf("reservation is nil")
	}

	var clientID sql.NullInt64
	var guestName, guestPhone sql.NullString
	switch req := r.Requester.(type) {
	case model.Registered:
		clientID = nullInt64(req.ClientID)
	case model.Guest:
		guestName = nullString(req.Name)
		guestPhone = nullString(req.Phone)
	}

	var serviceID sql.NullInt64
	if r.ServiceID != nil {
		serviceID = sql.NullInt64{Int64: *r.ServiceID, Valid: true}
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO reservations (
			id, agent_id, client_id, guest_name, guest_phone, service_id, date, time,
			status, payment_status, payment_method, payment_proof_ref, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AgentID, clientID, guestName, guestPhone, serviceID, r.DateString(), r.Time,
		r.Status, nullString(string(r.PaymentStatus)), r.PaymentMethod, nullString(r.PaymentProofRef),
		nullString(r.Notes), r.CreatedAt, r.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return apperr.SlotUnavailable("already booked")
	}
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// GetReservation returns a reservation by id or apperr.ErrNotFound.
func (s store) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	r, err := scanReservation(s.q.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reservation %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation %s: %w", id, err)
	}
	return r, nil
}

// ListReservations returns all reservations of (agent, date) ordered by time,
// cancelled ones included.
func (s store) ListReservations(ctx context.Context, agentID int64, date time.Time) ([]model.Reservation, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE agent_id = ? AND date = ?
		ORDER BY time, created_at`,
		agentID, model.FormatDate(date),
	)
	if err != nil {
		return nil, fmt.Errorf("list reservations agent %d: %w", agentID, err)
	}
	defer rows.Close()

	var result []model.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

// UpdateReservationStatus moves a reservation from one status to another.
// It fails with apperr.ErrConcurrentModification when the row is no longer in from.
func (s store) UpdateReservationStatus(ctx context.Context, id string, from, to model.Status, at time.Time) error {
	var cancelledAt sql.NullTime
	if to == model.StatusCancelled {
		cancelledAt = sql.NullTime{Time: at, Valid: true}
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE reservations
		SET status = ?, updated_at = ?, cancelled_at = COALESCE(?, cancelled_at)
		WHERE id = ? AND status = ?`,
		to, at, cancelledAt, id, from,
	)
	if err != nil {
		return fmt.Errorf("update reservation %s status: %w", id, err)
	}
	return checkGuarded(res, id)
}

// UpdateReservationPayment sets the payment status and, in the same statement,
// the lifecycle status. It is guarded on the current status like UpdateReservationStatus.
func (s store) UpdateReservationPayment(ctx context.Context, id string, from, to model.Status, payment model.PaymentStatus, at time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE reservations
		SET status = ?, payment_status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		to, nullString(string(payment)), at, id, from,
	)
	if err != nil {
		return fmt.Errorf("update reservation %s payment: %w", id, err)
	}
	return checkGuarded(res, id)
}

func checkGuarded(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("reservation %s: %w", id, apperr.ErrConcurrentModification)
	}
	return nil
}
