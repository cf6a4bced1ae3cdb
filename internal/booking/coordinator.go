package booking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"agentbook/internal/apperr"
	"agentbook/internal/db"
	"agentbook/internal/metrics"
	"agentbook/internal/model"
	"agentbook/internal/notify"
	"agentbook/internal/realtime"
	"agentbook/internal/slots"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultTxTimeout bounds one booking transaction.
const DefaultTxTimeout = 5 * time.Second

// Request asks for one slot of one agent.
type Request struct {
	AgentID         int64
	Date            string // "YYYY-MM-DD"
	Time            string // "HH:MM"
	Requester       model.Requester
	ServiceID       *int64
	PaymentMethod   string
	PaymentProofRef string
	Notes           string
	ClientNow       string // optional "HH:MM"
}

// Coordinator turns a slot request into a persisted reservation with no
// double booking, then fans out notifications.
type Coordinator struct {
	db          *db.DB
	slots       *slots.Service
	notifier    notify.Notifier
	broadcaster realtime.Broadcaster
	dispatch    *Dispatcher
	lifecycle   *Lifecycle
	txTimeout   time.Duration
	now         func() time.Time
	newID       func() string
	logger      *zerolog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithTxTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.txTimeout = d
		}
	}
}

func WithDispatcher(d *Dispatcher) Option {
	return func(c *Coordinator) { c.dispatch = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator wires the coordinator. A nil notifier or broadcaster disables that side effect.
func NewCoordinator(
	store *db.DB,
	slotService *slots.Service,
	notifier notify.Notifier,
	broadcaster realtime.Broadcaster,
	logger *zerolog.Logger,
	opts ...Option,
) *Coordinator {
	l := logger.With().Str("component", "booking").Logger()
	c := &Coordinator{
		db:          store,
		slots:       slotService,
		notifier:    notifier,
		broadcaster: broadcaster,
		lifecycle:   NewLifecycle(),
		txTimeout:   DefaultTxTimeout,
		now:         time.Now,
		newID:       uuid.NewString,
		logger:      &l,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dispatch == nil {
		c.dispatch = NewDispatcher(0, 0, &l)
	}
	return c
}

// Dispatcher exposes the side-effect runner so callers can drain it on shutdown.
func (c *Coordinator) Dispatcher() *Dispatcher {
	return c.dispatch
}

// CreateReservation books req atomically. Losing a race for the slot, or
// asking for a time that is not offered, yields apperr.ErrSlotUnavailable.
func (c *Coordinator) CreateReservation(ctx context.Context, req Request) (*model.Reservation, error) {
	date, err := validate(req)
	if err != nil {
		metrics.IncReservationAttempt("invalid")
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.txTimeout)
	defer cancel()

	now := c.now()
	res := &model.Reservation{
		ID:              c.newID(),
		AgentID:         req.AgentID,
		Requester:       normalizeRequester(req.Requester),
		ServiceID:       req.ServiceID,
		Date:            date,
		Time:            req.Time,
		Status:          model.StatusPending,
		PaymentMethod:   strings.TrimSpace(req.PaymentMethod),
		PaymentProofRef: strings.TrimSpace(req.PaymentProofRef),
		Notes:           strings.TrimSpace(req.Notes),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if res.PaymentProofRef != "" {
		res.PaymentStatus = model.PaymentPending
	}

	err = c.db.WithTx(ctx, func(tx *db.Tx) error {
		available, err := c.slots.Compute(ctx, tx, req.AgentID, date, req.ClientNow)
		if err != nil {
			return err
		}
		if !slices.Contains(available, req.Time) {
			return apperr.SlotUnavailable("not in computed availability")
		}

		existing, err := tx.ActiveReservationAt(ctx, req.AgentID, date, req.Time)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperr.SlotUnavailable("already booked")
		}

		return tx.InsertReservation(ctx, res)
	})
	if err != nil {
		err = apperr.Transient("create reservation", err)
		metrics.IncReservationAttempt(outcome(err))
		c.logAttempt(req, err)
		return nil, err
	}

	metrics.IncReservationAttempt("created")
	c.logger.Info().
		Str("reservation_id", res.ID).
		Int64("agent_id", res.AgentID).
		Str("date", res.DateString()).
		Str("time", res.Time).
		Msg("Reservation created")

	c.slots.Invalidate(ctx, res.AgentID)
	c.afterCommit(*res, realtime.EventReservationCreated, notify.Notification{
		Title: "New reservation",
		Body:  fmt.Sprintf("%s at %s, %s", res.DisplayName(), res.Time, res.DateString()),
		Data: map[string]string{
			"reservation_id": res.ID,
			"date":           res.DateString(),
			"time":           res.Time,
		},
	})
	return res, nil
}

func (c *Coordinator) logAttempt(req Request, err error) {
	evt := c.logger.Warn()
	if errors.Is(err, apperr.ErrSlotUnavailable) {
		evt = c.logger.Info()
	}
	evt.Err(err).
		Int64("agent_id", req.AgentID).
		Str("date", req.Date).
		Str("time", req.Time).
		Msg("Reservation rejected")
}

func outcome(err error) string {
	switch {
	case errors.Is(err, apperr.ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}

// afterCommit notifies the agent and broadcasts the event. It never blocks.
// An empty note skips the notification.
func (c *Coordinator) afterCommit(res model.Reservation, event string, note notify.Notification) {
	if c.notifier != nil && (note.Title != "" || note.Body != "") {
		c.dispatch.Go("notify", func(ctx context.Context) error {
			agent, err := c.db.GetAgent(ctx, res.AgentID)
			if err != nil {
				return err
			}
			if agent.UserID == 0 {
				return nil
			}
			return c.notifier.Notify(ctx, agent.UserID, note)
		})
	}
	if c.broadcaster != nil {
		c.dispatch.Go("broadcast", func(ctx context.Context) error {
			return c.broadcaster.Publish(ctx, model.AgentRoom(res.AgentID), event, res)
		})
	}
}

func validate(req Request) (time.Time, error) {
	if req.AgentID <= 0 {
		return time.Time{}, apperr.Invalid("agent_id", "must be positive")
	}
	date, err := model.ParseDate(req.Date)
	if err != nil {
		return time.Time{}, apperr.Invalid("date", "expected YYYY-MM-DD, got %q", req.Date)
	}
	if !model.ValidClock(req.Time) {
		return time.Time{}, apperr.Invalid("time", "expected HH:MM, got %q", req.Time)
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return time.Time{}, apperr.Invalid("payment_method", "is required")
	}
	if req.ServiceID != nil && *req.ServiceID <= 0 {
		return time.Time{}, apperr.Invalid("service_id", "must be positive")
	}

	switch r := req.Requester.(type) {
	case model.Registered:
		if r.ClientID <= 0 {
			return time.Time{}, apperr.Invalid("client_id", "must be positive")
		}
	case model.Guest:
		if strings.TrimSpace(r.Name) == "" || strings.TrimSpace(r.Phone) == "" {
			return time.Time{}, apperr.Invalid("guest", "name and phone are required")
		}
	default:
		return time.Time{}, apperr.Invalid("requester", "is required")
	}
	return date, nil
}

func normalizeRequester(r model.Requester) model.Requester {
	if g, ok := r.(model.Guest); ok {
		return model.Guest{Name: strings.TrimSpace(g.Name), Phone: strings.TrimSpace(g.Phone)}
	}
	return r
}

// Get returns a reservation by id.
func (c *Coordinator) Get(ctx context.Context, id string) (*model.Reservation, error) {
	r, err := c.db.GetReservation(ctx, id)
	if err != nil {
		return nil, apperr.Transient("get reservation", err)
	}
	return r, nil
}

// ListForAgentDate returns every reservation of the agent on date, cancelled included.
func (c *Coordinator) ListForAgentDate(ctx context.Context, agentID int64, date string) ([]model.Reservation, error) {
	d, err := model.ParseDate(date)
	if err != nil {
		return nil, apperr.Invalid("date", "expected YYYY-MM-DD, got %q", date)
	}
	list, err := c.db.ListReservations(ctx, agentID, d)
	if err != nil {
		return nil, apperr.Transient("list reservations", err)
	}
	if list == nil {
		list = []model.Reservation{}
	}
	return list, nil
}

// Cancel frees the reservation's slot. by identifies the user who cancelled, 0 when unknown.
func (c *Coordinator) Cancel(ctx context.Context, id string, by int64) (*model.Reservation, error) {
	res, err := c.transition(ctx, id, model.StatusCancelled)
	if err != nil {
		return nil, err
	}

	c.logger.Info().Str("reservation_id", id).Int64("by", by).Msg("Reservation cancelled")
	c.slots.Invalidate(ctx, res.AgentID)
	c.afterCommit(*res, realtime.EventReservationCancelled, notify.Notification{
		Title: "Reservation cancelled",
		Body:  fmt.Sprintf("%s at %s, %s", res.DisplayName(), res.Time, res.DateString()),
		Data: map[string]string{
			"reservation_id": res.ID,
			"cancelled_by":   fmt.Sprint(by),
		},
	})
	return res, nil
}

// Complete marks a served reservation.
func (c *Coordinator) Complete(ctx context.Context, id string) (*model.Reservation, error) {
	res, err := c.transition(ctx, id, model.StatusCompleted)
	if err != nil {
		return nil, err
	}
	c.afterCommit(*res, realtime.EventReservationUpdated, notify.Notification{})
	return res, nil
}

func (c *Coordinator) transition(ctx context.Context, id string, to model.Status) (*model.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.txTimeout)
	defer cancel()

	var updated *model.Reservation
	err := c.db.WithTx(ctx, func(tx *db.Tx) error {
		r, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if !c.lifecycle.CanTransition(r.Status, to) {
			return apperr.Invalid("status", "cannot move reservation from %s to %s", r.Status, to)
		}

		now := c.now()
		if err := tx.UpdateReservationStatus(ctx, id, r.Status, to, now); err != nil {
			return err
		}
		r.Status = to
		r.UpdatedAt = now
		if to == model.StatusCancelled {
			r.CancelledAt = &now
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, apperr.Transient("update reservation", err)
	}
	metrics.IncReservationTransition(string(to))
	return updated, nil
}

// SetPaymentStatus records the outcome of the external payment check.
// VERIFIED confirms a pending reservation; REJECTED leaves the status alone.
func (c *Coordinator) SetPaymentStatus(ctx context.Context, id string, status model.PaymentStatus) (*model.Reservation, error) {
	if status == model.PaymentNone || !status.Valid() {
		return nil, apperr.Invalid("payment_status", "unknown value %q", status)
	}

	ctx, cancel := context.WithTimeout(ctx, c.txTimeout)
	defer cancel()

	var updated *model.Reservation
	err := c.db.WithTx(ctx, func(tx *db.Tx) error {
		r, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if c.lifecycle.IsFinal(r.Status) {
			return apperr.Invalid("status", "reservation is %s", r.Status)
		}

		next := r.Status
		if status == model.PaymentVerified && r.Status == model.StatusPending {
			next = model.StatusConfirmed
		}

		now := c.now()
		if err := tx.UpdateReservationPayment(ctx, id, r.Status, next, status, now); err != nil {
			return err
		}
		r.Status = next
		r.PaymentStatus = status
		r.UpdatedAt = now
		updated = r
		return nil
	})
	if err != nil {
		return nil, apperr.Transient("update payment", err)
	}

	if updated.Status == model.StatusConfirmed {
		metrics.IncReservationTransition(string(model.StatusConfirmed))
	}
	c.afterCommit(*updated, realtime.EventReservationUpdated, notify.Notification{
		Title: "Payment " + strings.ToLower(string(status)),
		Body:  fmt.Sprintf("%s at %s, %s", updated.DisplayName(), updated.Time, updated.DateString()),
		Data:  map[string]string{"reservation_id": updated.ID, "payment_status": string(status)},
	})
	return updated, nil
}
