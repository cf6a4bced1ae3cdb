package model

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// PaymentStatus tracks the external payment verification workflow.
// The empty value means no payment proof was submitted.
type PaymentStatus string

const (
	PaymentNone     PaymentStatus = ""
	PaymentPending  PaymentStatus = "PENDING"
	PaymentVerified PaymentStatus = "VERIFIED"
	PaymentRejected PaymentStatus = "REJECTED"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentNone, PaymentPending, PaymentVerified, PaymentRejected:
		return true
	}
	return false
}

// Requester identifies who asked for a reservation: a registered client or
// a guest entered by staff.
type Requester interface {
	requester()
}

// Registered is an authenticated client.
type Registered struct {
	ClientID int64 `json:"client_id"`
}

// Guest is a walk-in client known only by name and phone.
type Guest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

func (Registered) requester() {}
func (Guest) requester()      {}

// Reservation holds one slot of one agent on one date.
type Reservation struct {
	ID              string        `json:"id"`
	AgentID         int64         `json:"agent_id"`
	Requester       Requester     `json:"-"`
	ServiceID       *int64        `json:"service_id,omitempty"`
	Date            time.Time     `json:"-"`
	Time            string        `json:"time"`
	Status          Status        `json:"status"`
	PaymentStatus   PaymentStatus `json:"payment_status,omitempty"`
	PaymentMethod   string        `json:"payment_method"`
	PaymentProofRef string        `json:"payment_proof_ref,omitempty"`
	Notes           string        `json:"notes,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	CancelledAt     *time.Time    `json:"cancelled_at,omitempty"`
}

// DateString returns the reservation date as "YYYY-MM-DD".
func (r *Reservation) DateString() string {
	return FormatDate(r.Date)
}

// ClientID returns the registered client id, or 0 for guests.
func (r *Reservation) ClientID() int64 {
	if reg, ok := r.Requester.(Registered); ok {
		return reg.ClientID
	}
	return 0
}

// IsActive reports whether the reservation still holds its slot.
func (r *Reservation) IsActive() bool {
	return r.Status != StatusCancelled
}

// DisplayName returns a short label of the requester for notifications.
func (r *Reservation) DisplayName() string {
	switch req := r.Requester.(type) {
	case Guest:
		return req.Name
	case Registered:
		return "client"
	}
	return ""
}

type reservationJSON struct {
	ID              string        `json:"id"`
	AgentID         int64         `json:"agent_id"`
	ClientID        int64         `json:"client_id,omitempty"`
	GuestName       string        `json:"guest_name,omitempty"`
	GuestPhone      string        `json:"guest_phone,omitempty"`
	ServiceID       *int64        `json:"service_id,omitempty"`
	Date            string        `json:"date"`
	Time            string        `json:"time"`
	Status          Status        `json:"status"`
	PaymentStatus   PaymentStatus `json:"payment_status,omitempty"`
	PaymentMethod   string        `json:"payment_method"`
	PaymentProofRef string        `json:"payment_proof_ref,omitempty"`
	Notes           string        `json:"notes,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	CancelledAt     *time.Time    `json:"cancelled_at,omitempty"`
}

// MarshalJSON flattens the requester and renders the date as "YYYY-MM-DD".
func (r Reservation) MarshalJSON() ([]byte, error) {
	out := reservationJSON{
		ID:              r.ID,
		AgentID:         r.AgentID,
		ServiceID:       r.ServiceID,
		Date:            r.DateString(),
		Time:            r.Time,
		Status:          r.Status,
		PaymentStatus:   r.PaymentStatus,
		PaymentMethod:   r.PaymentMethod,
		PaymentProofRef: r.PaymentProofRef,
		Notes:           r.Notes,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		CancelledAt:     r.CancelledAt,
	}
	switch req := r.Requester.(type) {
	case Registered:
		out.ClientID = req.ClientID
	case Guest:
		out.GuestName = req.Name
		out.GuestPhone = req.Phone
	}
	return json.Marshal(out)
}
