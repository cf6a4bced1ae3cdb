// Package booking creates reservations and drives their lifecycle.
package booking

import "agentbook/internal/model"

// Lifecycle holds the allowed reservation status transitions.
type Lifecycle struct {
	transitions map[model.Status][]model.Status
}

// NewLifecycle creates the standard reservation lifecycle.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		transitions: map[model.Status][]model.Status{
			model.StatusPending:   {model.StatusConfirmed, model.StatusCompleted, model.StatusCancelled},
			model.StatusConfirmed: {model.StatusCompleted, model.StatusCancelled},
			model.StatusCompleted: {},
			model.StatusCancelled: {},
		},
	}
}

// CanTransition checks if transition is allowed.
func (l *Lifecycle) CanTransition(from, to model.Status) bool {
	for _, s := range l.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsFinal reports whether no transition leaves status.
func (l *Lifecycle) IsFinal(status model.Status) bool {
	return len(l.transitions[status]) == 0
}
