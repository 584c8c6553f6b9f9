// Package events publishes activation lifecycle notifications.
package events

import (
	"context"
	"time"
)

// Event types.
const (
	TypeActivationCreated = "activation.created"
	TypeActivationRenewed = "activation.renewed"
)

// Event is the JSON body of a published notification. It never carries the
// code itself, only its hash.
type Event struct {
	Type         string    `json:"event_type"`
	OccurredAt   time.Time `json:"occurred_at"`
	ActivationID string    `json:"activation_id"`
	CodeHash     string    `json:"code_hash"`
	ProductID    string    `json:"product_id,omitempty"`
	Remaining    int64     `json:"remaining"`
	ExpiresAt    int64     `json:"expires_at,omitempty"` // unix seconds
}

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

var _ Publisher = Nop{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
