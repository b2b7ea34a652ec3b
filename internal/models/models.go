package models

import (
	"errors"
	"time"
)

const SoldCounterKey = "tickets_sold"

// ErrMalformedEvent marks a correctly signed delivery whose payload cannot
// be decoded into the expected shape.
var ErrMalformedEvent = errors.New("malformed event payload")

type EventKind int

const (
	EventOther EventKind = iota
	EventCheckoutCompleted
)

// Event is a verified webhook delivery. Checkout is set only when Kind is
// EventCheckoutCompleted.
type Event struct {
	ID       string
	Type     string
	Kind     EventKind
	Checkout *CheckoutCompleted
}

type CheckoutCompleted struct {
	SessionID string `json:"session_id"`
	ChannelID string `json:"payment_link_id"`
}

type LineItem struct {
	ID       string `json:"id"`
	Quantity int64  `json:"quantity"`
}

type SalesChannel struct {
	ID       string            `json:"id"`
	Active   bool              `json:"active"`
	Metadata map[string]string `json:"metadata"`
}

type ChannelUpdate struct {
	Metadata   map[string]string `json:"metadata"`
	Deactivate bool              `json:"deactivate"`
}

type CounterUpdate struct {
	ChannelID   string `json:"payment_link_id"`
	Previous    int64  `json:"previous"`
	Added       int64  `json:"added"`
	Total       int64  `json:"total"`
	Max         int64  `json:"max"`
	Deactivated bool   `json:"deactivated"`
}

type CompletionRecord struct {
	SessionID     string    `json:"session_id"`
	ChannelID     string    `json:"payment_link_id"`
	Quantity      int64     `json:"quantity"`
	PreviousTotal int64     `json:"previous_total"`
	NewTotal      int64     `json:"new_total"`
	Deactivated   bool      `json:"deactivated"`
	ProcessedAt   time.Time `json:"processed_at"`
}
