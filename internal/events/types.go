// internal/events/types.go
package events

import (
	"time"
)

// EventType represents the type of event. The string value is the topic
// name pushed to notification clients.
type EventType string

const (
	TradingStatus      EventType = "trading_status"
	AutoTrade          EventType = "auto_trade_event"
	NewToken           EventType = "new_token"
	RugpullAlert       EventType = "rugpull_alert"
	SurveillanceStatus EventType = "surveillance_status"
)

// Trade outcome vocabulary shared by publishers and the journal.
const (
	TradeBuy  = "buy"
	TradeSell = "sell"

	ReasonProfitTarget = "profit_target"
	ReasonStopLoss     = "stop_loss"
	ReasonRugpull      = "rugpull_cut_loss"

	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType `json:"-"`
	EventTime time.Time `json:"timestamp"`
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// NewBase stamps an event header with the current time.
func NewBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now().UTC()}
}

// TradingStatusEvent is emitted on every enabled/disabled transition.
type TradingStatusEvent struct {
	BaseEvent
	Enabled bool   `json:"enabled"`
	Message string `json:"message"`
}

// AutoTradeEvent reports the outcome of a buy or sell issued by the control loop.
type AutoTradeEvent struct {
	BaseEvent
	Side          string  `json:"type"`
	Token         string  `json:"token"`
	Address       string  `json:"address"`
	AmountSOL     float64 `json:"amount_sol,omitempty"`
	AmountTokens  string  `json:"amount_tokens,omitempty"`
	Price         float64 `json:"price,omitempty"`
	Reason        string  `json:"reason,omitempty"`
	Status        string  `json:"status"`
	TransactionID string  `json:"transaction_id,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// NewTokenEvent announces a freshly initialized mint that the market provider already indexes.
type NewTokenEvent struct {
	BaseEvent
	Address   string      `json:"address"`
	Symbol    string      `json:"symbol"`
	Signature string      `json:"signature"`
	Snapshot  interface{} `json:"snapshot,omitempty"`
}

// RugpullAlertEvent mirrors a surveillance alert for notification clients.
type RugpullAlertEvent struct {
	BaseEvent
	Signature    string            `json:"signature"`
	Reason       string            `json:"reason"`
	TokenAddress string            `json:"token_address,omitempty"`
	LogMessage   string            `json:"log_message,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
}

// SurveillanceStatusEvent reports subscription state transitions.
type SurveillanceStatusEvent struct {
	BaseEvent
	State   string `json:"state"`
	Attempt int    `json:"attempt,omitempty"`
	Error   string `json:"error,omitempty"`
}
