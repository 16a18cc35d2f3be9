// events.go defines the event envelope pushed to dashboard clients over the
// /ws stream. Every control-plane mutation and strategy lifecycle change
// broadcasts one of these.
package api

import "time"

// Event is one dashboard stream message.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Event types broadcast on the stream.
const (
	EventExchangeAdded   = "exchange_added"
	EventExchangeRemoved = "exchange_removed"
	EventStrategySet     = "strategy_set"
	EventStrategyStarted = "strategy_started"
	EventStrategyStopped = "strategy_stopped"
	EventOrderPlaced     = "order_placed"
	EventOrderCancelled  = "order_cancelled"
	EventWithdrawal      = "withdrawal_requested"
	EventConfigUpdated   = "config_updated"
)

func newEvent(typ string, data any) Event {
	return Event{Type: typ, Timestamp: time.Now().UTC(), Data: data}
}
