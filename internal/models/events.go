package models

import "time"

// EventType identifies an order lifecycle event pushed to subscribers.
type EventType string

const (
	EventOrderCreated         EventType = "order.created"
	EventOrderTriggered       EventType = "order.triggered"
	EventOrderExecuted        EventType = "order.executed"
	EventOrderExecutionFailed EventType = "order.execution_failed"
	EventOrderCancelled       EventType = "order.cancelled"
	EventOrderExpired         EventType = "order.expired"
)

// OrderEvent is the wire payload for lifecycle notifications. Only the fields
// relevant to the event type are populated.
type OrderEvent struct {
	Type             EventType        `json:"type"`
	OrderID          string           `json:"orderId"`
	PortfolioID      string           `json:"portfolioId,omitempty"`
	Symbol           string           `json:"symbol,omitempty"`
	OrderType        OrderType        `json:"orderType,omitempty"`
	Side             OrderSide        `json:"side,omitempty"`
	Quantity         int              `json:"quantity,omitempty"`
	TriggerPrice     float64          `json:"triggerPrice,omitempty"`
	LimitPrice       float64          `json:"limitPrice,omitempty"`
	ExecutedPrice    float64          `json:"executedPrice,omitempty"`
	ExecutedQuantity int              `json:"executedQuantity,omitempty"`
	Commission       float64          `json:"commission,omitempty"`
	Reason           string           `json:"reason,omitempty"`
	At               time.Time        `json:"at"`
}

func NewOrderCreatedEvent(o *Order) OrderEvent {
	return OrderEvent{
		Type:         EventOrderCreated,
		OrderID:      o.ID.Hex(),
		PortfolioID:  o.PortfolioID,
		Symbol:       o.Symbol,
		OrderType:    o.OrderType,
		Side:         o.Side,
		Quantity:     o.Quantity,
		TriggerPrice: o.TriggerPrice,
		LimitPrice:   o.LimitPrice,
		At:           time.Now(),
	}
}

func NewOrderTriggeredEvent(o *Order) OrderEvent {
	return OrderEvent{
		Type:        EventOrderTriggered,
		OrderID:     o.ID.Hex(),
		PortfolioID: o.PortfolioID,
		Symbol:      o.Symbol,
		At:          time.Now(),
	}
}

func NewOrderExecutedEvent(o *Order, res *ExecutionResult) OrderEvent {
	return OrderEvent{
		Type:             EventOrderExecuted,
		OrderID:          o.ID.Hex(),
		PortfolioID:      o.PortfolioID,
		Symbol:           o.Symbol,
		Side:             o.Side,
		ExecutedPrice:    res.Price,
		ExecutedQuantity: res.Quantity,
		Commission:       res.Commission,
		At:               time.Now(),
	}
}

func NewOrderExecutionFailedEvent(o *Order, reason string) OrderEvent {
	return OrderEvent{
		Type:        EventOrderExecutionFailed,
		OrderID:     o.ID.Hex(),
		PortfolioID: o.PortfolioID,
		Symbol:      o.Symbol,
		Reason:      reason,
		At:          time.Now(),
	}
}

func NewOrderCancelledEvent(o *Order, reason string) OrderEvent {
	return OrderEvent{
		Type:        EventOrderCancelled,
		OrderID:     o.ID.Hex(),
		PortfolioID: o.PortfolioID,
		Symbol:      o.Symbol,
		Reason:      reason,
		At:          time.Now(),
	}
}

func NewOrderExpiredEvent(o *Order) OrderEvent {
	return OrderEvent{
		Type:        EventOrderExpired,
		OrderID:     o.ID.Hex(),
		PortfolioID: o.PortfolioID,
		Symbol:      o.Symbol,
		At:          time.Now(),
	}
}
