package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Stock struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Symbol        string             `bson:"symbol" json:"symbol"`
	Name          string             `bson:"name" json:"name"`
	Price         float64            `bson:"price" json:"price"`
	Change        float64            `bson:"change" json:"change"`
	ChangePercent float64            `bson:"change_percent" json:"changePercent"`
	Volume        int64              `bson:"volume" json:"volume"`
	Timestamp     time.Time          `bson:"timestamp" json:"timestamp"`
}

type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
		return true
	}
	return false
}

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

func (s OrderSide) Valid() bool { return s == SideBuy || s == SideSell }

// Opposite returns the side that closes a position opened on s.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusTriggered OrderStatus = "triggered"
	StatusExecuted  OrderStatus = "executed"
	StatusCancelled OrderStatus = "cancelled"
	StatusExpired   OrderStatus = "expired"
)

// Terminal reports whether the status permits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == StatusExecuted || s == StatusCancelled || s == StatusExpired
}

// OrderRole marks the leg an order plays inside a bracket. Standalone orders
// carry no role.
type OrderRole string

const (
	RoleEntry      OrderRole = "entry"
	RoleStopLoss   OrderRole = "stop_loss"
	RoleTakeProfit OrderRole = "take_profit"
)

// TriggerDirection selects which way the price must move through the trigger
// level: "falls" fires at or below it, "rises" at or above it.
type TriggerDirection string

const (
	TriggerOnFall TriggerDirection = "falls"
	TriggerOnRise TriggerDirection = "rises"
)

type TimeInForce string

const (
	TIFGoodTilCancelled TimeInForce = "gtc"
	TIFGoodTilDate      TimeInForce = "gtd"
)

type Order struct {
	ID               primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	PortfolioID      string             `bson:"portfolio_id" json:"portfolioId"`
	Symbol           string             `bson:"symbol" json:"symbol"`
	OrderType        OrderType          `bson:"order_type" json:"orderType"`
	Side             OrderSide          `bson:"side" json:"side"`
	Quantity         int                `bson:"quantity" json:"quantity"`
	LimitPrice       float64            `bson:"limit_price,omitempty" json:"limitPrice,omitempty"`
	TriggerPrice     float64            `bson:"trigger_price,omitempty" json:"triggerPrice,omitempty"`
	TriggerDirection TriggerDirection   `bson:"trigger_direction,omitempty" json:"triggerDirection,omitempty"`
	TimeInForce      TimeInForce        `bson:"time_in_force" json:"timeInForce"`
	ExpiresAt        time.Time          `bson:"expires_at,omitempty" json:"expiresAt,omitempty"`
	Status           OrderStatus        `bson:"status" json:"status"`

	// Bracket linkage. Children are created inactive and become monitorable
	// only once the entry leg has executed.
	BracketID     string    `bson:"bracket_id,omitempty" json:"bracketId,omitempty"`
	ParentOrderID string    `bson:"parent_order_id,omitempty" json:"parentOrderId,omitempty"`
	Role          OrderRole `bson:"role,omitempty" json:"role,omitempty"`
	Active        bool      `bson:"active" json:"active"`

	// Armed is set on a stop-limit order once its stop condition has been
	// observed; only then is the limit condition evaluated.
	Armed bool `bson:"armed,omitempty" json:"armed,omitempty"`

	CreatedAt         time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt         time.Time `bson:"updated_at" json:"updatedAt"`
	TriggeredAt       time.Time `bson:"triggered_at,omitempty" json:"triggeredAt,omitempty"`
	ExecutedAt        time.Time `bson:"executed_at,omitempty" json:"executedAt,omitempty"`
	ExecutionPrice    float64   `bson:"execution_price,omitempty" json:"executionPrice,omitempty"`
	ExecutionQuantity int       `bson:"execution_quantity,omitempty" json:"executionQuantity,omitempty"`
	Commission        float64   `bson:"commission,omitempty" json:"commission,omitempty"`
	CancelReason      string    `bson:"cancel_reason,omitempty" json:"cancelReason,omitempty"`
}

// TriggerLevel is the price level the monitor compares against: the limit
// price for plain limit orders, the trigger price for stop variants.
func (o *Order) TriggerLevel() float64 {
	if o.OrderType == OrderTypeLimit {
		return o.LimitPrice
	}
	return o.TriggerPrice
}

// EffectiveTriggerDirection resolves the comparison direction. An explicit
// direction wins; otherwise take-profit legs fire on a rise, sell limits fire
// on a rise, and everything else fires on a fall (dip-buy entries and
// stop-loss sells alike).
func (o *Order) EffectiveTriggerDirection() TriggerDirection {
	if o.TriggerDirection != "" {
		return o.TriggerDirection
	}
	if o.Role == RoleTakeProfit {
		return TriggerOnRise
	}
	if o.OrderType == OrderTypeLimit && o.Side == SideSell {
		return TriggerOnRise
	}
	return TriggerOnFall
}

// ConditionMet evaluates the trigger predicate against the current price.
// Comparisons are inclusive: a price exactly at the level counts.
func (o *Order) ConditionMet(price float64) bool {
	level := o.TriggerLevel()
	if level <= 0 {
		return false
	}
	if o.EffectiveTriggerDirection() == TriggerOnRise {
		return price >= level
	}
	return price <= level
}

// LimitSatisfied checks a stop-limit order's limit leg: a buy must fill at or
// below the limit, a sell at or above it.
func (o *Order) LimitSatisfied(price float64) bool {
	if o.Side == SideBuy {
		return price <= o.LimitPrice
	}
	return price >= o.LimitPrice
}

// Expired reports whether a good-til-date order's validity window has lapsed.
func (o *Order) Expired(now time.Time) bool {
	return o.TimeInForce == TIFGoodTilDate && !o.ExpiresAt.IsZero() && !o.ExpiresAt.After(now)
}

// ExecutionResult is what the ledger reports back for a fill.
type ExecutionResult struct {
	Price      float64 `json:"price"`
	Quantity   int     `json:"quantity"`
	Commission float64 `json:"commission"`
}

type Position struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	PortfolioID string             `bson:"portfolio_id" json:"portfolioId"`
	Symbol      string             `bson:"symbol" json:"symbol"`
	Shares      int                `bson:"shares" json:"shares"`
	AvgCost     float64            `bson:"avg_cost" json:"avgCost"`
}
