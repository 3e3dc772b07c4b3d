// Package orders implements the conditional order subsystem: the lifecycle
// engine owning every state transition, and the trigger monitor that scans
// pending orders against live prices.
package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"paper-trader/internal/metrics"
	"paper-trader/internal/models"
	"paper-trader/internal/store"
)

// PriceOracle supplies the latest trade price for a symbol.
type PriceOracle interface {
	GetLastPrice(ctx context.Context, symbol string) (float64, time.Time, error)
}

// Ledger executes an immediate fill against a portfolio's cash and positions.
type Ledger interface {
	Execute(ctx context.Context, portfolioID, symbol string, side models.OrderSide, quantity int) (*models.ExecutionResult, error)
}

// Publisher is the one-way sink lifecycle events are pushed into.
type Publisher interface {
	PublishOrderEvent(event models.OrderEvent)
}

// CreateOrderRequest is the transport-agnostic shape of a new order.
type CreateOrderRequest struct {
	PortfolioID      string
	Symbol           string
	OrderType        models.OrderType
	Side             models.OrderSide
	Quantity         int
	LimitPrice       float64
	TriggerPrice     float64
	TriggerDirection models.TriggerDirection
	TimeInForce      models.TimeInForce
	ExpiresAt        time.Time
}

// Bracket is the result of CreateBracketOrder: an entry leg plus its two
// protective exits.
type Bracket struct {
	Entry      *models.Order `json:"entry"`
	StopLoss   *models.Order `json:"stopLoss"`
	TakeProfit *models.Order `json:"takeProfit"`
}

// Engine owns order state transitions. It is the only component that writes
// order status, always through the store's conditional update.
type Engine struct {
	store     store.Store
	ledger    Ledger
	publisher Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func NewEngine(st store.Store, ledger Ledger, publisher Publisher, m *metrics.Metrics, log *zap.Logger) *Engine {
	return &Engine{
		store:     st,
		ledger:    ledger,
		publisher: publisher,
		metrics:   m,
		log:       log,
	}
}

// CreateOrder validates and persists a new order. Market orders execute
// against the ledger synchronously and are persisted already executed; a
// ledger rejection persists nothing. Conditional orders persist pending.
func (e *Engine) CreateOrder(ctx context.Context, req CreateOrderRequest) (*models.Order, error) {
	o, err := e.buildOrder(req)
	if err != nil {
		return nil, err
	}

	if o.OrderType == models.OrderTypeMarket {
		return e.executeMarketOrder(ctx, o)
	}

	if err := e.store.Insert(ctx, o); err != nil {
		return nil, err
	}
	e.metrics.OrdersCreated.Inc()
	e.publisher.PublishOrderEvent(models.NewOrderCreatedEvent(o))
	e.log.Info("order created",
		zap.String("order_id", o.ID.Hex()),
		zap.String("portfolio_id", o.PortfolioID),
		zap.String("symbol", o.Symbol),
		zap.String("type", string(o.OrderType)),
		zap.String("side", string(o.Side)),
		zap.Float64("trigger_price", o.TriggerPrice))
	return o, nil
}

func (e *Engine) buildOrder(req CreateOrderRequest) (*models.Order, error) {
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" {
		return nil, invalid("symbol", "must not be empty")
	}
	if req.PortfolioID == "" {
		return nil, invalid("portfolioId", "must not be empty")
	}
	if !req.Side.Valid() {
		return nil, invalid("side", "must be buy or sell")
	}
	if !req.OrderType.Valid() {
		return nil, invalid("orderType", "must be market, limit, stop or stop_limit")
	}
	if req.Quantity <= 0 {
		return nil, invalid("quantity", "must be positive")
	}

	switch req.OrderType {
	case models.OrderTypeLimit:
		if req.LimitPrice <= 0 {
			return nil, invalid("limitPrice", "required for limit orders and must be positive")
		}
	case models.OrderTypeStop:
		if req.TriggerPrice <= 0 {
			return nil, invalid("triggerPrice", "required for stop orders and must be positive")
		}
	case models.OrderTypeStopLimit:
		if req.TriggerPrice <= 0 {
			return nil, invalid("triggerPrice", "required for stop-limit orders and must be positive")
		}
		if req.LimitPrice <= 0 {
			return nil, invalid("limitPrice", "required for stop-limit orders and must be positive")
		}
	}

	if req.TriggerDirection != "" &&
		req.TriggerDirection != models.TriggerOnFall &&
		req.TriggerDirection != models.TriggerOnRise {
		return nil, invalid("triggerDirection", "must be falls or rises")
	}

	tif := req.TimeInForce
	if tif == "" {
		tif = models.TIFGoodTilCancelled
	}
	switch tif {
	case models.TIFGoodTilCancelled:
	case models.TIFGoodTilDate:
		if req.ExpiresAt.IsZero() {
			return nil, invalid("expiresAt", "required for good-til-date orders")
		}
	default:
		return nil, invalid("timeInForce", "must be gtc or gtd")
	}

	now := time.Now()
	return &models.Order{
		ID:               primitive.NewObjectID(),
		PortfolioID:      req.PortfolioID,
		Symbol:           symbol,
		OrderType:        req.OrderType,
		Side:             req.Side,
		Quantity:         req.Quantity,
		LimitPrice:       req.LimitPrice,
		TriggerPrice:     req.TriggerPrice,
		TriggerDirection: req.TriggerDirection,
		TimeInForce:      tif,
		ExpiresAt:        req.ExpiresAt,
		Status:           models.StatusPending,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (e *Engine) executeMarketOrder(ctx context.Context, o *models.Order) (*models.Order, error) {
	res, err := e.ledger.Execute(ctx, o.PortfolioID, o.Symbol, o.Side, o.Quantity)
	if err != nil {
		e.log.Warn("market order rejected",
			zap.String("portfolio_id", o.PortfolioID),
			zap.String("symbol", o.Symbol),
			zap.Error(err))
		return nil, &ExecutionError{OrderID: o.ID.Hex(), Cause: err}
	}

	now := time.Now()
	o.Status = models.StatusExecuted
	o.ExecutedAt = now
	o.UpdatedAt = now
	o.ExecutionPrice = res.Price
	o.ExecutionQuantity = res.Quantity
	o.Commission = res.Commission

	if err := e.store.Insert(ctx, o); err != nil {
		return nil, err
	}
	e.metrics.OrdersCreated.Inc()
	e.metrics.OrdersExecuted.Inc()
	e.publisher.PublishOrderEvent(models.NewOrderExecutedEvent(o, res))
	e.log.Info("market order executed",
		zap.String("order_id", o.ID.Hex()),
		zap.String("symbol", o.Symbol),
		zap.Float64("price", res.Price),
		zap.Int("quantity", res.Quantity))
	return o, nil
}

// CancelOrder moves a pending order to cancelled. Cancelling an
// already-cancelled order is idempotent: the terminal order is returned and no
// second event is emitted. A triggered order is mid-execution and refuses
// cancellation so the fill can never race the cancel; callers observe
// InvalidStateError and poll for the outcome.
func (e *Engine) CancelOrder(ctx context.Context, orderID, reason string) (*models.Order, error) {
	if reason == "" {
		reason = "cancelled by user"
	}

	o, err := e.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch o.Status {
	case models.StatusCancelled:
		return o, nil
	case models.StatusPending:
	default:
		return nil, &InvalidStateError{OrderID: orderID, Status: o.Status}
	}

	updated, err := e.store.UpdateStatus(ctx, orderID, models.StatusPending, models.StatusCancelled, store.StatusUpdate{
		CancelReason: store.StringPtr(reason),
	})
	if errors.Is(err, store.ErrConflict) {
		// The monitor (or another cancel) got there first; report what
		// actually happened.
		current, getErr := e.store.Get(ctx, orderID)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status == models.StatusCancelled {
			return current, nil
		}
		return nil, &InvalidStateError{OrderID: orderID, Status: current.Status}
	}
	if err != nil {
		return nil, err
	}

	e.metrics.OrdersCancelled.Inc()
	e.publisher.PublishOrderEvent(models.NewOrderCancelledEvent(updated, reason))
	e.log.Info("order cancelled",
		zap.String("order_id", orderID),
		zap.String("reason", reason))

	e.cancelChildren(ctx, updated, "entry cancelled")
	return updated, nil
}

// CreateBracketOrder creates an entry order plus stop-loss and take-profit
// exits linked to it. The exits persist pending but inactive; they become
// monitorable only once the entry executes. A market entry executes here, so
// its exits activate immediately.
func (e *Engine) CreateBracketOrder(ctx context.Context, entryReq CreateOrderRequest, stopLossTrigger, takeProfitTrigger float64) (*Bracket, error) {
	if stopLossTrigger <= 0 {
		return nil, invalid("stopLossTriggerPrice", "must be positive")
	}
	if takeProfitTrigger <= 0 {
		return nil, invalid("takeProfitTriggerPrice", "must be positive")
	}
	if entryReq.Side == models.SideBuy && stopLossTrigger >= takeProfitTrigger {
		return nil, invalid("stopLossTriggerPrice", "must be below takeProfitTriggerPrice for a buy entry")
	}
	if entryReq.Side == models.SideSell && stopLossTrigger <= takeProfitTrigger {
		return nil, invalid("stopLossTriggerPrice", "must be above takeProfitTriggerPrice for a sell entry")
	}

	entry, err := e.buildOrder(entryReq)
	if err != nil {
		return nil, err
	}
	bracketID := uuid.NewString()
	entry.BracketID = bracketID
	entry.Role = models.RoleEntry

	if entry.OrderType == models.OrderTypeMarket {
		entry, err = e.executeMarketOrder(ctx, entry)
	} else {
		err = e.store.Insert(ctx, entry)
		if err == nil {
			e.metrics.OrdersCreated.Inc()
			e.publisher.PublishOrderEvent(models.NewOrderCreatedEvent(entry))
		}
	}
	if err != nil {
		return nil, err
	}

	childrenActive := entry.Status == models.StatusExecuted
	exitSide := entry.Side.Opposite()

	stopLoss := e.newChildOrder(entry, bracketID, models.RoleStopLoss, exitSide, stopLossTrigger, childrenActive)
	takeProfit := e.newChildOrder(entry, bracketID, models.RoleTakeProfit, exitSide, takeProfitTrigger, childrenActive)

	if err := e.store.Insert(ctx, stopLoss); err != nil {
		return nil, err
	}
	if err := e.store.Insert(ctx, takeProfit); err != nil {
		return nil, err
	}
	e.metrics.OrdersCreated.Add(2)
	e.publisher.PublishOrderEvent(models.NewOrderCreatedEvent(stopLoss))
	e.publisher.PublishOrderEvent(models.NewOrderCreatedEvent(takeProfit))

	e.log.Info("bracket created",
		zap.String("bracket_id", bracketID),
		zap.String("entry_id", entry.ID.Hex()),
		zap.Float64("stop_loss", stopLossTrigger),
		zap.Float64("take_profit", takeProfitTrigger),
		zap.Bool("exits_active", childrenActive))

	return &Bracket{Entry: entry, StopLoss: stopLoss, TakeProfit: takeProfit}, nil
}

func (e *Engine) newChildOrder(entry *models.Order, bracketID string, role models.OrderRole, side models.OrderSide, trigger float64, active bool) *models.Order {
	now := time.Now()
	return &models.Order{
		ID:            primitive.NewObjectID(),
		PortfolioID:   entry.PortfolioID,
		Symbol:        entry.Symbol,
		OrderType:     models.OrderTypeStop,
		Side:          side,
		Quantity:      entry.Quantity,
		TriggerPrice:  trigger,
		TimeInForce:   entry.TimeInForce,
		ExpiresAt:     entry.ExpiresAt,
		Status:        models.StatusPending,
		BracketID:     bracketID,
		ParentOrderID: entry.ID.Hex(),
		Role:          role,
		Active:        active,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ExecuteTriggeredOrder fills an order the monitor has already claimed
// (status triggered). On ledger success the order becomes executed, a bracket
// sibling is cancelled and a parent's exits are activated; on ledger failure
// the order becomes cancelled with the cause recorded, never retried.
func (e *Engine) ExecuteTriggeredOrder(ctx context.Context, orderID string) (*models.Order, error) {
	o, err := e.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != models.StatusTriggered {
		return nil, &InvalidStateError{OrderID: orderID, Status: o.Status}
	}

	res, err := e.ledger.Execute(ctx, o.PortfolioID, o.Symbol, o.Side, o.Quantity)
	if err != nil {
		return nil, e.failExecution(ctx, o, err)
	}

	now := time.Now()
	updated, err := e.store.UpdateStatus(ctx, orderID, models.StatusTriggered, models.StatusExecuted, store.StatusUpdate{
		ExecutedAt:        store.TimePtr(now),
		ExecutionPrice:    store.Float64Ptr(res.Price),
		ExecutionQuantity: store.IntPtr(res.Quantity),
		Commission:        store.Float64Ptr(res.Commission),
	})
	if err != nil {
		// The ledger already moved money; a conflict here means the recovery
		// sweep or a crash raced us. Surface it, the order history will show
		// the discrepancy.
		e.log.Error("executed order lost status race",
			zap.String("order_id", orderID), zap.Error(err))
		return nil, err
	}

	e.metrics.OrdersExecuted.Inc()
	e.publisher.PublishOrderEvent(models.NewOrderExecutedEvent(updated, res))
	e.log.Info("order executed",
		zap.String("order_id", orderID),
		zap.String("symbol", updated.Symbol),
		zap.Float64("price", res.Price),
		zap.Int("quantity", res.Quantity),
		zap.Float64("commission", res.Commission))

	switch updated.Role {
	case models.RoleEntry:
		if err := e.store.ActivateChildren(ctx, updated.ID.Hex()); err != nil {
			e.log.Error("activating bracket exits failed",
				zap.String("entry_id", updated.ID.Hex()), zap.Error(err))
		}
	case models.RoleStopLoss, models.RoleTakeProfit:
		e.cancelSibling(ctx, updated)
	}

	return updated, nil
}

func (e *Engine) failExecution(ctx context.Context, o *models.Order, cause error) error {
	reason := "execution failed: " + cause.Error()
	updated, err := e.store.UpdateStatus(ctx, o.ID.Hex(), models.StatusTriggered, models.StatusCancelled, store.StatusUpdate{
		CancelReason: store.StringPtr(reason),
	})
	if err != nil {
		e.log.Error("recording execution failure failed",
			zap.String("order_id", o.ID.Hex()), zap.Error(err))
		return &ExecutionError{OrderID: o.ID.Hex(), Cause: cause}
	}

	e.metrics.ExecutionFailures.Inc()
	e.metrics.OrdersCancelled.Inc()
	e.publisher.PublishOrderEvent(models.NewOrderExecutionFailedEvent(updated, reason))
	e.log.Warn("triggered order failed to execute",
		zap.String("order_id", o.ID.Hex()),
		zap.String("symbol", o.Symbol),
		zap.Error(cause))

	e.cancelChildren(ctx, updated, "entry cancelled")
	return &ExecutionError{OrderID: o.ID.Hex(), Cause: cause}
}

// cancelChildren retires the pending exits of an entry that reached a terminal
// state without executing. With no position to protect they must never become
// active. No-op for non-entry orders.
func (e *Engine) cancelChildren(ctx context.Context, entry *models.Order, reason string) {
	if entry.Role != models.RoleEntry {
		return
	}
	children, err := e.store.FindChildren(ctx, entry.ID.Hex())
	if err != nil {
		e.log.Error("loading bracket children failed",
			zap.String("entry_id", entry.ID.Hex()), zap.Error(err))
		return
	}
	for i := range children {
		child := &children[i]
		if child.Status.Terminal() {
			continue
		}
		updated, err := e.store.UpdateStatus(ctx, child.ID.Hex(), child.Status, models.StatusCancelled, store.StatusUpdate{
			CancelReason: store.StringPtr(reason),
		})
		if err != nil {
			e.log.Warn("cancelling bracket child failed",
				zap.String("child_id", child.ID.Hex()), zap.Error(err))
			continue
		}
		e.metrics.OrdersCancelled.Inc()
		e.publisher.PublishOrderEvent(models.NewOrderCancelledEvent(updated, reason))
		e.log.Info("bracket child cancelled",
			zap.String("child_id", child.ID.Hex()),
			zap.String("reason", reason))
	}
}

// cancelSibling enforces bracket mutual exclusion: once one exit executes,
// the position it protected is gone and the other exit must not fire.
func (e *Engine) cancelSibling(ctx context.Context, executed *models.Order) {
	siblings, err := e.store.FindChildren(ctx, executed.ParentOrderID)
	if err != nil {
		e.log.Error("loading bracket siblings failed",
			zap.String("parent_id", executed.ParentOrderID), zap.Error(err))
		return
	}
	for i := range siblings {
		sib := &siblings[i]
		if sib.ID == executed.ID || sib.Status.Terminal() {
			continue
		}
		reason := "sibling executed"
		updated, err := e.store.UpdateStatus(ctx, sib.ID.Hex(), sib.Status, models.StatusCancelled, store.StatusUpdate{
			CancelReason: store.StringPtr(reason),
		})
		if err != nil {
			e.log.Warn("cancelling bracket sibling failed",
				zap.String("sibling_id", sib.ID.Hex()), zap.Error(err))
			continue
		}
		e.metrics.OrdersCancelled.Inc()
		e.publisher.PublishOrderEvent(models.NewOrderCancelledEvent(updated, reason))
		e.log.Info("bracket sibling cancelled", zap.String("sibling_id", sib.ID.Hex()))
	}
}

// ListOrders returns a portfolio's orders, optionally filtered by status.
func (e *Engine) ListOrders(ctx context.Context, portfolioID string, status models.OrderStatus) ([]models.Order, error) {
	return e.store.FindByPortfolio(ctx, portfolioID, status)
}

// GetOrder looks up a single order.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return e.store.Get(ctx, orderID)
}
