package orders

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paper-trader/internal/models"
	"paper-trader/internal/store"
)

func TestCreateOrderValidation(t *testing.T) {
	h := newHarness(100)
	ctx := context.Background()

	cases := []struct {
		name  string
		req   CreateOrderRequest
		field string
	}{
		{"empty symbol", CreateOrderRequest{PortfolioID: "p1", Side: models.SideBuy, OrderType: models.OrderTypeMarket, Quantity: 1}, "symbol"},
		{"missing portfolio", CreateOrderRequest{Symbol: "AAPL", Side: models.SideBuy, OrderType: models.OrderTypeMarket, Quantity: 1}, "portfolioId"},
		{"bad side", CreateOrderRequest{PortfolioID: "p1", Symbol: "AAPL", Side: "hold", OrderType: models.OrderTypeMarket, Quantity: 1}, "side"},
		{"bad type", CreateOrderRequest{PortfolioID: "p1", Symbol: "AAPL", Side: models.SideBuy, OrderType: "iceberg", Quantity: 1}, "orderType"},
		{"zero quantity", CreateOrderRequest{PortfolioID: "p1", Symbol: "AAPL", Side: models.SideBuy, OrderType: models.OrderTypeMarket, Quantity: 0}, "quantity"},
		{"negative quantity", CreateOrderRequest{PortfolioID: "p1", Symbol: "AAPL", Side: models.SideBuy, OrderType: models.OrderTypeMarket, Quantity: -5}, "quantity"},
		{"limit without price", CreateOrderRequest{PortfolioID: "p1", Symbol: "AAPL", Side: models.SideBuy, OrderType: models.OrderTypeLimit, Quantity: 1}, "limitPrice"},
		{"stop without trigger", CreateOrderRequest{PortfolioID: "p1", Symbol: "AAPL", Side: models.SideSell, OrderType: models.OrderTypeStop, Quantity: 1}, "triggerPrice"},
		{"stop negative trigger", CreateOrderRequest{PortfolioID: "p1", Symbol: "AAPL", Side: models.SideSell, OrderType: models.OrderTypeStop, Quantity: 1, TriggerPrice: -10}, "triggerPrice"},
		{"stop-limit without limit", CreateOrderRequest{PortfolioID: "p1", Symbol: "AAPL", Side: models.SideBuy, OrderType: models.OrderTypeStopLimit, Quantity: 1, TriggerPrice: 50}, "limitPrice"},
		{"gtd without deadline", CreateOrderRequest{PortfolioID: "p1", Symbol: "AAPL", Side: models.SideBuy, OrderType: models.OrderTypeStop, Quantity: 1, TriggerPrice: 50, TimeInForce: models.TIFGoodTilDate}, "expiresAt"},
		{"bad direction", CreateOrderRequest{PortfolioID: "p1", Symbol: "AAPL", Side: models.SideBuy, OrderType: models.OrderTypeStop, Quantity: 1, TriggerPrice: 50, TriggerDirection: "sideways"}, "triggerDirection"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.CreateOrder(ctx, tc.req)
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tc.field, validationErr.Field)
		})
	}

	// Nothing persisted for rejected requests.
	pending, err := h.store.FindByStatus(ctx, models.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMarketOrderExecutesImmediately(t *testing.T) {
	h := newHarness(100)
	ctx := context.Background()

	o, err := h.engine.CreateOrder(ctx, CreateOrderRequest{
		PortfolioID: "p1",
		Symbol:      "aapl",
		OrderType:   models.OrderTypeMarket,
		Side:        models.SideBuy,
		Quantity:    5,
	})
	require.NoError(t, err)

	assert.Equal(t, models.StatusExecuted, o.Status)
	assert.Equal(t, "AAPL", o.Symbol)
	assert.Equal(t, 100.0, o.ExecutionPrice)
	assert.Equal(t, 5, o.ExecutionQuantity)
	assert.Equal(t, 1.0, o.Commission)
	assert.False(t, o.ExecutedAt.IsZero())

	// Never held the pending state.
	pending, err := h.store.FindByStatus(ctx, models.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.Equal(t, 1, h.publisher.count(models.EventOrderExecuted))
	assert.Equal(t, 0, h.publisher.count(models.EventOrderCreated))
}

func TestMarketOrderRejectionPersistsNothing(t *testing.T) {
	h := newHarness(100)
	h.ledger.cash = map[string]float64{"p1": 50} // can't afford 5 @ 100
	ctx := context.Background()

	_, err := h.engine.CreateOrder(ctx, CreateOrderRequest{
		PortfolioID: "p1",
		Symbol:      "AAPL",
		OrderType:   models.OrderTypeMarket,
		Side:        models.SideBuy,
		Quantity:    5,
	})
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)

	for _, status := range []models.OrderStatus{models.StatusPending, models.StatusExecuted, models.StatusCancelled} {
		list, err := h.store.FindByStatus(ctx, status)
		require.NoError(t, err)
		assert.Empty(t, list)
	}
}

func TestConditionalOrderPersistsPending(t *testing.T) {
	h := newHarness(100)
	ctx := context.Background()

	o, err := h.engine.CreateOrder(ctx, stopBuyRequest("p1", "XYZ", 50, 10))
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, o.Status)
	assert.True(t, o.Active)
	assert.Equal(t, models.TIFGoodTilCancelled, o.TimeInForce)
	assert.Equal(t, 0, h.ledger.callCount())
	assert.Equal(t, 1, h.publisher.count(models.EventOrderCreated))
}

func TestCancelOrder(t *testing.T) {
	h := newHarness(100)
	ctx := context.Background()

	o, err := h.engine.CreateOrder(ctx, stopBuyRequest("p1", "XYZ", 50, 10))
	require.NoError(t, err)

	cancelled, err := h.engine.CancelOrder(ctx, o.ID.Hex(), "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
	assert.Equal(t, "changed my mind", cancelled.CancelReason)
	assert.Equal(t, 1, h.publisher.count(models.EventOrderCancelled))
}

func TestCancelOrderIdempotent(t *testing.T) {
	h := newHarness(100)
	ctx := context.Background()

	o, err := h.engine.CreateOrder(ctx, stopBuyRequest("p1", "XYZ", 50, 10))
	require.NoError(t, err)

	first, err := h.engine.CancelOrder(ctx, o.ID.Hex(), "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, first.Status)

	second, err := h.engine.CancelOrder(ctx, o.ID.Hex(), "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, second.Status)
	assert.Equal(t, first.CancelReason, second.CancelReason)

	// No duplicate event for the second cancel.
	assert.Equal(t, 1, h.publisher.countFor(models.EventOrderCancelled, o.ID.Hex()))
}

func TestCancelTriggeredOrderRejected(t *testing.T) {
	h := newHarness(50)
	ctx := context.Background()

	o, err := h.engine.CreateOrder(ctx, stopBuyRequest("p1", "XYZ", 50, 10))
	require.NoError(t, err)
	_, err = h.store.UpdateStatus(ctx, o.ID.Hex(), models.StatusPending, models.StatusTriggered, store.StatusUpdate{})
	require.NoError(t, err)

	_, err = h.engine.CancelOrder(ctx, o.ID.Hex(), "")
	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.StatusTriggered, stateErr.Status)

	// Untouched: still claimed for execution, no cancel event.
	current, err := h.store.Get(ctx, o.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.StatusTriggered, current.Status)
	assert.Equal(t, 0, h.publisher.count(models.EventOrderCancelled))
}

func TestCancelDuringExecutionCannotSplitStateFromFill(t *testing.T) {
	// A cancel arriving while the ledger call is in flight must not produce a
	// cancelled order whose money moved.
	h := newHarness(50)
	h.ledger.cash = map[string]float64{"p1": 1000}
	h.ledger.entered = make(chan struct{}, 1)
	h.ledger.release = make(chan struct{})
	ctx := context.Background()

	o, err := h.engine.CreateOrder(ctx, stopBuyRequest("p1", "XYZ", 50, 10))
	require.NoError(t, err)
	_, err = h.store.UpdateStatus(ctx, o.ID.Hex(), models.StatusPending, models.StatusTriggered, store.StatusUpdate{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.ExecuteTriggeredOrder(ctx, o.ID.Hex())
		done <- err
	}()

	<-h.ledger.entered
	_, err = h.engine.CancelOrder(ctx, o.ID.Hex(), "too late")
	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.StatusTriggered, stateErr.Status)

	close(h.ledger.release)
	require.NoError(t, <-done)

	final, err := h.store.Get(ctx, o.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuted, final.Status)
	assert.Equal(t, 1000.0-500.0-1.0, h.ledger.cash["p1"])
	assert.Equal(t, 1, h.publisher.countFor(models.EventOrderExecuted, o.ID.Hex()))
	assert.Equal(t, 0, h.publisher.countFor(models.EventOrderCancelled, o.ID.Hex()))
}

func TestCancelEntryCancelsBracketChildren(t *testing.T) {
	h := newHarness(100)
	ctx := context.Background()

	bracket, err := h.engine.CreateBracketOrder(ctx, stopBuyRequest("p1", "XYZ", 100, 10), 90, 110)
	require.NoError(t, err)

	_, err = h.engine.CancelOrder(ctx, bracket.Entry.ID.Hex(), "")
	require.NoError(t, err)

	for _, id := range []string{bracket.StopLoss.ID.Hex(), bracket.TakeProfit.ID.Hex()} {
		child, err := h.store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, child.Status)
		assert.Equal(t, "entry cancelled", child.CancelReason)
	}
	// Entry + both exits.
	assert.Equal(t, 3, h.publisher.count(models.EventOrderCancelled))
}

func TestCancelExecutedOrderFails(t *testing.T) {
	h := newHarness(100)
	ctx := context.Background()

	o, err := h.engine.CreateOrder(ctx, CreateOrderRequest{
		PortfolioID: "p1",
		Symbol:      "AAPL",
		OrderType:   models.OrderTypeMarket,
		Side:        models.SideBuy,
		Quantity:    1,
	})
	require.NoError(t, err)

	_, err = h.engine.CancelOrder(ctx, o.ID.Hex(), "")
	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.StatusExecuted, stateErr.Status)
}

func TestCancelUnknownOrder(t *testing.T) {
	h := newHarness(100)

	_, err := h.engine.CancelOrder(context.Background(), "64f000000000000000000000", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateBracketOrderWithStopEntry(t *testing.T) {
	h := newHarness(100)
	ctx := context.Background()

	bracket, err := h.engine.CreateBracketOrder(ctx, stopBuyRequest("p1", "XYZ", 100, 10), 90, 110)
	require.NoError(t, err)

	require.NotNil(t, bracket.Entry)
	require.NotNil(t, bracket.StopLoss)
	require.NotNil(t, bracket.TakeProfit)

	assert.Equal(t, models.RoleEntry, bracket.Entry.Role)
	assert.Equal(t, models.StatusPending, bracket.Entry.Status)
	assert.True(t, bracket.Entry.Active)
	assert.NotEmpty(t, bracket.Entry.BracketID)

	for _, child := range []*models.Order{bracket.StopLoss, bracket.TakeProfit} {
		assert.Equal(t, bracket.Entry.ID.Hex(), child.ParentOrderID)
		assert.Equal(t, bracket.Entry.BracketID, child.BracketID)
		assert.Equal(t, models.StatusPending, child.Status)
		assert.False(t, child.Active, "exit legs must stay inactive until the entry fills")
		assert.Equal(t, models.SideSell, child.Side)
		assert.Equal(t, 10, child.Quantity)
	}
	assert.Equal(t, models.RoleStopLoss, bracket.StopLoss.Role)
	assert.Equal(t, 90.0, bracket.StopLoss.TriggerPrice)
	assert.Equal(t, models.RoleTakeProfit, bracket.TakeProfit.Role)
	assert.Equal(t, 110.0, bracket.TakeProfit.TriggerPrice)
}

func TestCreateBracketOrderWithMarketEntry(t *testing.T) {
	h := newHarness(100)
	ctx := context.Background()

	bracket, err := h.engine.CreateBracketOrder(ctx, CreateOrderRequest{
		PortfolioID: "p1",
		Symbol:      "XYZ",
		OrderType:   models.OrderTypeMarket,
		Side:        models.SideBuy,
		Quantity:    10,
	}, 90, 110)
	require.NoError(t, err)

	assert.Equal(t, models.StatusExecuted, bracket.Entry.Status)
	assert.True(t, bracket.StopLoss.Active, "market entry fills at creation, exits activate immediately")
	assert.True(t, bracket.TakeProfit.Active)
}

func TestCreateBracketOrderValidatesLevels(t *testing.T) {
	h := newHarness(100)
	ctx := context.Background()

	_, err := h.engine.CreateBracketOrder(ctx, stopBuyRequest("p1", "XYZ", 100, 10), 110, 90)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "stopLossTriggerPrice", validationErr.Field)
}

func TestExecuteTriggeredOrderSuccess(t *testing.T) {
	h := newHarness(50)
	ctx := context.Background()

	o, err := h.engine.CreateOrder(ctx, stopBuyRequest("p1", "XYZ", 50, 10))
	require.NoError(t, err)

	_, err = h.store.UpdateStatus(ctx, o.ID.Hex(), models.StatusPending, models.StatusTriggered, store.StatusUpdate{})
	require.NoError(t, err)

	executed, err := h.engine.ExecuteTriggeredOrder(ctx, o.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuted, executed.Status)
	assert.Equal(t, 50.0, executed.ExecutionPrice)
	assert.Equal(t, 10, executed.ExecutionQuantity)
	assert.Equal(t, 1, h.publisher.count(models.EventOrderExecuted))
}

func TestExecuteTriggeredOrderLedgerFailure(t *testing.T) {
	h := newHarness(50)
	h.ledger.fail = errors.New("insufficient shares: have 0, want 10")
	ctx := context.Background()

	o, err := h.engine.CreateOrder(ctx, stopSellRequest("p1", "XYZ", 50, 10))
	require.NoError(t, err)

	_, err = h.store.UpdateStatus(ctx, o.ID.Hex(), models.StatusPending, models.StatusTriggered, store.StatusUpdate{})
	require.NoError(t, err)

	_, err = h.engine.ExecuteTriggeredOrder(ctx, o.ID.Hex())
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)

	final, err := h.store.Get(ctx, o.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, final.Status)
	assert.Contains(t, final.CancelReason, "execution failed")
	assert.Contains(t, final.CancelReason, "insufficient shares")
	assert.Equal(t, 1, h.publisher.count(models.EventOrderExecutionFailed))

	// Not retried: a second call must refuse, the order is terminal.
	_, err = h.engine.ExecuteTriggeredOrder(ctx, o.ID.Hex())
	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, 1, h.ledger.callCount())
}

func TestExecuteRequiresTriggeredStatus(t *testing.T) {
	h := newHarness(50)
	ctx := context.Background()

	o, err := h.engine.CreateOrder(ctx, stopBuyRequest("p1", "XYZ", 50, 10))
	require.NoError(t, err)

	_, err = h.engine.ExecuteTriggeredOrder(ctx, o.ID.Hex())
	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, models.StatusPending, stateErr.Status)
	assert.Equal(t, 0, h.ledger.callCount())
}
