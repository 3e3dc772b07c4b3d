package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"paper-trader/internal/metrics"
	"paper-trader/internal/models"
	"paper-trader/internal/store"
)

// fakeOracle serves scripted prices per symbol.
type fakeOracle struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{prices: make(map[string]float64)}
}

func (f *fakeOracle) set(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

func (f *fakeOracle) GetLastPrice(_ context.Context, symbol string) (float64, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, time.Time{}, f.err
	}
	price, ok := f.prices[symbol]
	if !ok {
		return 0, time.Time{}, errors.New("symbol not found")
	}
	return price, time.Now(), nil
}

// fakeLedger fills at a fixed price with a flat $1 commission. With a cash
// balance set it enforces funds like the real ledger; without one every fill
// succeeds. Setting entered/release lets a test hold a fill in flight.
type fakeLedger struct {
	mu    sync.Mutex
	price float64
	cash  map[string]float64
	fail  error
	calls int

	entered chan struct{} // receives once a fill is in flight
	release chan struct{} // when set, fills block until it is closed
}

func newFakeLedger(price float64) *fakeLedger {
	return &fakeLedger{price: price}
}

func (f *fakeLedger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeLedger) Execute(_ context.Context, portfolioID, _ string, side models.OrderSide, quantity int) (*models.ExecutionResult, error) {
	f.mu.Lock()
	f.calls++
	entered, release := f.entered, f.release
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}

	const commission = 1.0
	notional := f.price * float64(quantity)

	if f.cash != nil {
		if side == models.SideBuy {
			cost := notional + commission
			if f.cash[portfolioID] < cost {
				return nil, fmt.Errorf("insufficient funds: have $%.2f, need $%.2f", f.cash[portfolioID], cost)
			}
			f.cash[portfolioID] -= cost
		} else {
			f.cash[portfolioID] += notional - commission
		}
	}

	return &models.ExecutionResult{Price: f.price, Quantity: quantity, Commission: commission}, nil
}

// fakePublisher records emitted events.
type fakePublisher struct {
	mu     sync.Mutex
	events []models.OrderEvent
}

func (f *fakePublisher) PublishOrderEvent(event models.OrderEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakePublisher) count(t models.EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (f *fakePublisher) countFor(t models.EventType, orderID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Type == t && e.OrderID == orderID {
			n++
		}
	}
	return n
}

type harness struct {
	store     *store.MemoryStore
	oracle    *fakeOracle
	ledger    *fakeLedger
	publisher *fakePublisher
	engine    *Engine
	monitor   *Monitor
}

func newHarness(fillPrice float64) *harness {
	st := store.NewMemoryStore()
	oracle := newFakeOracle()
	ledger := newFakeLedger(fillPrice)
	publisher := &fakePublisher{}
	m := metrics.New()
	logger := zap.NewNop()

	engine := NewEngine(st, ledger, publisher, m, logger)
	monitor := NewMonitor(st, engine, oracle, publisher, m, logger, DefaultMonitorConfig())

	return &harness{
		store:     st,
		oracle:    oracle,
		ledger:    ledger,
		publisher: publisher,
		engine:    engine,
		monitor:   monitor,
	}
}

func stopBuyRequest(portfolioID, symbol string, trigger float64, qty int) CreateOrderRequest {
	return CreateOrderRequest{
		PortfolioID:  portfolioID,
		Symbol:       symbol,
		OrderType:    models.OrderTypeStop,
		Side:         models.SideBuy,
		Quantity:     qty,
		TriggerPrice: trigger,
	}
}

func stopSellRequest(portfolioID, symbol string, trigger float64, qty int) CreateOrderRequest {
	return CreateOrderRequest{
		PortfolioID:  portfolioID,
		Symbol:       symbol,
		OrderType:    models.OrderTypeStop,
		Side:         models.SideSell,
		Quantity:     qty,
		TriggerPrice: trigger,
	}
}
