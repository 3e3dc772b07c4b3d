package orders

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"paper-trader/internal/metrics"
	"paper-trader/internal/models"
	"paper-trader/internal/store"
)

// MonitorConfig tunes the scan cadences and the stale-trigger windows.
type MonitorConfig struct {
	Interval         time.Duration // trigger scan
	ExpiryInterval   time.Duration // time-in-force sweep
	RecoveryInterval time.Duration // stale-trigger sweep
	TriggerGrace     time.Duration // triggered older than this resets to pending
	TriggerDeadline  time.Duration // triggered older than this is cancelled
	OracleTimeout    time.Duration
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval:         5 * time.Second,
		ExpiryInterval:   time.Hour,
		RecoveryInterval: time.Minute,
		TriggerGrace:     30 * time.Second,
		TriggerDeadline:  5 * time.Minute,
		OracleTimeout:    10 * time.Second,
	}
}

// Monitor is the read-evaluate-act loop over pending orders. It holds no
// state of its own beyond a per-tick price cache; every transition it makes
// goes through the store's conditional update, so multiple monitors can run
// against the same store without double-executing an order.
type Monitor struct {
	store     store.Store
	engine    *Engine
	oracle    PriceOracle
	publisher Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger
	cfg       MonitorConfig
}

func NewMonitor(st store.Store, engine *Engine, oracle PriceOracle, publisher Publisher, m *metrics.Metrics, log *zap.Logger, cfg MonitorConfig) *Monitor {
	return &Monitor{
		store:     st,
		engine:    engine,
		oracle:    oracle,
		publisher: publisher,
		metrics:   m,
		log:       log,
		cfg:       cfg,
	}
}

// Run blocks until ctx is done, driving the three sweeps on their intervals.
func (m *Monitor) Run(ctx context.Context) {
	tick := time.NewTicker(m.cfg.Interval)
	expiry := time.NewTicker(m.cfg.ExpiryInterval)
	recovery := time.NewTicker(m.cfg.RecoveryInterval)
	defer tick.Stop()
	defer expiry.Stop()
	defer recovery.Stop()

	m.log.Info("trigger monitor started",
		zap.Duration("interval", m.cfg.Interval),
		zap.Duration("expiry_interval", m.cfg.ExpiryInterval))

	for {
		select {
		case <-ctx.Done():
			m.log.Info("trigger monitor stopped")
			return
		case <-tick.C:
			m.Tick(ctx)
		case <-expiry.C:
			m.SweepExpired(ctx)
		case <-recovery.C:
			m.RecoverStale(ctx)
		}
	}
}

// Tick runs one trigger scan: fetch pending orders, evaluate each against the
// current price in ascending order-id order, claim matches via a
// pending-to-triggered compare-and-set, and hand claimed orders to the engine.
func (m *Monitor) Tick(ctx context.Context) {
	start := time.Now()
	defer func() { m.metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	pending, err := m.store.FindByStatus(ctx, models.StatusPending)
	if err != nil {
		m.log.Error("listing pending orders failed", zap.Error(err))
		return
	}

	prices := make(map[string]float64)
	failed := make(map[string]bool)

	for i := range pending {
		o := &pending[i]
		if !o.Active {
			// Bracket exit whose entry has not filled yet.
			continue
		}
		if o.Expired(start) {
			// Left for the expiry sweep; must not trigger.
			continue
		}

		price, ok := prices[o.Symbol]
		if !ok {
			if failed[o.Symbol] {
				continue
			}
			price, err = m.fetchPrice(ctx, o.Symbol)
			if err != nil {
				// Oracle trouble is transient: leave the order pending and
				// retry next tick.
				m.log.Warn("price fetch failed, skipping symbol this tick",
					zap.String("symbol", o.Symbol), zap.Error(err))
				failed[o.Symbol] = true
				continue
			}
			prices[o.Symbol] = price
		}

		if !m.evaluate(ctx, o, price) {
			continue
		}

		m.claimAndExecute(ctx, o, price)
	}
}

func (m *Monitor) fetchPrice(ctx context.Context, symbol string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.OracleTimeout)
	defer cancel()
	price, _, err := m.oracle.GetLastPrice(ctx, symbol)
	return price, err
}

// evaluate decides whether the order's condition is met at price. Stop-limit
// orders arm on the stop condition first and then additionally require the
// limit condition; a price past the limit before arming leaves them pending.
func (m *Monitor) evaluate(ctx context.Context, o *models.Order, price float64) bool {
	if o.OrderType != models.OrderTypeStopLimit {
		return o.ConditionMet(price)
	}

	if !o.Armed {
		if !o.ConditionMet(price) {
			return false
		}
		if err := m.store.SetArmed(ctx, o.ID.Hex()); err != nil {
			m.log.Warn("arming stop-limit failed",
				zap.String("order_id", o.ID.Hex()), zap.Error(err))
			return false
		}
		o.Armed = true
	}
	return o.LimitSatisfied(price)
}

func (m *Monitor) claimAndExecute(ctx context.Context, o *models.Order, price float64) {
	now := time.Now()
	claimed, err := m.store.UpdateStatus(ctx, o.ID.Hex(), models.StatusPending, models.StatusTriggered, store.StatusUpdate{
		TriggeredAt: store.TimePtr(now),
	})
	if errors.Is(err, store.ErrConflict) {
		// A concurrent tick or a cancellation already claimed the order.
		m.metrics.TriggerConflicts.Inc()
		return
	}
	if err != nil {
		m.log.Error("claiming order failed",
			zap.String("order_id", o.ID.Hex()), zap.Error(err))
		return
	}

	m.publisher.PublishOrderEvent(models.NewOrderTriggeredEvent(claimed))
	m.log.Info("order triggered",
		zap.String("order_id", claimed.ID.Hex()),
		zap.String("symbol", claimed.Symbol),
		zap.Float64("price", price),
		zap.Float64("trigger_price", claimed.TriggerLevel()))

	if _, err := m.engine.ExecuteTriggeredOrder(ctx, claimed.ID.Hex()); err != nil {
		// Already recorded on the order and published; nothing to retry.
		m.log.Warn("triggered order did not execute",
			zap.String("order_id", claimed.ID.Hex()), zap.Error(err))
	}
}

// SweepExpired moves pending good-til-date orders past their deadline to
// expired. Expired orders are immune to further trigger evaluation.
func (m *Monitor) SweepExpired(ctx context.Context) {
	now := time.Now()
	lapsed, err := m.store.FindExpired(ctx, now)
	if err != nil {
		m.log.Error("listing expired orders failed", zap.Error(err))
		return
	}

	for i := range lapsed {
		o := &lapsed[i]
		updated, err := m.store.UpdateStatus(ctx, o.ID.Hex(), models.StatusPending, models.StatusExpired, store.StatusUpdate{})
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		if err != nil {
			m.log.Error("expiring order failed",
				zap.String("order_id", o.ID.Hex()), zap.Error(err))
			continue
		}
		m.metrics.OrdersExpired.Inc()
		m.publisher.PublishOrderEvent(models.NewOrderExpiredEvent(updated))
		m.log.Info("order expired",
			zap.String("order_id", o.ID.Hex()),
			zap.Time("expires_at", o.ExpiresAt))
		m.engine.cancelChildren(ctx, updated, "entry expired")
	}
}

// RecoverStale handles orders stuck in triggered after a crash or timeout
// mid-execution: within the deadline they go back to pending for
// re-evaluation, beyond it they are cancelled.
func (m *Monitor) RecoverStale(ctx context.Context) {
	now := time.Now()
	stale, err := m.store.FindStaleTriggered(ctx, now.Add(-m.cfg.TriggerGrace))
	if err != nil {
		m.log.Error("listing stale triggered orders failed", zap.Error(err))
		return
	}

	for i := range stale {
		o := &stale[i]
		if now.Sub(o.TriggeredAt) > m.cfg.TriggerDeadline {
			reason := "stale trigger"
			updated, err := m.store.UpdateStatus(ctx, o.ID.Hex(), models.StatusTriggered, models.StatusCancelled, store.StatusUpdate{
				CancelReason: store.StringPtr(reason),
			})
			if err != nil {
				continue
			}
			m.metrics.OrdersCancelled.Inc()
			m.publisher.PublishOrderEvent(models.NewOrderCancelledEvent(updated, reason))
			m.log.Warn("stale triggered order cancelled",
				zap.String("order_id", o.ID.Hex()),
				zap.Time("triggered_at", o.TriggeredAt))
			m.engine.cancelChildren(ctx, updated, "entry cancelled")
			continue
		}

		if _, err := m.store.UpdateStatus(ctx, o.ID.Hex(), models.StatusTriggered, models.StatusPending, store.StatusUpdate{
			TriggeredAt: store.TimePtr(time.Time{}),
		}); err != nil {
			continue
		}
		m.log.Warn("stale triggered order reset to pending",
			zap.String("order_id", o.ID.Hex()),
			zap.Time("triggered_at", o.TriggeredAt))
	}
}
