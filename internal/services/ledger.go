package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"paper-trader/config"
	"paper-trader/internal/models"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
)

const (
	commissionRate = 0.001 // 0.1% of notional
	commissionMin  = 1.0
)

// Ledger performs the actual cash and position mutation for a fill. Fills
// happen at the oracle's current price. Execution is serialized per portfolio
// so two orders triggering in the same tick cannot both spend the same cash.
type Ledger struct {
	users     *mongo.Collection
	positions *mongo.Collection
	market    *MarketDataService
	log       *zap.Logger
	timeout   time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLedger(market *MarketDataService, log *zap.Logger, timeout time.Duration) *Ledger {
	return &Ledger{
		users:     config.GetCollection("users"),
		positions: config.GetCollection("portfolio"),
		market:    market,
		log:       log,
		timeout:   timeout,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) portfolioLock(portfolioID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[portfolioID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[portfolioID] = lock
	}
	return lock
}

// Execute fills a buy or sell against the portfolio at the current market
// price, charging commission on both sides.
func (l *Ledger) Execute(ctx context.Context, portfolioID, symbol string, side models.OrderSide, quantity int) (*models.ExecutionResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", quantity)
	}

	lock := l.portfolioLock(portfolioID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	price, _, err := l.market.GetLastPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("price for %s: %w", symbol, err)
	}

	notional := price * float64(quantity)
	commission := commissionRate * notional
	if commission < commissionMin {
		commission = commissionMin
	}

	switch side {
	case models.SideBuy:
		err = l.executeBuy(ctx, portfolioID, symbol, quantity, price, notional, commission)
	case models.SideSell:
		err = l.executeSell(ctx, portfolioID, symbol, quantity, price, notional, commission)
	default:
		err = fmt.Errorf("invalid side: %s", side)
	}
	if err != nil {
		return nil, err
	}

	l.log.Info("fill executed",
		zap.String("portfolio_id", portfolioID),
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Int("quantity", quantity),
		zap.Float64("price", price),
		zap.Float64("commission", commission))

	return &models.ExecutionResult{Price: price, Quantity: quantity, Commission: commission}, nil
}

func (l *Ledger) executeBuy(ctx context.Context, portfolioID, symbol string, quantity int, price, notional, commission float64) error {
	cash, err := l.CashBalance(ctx, portfolioID)
	if err != nil {
		return err
	}
	cost := notional + commission
	if cash < cost {
		return fmt.Errorf("%w: have $%.2f, need $%.2f", ErrInsufficientFunds, cash, cost)
	}

	// Cash moves first since it carries the funds check; a failed position
	// write below is compensated by crediting the debit back.
	if err := l.adjustCash(ctx, portfolioID, -cost); err != nil {
		return err
	}

	var pos models.Position
	err = l.positions.FindOne(ctx, bson.M{
		"portfolio_id": portfolioID,
		"symbol":       symbol,
	}).Decode(&pos)

	if err == mongo.ErrNoDocuments {
		pos = models.Position{
			ID:          primitive.NewObjectID(),
			PortfolioID: portfolioID,
			Symbol:      symbol,
			Shares:      quantity,
			AvgCost:     price,
		}
		_, err = l.positions.InsertOne(ctx, pos)
	} else if err == nil {
		totalCost := pos.AvgCost*float64(pos.Shares) + notional
		totalShares := pos.Shares + quantity
		_, err = l.positions.UpdateOne(ctx,
			bson.M{"_id": pos.ID},
			bson.M{"$set": bson.M{
				"shares":   totalShares,
				"avg_cost": totalCost / float64(totalShares),
			}},
		)
	}
	if err != nil {
		if refundErr := l.adjustCash(ctx, portfolioID, cost); refundErr != nil {
			l.log.Error("refund after failed position write failed",
				zap.String("portfolio_id", portfolioID),
				zap.Float64("amount", cost),
				zap.Error(refundErr))
		}
		return fmt.Errorf("update position: %w", err)
	}

	return nil
}

func (l *Ledger) executeSell(ctx context.Context, portfolioID, symbol string, quantity int, price, notional, commission float64) error {
	var pos models.Position
	err := l.positions.FindOne(ctx, bson.M{
		"portfolio_id": portfolioID,
		"symbol":       symbol,
	}).Decode(&pos)
	if err == mongo.ErrNoDocuments {
		return fmt.Errorf("%w: no %s position", ErrInsufficientShares, symbol)
	}
	if err != nil {
		return fmt.Errorf("load position: %w", err)
	}
	if pos.Shares < quantity {
		return fmt.Errorf("%w: have %d, want %d", ErrInsufficientShares, pos.Shares, quantity)
	}

	remaining := pos.Shares - quantity
	if remaining == 0 {
		_, err = l.positions.DeleteOne(ctx, bson.M{"_id": pos.ID})
	} else {
		_, err = l.positions.UpdateOne(ctx,
			bson.M{"_id": pos.ID},
			bson.M{"$set": bson.M{"shares": remaining}},
		)
	}
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}

	return l.adjustCash(ctx, portfolioID, notional-commission)
}

func (l *Ledger) adjustCash(ctx context.Context, portfolioID string, delta float64) error {
	userID, err := primitive.ObjectIDFromHex(portfolioID)
	if err != nil {
		return fmt.Errorf("invalid portfolio id %q", portfolioID)
	}
	_, err = l.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$inc": bson.M{"cash_balance": delta}},
	)
	if err != nil {
		return fmt.Errorf("adjust cash: %w", err)
	}
	return nil
}

// CashBalance returns the portfolio's free cash.
func (l *Ledger) CashBalance(ctx context.Context, portfolioID string) (float64, error) {
	userID, err := primitive.ObjectIDFromHex(portfolioID)
	if err != nil {
		return 0, fmt.Errorf("invalid portfolio id %q", portfolioID)
	}
	var u models.User
	if err := l.users.FindOne(ctx, bson.M{"_id": userID}).Decode(&u); err != nil {
		return 0, fmt.Errorf("load user: %w", err)
	}
	return u.CashBalance, nil
}

// Positions lists the portfolio's open positions.
func (l *Ledger) Positions(ctx context.Context, portfolioID string) ([]models.Position, error) {
	cur, err := l.positions.Find(ctx, bson.M{"portfolio_id": portfolioID})
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer cur.Close(ctx)
	var list []models.Position
	if err := cur.All(ctx, &list); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	return list, nil
}

// PortfolioValue marks open positions to the current market price.
func (l *Ledger) PortfolioValue(ctx context.Context, portfolioID string) (float64, error) {
	positions, err := l.Positions(ctx, portfolioID)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for _, p := range positions {
		price, _, err := l.market.GetLastPrice(ctx, p.Symbol)
		if err != nil {
			l.log.Warn("marking position failed",
				zap.String("symbol", p.Symbol), zap.Error(err))
			continue
		}
		total += price * float64(p.Shares)
	}
	return total, nil
}
