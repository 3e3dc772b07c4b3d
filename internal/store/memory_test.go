package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"paper-trader/internal/models"
)

func newPendingOrder(portfolioID, symbol string) *models.Order {
	now := time.Now()
	return &models.Order{
		ID:           primitive.NewObjectID(),
		PortfolioID:  portfolioID,
		Symbol:       symbol,
		OrderType:    models.OrderTypeStop,
		Side:         models.SideSell,
		Quantity:     10,
		TriggerPrice: 100,
		TimeInForce:  models.TIFGoodTilCancelled,
		Status:       models.StatusPending,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestMemoryStoreInsertAndGet(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	o := newPendingOrder("p1", "AAPL")
	require.NoError(t, st.Insert(ctx, o))

	got, err := st.Get(ctx, o.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, o.Symbol, got.Symbol)
	assert.Equal(t, models.StatusPending, got.Status)

	_, err = st.Get(ctx, primitive.NewObjectID().Hex())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	o := newPendingOrder("p1", "AAPL")
	require.NoError(t, st.Insert(ctx, o))

	got, err := st.Get(ctx, o.ID.Hex())
	require.NoError(t, err)
	got.Status = models.StatusExecuted

	reread, err := st.Get(ctx, o.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, reread.Status, "mutating a returned order must not touch the store")
}

func TestMemoryStoreUpdateStatusCAS(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	o := newPendingOrder("p1", "AAPL")
	require.NoError(t, st.Insert(ctx, o))

	now := time.Now()
	updated, err := st.UpdateStatus(ctx, o.ID.Hex(), models.StatusPending, models.StatusTriggered, StatusUpdate{
		TriggeredAt: TimePtr(now),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusTriggered, updated.Status)
	assert.WithinDuration(t, now, updated.TriggeredAt, time.Second)

	// Second actor expecting pending loses.
	_, err = st.UpdateStatus(ctx, o.ID.Hex(), models.StatusPending, models.StatusCancelled, StatusUpdate{})
	assert.ErrorIs(t, err, ErrConflict)

	// Unknown order.
	_, err = st.UpdateStatus(ctx, primitive.NewObjectID().Hex(), models.StatusPending, models.StatusTriggered, StatusUpdate{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreUpdateStatusAtMostOnce(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	o := newPendingOrder("p1", "AAPL")
	require.NoError(t, st.Insert(ctx, o))

	var wg sync.WaitGroup
	wins := make(chan models.OrderStatus, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		next := models.StatusTriggered
		if i%2 == 1 {
			next = models.StatusCancelled
		}
		go func(next models.OrderStatus) {
			defer wg.Done()
			if _, err := st.UpdateStatus(ctx, o.ID.Hex(), models.StatusPending, next, StatusUpdate{}); err == nil {
				wins <- next
			}
		}(next)
	}
	wg.Wait()
	close(wins)

	var winners []models.OrderStatus
	for w := range wins {
		winners = append(winners, w)
	}
	require.Len(t, winners, 1, "exactly one transition out of pending may win")

	final, err := st.Get(ctx, o.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, winners[0], final.Status)
}

func TestMemoryStoreFindByStatusSorted(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		o := newPendingOrder("p1", "AAPL")
		require.NoError(t, st.Insert(ctx, o))
		ids = append(ids, o.ID.Hex())
	}

	list, err := st.FindByStatus(ctx, models.StatusPending)
	require.NoError(t, err)
	require.Len(t, list, 5)
	for i, o := range list {
		assert.Equal(t, ids[i], o.ID.Hex(), "results must come back in creation order")
	}
}

func TestMemoryStoreFindByPortfolio(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	mine := newPendingOrder("p1", "AAPL")
	require.NoError(t, st.Insert(ctx, mine))
	other := newPendingOrder("p2", "AAPL")
	require.NoError(t, st.Insert(ctx, other))

	_, err := st.UpdateStatus(ctx, mine.ID.Hex(), models.StatusPending, models.StatusCancelled, StatusUpdate{})
	require.NoError(t, err)

	all, err := st.FindByPortfolio(ctx, "p1", "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	cancelled, err := st.FindByPortfolio(ctx, "p1", models.StatusCancelled)
	require.NoError(t, err)
	assert.Len(t, cancelled, 1)

	pending, err := st.FindByPortfolio(ctx, "p1", models.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMemoryStoreActivateChildren(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	parent := newPendingOrder("p1", "AAPL")
	require.NoError(t, st.Insert(ctx, parent))

	child := newPendingOrder("p1", "AAPL")
	child.ParentOrderID = parent.ID.Hex()
	child.Active = false
	require.NoError(t, st.Insert(ctx, child))

	executedChild := newPendingOrder("p1", "AAPL")
	executedChild.ParentOrderID = parent.ID.Hex()
	executedChild.Active = false
	require.NoError(t, st.Insert(ctx, executedChild))
	_, err := st.UpdateStatus(ctx, executedChild.ID.Hex(), models.StatusPending, models.StatusCancelled, StatusUpdate{})
	require.NoError(t, err)

	require.NoError(t, st.ActivateChildren(ctx, parent.ID.Hex()))

	activated, err := st.Get(ctx, child.ID.Hex())
	require.NoError(t, err)
	assert.True(t, activated.Active)

	terminal, err := st.Get(ctx, executedChild.ID.Hex())
	require.NoError(t, err)
	assert.False(t, terminal.Active, "terminal children stay untouched")

	children, err := st.FindChildren(ctx, parent.ID.Hex())
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestMemoryStoreFindExpired(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	lapsed := newPendingOrder("p1", "AAPL")
	lapsed.TimeInForce = models.TIFGoodTilDate
	lapsed.ExpiresAt = now.Add(-time.Minute)
	require.NoError(t, st.Insert(ctx, lapsed))

	future := newPendingOrder("p1", "AAPL")
	future.TimeInForce = models.TIFGoodTilDate
	future.ExpiresAt = now.Add(time.Hour)
	require.NoError(t, st.Insert(ctx, future))

	gtc := newPendingOrder("p1", "AAPL")
	require.NoError(t, st.Insert(ctx, gtc))

	expired, err := st.FindExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, lapsed.ID.Hex(), expired[0].ID.Hex())
}

func TestMemoryStoreFindStaleTriggered(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	stale := newPendingOrder("p1", "AAPL")
	require.NoError(t, st.Insert(ctx, stale))
	_, err := st.UpdateStatus(ctx, stale.ID.Hex(), models.StatusPending, models.StatusTriggered, StatusUpdate{
		TriggeredAt: TimePtr(now.Add(-time.Minute)),
	})
	require.NoError(t, err)

	fresh := newPendingOrder("p1", "AAPL")
	require.NoError(t, st.Insert(ctx, fresh))
	_, err = st.UpdateStatus(ctx, fresh.ID.Hex(), models.StatusPending, models.StatusTriggered, StatusUpdate{
		TriggeredAt: TimePtr(now),
	})
	require.NoError(t, err)

	found, err := st.FindStaleTriggered(ctx, now.Add(-30*time.Second))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, stale.ID.Hex(), found[0].ID.Hex())
}

func TestMemoryStoreSetArmed(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()

	o := newPendingOrder("p1", "AAPL")
	o.OrderType = models.OrderTypeStopLimit
	o.LimitPrice = 95
	require.NoError(t, st.Insert(ctx, o))

	require.NoError(t, st.SetArmed(ctx, o.ID.Hex()))
	got, err := st.Get(ctx, o.ID.Hex())
	require.NoError(t, err)
	assert.True(t, got.Armed)

	_, err = st.UpdateStatus(ctx, o.ID.Hex(), models.StatusPending, models.StatusCancelled, StatusUpdate{})
	require.NoError(t, err)
	assert.ErrorIs(t, st.SetArmed(ctx, o.ID.Hex()), ErrConflict)
}
