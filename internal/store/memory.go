package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"paper-trader/internal/models"
)

// MemoryStore is a mutex-guarded map with the same conditional-update
// semantics as MongoStore. It backs the test suite and mongo-free local runs.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]*models.Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*models.Order)}
}

func (s *MemoryStore) Insert(_ context.Context, o *models.Order) error {
	if o.ID.IsZero() {
		o.ID = primitive.NewObjectID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.orders[o.ID.Hex()] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, expected, next models.OrderStatus, upd StatusUpdate) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status != expected {
		return nil, ErrConflict
	}
	o.Status = next
	o.UpdatedAt = time.Now()
	if upd.TriggeredAt != nil {
		o.TriggeredAt = *upd.TriggeredAt
	}
	if upd.ExecutedAt != nil {
		o.ExecutedAt = *upd.ExecutedAt
	}
	if upd.ExecutionPrice != nil {
		o.ExecutionPrice = *upd.ExecutionPrice
	}
	if upd.ExecutionQuantity != nil {
		o.ExecutionQuantity = *upd.ExecutionQuantity
	}
	if upd.Commission != nil {
		o.Commission = *upd.Commission
	}
	if upd.CancelReason != nil {
		o.CancelReason = *upd.CancelReason
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) FindByStatus(_ context.Context, status models.OrderStatus) ([]models.Order, error) {
	return s.filter(func(o *models.Order) bool { return o.Status == status }), nil
}

func (s *MemoryStore) FindByPortfolio(_ context.Context, portfolioID string, status models.OrderStatus) ([]models.Order, error) {
	return s.filter(func(o *models.Order) bool {
		if o.PortfolioID != portfolioID {
			return false
		}
		return status == "" || o.Status == status
	}), nil
}

func (s *MemoryStore) FindChildren(_ context.Context, parentID string) ([]models.Order, error) {
	return s.filter(func(o *models.Order) bool { return o.ParentOrderID == parentID }), nil
}

func (s *MemoryStore) FindExpired(_ context.Context, now time.Time) ([]models.Order, error) {
	return s.filter(func(o *models.Order) bool {
		return o.Status == models.StatusPending && o.Expired(now)
	}), nil
}

func (s *MemoryStore) FindStaleTriggered(_ context.Context, cutoff time.Time) ([]models.Order, error) {
	return s.filter(func(o *models.Order) bool {
		return o.Status == models.StatusTriggered && !o.TriggeredAt.After(cutoff)
	}), nil
}

func (s *MemoryStore) ActivateChildren(_ context.Context, parentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.ParentOrderID == parentID && o.Status == models.StatusPending {
			o.Active = true
			o.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (s *MemoryStore) SetArmed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status != models.StatusPending {
		return ErrConflict
	}
	o.Armed = true
	o.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) filter(keep func(*models.Order) bool) []models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Order
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out
}
