package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"paper-trader/internal/models"
)

// MongoStore persists orders in a single collection. Conditional status
// updates use FindOneAndUpdate filtered on both _id and the expected status,
// which MongoDB applies atomically per document.
type MongoStore struct {
	orders *mongo.Collection
}

func NewMongoStore(orders *mongo.Collection) *MongoStore {
	return &MongoStore{orders: orders}
}

func (s *MongoStore) Insert(ctx context.Context, o *models.Order) error {
	if o.ID.IsZero() {
		o.ID = primitive.NewObjectID()
	}
	_, err := s.orders.InsertOne(ctx, o)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*models.Order, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var o models.Order
	err = s.orders.FindOne(ctx, bson.M{"_id": objID}).Decode(&o)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}

func (s *MongoStore) UpdateStatus(ctx context.Context, id string, expected, next models.OrderStatus, upd StatusUpdate) (*models.Order, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	set := bson.M{
		"status":     next,
		"updated_at": time.Now(),
	}
	if upd.TriggeredAt != nil {
		set["triggered_at"] = *upd.TriggeredAt
	}
	if upd.ExecutedAt != nil {
		set["executed_at"] = *upd.ExecutedAt
	}
	if upd.ExecutionPrice != nil {
		set["execution_price"] = *upd.ExecutionPrice
	}
	if upd.ExecutionQuantity != nil {
		set["execution_quantity"] = *upd.ExecutionQuantity
	}
	if upd.Commission != nil {
		set["commission"] = *upd.Commission
	}
	if upd.CancelReason != nil {
		set["cancel_reason"] = *upd.CancelReason
	}

	var updated models.Order
	err = s.orders.FindOneAndUpdate(
		ctx,
		bson.M{"_id": objID, "status": expected},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err == mongo.ErrNoDocuments {
		// Distinguish a lost race from a missing order.
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	return &updated, nil
}

func (s *MongoStore) FindByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	return s.find(ctx, bson.M{"status": status})
}

func (s *MongoStore) FindByPortfolio(ctx context.Context, portfolioID string, status models.OrderStatus) ([]models.Order, error) {
	filter := bson.M{"portfolio_id": portfolioID}
	if status != "" {
		filter["status"] = status
	}
	return s.find(ctx, filter)
}

func (s *MongoStore) FindChildren(ctx context.Context, parentID string) ([]models.Order, error) {
	return s.find(ctx, bson.M{"parent_order_id": parentID})
}

func (s *MongoStore) FindExpired(ctx context.Context, now time.Time) ([]models.Order, error) {
	return s.find(ctx, bson.M{
		"status":        models.StatusPending,
		"time_in_force": models.TIFGoodTilDate,
		"expires_at":    bson.M{"$lte": now},
	})
}

func (s *MongoStore) FindStaleTriggered(ctx context.Context, cutoff time.Time) ([]models.Order, error) {
	return s.find(ctx, bson.M{
		"status":       models.StatusTriggered,
		"triggered_at": bson.M{"$lte": cutoff},
	})
}

func (s *MongoStore) ActivateChildren(ctx context.Context, parentID string) error {
	_, err := s.orders.UpdateMany(
		ctx,
		bson.M{"parent_order_id": parentID, "status": models.StatusPending},
		bson.M{"$set": bson.M{"active": true, "updated_at": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("activate children of %s: %w", parentID, err)
	}
	return nil
}

func (s *MongoStore) SetArmed(ctx context.Context, id string) error {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := s.orders.UpdateOne(
		ctx,
		bson.M{"_id": objID, "status": models.StatusPending},
		bson.M{"$set": bson.M{"armed": true, "updated_at": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("arm order %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return ErrConflict
	}
	return nil
}

func (s *MongoStore) find(ctx context.Context, filter bson.M) ([]models.Order, error) {
	cursor, err := s.orders.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find orders: %w", err)
	}
	defer cursor.Close(ctx)

	var orders []models.Order
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	return orders, nil
}
