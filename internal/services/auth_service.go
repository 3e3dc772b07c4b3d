package services

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"paper-trader/config"
	"paper-trader/internal/models"
)

const startingCashBalance = 10000.0

type AuthService struct {
	userCollection *mongo.Collection
	log            *zap.Logger
}

func NewAuthService(log *zap.Logger) *AuthService {
	return &AuthService{
		userCollection: config.GetCollection("users"),
		log:            log,
	}
}

// Register creates a new user with the starting cash balance.
func (s *AuthService) Register(ctx context.Context, user *models.User) error {
	var existing models.User
	err := s.userCollection.FindOne(ctx, bson.M{
		"$or": []bson.M{
			{"username": user.Username},
			{"email": user.Email},
		},
	}).Decode(&existing)

	if err == nil {
		return errors.New("username or email already exists")
	} else if err != mongo.ErrNoDocuments {
		return err
	}

	if err := user.HashPassword(); err != nil {
		return err
	}

	user.ID = primitive.NewObjectID()
	user.CashBalance = startingCashBalance
	user.CreatedAt = time.Now()

	if _, err := s.userCollection.InsertOne(ctx, user); err != nil {
		return err
	}

	s.log.Info("user registered", zap.String("username", user.Username))
	return nil
}

// Login authenticates a user by username and password.
func (s *AuthService) Login(ctx context.Context, username, password string) (*models.User, error) {
	var user models.User
	err := s.userCollection.FindOne(ctx, bson.M{"username": username}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, errors.New("invalid username or password")
		}
		return nil, err
	}

	if !user.CheckPassword(password) {
		return nil, errors.New("invalid username or password")
	}

	user.Password = ""
	return &user, nil
}

// GetUserByID returns a user by their id.
func (s *AuthService) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	objID, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, err
	}

	var user models.User
	if err := s.userCollection.FindOne(ctx, bson.M{"_id": objID}).Decode(&user); err != nil {
		return nil, err
	}

	user.Password = ""
	return &user, nil
}
