package users

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cacatua/cacatua/backend/go-services/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const CollectionName = "users"

// UserRepository defines persistence operations for user profiles
type UserRepository interface {
	// Upsert creates the profile when absent. For an existing profile only
	// email and updatedAt are refreshed.
	Upsert(ctx context.Context, u *models.User) (*models.User, error)
	// GetByUID returns (nil, nil) when no profile exists.
	GetByUID(ctx context.Context, uid string) (*models.User, error)
}

// MongoUserRepository implements UserRepository using MongoDB
type MongoUserRepository struct {
	col *mongo.Collection
}

func NewMongoUserRepository(col *mongo.Collection) *MongoUserRepository {
	return &MongoUserRepository{col: col}
}

func (r *MongoUserRepository) Upsert(ctx context.Context, u *models.User) (*models.User, error) {
	now := time.Now().UTC()
	if u.DateRegistered.IsZero() {
		u.DateRegistered = now
	}
	u.UpdatedAt = now

	filter := bson.M{"_id": u.UID}
	update := bson.M{
		"$set": bson.M{
			"email":     u.Email,
			"updatedAt": u.UpdatedAt,
		},
		"$setOnInsert": bson.M{
			"displayName":    u.DisplayName,
			"firstName":      u.FirstName,
			"lastName":       u.LastName,
			"photoUrl":       u.PhotoURL,
			"dateRegistered": u.DateRegistered,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var updated models.User
	if err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated); err != nil {
		return nil, err
	}
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *MongoUserRepository) GetByUID(ctx context.Context, uid string) (*models.User, error) {
	var u models.User
	if err := r.col.FindOne(ctx, bson.M{"_id": uid}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return &u, nil
}

// MemoryUserRepository keeps profiles in process memory.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]models.User
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{users: map[string]models.User{}}
}

func (r *MemoryUserRepository) Upsert(ctx context.Context, u *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	cur, ok := r.users[u.UID]
	if !ok {
		cur = *u
		if cur.DateRegistered.IsZero() {
			cur.DateRegistered = now
		}
	} else {
		cur.Email = u.Email
	}
	cur.UpdatedAt = now
	if err := cur.Validate(); err != nil {
		return nil, err
	}
	r.users[u.UID] = cur
	out := cur
	return &out, nil
}

func (r *MemoryUserRepository) GetByUID(ctx context.Context, uid string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[uid]
	if !ok {
		return nil, nil
	}
	return &u, nil
}
