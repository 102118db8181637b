// Package chat stores channel messages and fans them out to live subscribers.
package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cacatua/cacatua/backend/go-services/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const CollectionName = "messages"

// Repository persists chat messages. ListByChannel returns the newest limit
// messages in ascending (created_at, id) order.
type Repository interface {
	Insert(ctx context.Context, m *models.Message) error
	ListByChannel(ctx context.Context, channel string, limit int) ([]*models.Message, error)
}

// MongoRepo implements Repository on a Mongo collection.
type MongoRepo struct {
	col *mongo.Collection
}

func NewMongoRepo(col *mongo.Collection) *MongoRepo {
	return &MongoRepo{col: col}
}

func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "channel_id", Value: 1}, {Key: "created_at", Value: -1}, {Key: "_id", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}
	return nil
}

func (r *MongoRepo) Insert(ctx context.Context, m *models.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if _, err := r.col.InsertOne(ctx, m); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MongoRepo) ListByChannel(ctx context.Context, channel string, limit int) ([]*models.Message, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := r.col.Find(ctx, bson.M{"channel_id": channel}, opts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer cur.Close(ctx)
	out := []*models.Message{}
	for cur.Next(ctx) {
		var m models.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		if err := m.Validate(); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	// newest-first from the query; callers want oldest-first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// MemoryRepo keeps messages in process memory.
type MemoryRepo struct {
	mu       sync.RWMutex
	channels map[string][]models.Message
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{channels: make(map[string][]models.Message)}
}

func (r *MemoryRepo) Insert(ctx context.Context, m *models.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	list := append(r.channels[m.ChannelID], *m)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Before(&list[j]) })
	r.channels[m.ChannelID] = list
	return nil
}

func (r *MemoryRepo) ListByChannel(ctx context.Context, channel string, limit int) ([]*models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.channels[channel]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]*models.Message, 0, len(list))
	for i := range list {
		m := list[i]
		out = append(out, &m)
	}
	return out, nil
}
