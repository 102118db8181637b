package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CollectionName is the Mongo collection holding refresh token records.
const CollectionName = "refresh_tokens"

// Repository is the Token Store: persistence for refresh token records.
// FindByToken returns (nil, nil) when no record matches.
type Repository interface {
	Insert(ctx context.Context, rt *RefreshToken) error
	FindByToken(ctx context.Context, token string) (*RefreshToken, error)
	FindByOwner(ctx context.Context, owner string) ([]*RefreshToken, error)
	// Rotate deletes the record for oldToken owned by owner and inserts next as one unit.
	Rotate(ctx context.Context, owner, oldToken string, next *RefreshToken) error
	DeleteByOwner(ctx context.Context, owner string) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// MongoRepository implements Repository using a Mongo collection.
// Rotation runs in a multi-document transaction, so the deployment must be a
// replica set or sharded cluster.
type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(col *mongo.Collection) *MongoRepository {
	return &MongoRepository{col: col}
}

// EnsureIndexes creates the lookup indexes. refresh_token is unique.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "refresh_token", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_uid", Value: 1}}},
		{Keys: bson.D{{Key: "expires_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create refresh token indexes: %w", err)
	}
	return nil
}

func (r *MongoRepository) Insert(ctx context.Context, rt *RefreshToken) error {
	if err := rt.Validate(); err != nil {
		return err
	}
	if _, err := r.col.InsertOne(ctx, rt); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (r *MongoRepository) FindByToken(ctx context.Context, token string) (*RefreshToken, error) {
	var rt RefreshToken
	if err := r.col.FindOne(ctx, bson.M{"refresh_token": token}).Decode(&rt); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	if err := rt.Validate(); err != nil {
		return nil, err
	}
	return &rt, nil
}

func (r *MongoRepository) FindByOwner(ctx context.Context, owner string) ([]*RefreshToken, error) {
	cur, err := r.col.Find(ctx, bson.M{"user_uid": owner}, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find refresh tokens by owner: %w", err)
	}
	defer cur.Close(ctx)
	out := []*RefreshToken{}
	for cur.Next(ctx) {
		var rt RefreshToken
		if err := cur.Decode(&rt); err != nil {
			return nil, err
		}
		if err := rt.Validate(); err != nil {
			return nil, err
		}
		out = append(out, &rt)
	}
	return out, cur.Err()
}

func (r *MongoRepository) Rotate(ctx context.Context, owner, oldToken string, next *RefreshToken) error {
	if err := next.Validate(); err != nil {
		return err
	}
	sess, err := r.col.Database().Client().StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		res, err := r.col.DeleteOne(sc, bson.M{"refresh_token": oldToken, "user_uid": owner})
		if err != nil {
			return nil, err
		}
		if res.DeletedCount == 0 {
			return nil, ErrTokenNotFound
		}
		if _, err := r.col.InsertOne(sc, next); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return ErrTokenNotFound
		}
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	return nil
}

func (r *MongoRepository) DeleteByOwner(ctx context.Context, owner string) (int64, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{"user_uid": owner})
	if err != nil {
		return 0, fmt.Errorf("delete refresh tokens by owner: %w", err)
	}
	return res.DeletedCount, nil
}

func (r *MongoRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": before.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	return res.DeletedCount, nil
}
