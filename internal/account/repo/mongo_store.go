package repo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ovaphlow/pitchfork/service-streaming-core/internal/account/entity"
)

// MongoStore keeps each account with its embedded device sessions as one
// document. Updates are compare-and-swap on the version field.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection("accounts")}
}

// EnsureIndexes creates the unique email index and the lock index.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "lockUntil", Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	return err
}

func (s *MongoStore) Create(ctx context.Context, a *entity.Account) error {
	if a.Version == 0 {
		a.Version = 1
	}
	if _, err := s.coll.InsertOne(ctx, a); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id int64) (*entity.Account, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *MongoStore) GetByEmail(ctx context.Context, email string) (*entity.Account, error) {
	return s.findOne(ctx, bson.M{"email": email})
}

func (s *MongoStore) findOne(ctx context.Context, filter bson.M) (*entity.Account, error) {
	var a entity.Account
	if err := s.coll.FindOne(ctx, filter).Decode(&a); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// Update reads the document, applies fn and replaces it only if the version
// is unchanged, retrying from a fresh read otherwise.
func (s *MongoStore) Update(ctx context.Context, id int64, fn func(*entity.Account) error) (*entity.Account, error) {
	return retryConflicts(ctx, func() (*entity.Account, error) { return s.updateOnce(ctx, id, fn) })
}

func (s *MongoStore) updateOnce(ctx context.Context, id int64, fn func(*entity.Account) error) (*entity.Account, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, ErrNoChange) {
			return cur, nil
		}
		return nil, err
	}
	next.ID = cur.ID
	next.Email = cur.Email
	next.Version = cur.Version + 1

	res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": id, "version": cur.Version}, next)
	if err != nil {
		return nil, err
	}
	if res.MatchedCount == 0 {
		return nil, ErrConflict
	}
	return next, nil
}

// ExpiredLocks lists accounts whose stored lock ended at or before now.
func (s *MongoStore) ExpiredLocks(ctx context.Context, now time.Time) ([]int64, error) {
	cur, err := s.coll.Find(ctx,
		bson.M{"lockUntil": bson.M{"$ne": nil, "$lte": now}},
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	var docs []struct {
		ID int64 `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}
