package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"web_relay/internal/config"
	"web_relay/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore keeps one document per delivered file. The fingerprint set is
// loaded once at startup; Add upserts and then updates the in-memory set.
type MongoStore struct {
	client    *mongo.Client
	delivered *mongo.Collection

	mu   sync.RWMutex
	sent map[string]struct{}
}

func NewMongoStore(ctx context.Context, cfg config.MongoConfig) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.Connection))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("can't ping MongoDB: %w", err)
	}

	s := &MongoStore{
		client:    client,
		delivered: client.Database(cfg.Database).Collection(cfg.Collection),
		sent:      make(map[string]struct{}),
	}

	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("can't create indexes: %w", err)
	}
	if err := s.load(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.delivered.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "fingerprint", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "delivered_at", Value: 1}},
		},
	})
	return err
}

func (s *MongoStore) load(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := options.Find().SetProjection(bson.M{"fingerprint": 1})
	cursor, err := s.delivered.Find(ctx, bson.M{}, opts)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	defer cursor.Close(ctx)

	type fingerprintOnly struct {
		Fingerprint string `bson:"fingerprint"`
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for cursor.Next(ctx) {
		var res fingerprintOnly
		if err := cursor.Decode(&res); err == nil && res.Fingerprint != "" {
			s.sent[res.Fingerprint] = struct{}{}
		}
	}
	return cursor.Err()
}

func (s *MongoStore) Contains(fingerprint string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sent[fingerprint]
	return ok
}

func (s *MongoStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sent)
}

// Add upserts the delivery record; the first record for a fingerprint wins.
func (s *MongoStore) Add(ctx context.Context, record models.DeliveryRecord) error {
	if record.Fingerprint == "" {
		return errors.New("empty fingerprint")
	}
	if record.ID == "" {
		record.ID = record.Fingerprint
	}
	if record.DeliveredAt.IsZero() {
		record.DeliveredAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{"fingerprint": record.Fingerprint}
	update := bson.M{"$setOnInsert": record}
	if _, err := s.delivered.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("save delivery record: %w", err)
	}

	s.mu.Lock()
	s.sent[record.Fingerprint] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Recent returns the latest delivery records, newest first.
func (s *MongoStore) Recent(ctx context.Context, limit int) ([]models.DeliveryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "delivered_at", Value: -1}}).SetLimit(int64(limit))
	cursor, err := s.delivered.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []models.DeliveryRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
