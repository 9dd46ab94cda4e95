package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flowerwine/filebounty-backend/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	privateMessagesCollection = "private_messages"
	countersCollection        = "counters"
)

// MessageStore keeps private message history.
type MessageStore interface {
	Insert(ctx context.Context, m *models.PrivateMessage) error
	// Page returns messages of a conversation newest first plus the total.
	Page(ctx context.Context, conversationID string, skip, limit int64) ([]models.PrivateMessage, int64, error)
	Latest(ctx context.Context, conversationID string) (*models.PrivateMessage, error)
	// CountUnread counts messages to receiverID with an id above afterID.
	CountUnread(ctx context.Context, conversationID string, receiverID, afterID int64) (int64, error)
}

// MongoMessageStore stores private messages in Mongo with numeric ids
// taken from the counters collection.
type MongoMessageStore struct {
	messages *mongo.Collection
	counters *mongo.Collection
}

func NewMongoMessageStore(db *mongo.Database) *MongoMessageStore {
	return &MongoMessageStore{
		messages: db.Collection(privateMessagesCollection),
		counters: db.Collection(countersCollection),
	}
}

// EnsureIndexes is called on startup once Mongo is connected.
func (s *MongoMessageStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "_id", Value: -1}},
			Options: options.Index().SetName("idx_conversation_id"),
		},
		{
			Keys:    bson.D{{Key: "receiver_id", Value: 1}, {Key: "conversation_id", Value: 1}},
			Options: options.Index().SetName("idx_receiver_conversation"),
		},
	})
	return err
}

func (s *MongoMessageStore) nextID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": privateMessagesCollection},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("next message id: %w", err)
	}
	return counter.Seq, nil
}

func (s *MongoMessageStore) Insert(ctx context.Context, m *models.PrivateMessage) error {
	id, err := s.nextID(ctx)
	if err != nil {
		return err
	}
	m.ID = id
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if _, err := s.messages.InsertOne(ctx, m); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *MongoMessageStore) Page(ctx context.Context, conversationID string, skip, limit int64) ([]models.PrivateMessage, int64, error) {
	filter := bson.M{"conversation_id": conversationID}
	total, err := s.messages.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetSkip(skip).
		SetLimit(limit)
	cur, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find messages: %w", err)
	}
	defer cur.Close(ctx)

	var msgs []models.PrivateMessage
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, 0, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, total, nil
}

func (s *MongoMessageStore) Latest(ctx context.Context, conversationID string) (*models.PrivateMessage, error) {
	var m models.PrivateMessage
	err := s.messages.FindOne(ctx,
		bson.M{"conversation_id": conversationID},
		options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}}),
	).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest message: %w", err)
	}
	return &m, nil
}

func (s *MongoMessageStore) CountUnread(ctx context.Context, conversationID string, receiverID, afterID int64) (int64, error) {
	n, err := s.messages.CountDocuments(ctx, bson.M{
		"conversation_id": conversationID,
		"receiver_id":     receiverID,
		"_id":             bson.M{"$gt": afterID},
	})
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}
