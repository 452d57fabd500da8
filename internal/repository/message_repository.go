package repository

import (
	"context"
	"time"

	"medichat/internal/entity"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const messagesCollection = "messages"

// MessageRepository appends immutable messages. There is no update or
// delete path.
type MessageRepository interface {
	Create(ctx context.Context, message entity.Message) (entity.Message, error)
	IndexByChat(ctx context.Context, chatId string) ([]entity.Message, error)
}

type messageRepository struct {
	db  mongo.Database
	now func() time.Time
}

func NewMessageRepository(db mongo.Database) MessageRepository {
	return &messageRepository{
		db:  db,
		now: storeNow(time.Now),
	}
}

// Create assigns the id and timestamp. Ids are UUIDv7, so they sort in
// creation order and break createdAt ties.
func (r *messageRepository) Create(ctx context.Context, message entity.Message) (entity.Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return entity.Message{}, err
	}
	message.Id = id.String()
	message.CreatedAt = r.now()

	if _, err := r.db.Collection(messagesCollection).InsertOne(ctx, message); err != nil {
		return entity.Message{}, err
	}
	return message, nil
}

// IndexByChat returns the chat's messages, oldest first.
func (r *messageRepository) IndexByChat(ctx context.Context, chatId string) ([]entity.Message, error) {
	opts := options.Find().SetSort(bson.D{
		{Key: "createdAt", Value: 1},
		{Key: "_id", Value: 1},
	})

	cursor, err := r.db.Collection(messagesCollection).Find(ctx, bson.M{"chatId": chatId}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	messages := make([]entity.Message, 0)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}
