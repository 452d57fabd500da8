package repository

import (
	"medichat/internal/entity"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// IndexModels lists the indexes the mongo stores rely on, by collection.
// The unique participantsKey index is what makes GetOrCreateDirect safe
// under concurrent callers.
func IndexModels() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		chatsCollection: {
			{
				Keys: bson.D{{Key: "participantsKey", Value: 1}},
				Options: options.Index().
					SetName("direct_participants_key").
					SetUnique(true).
					SetPartialFilterExpression(bson.M{"type": entity.ChatTypeDirect}),
			},
			{
				Keys:    bson.D{{Key: "participants", Value: 1}, {Key: "updatedAt", Value: -1}},
				Options: options.Index().SetName("participants_updated"),
			},
			{
				Keys:    bson.D{{Key: "removedFor.user", Value: 1}},
				Options: options.Index().SetName("removed_user"),
			},
			{
				Keys:    bson.D{{Key: "type", Value: 1}, {Key: "updatedAt", Value: -1}},
				Options: options.Index().SetName("type_updated"),
			},
		},
		messagesCollection: {
			{
				Keys:    bson.D{{Key: "chatId", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}},
				Options: options.Index().SetName("chat_created"),
			},
		},
	}
}
