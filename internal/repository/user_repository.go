package repository

import (
	"context"
	"errors"

	"medichat/internal/entity"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const usersCollection = "users"

var ErrUserNotFound = errors.New("user not found")

// UserRepository reads the user directory maintained by the auth service.
type UserRepository interface {
	Get(ctx context.Context, userId string) (entity.User, error)
	Index(ctx context.Context, filter entity.UserIndexFilter) ([]entity.User, error)
}

type userRepository struct {
	db mongo.Database
}

func NewUserRepository(db mongo.Database) UserRepository {
	return &userRepository{
		db: db,
	}
}

func (r *userRepository) Get(ctx context.Context, userId string) (entity.User, error) {
	collection := r.db.Collection(usersCollection)
	filter := bson.M{"_id": userId}

	var user entity.User
	err := collection.FindOne(ctx, filter).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entity.User{}, ErrUserNotFound
		}
		return entity.User{}, err
	}

	return user, nil
}

func (r *userRepository) Index(ctx context.Context, filter entity.UserIndexFilter) ([]entity.User, error) {
	collection := r.db.Collection(usersCollection)

	bsonFilter := bson.M{}
	if len(filter.Ids) > 0 {
		bsonFilter["_id"] = bson.M{"$in": filter.Ids}
	}

	cursor, err := collection.Find(ctx, bsonFilter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	users := make([]entity.User, 0)
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}

	return users, nil
}
