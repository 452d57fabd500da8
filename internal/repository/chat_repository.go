package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medichat/internal/entity"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const chatsCollection = "chats"

var (
	ErrChatNotFound       = errors.New("chat not found")
	ErrMembershipConflict = errors.New("chat state does not allow this change")
	ErrSelfChat           = errors.New("cannot create a direct chat with yourself")
)

// ChatRepository is the only writer of chat documents. Every mutation is a
// single conditional update on one document, so membership, removal
// history and join requests never diverge in storage.
type ChatRepository interface {
	Get(ctx context.Context, chatId string) (entity.Chat, error)
	GetOrCreateDirect(ctx context.Context, userId1, userId2 string) (entity.Chat, error)
	CreateGroup(ctx context.Context, title, createdBy string, participants []string) (entity.Chat, error)
	IndexForUser(ctx context.Context, userId string) ([]entity.Chat, error)
	IndexByType(ctx context.Context, chatType entity.ChatType) ([]entity.Chat, error)

	// Membership
	AddParticipant(ctx context.Context, chatId, userId string) error
	RemoveParticipant(ctx context.Context, chatId, userId string) error
	ReaddParticipant(ctx context.Context, chatId, userId string) error
	RecordJoinRequest(ctx context.Context, chatId, userId string) error
	ResolveJoinRequest(ctx context.Context, chatId, userId string, approve bool) error

	// Direct chat blocks
	RecordBlock(ctx context.Context, chatId, by, target string) error
	ClearBlocks(ctx context.Context, chatId string) error

	// Per-user state and summary fields
	UpdateReadMarker(ctx context.Context, chatId, userId string, at time.Time) error
	SetNotifications(ctx context.Context, chatId, userId string, enabled bool) error
	Rename(ctx context.Context, chatId, title string) error
	UpdateLastMessage(ctx context.Context, chatId string, last entity.LastMessage) error
}

type chatRepository struct {
	db  mongo.Database
	now func() time.Time
}

func NewChatRepository(db mongo.Database) ChatRepository {
	return &chatRepository{
		db:  db,
		now: storeNow(time.Now),
	}
}

func (r *chatRepository) collection() *mongo.Collection {
	return r.db.Collection(chatsCollection)
}

// Get returns a chat by ID
func (r *chatRepository) Get(ctx context.Context, chatId string) (entity.Chat, error) {
	var chat entity.Chat
	err := r.collection().FindOne(ctx, bson.M{"_id": chatId}).Decode(&chat)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return entity.Chat{}, ErrChatNotFound
		}
		return entity.Chat{}, err
	}
	return chat, nil
}

// GetOrCreateDirect upserts on the unique participantsKey. Two racing
// callers either both hit the same upsert or one gets a duplicate key
// error and re-reads the winner's document.
func (r *chatRepository) GetOrCreateDirect(ctx context.Context, userId1, userId2 string) (entity.Chat, error) {
	if userId1 == userId2 {
		return entity.Chat{}, ErrSelfChat
	}
	key := entity.ParticipantsKey(userId1, userId2)
	now := r.now()

	filter := bson.M{"participantsKey": key}
	update := bson.M{"$setOnInsert": bson.M{
		"_id":          uuid.NewString(),
		"type":         entity.ChatTypeDirect,
		"participants": []string{userId1, userId2},
		"blocks":       bson.A{},
		"removedFor":   bson.A{},
		"joinRequests": bson.A{},
		"mutedBy":      bson.A{},
		"readState":    bson.M{},
		"lastMessage":  nil,
		"createdAt":    now,
		"updatedAt":    now,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var chat entity.Chat
	err := r.collection().FindOneAndUpdate(ctx, filter, update, opts).Decode(&chat)
	if mongo.IsDuplicateKeyError(err) {
		err = r.collection().FindOne(ctx, filter).Decode(&chat)
	}
	if err != nil {
		return entity.Chat{}, fmt.Errorf("get or create direct chat: %w", err)
	}
	return chat, nil
}

// CreateGroup creates a new group chat
func (r *chatRepository) CreateGroup(ctx context.Context, title, createdBy string, participants []string) (entity.Chat, error) {
	chat := newGroupChat(title, createdBy, participants, r.now())
	if _, err := r.collection().InsertOne(ctx, chat); err != nil {
		return entity.Chat{}, err
	}
	return chat, nil
}

// IndexForUser returns chats the user belongs to or was removed from and
// has not rejoined, most recently active first.
func (r *chatRepository) IndexForUser(ctx context.Context, userId string) ([]entity.Chat, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"participants": userId},
		bson.M{"removedFor": bson.M{"$elemMatch": bson.M{"user": userId, "rejoinedAt": nil}}},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	return r.find(ctx, filter, opts)
}

func (r *chatRepository) IndexByType(ctx context.Context, chatType entity.ChatType) ([]entity.Chat, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	return r.find(ctx, bson.M{"type": chatType}, opts)
}

func (r *chatRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]entity.Chat, error) {
	cursor, err := r.collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	chats := make([]entity.Chat, 0)
	if err := cursor.All(ctx, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// AddParticipant adds a user who has no open removal entry.
func (r *chatRepository) AddParticipant(ctx context.Context, chatId, userId string) error {
	now := r.now()
	filter := bson.M{
		"_id":          chatId,
		"type":         entity.ChatTypeGroup,
		"participants": bson.M{"$ne": userId},
		"removedFor":   bson.M{"$not": bson.M{"$elemMatch": bson.M{"user": userId, "rejoinedAt": nil}}},
	}
	update := bson.M{
		"$addToSet": bson.M{"participants": userId},
		"$pull":     bson.M{"joinRequests": userId},
		"$set":      bson.M{"updatedAt": now},
	}
	return r.updateOne(ctx, chatId, filter, update)
}

// RemoveParticipant drops the user from participants and opens a removal
// window in the same update.
func (r *chatRepository) RemoveParticipant(ctx context.Context, chatId, userId string) error {
	now := r.now()
	filter := bson.M{
		"_id":          chatId,
		"type":         entity.ChatTypeGroup,
		"participants": userId,
	}
	update := bson.M{
		"$pull": bson.M{"participants": userId, "joinRequests": userId},
		"$push": bson.M{"removedFor": entity.Removal{User: userId, RemovedAt: now}},
		"$set":  bson.M{"updatedAt": now},
	}
	return r.updateOne(ctx, chatId, filter, update)
}

// ReaddParticipant closes the user's open removal window and restores
// membership in the same update.
func (r *chatRepository) ReaddParticipant(ctx context.Context, chatId, userId string) error {
	now := r.now()
	filter := bson.M{
		"_id":          chatId,
		"type":         entity.ChatTypeGroup,
		"participants": bson.M{"$ne": userId},
		"removedFor":   bson.M{"$elemMatch": bson.M{"user": userId, "rejoinedAt": nil}},
	}
	update := bson.M{
		"$addToSet": bson.M{"participants": userId},
		"$pull":     bson.M{"joinRequests": userId},
		"$set":      bson.M{"removedFor.$[open].rejoinedAt": now, "updatedAt": now},
	}
	return r.updateOne(ctx, chatId, filter, update, openRemovalFilter(userId))
}

func (r *chatRepository) RecordJoinRequest(ctx context.Context, chatId, userId string) error {
	filter := bson.M{
		"_id":          chatId,
		"type":         entity.ChatTypeGroup,
		"participants": bson.M{"$ne": userId},
	}
	update := bson.M{"$addToSet": bson.M{"joinRequests": userId}}
	return r.updateOne(ctx, chatId, filter, update)
}

// ResolveJoinRequest clears a pending request; on approval the requester is
// added (closing an open removal window if there is one) in the same update.
func (r *chatRepository) ResolveJoinRequest(ctx context.Context, chatId, userId string, approve bool) error {
	if !approve {
		filter := bson.M{"_id": chatId, "joinRequests": userId}
		update := bson.M{"$pull": bson.M{"joinRequests": userId}}
		return r.updateOne(ctx, chatId, filter, update)
	}

	now := r.now()
	readd := bson.M{
		"_id":          chatId,
		"type":         entity.ChatTypeGroup,
		"joinRequests": userId,
		"participants": bson.M{"$ne": userId},
		"removedFor":   bson.M{"$elemMatch": bson.M{"user": userId, "rejoinedAt": nil}},
	}
	res, err := r.collection().UpdateOne(ctx, readd, bson.M{
		"$addToSet": bson.M{"participants": userId},
		"$pull":     bson.M{"joinRequests": userId},
		"$set":      bson.M{"removedFor.$[open].rejoinedAt": now, "updatedAt": now},
	}, openRemovalFilter(userId))
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	add := bson.M{
		"_id":          chatId,
		"type":         entity.ChatTypeGroup,
		"joinRequests": userId,
		"participants": bson.M{"$ne": userId},
		"removedFor":   bson.M{"$not": bson.M{"$elemMatch": bson.M{"user": userId, "rejoinedAt": nil}}},
	}
	return r.updateOne(ctx, chatId, add, bson.M{
		"$addToSet": bson.M{"participants": userId},
		"$pull":     bson.M{"joinRequests": userId},
		"$set":      bson.M{"updatedAt": now},
	})
}

func (r *chatRepository) RecordBlock(ctx context.Context, chatId, by, target string) error {
	filter := bson.M{
		"_id":          chatId,
		"type":         entity.ChatTypeDirect,
		"participants": bson.M{"$all": bson.A{by, target}},
		"blocks":       bson.M{"$not": bson.M{"$elemMatch": bson.M{"by": by, "target": target}}},
	}
	update := bson.M{"$push": bson.M{"blocks": entity.Block{By: by, Target: target, CreatedAt: r.now()}}}

	err := r.updateOne(ctx, chatId, filter, update)
	if !errors.Is(err, ErrMembershipConflict) {
		return err
	}
	// Re-blocking is a no-op.
	chat, getErr := r.Get(ctx, chatId)
	if getErr != nil {
		return getErr
	}
	if chat.HasBlock(by, target) {
		return nil
	}
	return err
}

// ClearBlocks is the administrative unblock.
func (r *chatRepository) ClearBlocks(ctx context.Context, chatId string) error {
	filter := bson.M{"_id": chatId, "type": entity.ChatTypeDirect}
	update := bson.M{"$set": bson.M{"blocks": bson.A{}}}
	return r.updateOne(ctx, chatId, filter, update)
}

// UpdateReadMarker only ever moves a marker forward.
func (r *chatRepository) UpdateReadMarker(ctx context.Context, chatId, userId string, at time.Time) error {
	filter := bson.M{"_id": chatId}
	update := bson.M{"$max": bson.M{"readState." + userId: at.UTC().Truncate(time.Millisecond)}}
	return r.updateOne(ctx, chatId, filter, update)
}

func (r *chatRepository) SetNotifications(ctx context.Context, chatId, userId string, enabled bool) error {
	filter := bson.M{"_id": chatId}
	update := bson.M{"$addToSet": bson.M{"mutedBy": userId}}
	if enabled {
		update = bson.M{"$pull": bson.M{"mutedBy": userId}}
	}
	return r.updateOne(ctx, chatId, filter, update)
}

func (r *chatRepository) Rename(ctx context.Context, chatId, title string) error {
	filter := bson.M{"_id": chatId, "type": entity.ChatTypeGroup}
	update := bson.M{"$set": bson.M{"title": title, "updatedAt": r.now()}}
	return r.updateOne(ctx, chatId, filter, update)
}

// UpdateLastMessage replaces the preview only if it is not newer than the
// incoming one, so concurrent sends settle on the latest message.
func (r *chatRepository) UpdateLastMessage(ctx context.Context, chatId string, last entity.LastMessage) error {
	filter := bson.M{
		"_id": chatId,
		"$or": bson.A{
			bson.M{"lastMessage": nil},
			bson.M{"lastMessage.createdAt": bson.M{"$lte": last.CreatedAt}},
		},
	}
	update := bson.M{"$set": bson.M{"lastMessage": last, "updatedAt": last.CreatedAt}}

	res, err := r.collection().UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return r.exists(ctx, chatId)
	}
	return nil
}

func (r *chatRepository) updateOne(ctx context.Context, chatId string, filter, update bson.M, opts ...*options.UpdateOptions) error {
	res, err := r.collection().UpdateOne(ctx, filter, update, opts...)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}
	if err := r.exists(ctx, chatId); err != nil {
		return err
	}
	return ErrMembershipConflict
}

func (r *chatRepository) exists(ctx context.Context, chatId string) error {
	count, err := r.collection().CountDocuments(ctx, bson.M{"_id": chatId}, options.Count().SetLimit(1))
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrChatNotFound
	}
	return nil
}

// openRemovalFilter targets the single removal entry of userId that has
// not been closed yet.
func openRemovalFilter(userId string) *options.UpdateOptions {
	return options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{bson.M{"open.user": userId, "open.rejoinedAt": nil}},
	})
}

func newGroupChat(title, createdBy string, participants []string, now time.Time) entity.Chat {
	members := []string{createdBy}
	seen := map[string]bool{createdBy: true}
	for _, p := range participants {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		members = append(members, p)
	}

	return entity.Chat{
		Id:           uuid.NewString(),
		Type:         entity.ChatTypeGroup,
		Participants: members,
		Title:        title,
		CreatedBy:    createdBy,
		Blocks:       []entity.Block{},
		RemovedFor:   []entity.Removal{},
		JoinRequests: []string{},
		MutedBy:      []string{},
		ReadState:    map[string]time.Time{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// storeNow truncates to the millisecond precision BSON dates keep, so
// in-memory values compare equal to what a later read returns.
func storeNow(clock func() time.Time) func() time.Time {
	return func() time.Time {
		return clock().UTC().Truncate(time.Millisecond)
	}
}
