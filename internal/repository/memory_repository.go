package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"medichat/internal/entity"

	"github.com/google/uuid"
)

// The memory stores back STORE_DRIVER=memory and the tests. Each mutation
// runs against a copy of the document under the store lock and is committed
// only if it succeeds, which gives the same all-or-nothing behaviour as the
// single-document updates of the mongo stores.

type memoryChatRepository struct {
	mu    sync.Mutex
	chats map[string]*entity.Chat
	order []string
	byKey map[string]string
	now   func() time.Time
}

func NewMemoryChatRepository(clock func() time.Time) ChatRepository {
	if clock == nil {
		clock = time.Now
	}
	return &memoryChatRepository{
		chats: make(map[string]*entity.Chat),
		byKey: make(map[string]string),
		now:   storeNow(clock),
	}
}

func (r *memoryChatRepository) Get(ctx context.Context, chatId string) (entity.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chat, ok := r.chats[chatId]
	if !ok {
		return entity.Chat{}, ErrChatNotFound
	}
	return cloneChat(*chat), nil
}

func (r *memoryChatRepository) GetOrCreateDirect(ctx context.Context, userId1, userId2 string) (entity.Chat, error) {
	if userId1 == userId2 {
		return entity.Chat{}, ErrSelfChat
	}
	key := entity.ParticipantsKey(userId1, userId2)

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byKey[key]; ok {
		return cloneChat(*r.chats[id]), nil
	}

	now := r.now()
	chat := entity.Chat{
		Id:              uuid.NewString(),
		Type:            entity.ChatTypeDirect,
		Participants:    []string{userId1, userId2},
		ParticipantsKey: key,
		Blocks:          []entity.Block{},
		RemovedFor:      []entity.Removal{},
		JoinRequests:    []string{},
		MutedBy:         []string{},
		ReadState:       map[string]time.Time{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	r.insert(chat)
	r.byKey[key] = chat.Id
	return cloneChat(chat), nil
}

func (r *memoryChatRepository) CreateGroup(ctx context.Context, title, createdBy string, participants []string) (entity.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chat := newGroupChat(title, createdBy, participants, r.now())
	r.insert(chat)
	return cloneChat(chat), nil
}

func (r *memoryChatRepository) insert(chat entity.Chat) {
	stored := cloneChat(chat)
	r.chats[chat.Id] = &stored
	r.order = append(r.order, chat.Id)
}

func (r *memoryChatRepository) IndexForUser(ctx context.Context, userId string) ([]entity.Chat, error) {
	return r.index(func(c entity.Chat) bool {
		_, removed := c.OpenRemoval(userId)
		return c.IsParticipant(userId) || removed
	}), nil
}

func (r *memoryChatRepository) IndexByType(ctx context.Context, chatType entity.ChatType) ([]entity.Chat, error) {
	return r.index(func(c entity.Chat) bool { return c.Type == chatType }), nil
}

func (r *memoryChatRepository) index(match func(entity.Chat) bool) []entity.Chat {
	r.mu.Lock()
	defer r.mu.Unlock()

	chats := make([]entity.Chat, 0)
	for _, id := range r.order {
		if c := r.chats[id]; match(*c) {
			chats = append(chats, cloneChat(*c))
		}
	}
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats
}

func (r *memoryChatRepository) AddParticipant(ctx context.Context, chatId, userId string) error {
	return r.update(chatId, func(c *entity.Chat, now time.Time) error {
		if c.Type != entity.ChatTypeGroup || c.IsParticipant(userId) {
			return ErrMembershipConflict
		}
		if _, open := c.OpenRemoval(userId); open {
			return ErrMembershipConflict
		}
		c.Participants = append(c.Participants, userId)
		c.JoinRequests = without(c.JoinRequests, userId)
		c.UpdatedAt = now
		return nil
	})
}

func (r *memoryChatRepository) RemoveParticipant(ctx context.Context, chatId, userId string) error {
	return r.update(chatId, func(c *entity.Chat, now time.Time) error {
		if c.Type != entity.ChatTypeGroup || !c.IsParticipant(userId) {
			return ErrMembershipConflict
		}
		c.Participants = without(c.Participants, userId)
		c.JoinRequests = without(c.JoinRequests, userId)
		c.RemovedFor = append(c.RemovedFor, entity.Removal{User: userId, RemovedAt: now})
		c.UpdatedAt = now
		return nil
	})
}

func (r *memoryChatRepository) ReaddParticipant(ctx context.Context, chatId, userId string) error {
	return r.update(chatId, func(c *entity.Chat, now time.Time) error {
		return readd(c, userId, now)
	})
}

func readd(c *entity.Chat, userId string, now time.Time) error {
	i, open := c.OpenRemoval(userId)
	if c.Type != entity.ChatTypeGroup || c.IsParticipant(userId) || !open {
		return ErrMembershipConflict
	}
	rejoined := now
	c.RemovedFor[i].RejoinedAt = &rejoined
	c.Participants = append(c.Participants, userId)
	c.JoinRequests = without(c.JoinRequests, userId)
	c.UpdatedAt = now
	return nil
}

func (r *memoryChatRepository) RecordJoinRequest(ctx context.Context, chatId, userId string) error {
	return r.update(chatId, func(c *entity.Chat, now time.Time) error {
		if c.Type != entity.ChatTypeGroup || c.IsParticipant(userId) {
			return ErrMembershipConflict
		}
		if !c.HasJoinRequest(userId) {
			c.JoinRequests = append(c.JoinRequests, userId)
		}
		return nil
	})
}

func (r *memoryChatRepository) ResolveJoinRequest(ctx context.Context, chatId, userId string, approve bool) error {
	return r.update(chatId, func(c *entity.Chat, now time.Time) error {
		if !c.HasJoinRequest(userId) {
			return ErrMembershipConflict
		}
		if !approve {
			c.JoinRequests = without(c.JoinRequests, userId)
			return nil
		}
		if _, open := c.OpenRemoval(userId); open {
			return readd(c, userId, now)
		}
		if c.Type != entity.ChatTypeGroup || c.IsParticipant(userId) {
			return ErrMembershipConflict
		}
		c.Participants = append(c.Participants, userId)
		c.JoinRequests = without(c.JoinRequests, userId)
		c.UpdatedAt = now
		return nil
	})
}

func (r *memoryChatRepository) RecordBlock(ctx context.Context, chatId, by, target string) error {
	return r.update(chatId, func(c *entity.Chat, now time.Time) error {
		if c.Type != entity.ChatTypeDirect || !c.IsParticipant(by) || !c.IsParticipant(target) {
			return ErrMembershipConflict
		}
		if !c.HasBlock(by, target) {
			c.Blocks = append(c.Blocks, entity.Block{By: by, Target: target, CreatedAt: now})
		}
		return nil
	})
}

func (r *memoryChatRepository) ClearBlocks(ctx context.Context, chatId string) error {
	return r.update(chatId, func(c *entity.Chat, now time.Time) error {
		if c.Type != entity.ChatTypeDirect {
			return ErrMembershipConflict
		}
		c.Blocks = []entity.Block{}
		return nil
	})
}

func (r *memoryChatRepository) UpdateReadMarker(ctx context.Context, chatId, userId string, at time.Time) error {
	at = at.UTC().Truncate(time.Millisecond)
	return r.update(chatId, func(c *entity.Chat, now time.Time) error {
		if prev, ok := c.ReadState[userId]; !ok || at.After(prev) {
			c.ReadState[userId] = at
		}
		return nil
	})
}

func (r *memoryChatRepository) SetNotifications(ctx context.Context, chatId, userId string, enabled bool) error {
	return r.update(chatId, func(c *entity.Chat, now time.Time) error {
		c.MutedBy = without(c.MutedBy, userId)
		if !enabled {
			c.MutedBy = append(c.MutedBy, userId)
		}
		return nil
	})
}

func (r *memoryChatRepository) Rename(ctx context.Context, chatId, title string) error {
	return r.update(chatId, func(c *entity.Chat, now time.Time) error {
		if c.Type != entity.ChatTypeGroup {
			return ErrMembershipConflict
		}
		c.Title = title
		c.UpdatedAt = now
		return nil
	})
}

func (r *memoryChatRepository) UpdateLastMessage(ctx context.Context, chatId string, last entity.LastMessage) error {
	return r.update(chatId, func(c *entity.Chat, now time.Time) error {
		if c.LastMessage != nil && c.LastMessage.CreatedAt.After(last.CreatedAt) {
			return nil
		}
		preview := last
		c.LastMessage = &preview
		c.UpdatedAt = last.CreatedAt
		return nil
	})
}

func (r *memoryChatRepository) update(chatId string, fn func(c *entity.Chat, now time.Time) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.chats[chatId]
	if !ok {
		return ErrChatNotFound
	}
	draft := cloneChat(*stored)
	if err := fn(&draft, r.now()); err != nil {
		return err
	}
	r.chats[chatId] = &draft
	return nil
}

func cloneChat(c entity.Chat) entity.Chat {
	out := c
	out.Participants = append([]string{}, c.Participants...)
	out.Blocks = append([]entity.Block{}, c.Blocks...)
	out.JoinRequests = append([]string{}, c.JoinRequests...)
	out.MutedBy = append([]string{}, c.MutedBy...)
	out.RemovedFor = make([]entity.Removal, len(c.RemovedFor))
	for i, rm := range c.RemovedFor {
		out.RemovedFor[i] = rm
		if rm.RejoinedAt != nil {
			at := *rm.RejoinedAt
			out.RemovedFor[i].RejoinedAt = &at
		}
	}
	out.ReadState = make(map[string]time.Time, len(c.ReadState))
	for k, v := range c.ReadState {
		out.ReadState[k] = v
	}
	if c.LastMessage != nil {
		last := *c.LastMessage
		out.LastMessage = &last
	}
	return out
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

type memoryMessageRepository struct {
	mu       sync.RWMutex
	messages []entity.Message
	now      func() time.Time
}

func NewMemoryMessageRepository(clock func() time.Time) MessageRepository {
	if clock == nil {
		clock = time.Now
	}
	return &memoryMessageRepository{now: storeNow(clock)}
}

func (r *memoryMessageRepository) Create(ctx context.Context, message entity.Message) (entity.Message, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return entity.Message{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	message.Id = id.String()
	message.CreatedAt = r.now()
	r.messages = append(r.messages, message)
	return message, nil
}

// IndexByChat sorts by createdAt; equal timestamps keep insertion order.
func (r *memoryMessageRepository) IndexByChat(ctx context.Context, chatId string) ([]entity.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]entity.Message, 0)
	for _, m := range r.messages {
		if m.ChatId == chatId {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

type memoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]entity.User
}

func NewMemoryUserRepository(users ...entity.User) UserRepository {
	r := &memoryUserRepository{users: make(map[string]entity.User, len(users))}
	for _, u := range users {
		r.users[u.Id] = u
	}
	return r
}

func (r *memoryUserRepository) Get(ctx context.Context, userId string) (entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[userId]
	if !ok {
		return entity.User{}, ErrUserNotFound
	}
	return user, nil
}

func (r *memoryUserRepository) Index(ctx context.Context, filter entity.UserIndexFilter) ([]entity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]entity.User, 0)
	if len(filter.Ids) == 0 {
		for _, u := range r.users {
			users = append(users, u)
		}
		sort.Slice(users, func(i, j int) bool { return users[i].Id < users[j].Id })
		return users, nil
	}
	for _, id := range filter.Ids {
		if u, ok := r.users[id]; ok {
			users = append(users, u)
		}
	}
	return users, nil
}
