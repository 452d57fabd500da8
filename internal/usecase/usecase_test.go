package usecase

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"medichat/infrastructure/cache"
	"medichat/internal/entity"
	"medichat/internal/repository"
	"medichat/pkg/apperror"
	"medichat/pkg/cipher"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	events chan entity.MessageCreatedEvent
}

func (n *recordingNotifier) Name() string { return "recording" }

func (n *recordingNotifier) NotifyMessage(ctx context.Context, event entity.MessageCreatedEvent) error {
	n.events <- event
	return nil
}

var (
	admin    = entity.TokenClaims{UserId: "admin", Username: "chief", Role: entity.RoleAdmin}
	alice    = entity.TokenClaims{UserId: "alice", Username: "alice", Role: "doctor"}
	bob      = entity.TokenClaims{UserId: "bob", Username: "bob", Role: "nurse"}
	member   = entity.TokenClaims{UserId: "member", Username: "member", Role: "nurse"}
	stranger = entity.TokenClaims{UserId: "stranger", Username: "stranger", Role: "nurse"}
)

type fixture struct {
	clock    *fakeClock
	chats    repository.ChatRepository
	messages repository.MessageRepository
	cipher   *cipher.Service
	notifier *recordingNotifier
	userUc   UserUsecase
	chatUc   ChatUsecase
	msgUc    MessageUsecase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	svc, err := cipher.New("k1", map[string][]byte{"k1": bytes.Repeat([]byte{7}, 32)})
	require.NoError(t, err)

	users := repository.NewMemoryUserRepository(
		entity.User{Id: admin.UserId, Username: admin.Username, DisplayName: "Dr. Chief", Role: entity.RoleAdmin, Department: "Administration"},
		entity.User{Id: alice.UserId, Username: alice.Username, DisplayName: "Dr. Alice", Role: "doctor", Department: "Cardiology"},
		entity.User{Id: bob.UserId, Username: bob.Username, DisplayName: "Nurse Bob", Role: "nurse", Department: "Cardiology"},
		entity.User{Id: member.UserId, Username: member.Username, DisplayName: "Nurse Member", Role: "nurse"},
		entity.User{Id: stranger.UserId, Username: stranger.Username, DisplayName: "Stranger", Role: "nurse"},
	)
	userCache := cache.NewMemCache[entity.User](time.Minute, 0)
	t.Cleanup(userCache.Close)

	f := &fixture{
		clock:    clock,
		chats:    repository.NewMemoryChatRepository(clock.Now),
		messages: repository.NewMemoryMessageRepository(clock.Now),
		cipher:   svc,
		notifier: &recordingNotifier{events: make(chan entity.MessageCreatedEvent, 16)},
		userUc:   NewUserUseCase(users, userCache),
	}
	f.chatUc = NewChatUseCase(f.chats, f.userUc, svc)
	f.chatUc.(*chatUsecase).now = clock.Now
	f.msgUc = NewMessageUseCase(f.chats, f.messages, f.userUc, svc, f.notifier, 4)
	return f
}

func (f *fixture) send(t *testing.T, chatId string, from entity.TokenClaims, text string) entity.MessageDto {
	t.Helper()
	dto, err := f.msgUc.SendMessage(context.Background(), chatId, from.UserId, text)
	require.NoError(t, err)
	return dto
}

func (f *fixture) texts(t *testing.T, chatId string, viewer entity.TokenClaims) []string {
	t.Helper()
	result, err := f.msgUc.GetMessagesForChat(context.Background(), chatId, viewer.UserId)
	require.NoError(t, err)
	out := make([]string, 0, len(result.Messages))
	for _, m := range result.Messages {
		out = append(out, m.Text)
	}
	return out
}

func requireCode(t *testing.T, err error, code apperror.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, apperror.CodeOf(err), "unexpected error: %v", err)
}
