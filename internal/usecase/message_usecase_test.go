package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"medichat/internal/entity"
	"medichat/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessage_RoundTripForSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat, err := f.chatUc.GetOrCreateDirectChat(ctx, alice, bob.UserId)
	require.NoError(t, err)

	dto := f.send(t, chat.Id, alice, "  BP 120/80, continue current dose  ")
	assert.Equal(t, "BP 120/80, continue current dose", dto.Text)
	assert.Equal(t, "Dr. Alice", dto.Sender.DisplayName)
	assert.Equal(t, "Cardiology", dto.Sender.Department)

	assert.Equal(t, []string{"BP 120/80, continue current dose"}, f.texts(t, chat.Id, alice))
}

func TestSendMessage_StoresCiphertextOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat, err := f.chatUc.GetOrCreateDirectChat(ctx, alice, bob.UserId)
	require.NoError(t, err)

	f.send(t, chat.Id, alice, "secret")

	stored, err := f.messages.IndexByChat(ctx, chat.Id)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.NotEqual(t, "secret", stored[0].Ciphertext)
	assert.NotContains(t, stored[0].Ciphertext, "secret")

	stored2, err := f.chats.Get(ctx, chat.Id)
	require.NoError(t, err)
	require.NotNil(t, stored2.LastMessage)
	assert.Equal(t, stored[0].Ciphertext, stored2.LastMessage.Ciphertext)
}

func TestScenario_HelloInNewDirectChat(t *testing.T) {
	f := newFixture(t)
	chat, err := f.chatUc.GetOrCreateDirectChat(context.Background(), alice, bob.UserId)
	require.NoError(t, err)

	f.send(t, chat.Id, alice, "Hello")

	result, err := f.msgUc.GetMessagesForChat(context.Background(), chat.Id, bob.UserId)
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "Hello", result.Messages[0].Text)
	assert.Equal(t, alice.UserId, result.Messages[0].SenderId)
	assert.Nil(t, result.LastReadAt)
	assert.Zero(t, result.Skipped)
}

func TestSendMessage_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat, err := f.chatUc.GetOrCreateDirectChat(ctx, alice, bob.UserId)
	require.NoError(t, err)

	tests := []struct {
		name     string
		chatId   string
		senderId string
		text     string
		code     apperror.Code
	}{
		{"missing chat", "", alice.UserId, "hi", apperror.CodeValidation},
		{"missing sender", chat.Id, "", "hi", apperror.CodeValidation},
		{"empty text", chat.Id, alice.UserId, "", apperror.CodeValidation},
		{"whitespace text", chat.Id, alice.UserId, " \n\t ", apperror.CodeValidation},
		{"unknown chat", "nope", alice.UserId, "hi", apperror.CodeNotFound},
		{"not a participant", chat.Id, stranger.UserId, "hi", apperror.CodeAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.msgUc.SendMessage(ctx, tt.chatId, tt.senderId, tt.text)
			requireCode(t, err, tt.code)
		})
	}
}

func TestNeverMember_CannotSendOrRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, err := f.chatUc.CreateGroupChat(ctx, admin, "Ward 3", []string{alice.UserId})
	require.NoError(t, err)
	f.send(t, group.Id, admin, "rounds at 10")

	_, err = f.msgUc.SendMessage(ctx, group.Id, stranger.UserId, "hi")
	requireCode(t, err, apperror.CodeAuthorization)
	_, err = f.msgUc.GetMessagesForChat(ctx, group.Id, stranger.UserId)
	requireCode(t, err, apperror.CodeAuthorization)
}

func TestScenario_RemovedAndReaddedMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, err := f.chatUc.CreateGroupChat(ctx, admin, "Ward 3", []string{member.UserId})
	require.NoError(t, err)

	f.send(t, group.Id, admin, "before")
	f.clock.Advance(time.Minute)

	// T1
	_, err = f.chatUc.RemoveMember(ctx, admin, group.Id, member.UserId)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	f.send(t, group.Id, admin, "during")

	_, err = f.msgUc.SendMessage(ctx, group.Id, member.UserId, "let me back in")
	requireCode(t, err, apperror.CodeAuthorization)

	assert.Equal(t, []string{"before"}, f.texts(t, group.Id, member), "removed member keeps pre-removal history")

	f.clock.Advance(time.Minute)
	// T2
	_, err = f.chatUc.AddMember(ctx, admin, group.Id, member.UserId)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	f.send(t, group.Id, admin, "after")

	assert.Equal(t, []string{"before", "after"}, f.texts(t, group.Id, member))
	assert.Equal(t, []string{"before", "during", "after"}, f.texts(t, group.Id, admin))

	f.send(t, group.Id, member, "thanks")
}

func TestRemovalWindowBoundaries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, err := f.chatUc.CreateGroupChat(ctx, admin, "Ward 3", []string{member.UserId})
	require.NoError(t, err)

	_, err = f.chatUc.RemoveMember(ctx, admin, group.Id, member.UserId)
	require.NoError(t, err)
	f.send(t, group.Id, admin, "at removal")

	f.clock.Advance(time.Minute)
	_, err = f.chatUc.AddMember(ctx, admin, group.Id, member.UserId)
	require.NoError(t, err)
	f.send(t, group.Id, admin, "at rejoin")

	assert.Equal(t, []string{"at rejoin"}, f.texts(t, group.Id, member))
}

func TestDirectChatBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat, err := f.chatUc.GetOrCreateDirectChat(ctx, alice, bob.UserId)
	require.NoError(t, err)

	f.send(t, chat.Id, alice, "before block")
	f.clock.Advance(time.Minute)

	dto, err := f.chatUc.BlockUser(ctx, bob, chat.Id)
	require.NoError(t, err)
	assert.Equal(t, chat.Id, dto.Id)

	_, err = f.msgUc.SendMessage(ctx, chat.Id, alice.UserId, "hello?")
	requireCode(t, err, apperror.CodeAuthorization)
	_, err = f.msgUc.SendMessage(ctx, chat.Id, bob.UserId, "bye")
	requireCode(t, err, apperror.CodeAuthorization)

	assert.Equal(t, []string{"before block"}, f.texts(t, chat.Id, alice))
	assert.Equal(t, []string{"before block"}, f.texts(t, chat.Id, bob))
}

func TestGetMessages_OrderedByCreatedAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat, err := f.chatUc.GetOrCreateDirectChat(ctx, alice, bob.UserId)
	require.NoError(t, err)

	// Arrival order differs from timestamp order.
	f.clock.Advance(2 * time.Second)
	f.send(t, chat.Id, alice, "third")
	f.clock.Advance(-time.Second)
	f.send(t, chat.Id, bob, "second")
	f.clock.Advance(-time.Second)
	f.send(t, chat.Id, alice, "first")

	for i := 0; i < 3; i++ {
		assert.Equal(t, []string{"first", "second", "third"}, f.texts(t, chat.Id, bob))
	}
}

func TestGetMessages_EqualTimestampsKeepStableOrder(t *testing.T) {
	f := newFixture(t)
	chat, err := f.chatUc.GetOrCreateDirectChat(context.Background(), alice, bob.UserId)
	require.NoError(t, err)

	want := []string{"a", "b", "c", "d", "e"}
	for _, text := range want {
		f.send(t, chat.Id, alice, text)
	}
	assert.Equal(t, want, f.texts(t, chat.Id, bob))
	assert.Equal(t, want, f.texts(t, chat.Id, bob))
}

func TestGetMessages_SkipsUndecryptableMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat, err := f.chatUc.GetOrCreateDirectChat(ctx, alice, bob.UserId)
	require.NoError(t, err)

	f.send(t, chat.Id, alice, "one")
	good := f.send(t, chat.Id, alice, "two")
	stored, err := f.messages.IndexByChat(ctx, chat.Id)
	require.NoError(t, err)

	corrupt := stored[1]
	corrupt.Ciphertext = "AAAA" + corrupt.Ciphertext[4:]
	_, err = f.messages.Create(ctx, corrupt)
	require.NoError(t, err)
	f.send(t, chat.Id, bob, "three")

	result, err := f.msgUc.GetMessagesForChat(ctx, chat.Id, bob.UserId)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Messages, 3)
	assert.Equal(t, "one", result.Messages[0].Text)
	assert.Equal(t, good.Id, result.Messages[1].Id)
	assert.Equal(t, "three", result.Messages[2].Text)
}

func TestGetMessages_ReturnsReadMarker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat, err := f.chatUc.GetOrCreateDirectChat(ctx, alice, bob.UserId)
	require.NoError(t, err)
	f.send(t, chat.Id, alice, "hi")

	f.clock.Advance(time.Minute)
	at, err := f.chatUc.MarkRead(ctx, bob, chat.Id)
	require.NoError(t, err)

	result, err := f.msgUc.GetMessagesForChat(ctx, chat.Id, bob.UserId)
	require.NoError(t, err)
	require.NotNil(t, result.LastReadAt)
	assert.Equal(t, *at, *result.LastReadAt)
	assert.Equal(t, f.clock.Now(), *result.LastReadAt)
}

func TestSendMessage_NotifiesParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, err := f.chatUc.CreateGroupChat(ctx, admin, "Ward 3", []string{alice.UserId, bob.UserId})
	require.NoError(t, err)

	sent := f.send(t, group.Id, alice, "handover at 7")

	select {
	case event := <-f.notifier.events:
		assert.ElementsMatch(t, []string{admin.UserId, alice.UserId, bob.UserId}, event.Recipients)
		assert.Equal(t, sent, event.Message)
	case <-time.After(time.Second):
		t.Fatal("notifier was not called")
	}
}

func TestSendMessage_NotifyOutlivesRequestContext(t *testing.T) {
	f := newFixture(t)
	chat, err := f.chatUc.GetOrCreateDirectChat(context.Background(), alice, bob.UserId)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	_, err = f.msgUc.SendMessage(ctx, chat.Id, alice.UserId, "hi")
	require.NoError(t, err)
	cancel()

	select {
	case event := <-f.notifier.events:
		assert.Equal(t, "hi", event.Message.Text)
	case <-time.After(time.Second):
		t.Fatal("notifier was not called")
	}
}

func TestSendMessage_ConcurrentSendersKeepLatestPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, err := f.chatUc.CreateGroupChat(ctx, admin, "Ward 3", []string{alice.UserId, bob.UserId})
	require.NoError(t, err)
	go func() {
		for range f.notifier.events {
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from := alice
			if i%2 == 0 {
				from = bob
			}
			_, err := f.msgUc.SendMessage(ctx, group.Id, from.UserId, "msg")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	result, err := f.msgUc.GetMessagesForChat(ctx, group.Id, admin.UserId)
	require.NoError(t, err)
	assert.Len(t, result.Messages, 20)

	chat, err := f.chats.Get(ctx, group.Id)
	require.NoError(t, err)
	require.NotNil(t, chat.LastMessage)
	for _, m := range result.Messages {
		assert.False(t, m.CreatedAt.After(chat.LastMessage.CreatedAt))
	}
}

func TestToMessageDto(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	dto := toMessageDto(
		entity.Message{Id: "m", ChatId: "c", SenderId: "s", Ciphertext: "x", CreatedAt: at},
		"plain",
		entity.UserSummary{Id: "s"},
	)
	assert.Equal(t, entity.MessageDto{Id: "m", ChatId: "c", SenderId: "s", Sender: entity.UserSummary{Id: "s"}, Text: "plain", CreatedAt: at}, dto)
}
