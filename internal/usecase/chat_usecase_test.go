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

func TestGetOrCreateDirectChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.chatUc.GetOrCreateDirectChat(ctx, alice, bob.UserId)
	require.NoError(t, err)
	second, err := f.chatUc.GetOrCreateDirectChat(ctx, bob, alice.UserId)
	require.NoError(t, err)
	assert.Equal(t, first.Id, second.Id)
	assert.Equal(t, entity.ChatTypeDirect, first.Type)
	require.Len(t, first.Participants, 2)
	assert.Equal(t, "Dr. Alice", first.Participants[0].DisplayName)
	assert.True(t, first.NotificationsEnabled)

	_, err = f.chatUc.GetOrCreateDirectChat(ctx, alice, alice.UserId)
	requireCode(t, err, apperror.CodeValidation)
	_, err = f.chatUc.GetOrCreateDirectChat(ctx, alice, "")
	requireCode(t, err, apperror.CodeValidation)
	_, err = f.chatUc.GetOrCreateDirectChat(ctx, alice, "ghost")
	requireCode(t, err, apperror.CodeNotFound)
}

func TestGetOrCreateDirectChat_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids := make(chan string, 20)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor, other := alice, bob.UserId
			if i%2 == 1 {
				actor, other = bob, alice.UserId
			}
			chat, err := f.chatUc.GetOrCreateDirectChat(ctx, actor, other)
			assert.NoError(t, err)
			ids <- chat.Id
		}(i)
	}
	wg.Wait()
	close(ids)

	unique := map[string]bool{}
	for id := range ids {
		unique[id] = true
	}
	assert.Len(t, unique, 1)
}

func TestCreateGroupChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.chatUc.CreateGroupChat(ctx, alice, "Ward 3", nil)
	requireCode(t, err, apperror.CodeAuthorization)
	_, err = f.chatUc.CreateGroupChat(ctx, admin, "   ", nil)
	requireCode(t, err, apperror.CodeValidation)
	_, err = f.chatUc.CreateGroupChat(ctx, admin, "Ward 3", []string{"ghost"})
	requireCode(t, err, apperror.CodeValidation)

	group, err := f.chatUc.CreateGroupChat(ctx, admin, "  Ward 3 ", []string{alice.UserId, alice.UserId, admin.UserId})
	require.NoError(t, err)
	assert.Equal(t, "Ward 3", group.Title)
	assert.Equal(t, entity.ChatTypeGroup, group.Type)
	require.Len(t, group.Participants, 2)
	assert.Equal(t, admin.UserId, group.Participants[0].Id)
	assert.Equal(t, alice.UserId, group.Participants[1].Id)
}

func TestListUserChats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	direct, err := f.chatUc.GetOrCreateDirectChat(ctx, alice, bob.UserId)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	group, err := f.chatUc.CreateGroupChat(ctx, admin, "Ward 3", []string{alice.UserId})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	f.send(t, direct.Id, bob, "labs are back")

	chats, err := f.chatUc.ListUserChats(ctx, alice)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, direct.Id, chats[0].Id, "most recently active first")
	assert.Equal(t, group.Id, chats[1].Id)

	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, "labs are back", chats[0].LastMessage.Text)
	assert.Equal(t, bob.UserId, chats[0].LastMessage.SenderId)
	assert.Nil(t, chats[1].LastMessage)

	none, err := f.chatUc.ListUserChats(ctx, stranger)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListUserChats_RemovedMemberSeesNoLaterPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, err := f.chatUc.CreateGroupChat(ctx, admin, "Ward 3", []string{member.UserId})
	require.NoError(t, err)

	f.send(t, group.Id, admin, "before")
	f.clock.Advance(time.Minute)
	_, err = f.chatUc.RemoveMember(ctx, admin, group.Id, member.UserId)
	require.NoError(t, err)

	chats, err := f.chatUc.ListUserChats(ctx, member)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.True(t, chats[0].Removed)
	require.NotNil(t, chats[0].LastMessage)
	assert.Equal(t, "before", chats[0].LastMessage.Text)

	f.clock.Advance(time.Minute)
	f.send(t, group.Id, admin, "while removed")

	chats, err = f.chatUc.ListUserChats(ctx, member)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Nil(t, chats[0].LastMessage)

	adminView, err := f.chatUc.ListUserChats(ctx, admin)
	require.NoError(t, err)
	require.NotNil(t, adminView[0].LastMessage)
	assert.Equal(t, "while removed", adminView[0].LastMessage.Text)
	assert.False(t, adminView[0].Removed)
}

func TestJoinRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, err := f.chatUc.CreateGroupChat(ctx, admin, "Ward 3", []string{alice.UserId})
	require.NoError(t, err)

	requireCode(t, f.chatUc.RequestJoin(ctx, alice, group.Id), apperror.CodeConflict)
	require.NoError(t, f.chatUc.RequestJoin(ctx, bob, group.Id))

	listings, err := f.chatUc.ListGroups(ctx, bob)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, entity.GroupListing{Id: group.Id, Title: "Ward 3", MemberCount: 2, Requested: true}, listings[0])

	adminView, err := f.chatUc.ListUserChats(ctx, admin)
	require.NoError(t, err)
	require.Len(t, adminView[0].JoinRequests, 1)
	assert.Equal(t, "Nurse Bob", adminView[0].JoinRequests[0].DisplayName)

	aliceView, err := f.chatUc.ListUserChats(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, aliceView[0].JoinRequests, "only managers see join requests")

	_, err = f.chatUc.ResolveJoinRequest(ctx, alice, group.Id, bob.UserId, true)
	requireCode(t, err, apperror.CodeAuthorization)
	_, err = f.chatUc.ResolveJoinRequest(ctx, admin, group.Id, stranger.UserId, true)
	requireCode(t, err, apperror.CodeNotFound)

	dto, err := f.chatUc.ResolveJoinRequest(ctx, admin, group.Id, bob.UserId, true)
	require.NoError(t, err)
	assert.Len(t, dto.Participants, 3)
	assert.Empty(t, dto.JoinRequests)

	f.send(t, group.Id, bob, "thanks for adding me")
}

func TestJoinRequest_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, err := f.chatUc.CreateGroupChat(ctx, admin, "Ward 3", nil)
	require.NoError(t, err)

	require.NoError(t, f.chatUc.RequestJoin(ctx, bob, group.Id))
	dto, err := f.chatUc.ResolveJoinRequest(ctx, admin, group.Id, bob.UserId, false)
	require.NoError(t, err)
	assert.Len(t, dto.Participants, 1)
	assert.Empty(t, dto.JoinRequests)

	_, err = f.msgUc.SendMessage(ctx, group.Id, bob.UserId, "hi")
	requireCode(t, err, apperror.CodeAuthorization)
}

func TestJoinRequest_ApprovalReopensRemovedMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, err := f.chatUc.CreateGroupChat(ctx, admin, "Ward 3", []string{member.UserId})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	_, err = f.chatUc.RemoveMember(ctx, admin, group.Id, member.UserId)
	require.NoError(t, err)
	f.send(t, group.Id, admin, "missed")

	f.clock.Advance(time.Minute)
	require.NoError(t, f.chatUc.RequestJoin(ctx, member, group.Id))
	_, err = f.chatUc.ResolveJoinRequest(ctx, admin, group.Id, member.UserId, true)
	require.NoError(t, err)
	f.send(t, group.Id, admin, "welcome back")

	assert.Equal(t, []string{"welcome back"}, f.texts(t, group.Id, member))
}

func TestMembershipManagement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, err := f.chatUc.CreateGroupChat(ctx, admin, "Ward 3", []string{alice.UserId})
	require.NoError(t, err)

	_, err = f.chatUc.AddMember(ctx, alice, group.Id, bob.UserId)
	requireCode(t, err, apperror.CodeAuthorization)
	_, err = f.chatUc.AddMember(ctx, admin, group.Id, alice.UserId)
	requireCode(t, err, apperror.CodeConflict)
	_, err = f.chatUc.AddMember(ctx, admin, group.Id, "ghost")
	requireCode(t, err, apperror.CodeNotFound)

	dto, err := f.chatUc.AddMember(ctx, admin, group.Id, bob.UserId)
	require.NoError(t, err)
	assert.Len(t, dto.Participants, 3)

	_, err = f.chatUc.RemoveMember(ctx, admin, group.Id, admin.UserId)
	requireCode(t, err, apperror.CodeAuthorization)
	_, err = f.chatUc.RemoveMember(ctx, admin, group.Id, stranger.UserId)
	requireCode(t, err, apperror.CodeConflict)

	dto, err = f.chatUc.RemoveMember(ctx, admin, group.Id, bob.UserId)
	require.NoError(t, err)
	assert.Len(t, dto.Participants, 2)

	direct, err := f.chatUc.GetOrCreateDirectChat(ctx, alice, bob.UserId)
	require.NoError(t, err)
	_, err = f.chatUc.AddMember(ctx, admin, direct.Id, member.UserId)
	requireCode(t, err, apperror.CodeValidation)
}

func TestLeaveGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, err := f.chatUc.CreateGroupChat(ctx, admin, "Ward 3", []string{alice.UserId})
	require.NoError(t, err)
	f.send(t, group.Id, admin, "before leaving")

	f.clock.Advance(time.Minute)
	require.NoError(t, f.chatUc.LeaveGroup(ctx, alice, group.Id))
	requireCode(t, f.chatUc.LeaveGroup(ctx, alice, group.Id), apperror.CodeAuthorization)

	f.clock.Advance(time.Minute)
	f.send(t, group.Id, admin, "after leaving")

	_, err = f.msgUc.SendMessage(ctx, group.Id, alice.UserId, "hi")
	requireCode(t, err, apperror.CodeAuthorization)
	assert.Equal(t, []string{"before leaving"}, f.texts(t, group.Id, alice))

	chats, err := f.chatUc.ListUserChats(ctx, alice)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.True(t, chats[0].Removed)
}

func TestRenameGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	group, err := f.chatUc.CreateGroupChat(ctx, admin, "Ward 3", []string{alice.UserId})
	require.NoError(t, err)

	_, err = f.chatUc.RenameGroup(ctx, alice, group.Id, "ICU")
	requireCode(t, err, apperror.CodeAuthorization)
	_, err = f.chatUc.RenameGroup(ctx, admin, group.Id, "")
	requireCode(t, err, apperror.CodeValidation)

	dto, err := f.chatUc.RenameGroup(ctx, admin, group.Id, " ICU ")
	require.NoError(t, err)
	assert.Equal(t, "ICU", dto.Title)
}

func TestSetNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat, err := f.chatUc.GetOrCreateDirectChat(ctx, alice, bob.UserId)
	require.NoError(t, err)

	dto, err := f.chatUc.SetNotifications(ctx, alice, chat.Id, false)
	require.NoError(t, err)
	assert.False(t, dto.NotificationsEnabled)

	bobView, err := f.chatUc.ListUserChats(ctx, bob)
	require.NoError(t, err)
	assert.True(t, bobView[0].NotificationsEnabled)

	dto, err = f.chatUc.SetNotifications(ctx, alice, chat.Id, true)
	require.NoError(t, err)
	assert.True(t, dto.NotificationsEnabled)

	_, err = f.chatUc.SetNotifications(ctx, stranger, chat.Id, false)
	requireCode(t, err, apperror.CodeAuthorization)
}

func TestMarkRead_NeverMovesBackwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat, err := f.chatUc.GetOrCreateDirectChat(ctx, alice, bob.UserId)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	later, err := f.chatUc.MarkRead(ctx, alice, chat.Id)
	require.NoError(t, err)

	f.clock.Advance(-30 * time.Minute)
	again, err := f.chatUc.MarkRead(ctx, alice, chat.Id)
	require.NoError(t, err)
	assert.Equal(t, *later, *again)

	_, err = f.chatUc.MarkRead(ctx, stranger, chat.Id)
	requireCode(t, err, apperror.CodeAuthorization)
	_, err = f.chatUc.MarkRead(ctx, alice, "missing")
	requireCode(t, err, apperror.CodeNotFound)
}

func TestAdminDirectChatsAndClearBlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat, err := f.chatUc.GetOrCreateDirectChat(ctx, alice, bob.UserId)
	require.NoError(t, err)
	f.send(t, chat.Id, alice, "private")
	_, err = f.chatUc.BlockUser(ctx, alice, chat.Id)
	require.NoError(t, err)

	_, err = f.chatUc.ListDirectChatsForAdmin(ctx, alice)
	requireCode(t, err, apperror.CodeAuthorization)
	_, err = f.chatUc.ClearBlocks(ctx, alice, chat.Id)
	requireCode(t, err, apperror.CodeAuthorization)

	chats, err := f.chatUc.ListDirectChatsForAdmin(ctx, admin)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.Len(t, chats[0].Blocks, 1)
	assert.Equal(t, alice.UserId, chats[0].Blocks[0].By)
	assert.Nil(t, chats[0].LastMessage, "admins do not read previews of chats they are not in")

	dto, err := f.chatUc.ClearBlocks(ctx, admin, chat.Id)
	require.NoError(t, err)
	assert.Empty(t, dto.Blocks)

	f.send(t, chat.Id, bob, "unblocked")

	group, err := f.chatUc.CreateGroupChat(ctx, admin, "Ward 3", nil)
	require.NoError(t, err)
	_, err = f.chatUc.ClearBlocks(ctx, admin, group.Id)
	requireCode(t, err, apperror.CodeConflict)
}

func TestBlockUser_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chat, err := f.chatUc.GetOrCreateDirectChat(ctx, alice, bob.UserId)
	require.NoError(t, err)
	group, err := f.chatUc.CreateGroupChat(ctx, admin, "Ward 3", []string{alice.UserId})
	require.NoError(t, err)

	_, err = f.chatUc.BlockUser(ctx, stranger, chat.Id)
	requireCode(t, err, apperror.CodeAuthorization)
	_, err = f.chatUc.BlockUser(ctx, alice, group.Id)
	requireCode(t, err, apperror.CodeValidation)
	_, err = f.chatUc.BlockUser(ctx, alice, "missing")
	requireCode(t, err, apperror.CodeNotFound)

	_, err = f.chatUc.BlockUser(ctx, alice, chat.Id)
	require.NoError(t, err)
	_, err = f.chatUc.BlockUser(ctx, alice, chat.Id)
	require.NoError(t, err, "blocking twice is a no-op")
}
