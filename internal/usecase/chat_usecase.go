package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"medichat/internal/entity"
	"medichat/internal/repository"
	"medichat/internal/visibility"
	"medichat/pkg/apperror"
	"medichat/pkg/cipher"

	"github.com/rs/zerolog/log"
)

const maxTitleLength = 120

type ChatUsecase interface {
	// Direct chats
	GetOrCreateDirectChat(ctx context.Context, actor entity.TokenClaims, otherUserId string) (entity.ChatDto, error)
	BlockUser(ctx context.Context, actor entity.TokenClaims, chatId string) (entity.ChatDto, error)

	// Group chats
	CreateGroupChat(ctx context.Context, actor entity.TokenClaims, title string, participantIds []string) (entity.ChatDto, error)
	ListGroups(ctx context.Context, actor entity.TokenClaims) ([]entity.GroupListing, error)
	RequestJoin(ctx context.Context, actor entity.TokenClaims, chatId string) error
	ResolveJoinRequest(ctx context.Context, actor entity.TokenClaims, chatId, userId string, approve bool) (entity.ChatDto, error)
	AddMember(ctx context.Context, actor entity.TokenClaims, chatId, userId string) (entity.ChatDto, error)
	RemoveMember(ctx context.Context, actor entity.TokenClaims, chatId, userId string) (entity.ChatDto, error)
	LeaveGroup(ctx context.Context, actor entity.TokenClaims, chatId string) error
	RenameGroup(ctx context.Context, actor entity.TokenClaims, chatId, title string) (entity.ChatDto, error)

	// Per-user state
	ListUserChats(ctx context.Context, actor entity.TokenClaims) ([]entity.ChatDto, error)
	SetNotifications(ctx context.Context, actor entity.TokenClaims, chatId string, enabled bool) (entity.ChatDto, error)
	MarkRead(ctx context.Context, actor entity.TokenClaims, chatId string) (*time.Time, error)

	// Administration
	ListDirectChatsForAdmin(ctx context.Context, actor entity.TokenClaims) ([]entity.ChatDto, error)
	ClearBlocks(ctx context.Context, actor entity.TokenClaims, chatId string) (entity.ChatDto, error)
}

type chatUsecase struct {
	chatRepo repository.ChatRepository
	userUc   UserUsecase
	cipher   *cipher.Service
	now      func() time.Time
}

func NewChatUseCase(chatRepo repository.ChatRepository, userUc UserUsecase, cipherSvc *cipher.Service) ChatUsecase {
	return &chatUsecase{
		chatRepo: chatRepo,
		userUc:   userUc,
		cipher:   cipherSvc,
		now:      time.Now,
	}
}

func (c *chatUsecase) GetOrCreateDirectChat(ctx context.Context, actor entity.TokenClaims, otherUserId string) (entity.ChatDto, error) {
	if actor.UserId == "" || otherUserId == "" {
		return entity.ChatDto{}, apperror.Validation("both userId and otherUserId are required")
	}
	if actor.UserId == otherUserId {
		return entity.ChatDto{}, apperror.Validation("cannot create chat with yourself")
	}
	if _, err := c.userUc.Get(ctx, otherUserId); err != nil {
		return entity.ChatDto{}, err
	}

	chat, err := c.chatRepo.GetOrCreateDirect(ctx, actor.UserId, otherUserId)
	if err != nil {
		return entity.ChatDto{}, translate(err)
	}
	return c.renderOne(ctx, actor, chat), nil
}

func (c *chatUsecase) BlockUser(ctx context.Context, actor entity.TokenClaims, chatId string) (entity.ChatDto, error) {
	chat, err := c.load(ctx, chatId)
	if err != nil {
		return entity.ChatDto{}, err
	}
	if chat.Type != entity.ChatTypeDirect {
		return entity.ChatDto{}, apperror.Validation("only direct chats can be blocked")
	}
	if !chat.IsParticipant(actor.UserId) {
		return entity.ChatDto{}, translate(visibility.ErrNotParticipant)
	}

	if err := c.chatRepo.RecordBlock(ctx, chatId, actor.UserId, chat.OtherParticipant(actor.UserId)); err != nil {
		return entity.ChatDto{}, translate(err)
	}
	return c.reload(ctx, actor, chatId)
}

func (c *chatUsecase) CreateGroupChat(ctx context.Context, actor entity.TokenClaims, title string, participantIds []string) (entity.ChatDto, error) {
	if !actor.IsAdmin() {
		return entity.ChatDto{}, apperror.Forbidden("only administrators can create groups")
	}
	title, err := normalizeTitle(title)
	if err != nil {
		return entity.ChatDto{}, err
	}

	var members []string
	seen := map[string]bool{actor.UserId: true}
	for _, id := range participantIds {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}
	if len(members) > 0 {
		found, err := c.userUc.Summaries(ctx, members)
		if err != nil {
			return entity.ChatDto{}, err
		}
		for _, id := range members {
			if _, ok := found[id]; !ok {
				return entity.ChatDto{}, apperror.Validation(fmt.Sprintf("unknown user %s", id))
			}
		}
	}

	chat, err := c.chatRepo.CreateGroup(ctx, title, actor.UserId, members)
	if err != nil {
		return entity.ChatDto{}, translate(err)
	}
	return c.renderOne(ctx, actor, chat), nil
}

func (c *chatUsecase) ListGroups(ctx context.Context, actor entity.TokenClaims) ([]entity.GroupListing, error) {
	groups, err := c.chatRepo.IndexByType(ctx, entity.ChatTypeGroup)
	if err != nil {
		return nil, translate(err)
	}

	listings := make([]entity.GroupListing, 0, len(groups))
	for _, g := range groups {
		listings = append(listings, entity.GroupListing{
			Id:          g.Id,
			Title:       g.Title,
			MemberCount: len(g.Participants),
			IsMember:    g.IsParticipant(actor.UserId),
			Requested:   g.HasJoinRequest(actor.UserId),
		})
	}
	return listings, nil
}

func (c *chatUsecase) RequestJoin(ctx context.Context, actor entity.TokenClaims, chatId string) error {
	chat, err := c.loadGroup(ctx, chatId)
	if err != nil {
		return err
	}
	if chat.IsParticipant(actor.UserId) {
		return apperror.Conflict("already a member of this group")
	}
	return translate(c.chatRepo.RecordJoinRequest(ctx, chatId, actor.UserId))
}

func (c *chatUsecase) ResolveJoinRequest(ctx context.Context, actor entity.TokenClaims, chatId, userId string, approve bool) (entity.ChatDto, error) {
	chat, err := c.loadManagedGroup(ctx, actor, chatId)
	if err != nil {
		return entity.ChatDto{}, err
	}
	if !chat.HasJoinRequest(userId) {
		return entity.ChatDto{}, apperror.NotFound("join request not found")
	}

	if err := c.chatRepo.ResolveJoinRequest(ctx, chatId, userId, approve); err != nil {
		return entity.ChatDto{}, translate(err)
	}
	return c.reload(ctx, actor, chatId)
}

// AddMember adds a user to a group. A user with an open removal is re-added,
// which closes their removal window.
func (c *chatUsecase) AddMember(ctx context.Context, actor entity.TokenClaims, chatId, userId string) (entity.ChatDto, error) {
	chat, err := c.loadManagedGroup(ctx, actor, chatId)
	if err != nil {
		return entity.ChatDto{}, err
	}
	if userId == "" {
		return entity.ChatDto{}, apperror.Validation("userId is required")
	}
	if chat.IsParticipant(userId) {
		return entity.ChatDto{}, apperror.Conflict("user is already a member")
	}
	if _, err := c.userUc.Get(ctx, userId); err != nil {
		return entity.ChatDto{}, err
	}

	if _, open := chat.OpenRemoval(userId); open {
		err = c.chatRepo.ReaddParticipant(ctx, chatId, userId)
	} else {
		err = c.chatRepo.AddParticipant(ctx, chatId, userId)
	}
	if err != nil {
		return entity.ChatDto{}, translate(err)
	}
	return c.reload(ctx, actor, chatId)
}

func (c *chatUsecase) RemoveMember(ctx context.Context, actor entity.TokenClaims, chatId, userId string) (entity.ChatDto, error) {
	chat, err := c.loadManagedGroup(ctx, actor, chatId)
	if err != nil {
		return entity.ChatDto{}, err
	}
	if userId == chat.CreatedBy {
		return entity.ChatDto{}, apperror.Forbidden("the group creator cannot be removed")
	}
	if !chat.IsParticipant(userId) {
		return entity.ChatDto{}, apperror.Conflict("user is not a member")
	}

	if err := c.chatRepo.RemoveParticipant(ctx, chatId, userId); err != nil {
		return entity.ChatDto{}, translate(err)
	}
	return c.reload(ctx, actor, chatId)
}

func (c *chatUsecase) LeaveGroup(ctx context.Context, actor entity.TokenClaims, chatId string) error {
	chat, err := c.loadGroup(ctx, chatId)
	if err != nil {
		return err
	}
	if !chat.IsParticipant(actor.UserId) {
		return translate(visibility.ErrNotParticipant)
	}
	return translate(c.chatRepo.RemoveParticipant(ctx, chatId, actor.UserId))
}

func (c *chatUsecase) RenameGroup(ctx context.Context, actor entity.TokenClaims, chatId, title string) (entity.ChatDto, error) {
	if _, err := c.loadManagedGroup(ctx, actor, chatId); err != nil {
		return entity.ChatDto{}, err
	}
	title, err := normalizeTitle(title)
	if err != nil {
		return entity.ChatDto{}, err
	}

	if err := c.chatRepo.Rename(ctx, chatId, title); err != nil {
		return entity.ChatDto{}, translate(err)
	}
	return c.reload(ctx, actor, chatId)
}

func (c *chatUsecase) ListUserChats(ctx context.Context, actor entity.TokenClaims) ([]entity.ChatDto, error) {
	chats, err := c.chatRepo.IndexForUser(ctx, actor.UserId)
	if err != nil {
		return nil, translate(err)
	}
	return c.render(ctx, actor, chats, false), nil
}

func (c *chatUsecase) SetNotifications(ctx context.Context, actor entity.TokenClaims, chatId string, enabled bool) (entity.ChatDto, error) {
	if _, err := c.loadReadable(ctx, actor, chatId); err != nil {
		return entity.ChatDto{}, err
	}
	if err := c.chatRepo.SetNotifications(ctx, chatId, actor.UserId, enabled); err != nil {
		return entity.ChatDto{}, translate(err)
	}
	return c.reload(ctx, actor, chatId)
}

// MarkRead moves the caller's read marker to now. The stored marker never
// moves backwards, so the returned value may be later than now.
func (c *chatUsecase) MarkRead(ctx context.Context, actor entity.TokenClaims, chatId string) (*time.Time, error) {
	if _, err := c.loadReadable(ctx, actor, chatId); err != nil {
		return nil, err
	}
	if err := c.chatRepo.UpdateReadMarker(ctx, chatId, actor.UserId, c.now()); err != nil {
		return nil, translate(err)
	}

	chat, err := c.load(ctx, chatId)
	if err != nil {
		return nil, err
	}
	return chat.LastReadAt(actor.UserId), nil
}

func (c *chatUsecase) ListDirectChatsForAdmin(ctx context.Context, actor entity.TokenClaims) ([]entity.ChatDto, error) {
	if !actor.IsAdmin() {
		return nil, apperror.Forbidden("administrator role required")
	}
	chats, err := c.chatRepo.IndexByType(ctx, entity.ChatTypeDirect)
	if err != nil {
		return nil, translate(err)
	}
	return c.render(ctx, actor, chats, true), nil
}

func (c *chatUsecase) ClearBlocks(ctx context.Context, actor entity.TokenClaims, chatId string) (entity.ChatDto, error) {
	if !actor.IsAdmin() {
		return entity.ChatDto{}, apperror.Forbidden("administrator role required")
	}
	if err := c.chatRepo.ClearBlocks(ctx, chatId); err != nil {
		return entity.ChatDto{}, translate(err)
	}
	chat, err := c.load(ctx, chatId)
	if err != nil {
		return entity.ChatDto{}, err
	}
	return c.render(ctx, actor, []entity.Chat{chat}, true)[0], nil
}

func (c *chatUsecase) load(ctx context.Context, chatId string) (entity.Chat, error) {
	if chatId == "" {
		return entity.Chat{}, apperror.Validation("chatId is required")
	}
	chat, err := c.chatRepo.Get(ctx, chatId)
	if err != nil {
		return entity.Chat{}, translate(err)
	}
	return chat, nil
}

func (c *chatUsecase) loadGroup(ctx context.Context, chatId string) (entity.Chat, error) {
	chat, err := c.load(ctx, chatId)
	if err != nil {
		return entity.Chat{}, err
	}
	if chat.Type != entity.ChatTypeGroup {
		return entity.Chat{}, apperror.Validation("operation applies to group chats only")
	}
	return chat, nil
}

// loadManagedGroup loads a group the actor may administer: administrators
// manage every group, other users only the groups they created.
func (c *chatUsecase) loadManagedGroup(ctx context.Context, actor entity.TokenClaims, chatId string) (entity.Chat, error) {
	chat, err := c.loadGroup(ctx, chatId)
	if err != nil {
		return entity.Chat{}, err
	}
	if !canManage(chat, actor) {
		return entity.Chat{}, apperror.Forbidden("only group managers can do this")
	}
	return chat, nil
}

func (c *chatUsecase) loadReadable(ctx context.Context, actor entity.TokenClaims, chatId string) (entity.Chat, error) {
	chat, err := c.load(ctx, chatId)
	if err != nil {
		return entity.Chat{}, err
	}
	if err := visibility.CanRead(chat, actor.UserId); err != nil {
		return entity.Chat{}, translate(err)
	}
	return chat, nil
}

func (c *chatUsecase) reload(ctx context.Context, actor entity.TokenClaims, chatId string) (entity.ChatDto, error) {
	chat, err := c.load(ctx, chatId)
	if err != nil {
		return entity.ChatDto{}, err
	}
	return c.renderOne(ctx, actor, chat), nil
}

func canManage(chat entity.Chat, actor entity.TokenClaims) bool {
	return actor.IsAdmin() || (chat.CreatedBy != "" && chat.CreatedBy == actor.UserId)
}

func normalizeTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", apperror.Validation("group title is required")
	}
	if len([]rune(title)) > maxTitleLength {
		return "", apperror.Validation(fmt.Sprintf("group title is longer than %d characters", maxTitleLength))
	}
	return title, nil
}

func (c *chatUsecase) renderOne(ctx context.Context, actor entity.TokenClaims, chat entity.Chat) entity.ChatDto {
	return c.render(ctx, actor, []entity.Chat{chat}, false)[0]
}

// render builds the per-viewer view of chats with a single directory lookup.
func (c *chatUsecase) render(ctx context.Context, actor entity.TokenClaims, chats []entity.Chat, withBlocks bool) []entity.ChatDto {
	var userIds []string
	for _, chat := range chats {
		userIds = append(userIds, chat.Participants...)
		if canManage(chat, actor) {
			userIds = append(userIds, chat.JoinRequests...)
		}
	}
	summaries := lookupSummaries(ctx, c.userUc, userIds)

	dtos := make([]entity.ChatDto, 0, len(chats))
	for _, chat := range chats {
		dto := entity.ChatDto{
			Id:                   chat.Id,
			Type:                 chat.Type,
			Participants:         make([]entity.UserSummary, 0, len(chat.Participants)),
			Title:                chat.Title,
			LastMessage:          c.preview(chat, actor.UserId),
			NotificationsEnabled: chat.NotificationsEnabled(actor.UserId),
			LastReadAt:           chat.LastReadAt(actor.UserId),
			CreatedAt:            chat.CreatedAt,
			UpdatedAt:            chat.UpdatedAt,
		}
		for _, id := range chat.Participants {
			dto.Participants = append(dto.Participants, summaryOf(summaries, id))
		}
		if _, open := chat.OpenRemoval(actor.UserId); open {
			dto.Removed = true
		}
		if chat.Type == entity.ChatTypeGroup && canManage(chat, actor) {
			for _, id := range chat.JoinRequests {
				dto.JoinRequests = append(dto.JoinRequests, summaryOf(summaries, id))
			}
		}
		if withBlocks {
			dto.Blocks = chat.Blocks
		}
		dtos = append(dtos, dto)
	}
	return dtos
}

// preview decrypts the cached last message for viewerId. Previews are only
// shown to readers of the chat and never from inside a removal window.
func (c *chatUsecase) preview(chat entity.Chat, viewerId string) *entity.LastMessagePreview {
	last := chat.LastMessage
	if last == nil || visibility.CanRead(chat, viewerId) != nil {
		return nil
	}
	if !visibility.Visible(visibility.RemovalWindows(chat, viewerId), last.CreatedAt) {
		return nil
	}

	text, err := c.cipher.DecryptPreview(chat.Id, *last, cipher.Viewer{ViewerId: viewerId})
	if err != nil {
		log.Warn().Err(err).Str("chatId", chat.Id).Str("messageId", last.MessageId).Msg("chat preview could not be decrypted")
		return nil
	}
	return &entity.LastMessagePreview{
		Text:      text,
		SenderId:  last.SenderId,
		CreatedAt: last.CreatedAt,
	}
}
