package usecase

import (
	"context"
	"runtime"
	"strings"

	"medichat/infrastructure/metrics"
	"medichat/internal/entity"
	"medichat/internal/repository"
	"medichat/internal/visibility"
	"medichat/pkg/apperror"
	"medichat/pkg/cipher"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type MessageUsecase interface {
	SendMessage(ctx context.Context, chatId, senderId, text string) (entity.MessageDto, error)
	GetMessagesForChat(ctx context.Context, chatId, viewerId string) (entity.ChatMessages, error)
}

type messageUsecase struct {
	chatRepo       repository.ChatRepository
	messageRepo    repository.MessageRepository
	userUc         UserUsecase
	cipher         *cipher.Service
	notifier       Notifier
	decryptWorkers int
}

func NewMessageUseCase(
	chatRepo repository.ChatRepository,
	messageRepo repository.MessageRepository,
	userUc UserUsecase,
	cipherSvc *cipher.Service,
	notifier Notifier,
	decryptWorkers int,
) MessageUsecase {
	if decryptWorkers <= 0 {
		decryptWorkers = runtime.GOMAXPROCS(0)
	}
	return &messageUsecase{
		chatRepo:       chatRepo,
		messageRepo:    messageRepo,
		userUc:         userUc,
		cipher:         cipherSvc,
		notifier:       notifier,
		decryptWorkers: decryptWorkers,
	}
}

func (m *messageUsecase) SendMessage(ctx context.Context, chatId, senderId, text string) (entity.MessageDto, error) {
	if chatId == "" || senderId == "" {
		return entity.MessageDto{}, apperror.Validation("chatId, senderId and text are required")
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return entity.MessageDto{}, apperror.Validation("message text cannot be empty")
	}

	chat, err := m.chatRepo.Get(ctx, chatId)
	if err != nil {
		return entity.MessageDto{}, translate(err)
	}
	if err := visibility.CanSend(chat, senderId); err != nil {
		return entity.MessageDto{}, translate(err)
	}

	ciphertext, enc, err := m.cipher.Encrypt(trimmed, cipher.Context{ChatId: chatId, SenderId: senderId})
	if err != nil {
		return entity.MessageDto{}, apperror.Internal("encrypt message", err)
	}

	msg, err := m.messageRepo.Create(ctx, entity.Message{
		ChatId:     chatId,
		SenderId:   senderId,
		Ciphertext: ciphertext,
		Encryption: enc,
	})
	if err != nil {
		return entity.MessageDto{}, translate(err)
	}
	metrics.MessagesSentTotal.Inc()

	// The message is already stored; a failed preview update is not a send failure.
	last := entity.LastMessage{
		MessageId:  msg.Id,
		SenderId:   senderId,
		Ciphertext: ciphertext,
		Encryption: enc,
		CreatedAt:  msg.CreatedAt,
	}
	if err := m.chatRepo.UpdateLastMessage(ctx, chatId, last); err != nil {
		log.Warn().Err(err).Str("chatId", chatId).Str("messageId", msg.Id).Msg("update chat preview failed")
	}

	plain, err := m.cipher.Decrypt(msg, cipher.Viewer{ViewerId: senderId})
	if err != nil {
		return entity.MessageDto{}, apperror.Decryption(err)
	}

	summaries := lookupSummaries(ctx, m.userUc, []string{senderId})
	dto := toMessageDto(msg, plain, summaryOf(summaries, senderId))

	m.notify(ctx, chat.Participants, dto)
	return dto, nil
}

// notify runs on a context detached from the request's cancellation.
func (m *messageUsecase) notify(ctx context.Context, recipients []string, dto entity.MessageDto) {
	if m.notifier == nil {
		return
	}
	event := entity.MessageCreatedEvent{
		Recipients: append([]string(nil), recipients...),
		Message:    dto,
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(detached, notifyTimeout)
		defer cancel()
		if err := m.notifier.NotifyMessage(ctx, event); err != nil {
			metrics.NotifyFailuresTotal.WithLabelValues(m.notifier.Name()).Inc()
			log.Warn().Err(err).Str("chatId", dto.ChatId).Msg("message notification failed")
		}
	}()
}

func (m *messageUsecase) GetMessagesForChat(ctx context.Context, chatId, viewerId string) (entity.ChatMessages, error) {
	if chatId == "" || viewerId == "" {
		return entity.ChatMessages{}, apperror.Validation("chatId and viewerId are required")
	}

	chat, err := m.chatRepo.Get(ctx, chatId)
	if err != nil {
		return entity.ChatMessages{}, translate(err)
	}
	if err := visibility.CanRead(chat, viewerId); err != nil {
		return entity.ChatMessages{}, translate(err)
	}

	stored, err := m.messageRepo.IndexByChat(ctx, chatId)
	if err != nil {
		return entity.ChatMessages{}, translate(err)
	}
	visible := visibility.Filter(chat, viewerId, stored)

	texts, failures, err := m.decryptAll(ctx, visible, viewerId)
	if err != nil {
		return entity.ChatMessages{}, translate(err)
	}

	senderIds := make([]string, 0, len(visible))
	for _, msg := range visible {
		senderIds = append(senderIds, msg.SenderId)
	}
	summaries := lookupSummaries(ctx, m.userUc, senderIds)

	result := entity.ChatMessages{
		Messages:   make([]entity.MessageDto, 0, len(visible)),
		LastReadAt: chat.LastReadAt(viewerId),
	}
	for i, msg := range visible {
		if failures[i] != nil {
			result.Skipped++
			metrics.DecryptSkippedTotal.Inc()
			log.Warn().Err(failures[i]).
				Str("chatId", chatId).
				Str("messageId", msg.Id).
				Str("viewerId", viewerId).
				Msg("skipping message that could not be decrypted")
			continue
		}
		result.Messages = append(result.Messages, toMessageDto(msg, texts[i], summaryOf(summaries, msg.SenderId)))
	}
	return result, nil
}

// decryptAll decrypts in parallel and returns results by input position, so
// the caller keeps the stored order. Per-message failures are reported in
// failures; only cancellation fails the whole call.
func (m *messageUsecase) decryptAll(ctx context.Context, messages []entity.Message, viewerId string) ([]string, []error, error) {
	texts := make([]string, len(messages))
	failures := make([]error, len(messages))
	viewer := cipher.Viewer{ViewerId: viewerId}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.decryptWorkers)
	for i, msg := range messages {
		i, msg := i, msg
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			texts[i], failures[i] = m.cipher.Decrypt(msg, viewer)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return texts, failures, nil
}

func toMessageDto(msg entity.Message, text string, sender entity.UserSummary) entity.MessageDto {
	return entity.MessageDto{
		Id:        msg.Id,
		ChatId:    msg.ChatId,
		SenderId:  msg.SenderId,
		Sender:    sender,
		Text:      text,
		CreatedAt: msg.CreatedAt,
	}
}
