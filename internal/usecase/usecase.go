package usecase

import (
	"context"
	"errors"
	"time"

	"medichat/infrastructure/metrics"
	"medichat/internal/entity"
	"medichat/internal/repository"
	"medichat/internal/visibility"
	"medichat/pkg/apperror"

	"github.com/rs/zerolog/log"
)

const notifyTimeout = 5 * time.Second

// Notifier is a real-time collaborator told about every stored message.
type Notifier interface {
	Name() string
	NotifyMessage(ctx context.Context, event entity.MessageCreatedEvent) error
}

// Notifiers fans an event out to every collaborator. A failing collaborator
// is logged and counted; the others still run.
type Notifiers []Notifier

func (ns Notifiers) Name() string { return "all" }

func (ns Notifiers) NotifyMessage(ctx context.Context, event entity.MessageCreatedEvent) error {
	for _, n := range ns {
		if err := n.NotifyMessage(ctx, event); err != nil {
			metrics.NotifyFailuresTotal.WithLabelValues(n.Name()).Inc()
			log.Warn().Err(err).
				Str("notifier", n.Name()).
				Str("chatId", event.Message.ChatId).
				Str("messageId", event.Message.Id).
				Msg("message notification failed")
		}
	}
	return nil
}

// translate maps store and visibility errors onto the application taxonomy.
// Errors that already carry a code pass through unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperror.Error
	if errors.As(err, &appErr) {
		return err
	}

	switch {
	case errors.Is(err, repository.ErrChatNotFound):
		return apperror.NotFound("chat not found")
	case errors.Is(err, repository.ErrUserNotFound):
		return apperror.NotFound("user not found")
	case errors.Is(err, repository.ErrSelfChat):
		return apperror.Validation("cannot create chat with yourself")
	case errors.Is(err, repository.ErrMembershipConflict):
		return apperror.Wrap(apperror.CodeConflict, "chat state does not allow this change", err)
	case errors.Is(err, visibility.ErrNotParticipant),
		errors.Is(err, visibility.ErrRemoved),
		errors.Is(err, visibility.ErrBlocked),
		errors.Is(err, visibility.ErrNeverMember):
		return apperror.Wrap(apperror.CodeAuthorization, "not authorized for this chat", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperror.Internal("request cancelled", err)
	}
	return apperror.Internal("storage failure", err)
}
