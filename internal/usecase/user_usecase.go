package usecase

import (
	"context"

	"medichat/infrastructure/cache"
	"medichat/internal/entity"
	"medichat/internal/repository"

	"github.com/rs/zerolog/log"
)

// UserUsecase reads profiles from the directory owned by the auth service,
// caching them for the lifetime of the cache's TTL.
type UserUsecase interface {
	Get(ctx context.Context, userId string) (entity.User, error)
	Summaries(ctx context.Context, userIds []string) (map[string]entity.UserSummary, error)
}

type userUsecase struct {
	userRepo repository.UserRepository
	cache    *cache.MemCache[entity.User]
}

func NewUserUseCase(userRepo repository.UserRepository, userCache *cache.MemCache[entity.User]) UserUsecase {
	if userCache == nil {
		userCache = cache.NewMemCache[entity.User](0, 0)
	}
	return &userUsecase{
		userRepo: userRepo,
		cache:    userCache,
	}
}

func (u *userUsecase) Get(ctx context.Context, userId string) (entity.User, error) {
	if user, ok := u.cache.Get(userId); ok {
		return user, nil
	}

	user, err := u.userRepo.Get(ctx, userId)
	if err != nil {
		return entity.User{}, translate(err)
	}
	u.cache.Set(user.Id, user)
	return user, nil
}

// Summaries returns the profiles it could find, keyed by id. Unknown ids
// are left out.
func (u *userUsecase) Summaries(ctx context.Context, userIds []string) (map[string]entity.UserSummary, error) {
	out := make(map[string]entity.UserSummary, len(userIds))
	var missing []string
	seen := make(map[string]bool, len(userIds))
	for _, id := range userIds {
		if seen[id] {
			continue
		}
		seen[id] = true
		if user, ok := u.cache.Get(id); ok {
			out[id] = user.Summary()
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	users, err := u.userRepo.Index(ctx, entity.UserIndexFilter{Ids: missing})
	if err != nil {
		return nil, translate(err)
	}
	for _, user := range users {
		u.cache.Set(user.Id, user)
		out[user.Id] = user.Summary()
	}
	return out, nil
}

// lookupSummaries degrades to bare ids when the directory is unavailable.
func lookupSummaries(ctx context.Context, userUc UserUsecase, userIds []string) map[string]entity.UserSummary {
	summaries, err := userUc.Summaries(ctx, userIds)
	if err != nil {
		log.Warn().Err(err).Int("users", len(userIds)).Msg("user directory lookup failed")
		return nil
	}
	return summaries
}

// summaryOf falls back to a bare id when the profile is unknown.
func summaryOf(summaries map[string]entity.UserSummary, userId string) entity.UserSummary {
	if s, ok := summaries[userId]; ok {
		return s
	}
	return entity.UserSummary{Id: userId}
}
