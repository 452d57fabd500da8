package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medichat/infrastructure/cache"
	"medichat/infrastructure/db"
	"medichat/infrastructure/events"
	"medichat/infrastructure/logger"
	"medichat/infrastructure/metrics"
	"medichat/infrastructure/ws"
	"medichat/internal/config"
	httpHandler "medichat/internal/delivery/http"
	"medichat/internal/delivery/websocket"
	"medichat/internal/entity"
	"medichat/internal/repository"
	"medichat/internal/usecase"
	"medichat/pkg/cipher"
	"medichat/pkg/jwt"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	accessTokenTTL  = 15 * time.Minute
	shutdownTimeout = 15 * time.Second
)

type stores struct {
	chats    repository.ChatRepository
	messages repository.MessageRepository
	users    repository.UserRepository
	close    func(context.Context) error
}

func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("closing store failed")
		}
	}()

	cipherSvc, err := cipher.New(cfg.CipherActiveKeyId, cfg.CipherKeys)
	if err != nil {
		return fmt.Errorf("cipher: %w", err)
	}

	jwtManager := jwt.NewJWTManager(cfg.JWTSecret, accessTokenTTL)

	hub, err := newHub(ctx, cfg)
	if err != nil {
		return err
	}

	notifiers := usecase.Notifiers{ws.NewNotifier(hub)}
	if cfg.KafkaBrokers != "" {
		kafka := events.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaMessageTopic)
		defer kafka.Close()
		notifiers = append(notifiers, kafka)
		log.Info().Str("topic", cfg.KafkaMessageTopic).Msg("publishing message events to kafka")
	}

	userCache := cache.NewMemCache[entity.User](cfg.UserCacheTTL, time.Minute)
	defer userCache.Close()

	// Initialize use cases
	userUc := usecase.NewUserUseCase(st.users, userCache)
	chatUc := usecase.NewChatUseCase(st.chats, userUc, cipherSvc)
	messageUc := usecase.NewMessageUseCase(st.chats, st.messages, userUc, cipherSvc, notifiers, cfg.DecryptWorkers)

	if cfg.Env == config.EnvDev && cfg.StoreDriver == config.StoreMemory {
		logDevTokens(jwtManager, st.users)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(metrics.Middleware)
	router.Use(cors(cfg.AllowedOrigin))

	websocketH := websocket.NewWebsocketHandler(hub, messageUc, chatUc, cfg.AllowedOrigin)
	httpH := httpHandler.NewHttpHandler(chatUc, messageUc, userUc)
	authMiddleware := httpHandler.NewAuthMiddleware(jwtManager)
	httpHandler.MapHttpRoutes(router, httpH, websocketH, authMiddleware)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Str("store", cfg.StoreDriver).Msg("HTTP server is running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStores(ctx context.Context, cfg config.Config) (stores, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		log.Warn().Msg("using in-memory storage, data is lost on restart")
		var seed []entity.User
		if cfg.Env == config.EnvDev {
			seed = devUsers()
		}
		return stores{
			chats:    repository.NewMemoryChatRepository(time.Now),
			messages: repository.NewMemoryMessageRepository(time.Now),
			users:    repository.NewMemoryUserRepository(seed...),
			close:    func(context.Context) error { return nil },
		}, nil

	default:
		mongoDb, err := db.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return stores{}, fmt.Errorf("mongo: %w", err)
		}
		if err := mongoDb.EnsureIndexes(ctx, repository.IndexModels()); err != nil {
			_ = mongoDb.Close(ctx)
			return stores{}, err
		}
		log.Info().Str("database", cfg.MongoDatabase).Msg("Connected to MongoDB")

		return stores{
			chats:    repository.NewChatRepository(*mongoDb.DB),
			messages: repository.NewMessageRepository(*mongoDb.DB),
			users:    repository.NewUserRepository(*mongoDb.DB),
			close:    mongoDb.Close,
		}, nil
	}
}

func newHub(ctx context.Context, cfg config.Config) (ws.IHub, error) {
	if cfg.RedisAddr == "" {
		log.Info().Msg("Using in-memory hub (single server)")
		return ws.NewHub(), nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	log.Info().Str("redis", cfg.RedisAddr).Str("serverId", cfg.ServerID).Msg("Using Redis hub")
	return ws.NewRedisHub(rdb, cfg.ServerID), nil
}

func cors(allowedOrigin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// devUsers seeds the in-memory directory so a local server is usable
// without the authentication service.
func devUsers() []entity.User {
	now := time.Now().UTC()
	return []entity.User{
		{Id: "u-admin", Username: "admin", DisplayName: "Clinic Admin", Role: entity.RoleAdmin, Department: "Administration", CreatedAt: now},
		{Id: "u-doctor", Username: "dr.grey", DisplayName: "Dr. Grey", Role: "doctor", Department: "Surgery", JobTitle: "Resident", CreatedAt: now},
		{Id: "u-nurse", Username: "n.tate", DisplayName: "Nurse Tate", Role: "nurse", Department: "Surgery", CreatedAt: now},
	}
}

func logDevTokens(jwtManager *jwt.JWTManager, users repository.UserRepository) {
	all, err := users.Index(context.Background(), entity.UserIndexFilter{})
	if err != nil {
		return
	}
	for _, u := range all {
		token, err := jwtManager.GenerateAccessToken(entity.TokenClaims{UserId: u.Id, Username: u.Username, Role: u.Role})
		if err != nil {
			continue
		}
		log.Info().Str("userId", u.Id).Str("role", u.Role).Str("token", token).Msg("development access token")
	}
}
