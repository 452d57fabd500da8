package ws

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const userChannelPrefix = "medichat:ws:"

// RedisHub delivers locally when the user is connected to this process and
// otherwise publishes the frame on the user's channel for the other nodes.
type RedisHub struct {
	local       *Hub
	redisClient *redis.Client
	serverID    string
}

type RedisMessage struct {
	FromServerID string `json:"fromServerId"`
	ToUserID     string `json:"toUserId"`
	Payload      []byte `json:"payload"`
}

func NewRedisHub(rdb *redis.Client, serverID string) *RedisHub {
	return &RedisHub{
		local:       NewHub(),
		redisClient: rdb,
		serverID:    serverID,
	}
}

func (h *RedisHub) Run(ctx context.Context) {
	pubsub := h.redisClient.PSubscribe(ctx, userChannelPrefix+"*")
	defer pubsub.Close()

	go h.subscribeRedis(ctx, pubsub)
	h.local.Run(ctx)
}

func (h *RedisHub) subscribeRedis(ctx context.Context, pubsub *redis.PubSub) {
	log.Info().Str("serverId", h.serverID).Msg("redis websocket relay started")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var redisMsg RedisMessage
			if err := json.Unmarshal([]byte(msg.Payload), &redisMsg); err != nil {
				log.Warn().Err(err).Msg("malformed redis relay message")
				continue
			}
			if redisMsg.FromServerID == h.serverID {
				continue
			}
			h.local.SendToClient(redisMsg.ToUserID, redisMsg.Payload)
		}
	}
}

func (h *RedisHub) SendToClient(userID string, message []byte) {
	h.local.mu.RLock()
	_, existsLocally := h.local.clients[userID]
	h.local.mu.RUnlock()

	if existsLocally {
		h.local.SendToClient(userID, message)
		return
	}
	h.publishToRedis(userID, message)
}

func (h *RedisHub) publishToRedis(userID string, message []byte) {
	msgBytes, err := json.Marshal(RedisMessage{
		FromServerID: h.serverID,
		ToUserID:     userID,
		Payload:      message,
	})
	if err != nil {
		log.Warn().Err(err).Msg("marshal redis relay message")
		return
	}

	if err := h.redisClient.Publish(context.Background(), userChannelPrefix+userID, msgBytes).Err(); err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("publish to redis failed")
	}
}

func (h *RedisHub) GetClientCount() int {
	return h.local.GetClientCount()
}

func (h *RedisHub) RegisterClient(client *UserClient) {
	h.local.RegisterClient(client)
}

func (h *RedisHub) UnregisterClient(client *UserClient) {
	h.local.UnregisterClient(client)
}
