package config

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"medichat/pkg/cipher"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	EnvDev = "dev"

	StoreMongo  = "mongo"
	StoreMemory = "memory"

	DefaultJWTSecret = "your-secret-key-change-this-in-production"
	devKeyId         = "dev"
)

type Config struct {
	Env               string            `validate:"required"`
	Port              string            `validate:"required,numeric"`
	LogLevel          string            `validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	StoreDriver       string            `validate:"required,oneof=mongo memory"`
	MongoURI          string            `validate:"required_if=StoreDriver mongo"`
	MongoDatabase     string            `validate:"required_if=StoreDriver mongo"`
	RedisAddr         string            `validate:"omitempty,hostname_port"`
	ServerID          string            `validate:"required"`
	JWTSecret         string            `validate:"required"`
	CipherActiveKeyId string            `validate:"required"`
	CipherKeys        map[string][]byte `validate:"required,min=1"`
	KafkaBrokers      string
	KafkaMessageTopic string `validate:"required_with=KafkaBrokers"`
	AllowedOrigin     string `validate:"required"`
	UserCacheTTL      time.Duration
	DecryptWorkers    int `validate:"gte=0"`
}

var validate = validator.New()

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("godotenv: could not load .env file")
	}

	cfg := Config{
		Env:               getenv("APP_ENV", EnvDev),
		Port:              getenv("PORT", "8080"),
		LogLevel:          getenv("LOG_LEVEL", "info"),
		StoreDriver:       getenv("STORE_DRIVER", StoreMongo),
		MongoURI:          getenv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase:     os.Getenv("MONGODB_DATABASE"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		ServerID:          getenv("SERVER_ID", "server-1"),
		JWTSecret:         getenv("JWT_SECRET", DefaultJWTSecret),
		CipherActiveKeyId: os.Getenv("CIPHER_ACTIVE_KEY_ID"),
		KafkaBrokers:      os.Getenv("KAFKA_BROKERS"),
		KafkaMessageTopic: getenv("KAFKA_MESSAGE_TOPIC", "medichat.messages"),
		AllowedOrigin:     getenv("ALLOWED_ORIGIN", "http://localhost:3000"),
	}

	ttl, err := strconv.Atoi(getenv("USER_CACHE_TTL_SECONDS", "60"))
	if err != nil {
		return Config{}, fmt.Errorf("USER_CACHE_TTL_SECONDS: %w", err)
	}
	cfg.UserCacheTTL = time.Duration(ttl) * time.Second

	if cfg.DecryptWorkers, err = strconv.Atoi(getenv("DECRYPT_WORKERS", "0")); err != nil {
		return Config{}, fmt.Errorf("DECRYPT_WORKERS: %w", err)
	}

	if cfg.CipherKeys, err = cipher.ParseKeyring(os.Getenv("CIPHER_KEYS")); err != nil {
		return Config{}, fmt.Errorf("CIPHER_KEYS: %w", err)
	}
	if len(cfg.CipherKeys) == 0 && cfg.Env == EnvDev {
		log.Warn().Msg("CIPHER_KEYS not set, using the development key")
		devKey := sha256.Sum256([]byte("medichat-development-key"))
		cfg.CipherKeys = map[string][]byte{devKeyId: devKey[:]}
		cfg.CipherActiveKeyId = devKeyId
	}

	return cfg, nil
}

// Validate rejects incomplete configuration and development defaults
// outside dev.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		var vErrs validator.ValidationErrors
		if errors.As(err, &vErrs) {
			first := vErrs[0]
			return fmt.Errorf("config: field %s failed rule %s", first.Field(), first.Tag())
		}
		return err
	}
	if _, ok := cfg.CipherKeys[cfg.CipherActiveKeyId]; !ok {
		return fmt.Errorf("config: active cipher key %q is not in CIPHER_KEYS", cfg.CipherActiveKeyId)
	}
	if cfg.Env != EnvDev && cfg.JWTSecret == DefaultJWTSecret {
		return errors.New("config: JWT_SECRET must be set outside dev")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
