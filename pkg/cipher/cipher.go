package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"medichat/internal/entity"

	"golang.org/x/crypto/hkdf"
)

const (
	AlgorithmAESGCM = "aes-256-gcm"
	ScopeChat       = "chat"

	keySize = 32
)

var (
	ErrEmptyKey      = errors.New("cipher: empty key material")
	ErrUnknownKey    = errors.New("cipher: unknown key id")
	ErrUnsupported   = errors.New("cipher: unsupported algorithm")
	ErrCorruptRecord = errors.New("cipher: corrupt ciphertext or metadata")
)

// Context binds a ciphertext to the chat and sender it was written for.
type Context struct {
	ChatId   string
	SenderId string
}

// Viewer identifies who a decrypt is performed for. Authorization is the
// caller's job; the key scope is per chat, so every viewer decrypts alike.
type Viewer struct {
	ViewerId string
}

// Service encrypts message text with a per-chat key derived from a keyring
// entry. New messages use the active key; old ones name their key in the
// stored metadata so the keyring can rotate.
type Service struct {
	activeKeyId string
	keys        map[string][]byte
}

func New(activeKeyId string, keys map[string][]byte) (*Service, error) {
	if activeKeyId == "" || len(keys[activeKeyId]) == 0 {
		return nil, ErrEmptyKey
	}
	copied := make(map[string][]byte, len(keys))
	for id, k := range keys {
		if len(k) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmptyKey, id)
		}
		copied[id] = append([]byte(nil), k...)
	}
	return &Service{activeKeyId: activeKeyId, keys: copied}, nil
}

// ParseKeyring parses "keyId:base64key,keyId2:base64key".
func ParseKeyring(raw string) (map[string][]byte, error) {
	keys := make(map[string][]byte)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, encoded, ok := strings.Cut(entry, ":")
		if !ok || id == "" {
			return nil, fmt.Errorf("cipher: malformed keyring entry %q", entry)
		}
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("cipher: key %s: %w", id, err)
		}
		if len(key) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrEmptyKey, id)
		}
		keys[id] = key
	}
	return keys, nil
}

func (s *Service) Encrypt(plaintext string, c Context) (string, entity.Encryption, error) {
	if s == nil || len(s.keys[s.activeKeyId]) == 0 {
		return "", entity.Encryption{}, ErrEmptyKey
	}

	aead, err := s.aead(s.activeKeyId, c.ChatId)
	if err != nil {
		return "", entity.Encryption{}, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", entity.Encryption{}, err
	}

	sealed := aead.Seal(nil, nonce, []byte(plaintext), additionalData(c))
	return base64.StdEncoding.EncodeToString(sealed), entity.Encryption{
		Algorithm: AlgorithmAESGCM,
		KeyId:     s.activeKeyId,
		Scope:     ScopeChat,
		Nonce:     base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// Decrypt opens a stored message.
func (s *Service) Decrypt(msg entity.Message, v Viewer) (string, error) {
	return s.open(msg.Ciphertext, msg.Encryption, Context{ChatId: msg.ChatId, SenderId: msg.SenderId})
}

// DecryptPreview opens the ciphertext cached in a chat's lastMessage.
func (s *Service) DecryptPreview(chatId string, last entity.LastMessage, v Viewer) (string, error) {
	return s.open(last.Ciphertext, last.Encryption, Context{ChatId: chatId, SenderId: last.SenderId})
}

func (s *Service) open(ciphertext string, enc entity.Encryption, c Context) (string, error) {
	if enc.Algorithm != AlgorithmAESGCM || enc.Scope != ScopeChat {
		return "", ErrUnsupported
	}
	if _, ok := s.keys[enc.KeyId]; !ok {
		return "", ErrUnknownKey
	}

	aead, err := s.aead(enc.KeyId, c.ChatId)
	if err != nil {
		return "", err
	}

	nonce, err := base64.StdEncoding.DecodeString(enc.Nonce)
	if err != nil || len(nonce) != aead.NonceSize() {
		return "", ErrCorruptRecord
	}
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrCorruptRecord
	}

	plain, err := aead.Open(nil, nonce, sealed, additionalData(c))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return string(plain), nil
}

func (s *Service) aead(keyId, chatId string) (gocipher.AEAD, error) {
	derived := make([]byte, keySize)
	kdf := hkdf.New(sha256.New, s.keys[keyId], nil, []byte("medichat/chat/"+chatId))
	if _, err := io.ReadFull(kdf, derived); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, err
	}
	return gocipher.NewGCM(block)
}

func additionalData(c Context) []byte {
	return []byte(c.ChatId + "|" + c.SenderId)
}
