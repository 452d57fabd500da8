package entity

import "time"

// Message is immutable once stored.
type Message struct {
	Id         string     `bson:"_id" json:"id"`
	ChatId     string     `bson:"chatId" json:"chatId"`
	SenderId   string     `bson:"senderId" json:"senderId"`
	Ciphertext string     `bson:"ciphertext" json:"-"`
	Encryption Encryption `bson:"encryption" json:"-"`
	CreatedAt  time.Time  `bson:"createdAt" json:"createdAt"`
}

type Encryption struct {
	Algorithm string `bson:"algorithm" json:"algorithm"`
	KeyId     string `bson:"keyId" json:"keyId"`
	Scope     string `bson:"scope" json:"scope"`
	Nonce     string `bson:"nonce" json:"nonce"`
}

type MessageDto struct {
	Id        string      `json:"id"`
	ChatId    string      `json:"chatId"`
	SenderId  string      `json:"senderId"`
	Sender    UserSummary `json:"sender"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"createdAt"`
}

// ChatMessages is the result of a per-viewer history read. Skipped counts
// stored messages that were visible but could not be decrypted.
type ChatMessages struct {
	Messages   []MessageDto `json:"messages"`
	LastReadAt *time.Time   `json:"lastReadAt"`
	Skipped    int          `json:"skipped"`
}

// MessageCreatedEvent is handed to the real-time collaborators after a send.
type MessageCreatedEvent struct {
	Recipients []string   `json:"recipients"`
	Message    MessageDto `json:"message"`
}
