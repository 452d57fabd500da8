package entity

import (
	"sort"
	"strings"
	"time"
)

type ChatType string

const (
	ChatTypeDirect ChatType = "direct"
	ChatTypeGroup  ChatType = "group"
)

type Chat struct {
	Id              string               `bson:"_id" json:"id"`
	Type            ChatType             `bson:"type" json:"type"`
	Participants    []string             `bson:"participants" json:"participants"`
	ParticipantsKey string               `bson:"participantsKey,omitempty" json:"participantsKey,omitempty"`
	Title           string               `bson:"title,omitempty" json:"title,omitempty"`
	CreatedBy       string               `bson:"createdBy,omitempty" json:"createdBy,omitempty"`
	Blocks          []Block              `bson:"blocks" json:"blocks"`
	RemovedFor      []Removal            `bson:"removedFor" json:"removedFor"`
	JoinRequests    []string             `bson:"joinRequests" json:"joinRequests"`
	MutedBy         []string             `bson:"mutedBy" json:"mutedBy"`
	ReadState       map[string]time.Time `bson:"readState" json:"readState"`
	LastMessage     *LastMessage         `bson:"lastMessage" json:"lastMessage"`
	CreatedAt       time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time            `bson:"updatedAt" json:"updatedAt"`
}

// Block is directional in storage: By blocked Target.
type Block struct {
	By        string    `bson:"by" json:"by"`
	Target    string    `bson:"target" json:"target"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// Removal is one removal of User from a group. RejoinedAt stays nil while
// the user is still removed.
type Removal struct {
	User       string     `bson:"user" json:"user"`
	RemovedAt  time.Time  `bson:"removedAt" json:"removedAt"`
	RejoinedAt *time.Time `bson:"rejoinedAt" json:"rejoinedAt"`
}

// LastMessage is the list-preview cache. It holds the ciphertext of the
// latest message, never plaintext.
type LastMessage struct {
	MessageId  string     `bson:"messageId" json:"messageId"`
	SenderId   string     `bson:"senderId" json:"senderId"`
	Ciphertext string     `bson:"ciphertext" json:"-"`
	Encryption Encryption `bson:"encryption" json:"-"`
	CreatedAt  time.Time  `bson:"createdAt" json:"createdAt"`
}

// ParticipantsKey is the order-independent key of a direct chat.
func ParticipantsKey(userId1, userId2 string) string {
	pair := []string{userId1, userId2}
	sort.Strings(pair)
	return strings.Join(pair, ":")
}

func (c Chat) IsParticipant(userId string) bool {
	return contains(c.Participants, userId)
}

// OpenRemoval returns the index of userId's removal entry that has not been
// closed by a rejoin.
func (c Chat) OpenRemoval(userId string) (int, bool) {
	for i, r := range c.RemovedFor {
		if r.User == userId && r.RejoinedAt == nil {
			return i, true
		}
	}
	return -1, false
}

func (c Chat) HasRemovalHistory(userId string) bool {
	for _, r := range c.RemovedFor {
		if r.User == userId {
			return true
		}
	}
	return false
}

// HasBlockBetween reports whether either user has blocked the other.
func (c Chat) HasBlockBetween(userId1, userId2 string) bool {
	for _, b := range c.Blocks {
		if (b.By == userId1 && b.Target == userId2) || (b.By == userId2 && b.Target == userId1) {
			return true
		}
	}
	return false
}

func (c Chat) HasBlock(by, target string) bool {
	for _, b := range c.Blocks {
		if b.By == by && b.Target == target {
			return true
		}
	}
	return false
}

// OtherParticipant returns the counterpart of userId in a direct chat.
func (c Chat) OtherParticipant(userId string) string {
	for _, p := range c.Participants {
		if p != userId {
			return p
		}
	}
	return ""
}

func (c Chat) HasJoinRequest(userId string) bool {
	return contains(c.JoinRequests, userId)
}

func (c Chat) NotificationsEnabled(userId string) bool {
	return !contains(c.MutedBy, userId)
}

func (c Chat) LastReadAt(userId string) *time.Time {
	at, ok := c.ReadState[userId]
	if !ok {
		return nil
	}
	return &at
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

type LastMessagePreview struct {
	Text      string    `json:"text"`
	SenderId  string    `json:"senderId"`
	CreatedAt time.Time `json:"createdAt"`
}

type ChatDto struct {
	Id                   string              `json:"id"`
	Type                 ChatType            `json:"type"`
	Participants         []UserSummary       `json:"participants"`
	Title                string              `json:"title,omitempty"`
	LastMessage          *LastMessagePreview `json:"lastMessage,omitempty"`
	NotificationsEnabled bool                `json:"notificationsEnabled"`
	Removed              bool                `json:"removed,omitempty"`
	JoinRequests         []UserSummary       `json:"joinRequests,omitempty"`
	Blocks               []Block             `json:"blocks,omitempty"`
	LastReadAt           *time.Time          `json:"lastReadAt,omitempty"`
	CreatedAt            time.Time           `json:"createdAt"`
	UpdatedAt            time.Time           `json:"updatedAt"`
}

// GroupListing is one entry of the group directory.
type GroupListing struct {
	Id          string `json:"id"`
	Title       string `json:"title"`
	MemberCount int    `json:"memberCount"`
	IsMember    bool   `json:"isMember"`
	Requested   bool   `json:"requested"`
}
