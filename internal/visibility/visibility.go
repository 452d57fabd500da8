// Package visibility decides which messages of a chat a viewer may send to
// and read. Every function is pure over a snapshot of the chat document.
package visibility

import (
	"errors"
	"time"

	"medichat/internal/entity"
)

var (
	ErrNotParticipant = errors.New("user is not a participant of this chat")
	ErrBlocked        = errors.New("messaging is blocked between the participants")
	ErrRemoved        = errors.New("user was removed from this group")
	ErrNeverMember    = errors.New("user has never been a member of this chat")
)

// Window is a half-open interval [Start, End). A nil End is unbounded.
type Window struct {
	Start time.Time
	End   *time.Time
}

func (w Window) Contains(t time.Time) bool {
	if t.Before(w.Start) {
		return false
	}
	return w.End == nil || t.Before(*w.End)
}

// RemovalWindows returns the intervals during which viewerId was not a
// member of a group chat, in removal order.
func RemovalWindows(chat entity.Chat, viewerId string) []Window {
	if chat.Type != entity.ChatTypeGroup {
		return nil
	}
	var windows []Window
	for _, r := range chat.RemovedFor {
		if r.User != viewerId {
			continue
		}
		windows = append(windows, Window{Start: r.RemovedAt, End: r.RejoinedAt})
	}
	return windows
}

// CanSend reports why senderId may not post to chat, or nil.
func CanSend(chat entity.Chat, senderId string) error {
	if !chat.IsParticipant(senderId) {
		if _, open := chat.OpenRemoval(senderId); open {
			return ErrRemoved
		}
		return ErrNotParticipant
	}
	if chat.Type == entity.ChatTypeDirect && chat.HasBlockBetween(senderId, chat.OtherParticipant(senderId)) {
		return ErrBlocked
	}
	return nil
}

// CanRead gates history access. Former members keep access so they can see
// the part of history they were present for.
func CanRead(chat entity.Chat, viewerId string) error {
	if chat.IsParticipant(viewerId) || chat.HasRemovalHistory(viewerId) {
		return nil
	}
	return ErrNeverMember
}

// Visible reports whether a message created at createdAt is shown to
// viewerId. Blocks do not hide already delivered history.
func Visible(windows []Window, createdAt time.Time) bool {
	for _, w := range windows {
		if w.Contains(createdAt) {
			return false
		}
	}
	return true
}

// Filter keeps the messages viewerId may see, preserving order.
func Filter(chat entity.Chat, viewerId string, messages []entity.Message) []entity.Message {
	windows := RemovalWindows(chat, viewerId)
	if len(windows) == 0 {
		return messages
	}
	visible := make([]entity.Message, 0, len(messages))
	for _, m := range messages {
		if Visible(windows, m.CreatedAt) {
			visible = append(visible, m)
		}
	}
	return visible
}
