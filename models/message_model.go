package models

import (
	"time"

	"github.com/google/uuid"
)

type MessageKind string

const (
	KindText       MessageKind = "text"
	KindAudio      MessageKind = "audio"
	KindFile       MessageKind = "file"
	KindSharedPost MessageKind = "shared_post"
)

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusSeen      MessageStatus = "seen"
)

// statusRank orders the delivery lifecycle; transitions never move down.
var statusRank = map[MessageStatus]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusSeen:      2,
}

// Message is one unit of communication between exactly two users. Content is
// immutable after creation; only Status, SeenAt and DeletedForEveryone change.
type Message struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	SenderID   uuid.UUID `gorm:"type:uuid;not null;index:idx_messages_sender" json:"senderId"`
	ReceiverID uuid.UUID `gorm:"type:uuid;not null;index:idx_messages_receiver" json:"receiverId"`

	Kind MessageKind `gorm:"size:20;not null;default:'text'" json:"kind"`

	Text *string `gorm:"type:text" json:"text,omitempty"`

	AudioURL             *string  `gorm:"size:512" json:"audioUrl,omitempty"`
	AudioDurationSeconds *float64 `json:"audioDurationSeconds,omitempty"`

	FileURL  *string `gorm:"size:512" json:"fileUrl,omitempty"`
	FileType *string `gorm:"size:20" json:"fileType,omitempty"`
	FileName *string `gorm:"size:255" json:"fileName,omitempty"`

	SharedPostID *uuid.UUID `gorm:"type:uuid" json:"sharedPostId,omitempty"`

	Status MessageStatus `gorm:"size:10;not null;default:'sent'" json:"status"`
	SeenAt *time.Time    `json:"seenAt"`

	DeletedForEveryone   bool       `gorm:"not null;default:false" json:"deletedForEveryone"`
	DeletedForEveryoneAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
}

// AdvanceStatusTo applies a forward-only status transition. It returns true
// when the message actually changed; re-applying an equal or lower status is
// a no-op. SeenAt is set exactly once, on the transition to seen.
func (m *Message) AdvanceStatusTo(next MessageStatus, now time.Time) bool {
	if statusRank[next] <= statusRank[m.Status] {
		return false
	}
	m.Status = next
	if next == StatusSeen {
		t := now
		m.SeenAt = &t
	}
	return true
}

// Preview is the one-line inbox rendering of the message.
func (m *Message) Preview() string {
	switch m.Kind {
	case KindAudio:
		return "Voice message"
	case KindFile:
		return "File"
	case KindSharedPost:
		return "Shared a post"
	default:
		if m.Text != nil {
			return *m.Text
		}
		return ""
	}
}

// CounterpartOf returns the other participant of the conversation from the
// given viewer's side.
func (m *Message) CounterpartOf(viewer uuid.UUID) uuid.UUID {
	if m.SenderID == viewer {
		return m.ReceiverID
	}
	return m.SenderID
}

// ConversationSummary is derived per viewer from the message table; it is
// never persisted.
type ConversationSummary struct {
	CounterpartID      uuid.UUID `json:"counterpartId"`
	LastMessagePreview string    `json:"lastMessagePreview"`
	LastMessageAt      time.Time `json:"lastMessageAt"`
}
