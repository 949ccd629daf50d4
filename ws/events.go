package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Client → server events.
const (
	EventAuth          = "auth"
	EventSendText      = "send_text"
	EventSharePost     = "share_post"
	EventTyping        = "typing"
	EventStopTyping    = "stop_typing"
	EventSeenAck       = "seen_ack"
	EventDeleteMessage = "delete_message"
	EventClearChat     = "clear_chat"
)

// Server → client events.
const (
	EventNewMessage       = "new_message"
	EventMessageDelivered = "message_delivered"
	EventMessagesSeen     = "messages_seen"
	EventMessageDeleted   = "message_deleted"
	EventChatCleared      = "chat_cleared"
	EventNotification     = "notification"
	EventUserOnline       = "user_online"
	EventUserOffline      = "user_offline"
	EventAck              = "ack"
	EventError            = "error"
)

// Ack error codes.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeValidation      = "validation_error"
	CodeStorage         = "storage_error"
)

// Envelope is the frame every client-originated event arrives in. AckID is
// optional; when present the router answers with an ack event carrying it.
type Envelope struct {
	Event string          `json:"event"`
	AckID string          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerEvent is the frame every server push goes out in.
type ServerEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// --- Client → server payloads ---

type AuthPayload struct {
	Token string `json:"token" validate:"required"`
}

type SendTextPayload struct {
	To   string `json:"to" validate:"required,uuid"`
	Text string `json:"text" validate:"required"`
}

type SharePostPayload struct {
	To     string `json:"to" validate:"required,uuid"`
	PostID string `json:"postId" validate:"required,uuid"`
}

type TypingPayload struct {
	To string `json:"to" validate:"required,uuid"`
}

type SeenAckPayload struct {
	From string   `json:"from" validate:"required,uuid"`
	IDs  []string `json:"ids" validate:"required,min=1,dive,uuid"`
}

type DeleteMessagePayload struct {
	MessageID string `json:"messageId" validate:"required,uuid"`
	Mode      string `json:"mode" validate:"required"`
}

type ClearChatPayload struct {
	CounterpartID string `json:"counterpartId" validate:"required,uuid"`
	Mode          string `json:"mode" validate:"required"`
}

// --- Server → client payloads ---

type DeliveredPayload struct {
	MessageID uuid.UUID `json:"messageId"`
}

type MessagesSeenPayload struct {
	IDs []uuid.UUID `json:"ids"`
}

type FromPayload struct {
	From uuid.UUID `json:"from"`
}

type MessageDeletedPayload struct {
	MessageID uuid.UUID `json:"messageId"`
}

type ChatClearedPayload struct {
	With uuid.UUID `json:"with"`
}

type PresencePayload struct {
	UserID   uuid.UUID  `json:"userId"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type NotificationPayload struct {
	Type       string    `json:"type"`
	FromUserID uuid.UUID `json:"fromUserId"`
	ToUserID   uuid.UUID `json:"toUserId"`
	Text       string    `json:"text"`
	MessageID  uuid.UUID `json:"messageId"`
	CreatedAt  time.Time `json:"createdAt"`
}

type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type AckPayload struct {
	AckID string    `json:"ackId"`
	OK    bool      `json:"ok"`
	Error *AckError `json:"error,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
