package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmburu/mingle/models"
	"github.com/mmburu/mingle/store"
)

var validate = validator.New()

const storageTimeout = 5 * time.Second

// TokenVerifier gates new connections; the auth package provides the real one.
type TokenVerifier interface {
	Verify(token string) (uuid.UUID, error)
}

// Router is the single authority over the realtime channel: it authenticates
// connections, executes client events against the message store and fans the
// results out through the hub. Persistence always happens before emission.
type Router struct {
	hub      *Hub
	messages store.MessageStore
	posts    store.PostStore
	verifier TokenVerifier
	log      *zap.SugaredLogger
}

func NewRouter(hub *Hub, messages store.MessageStore, posts store.PostStore, verifier TokenVerifier, log *zap.SugaredLogger) *Router {
	return &Router{
		hub:      hub,
		messages: messages,
		posts:    posts,
		verifier: verifier,
		log:      log,
	}
}

// ServeWS runs one connection: an auth frame first, then the event loop.
func (r *Router) ServeWS(c *websocket.Conn) {
	userID, ok := r.handshake(c)
	if !ok {
		c.Close()
		return
	}

	r.hub.Add(userID, c)
	r.log.Infow("websocket client connected", "user_id", userID)

	r.deliverPending(userID)
	r.announcePresence(userID, true)

	defer func() {
		if last := r.hub.Remove(userID, c); last {
			r.announcePresence(userID, false)
		}
		c.Close()
		r.log.Infow("websocket client disconnected", "user_id", userID)
	}()

	for {
		var env Envelope
		if err := c.ReadJSON(&env); err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				return
			}
			r.log.Warnw("websocket read error", "user_id", userID, "error", err)
			return
		}
		r.Dispatch(userID, c, env)
	}
}

// handshake requires the first frame to be an auth event with a valid token.
func (r *Router) handshake(c *websocket.Conn) (uuid.UUID, bool) {
	var env Envelope
	if err := c.ReadJSON(&env); err != nil || env.Event != EventAuth {
		_ = c.WriteJSON(ServerEvent{Event: EventError, Data: ErrorPayload{Code: CodeUnauthenticated, Message: "expected auth event"}})
		return uuid.Nil, false
	}

	var payload AuthPayload
	if err := decode(env.Data, &payload); err != nil {
		_ = c.WriteJSON(ServerEvent{Event: EventError, Data: ErrorPayload{Code: CodeUnauthenticated, Message: "missing token"}})
		return uuid.Nil, false
	}

	userID, err := r.verifier.Verify(payload.Token)
	if err != nil {
		_ = c.WriteJSON(ServerEvent{Event: EventError, Data: ErrorPayload{Code: CodeUnauthenticated, Message: "invalid token"}})
		return uuid.Nil, false
	}
	return userID, true
}

// Dispatch routes one client event. Malformed or failing events answer with
// an ack (when the client attached an ackId) and never take the router down.
func (r *Router) Dispatch(userID uuid.UUID, conn Conn, env Envelope) {
	var ackErr *AckError

	switch env.Event {
	case EventSendText:
		ackErr = r.handleSendText(userID, env.Data)
	case EventSharePost:
		ackErr = r.handleSharePost(userID, env.Data)
	case EventTyping:
		ackErr = r.handleTyping(userID, env.Data, EventTyping)
	case EventStopTyping:
		ackErr = r.handleTyping(userID, env.Data, EventStopTyping)
	case EventSeenAck:
		ackErr = r.handleSeenAck(userID, env.Data)
	case EventDeleteMessage:
		ackErr = r.handleDeleteMessage(userID, env.Data)
	case EventClearChat:
		ackErr = r.handleClearChat(userID, env.Data)
	default:
		ackErr = &AckError{Code: CodeValidation, Message: "unknown event"}
	}

	if ackErr != nil {
		r.log.Warnw("event rejected", "user_id", userID, "event", env.Event, "code", ackErr.Code, "reason", ackErr.Message)
	}
	if env.AckID != "" {
		// Through the hub so the ack shares the connection's write lock
		// with concurrent fan-out pushes.
		_ = r.hub.WriteToConn(userID, conn, EventAck, AckPayload{
			AckID: env.AckID,
			OK:    ackErr == nil,
			Error: ackErr,
		})
	}
}

func (r *Router) handleSendText(sender uuid.UUID, data json.RawMessage) *AckError {
	var payload SendTextPayload
	if err := decode(data, &payload); err != nil {
		return &AckError{Code: CodeValidation, Message: err.Error()}
	}
	receiver, _ := uuid.Parse(payload.To)

	msg := &models.Message{
		SenderID:   sender,
		ReceiverID: receiver,
		Kind:       models.KindText,
		Text:       &payload.Text,
		Status:     models.StatusSent,
	}

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()
	if err := r.messages.Create(ctx, msg); err != nil {
		return &AckError{Code: CodeStorage, Message: "failed to save message"}
	}

	r.FanOutMessage(msg)

	r.hub.EmitToUser(receiver, EventNotification, NotificationPayload{
		Type:       "message",
		FromUserID: sender,
		ToUserID:   receiver,
		Text:       payload.Text,
		MessageID:  msg.ID,
		CreatedAt:  msg.CreatedAt,
	})
	return nil
}

func (r *Router) handleSharePost(sender uuid.UUID, data json.RawMessage) *AckError {
	var payload SharePostPayload
	if err := decode(data, &payload); err != nil {
		return &AckError{Code: CodeValidation, Message: err.Error()}
	}
	receiver, _ := uuid.Parse(payload.To)
	postID, _ := uuid.Parse(payload.PostID)

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	exists, err := r.posts.Exists(ctx, postID)
	if err != nil {
		return &AckError{Code: CodeStorage, Message: "failed to look up post"}
	}
	if !exists {
		return &AckError{Code: CodeNotFound, Message: "post not found"}
	}

	msg := &models.Message{
		SenderID:     sender,
		ReceiverID:   receiver,
		Kind:         models.KindSharedPost,
		SharedPostID: &postID,
		Status:       models.StatusSent,
	}
	if err := r.messages.Create(ctx, msg); err != nil {
		return &AckError{Code: CodeStorage, Message: "failed to save message"}
	}

	r.FanOutMessage(msg)
	return nil
}

func (r *Router) handleTyping(from uuid.UUID, data json.RawMessage, event string) *AckError {
	var payload TypingPayload
	if err := decode(data, &payload); err != nil {
		return &AckError{Code: CodeValidation, Message: err.Error()}
	}
	to, _ := uuid.Parse(payload.To)

	// Pure ephemeral signal: receiver only, nothing persisted.
	r.hub.EmitToUser(to, event, FromPayload{From: from})
	return nil
}

func (r *Router) handleSeenAck(caller uuid.UUID, data json.RawMessage) *AckError {
	var payload SeenAckPayload
	if err := decode(data, &payload); err != nil {
		return &AckError{Code: CodeValidation, Message: err.Error()}
	}
	from, _ := uuid.Parse(payload.From)
	ids := make([]uuid.UUID, 0, len(payload.IDs))
	for _, raw := range payload.IDs {
		id, _ := uuid.Parse(raw)
		ids = append(ids, id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	updated, err := r.messages.MarkSeen(ctx, from, caller, ids, time.Now())
	if err != nil {
		return &AckError{Code: CodeStorage, Message: "failed to mark messages seen"}
	}
	if len(updated) > 0 {
		r.hub.EmitToUser(from, EventMessagesSeen, MessagesSeenPayload{IDs: updated})
	}
	return nil
}

func (r *Router) handleDeleteMessage(caller uuid.UUID, data json.RawMessage) *AckError {
	var payload DeleteMessagePayload
	if err := decode(data, &payload); err != nil {
		return &AckError{Code: CodeValidation, Message: err.Error()}
	}
	mode, err := models.ParseDeleteMode(payload.Mode)
	if err != nil {
		return &AckError{Code: CodeValidation, Message: err.Error()}
	}
	if mode == models.DeleteForMe {
		// Local suppression only; the record is untouched server-side.
		return nil
	}
	messageID, _ := uuid.Parse(payload.MessageID)

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	msg, err := r.messages.ByID(ctx, messageID)
	if errors.Is(err, store.ErrNotFound) {
		// Already gone: deleting twice succeeds with zero effect.
		return nil
	}
	if err != nil {
		return &AckError{Code: CodeStorage, Message: "failed to load message"}
	}
	if msg.SenderID != caller {
		return &AckError{Code: CodeForbidden, Message: "only the sender can delete for everyone"}
	}

	if err := r.messages.FlagDeletedForEveryone(ctx, messageID); err != nil {
		return &AckError{Code: CodeStorage, Message: "failed to delete message"}
	}

	payloadOut := MessageDeletedPayload{MessageID: messageID}
	r.hub.EmitToUser(msg.SenderID, EventMessageDeleted, payloadOut)
	r.hub.EmitToUser(msg.ReceiverID, EventMessageDeleted, payloadOut)
	return nil
}

func (r *Router) handleClearChat(caller uuid.UUID, data json.RawMessage) *AckError {
	var payload ClearChatPayload
	if err := decode(data, &payload); err != nil {
		return &AckError{Code: CodeValidation, Message: err.Error()}
	}
	mode, err := models.ParseDeleteMode(payload.Mode)
	if err != nil {
		return &AckError{Code: CodeValidation, Message: err.Error()}
	}
	if mode == models.DeleteForMe {
		return nil
	}
	counterpart, _ := uuid.Parse(payload.CounterpartID)

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	if _, err := r.messages.ClearConversation(ctx, caller, counterpart); err != nil {
		return &AckError{Code: CodeStorage, Message: "failed to clear chat"}
	}

	r.hub.EmitToUser(caller, EventChatCleared, ChatClearedPayload{With: counterpart})
	r.hub.EmitToUser(counterpart, EventChatCleared, ChatClearedPayload{With: caller})
	return nil
}

// FanOutMessage pushes an already-persisted message to both participants and
// advances it to delivered when the receiver's transport took the push. The
// REST upload endpoints share this path with the realtime send events.
func (r *Router) FanOutMessage(msg *models.Message) {
	r.hub.EmitToUser(msg.SenderID, EventNewMessage, msg)
	received := r.hub.EmitToUser(msg.ReceiverID, EventNewMessage, msg)

	// Delivered means the push reached at least one live connection of the
	// receiver, not merely that the server accepted the send.
	if received == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()
	advanced, err := r.messages.MarkDelivered(ctx, []uuid.UUID{msg.ID})
	if err != nil {
		r.log.Errorw("failed to mark message delivered", "message_id", msg.ID, "error", err)
		return
	}
	if len(advanced) == 0 {
		// A concurrent reconnect sweep beat us to it; that path already
		// emitted the tick.
		return
	}
	msg.AdvanceStatusTo(models.StatusDelivered, time.Now())

	delivered := DeliveredPayload{MessageID: msg.ID}
	r.hub.EmitToUser(msg.SenderID, EventMessageDelivered, delivered)
	r.hub.EmitToUser(msg.ReceiverID, EventMessageDelivered, delivered)
}

// deliverPending reconciles messages that were sent while the user was
// offline: everything still in sent state becomes delivered now that a live
// connection exists, and each original sender gets the tick.
func (r *Router) deliverPending(userID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	pending, err := r.messages.PendingFor(ctx, userID)
	if err != nil {
		r.log.Errorw("failed to load pending messages", "user_id", userID, "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	ids := make([]uuid.UUID, len(pending))
	senders := make(map[uuid.UUID]uuid.UUID, len(pending))
	for i := range pending {
		ids[i] = pending[i].ID
		senders[pending[i].ID] = pending[i].SenderID
	}
	advanced, err := r.messages.MarkDelivered(ctx, ids)
	if err != nil {
		r.log.Errorw("failed to mark pending messages delivered", "user_id", userID, "error", err)
		return
	}

	// Only the ids that actually transitioned get a tick; anything a racing
	// live send already advanced was announced by that send.
	for _, id := range advanced {
		delivered := DeliveredPayload{MessageID: id}
		r.hub.EmitToUser(senders[id], EventMessageDelivered, delivered)
		r.hub.EmitToUser(userID, EventMessageDelivered, delivered)
	}
}

// announcePresence tells the user's conversation counterparts (and only
// them) about the presence change.
func (r *Router) announcePresence(userID uuid.UUID, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
	defer cancel()

	counterparts, err := r.messages.CounterpartIDs(ctx, userID)
	if err != nil {
		r.log.Errorw("failed to load counterparts for presence", "user_id", userID, "error", err)
		return
	}

	event := EventUserOnline
	payload := PresencePayload{UserID: userID}
	if !online {
		event = EventUserOffline
		now := time.Now()
		payload.LastSeen = &now
	}
	for _, counterpart := range counterparts {
		r.hub.EmitToUser(counterpart, event, payload)
	}
}

// decode unmarshals an event payload and applies its validation tags.
func decode(data json.RawMessage, out interface{}) error {
	if len(data) == 0 {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.New("malformed payload")
	}
	return validate.Struct(out)
}
