package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmburu/mingle/media"
	"github.com/mmburu/mingle/models"
	"github.com/mmburu/mingle/store"
	"github.com/mmburu/mingle/ws"
)

// MessageHandler serves the REST side of the messaging core. Mutations go
// through the same fan-out as the realtime events so both boundaries behave
// identically.
type MessageHandler struct {
	messages store.MessageStore
	posts    store.PostStore
	uploader media.Uploader
	router   *ws.Router
	hub      *ws.Hub
	log      *zap.SugaredLogger
}

func NewMessageHandler(messages store.MessageStore, posts store.PostStore, uploader media.Uploader, router *ws.Router, hub *ws.Hub, log *zap.SugaredLogger) *MessageHandler {
	return &MessageHandler{
		messages: messages,
		posts:    posts,
		uploader: uploader,
		router:   router,
		hub:      hub,
		log:      log,
	}
}

func userIDFromCtx(c *fiber.Ctx) uuid.UUID {
	token := c.Locals("user").(*jwt.Token)
	claims := token.Claims.(jwt.MapClaims)
	userID, _ := uuid.Parse(claims["user_id"].(string))
	return userID
}

// History returns the full conversation with one counterpart, oldest first.
func (h *MessageHandler) History(c *fiber.Ctx) error {
	userID := userIDFromCtx(c)
	counterpartID, err := uuid.Parse(c.Params("counterpartId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid counterpart id"})
	}

	messages, err := h.messages.History(c.Context(), userID, counterpartID)
	if err != nil {
		h.log.Errorw("history query failed", "user_id", userID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch messages"})
	}
	return c.JSON(messages)
}

// Recent returns one conversation summary per counterpart, newest first.
func (h *MessageHandler) Recent(c *fiber.Ctx) error {
	userID := userIDFromCtx(c)

	summaries, err := h.messages.Recent(c.Context(), userID)
	if err != nil {
		h.log.Errorw("recent chats query failed", "user_id", userID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch recent chats"})
	}
	return c.JSON(summaries)
}

// SendFile accepts a multipart file, stores the blob and fans out the
// resulting file message.
func (h *MessageHandler) SendFile(c *fiber.Ctx) error {
	senderID := userIDFromCtx(c)
	receiverID, err := uuid.Parse(c.Params("to"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid receiver id"})
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "No file uploaded"})
	}

	upload, err := h.uploader.UploadChatFile(c.Context(), file)
	if err != nil {
		h.log.Errorw("file upload failed", "user_id", senderID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to upload file"})
	}

	msg := &models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Kind:       models.KindFile,
		FileURL:    &upload.URL,
		FileType:   &upload.FileType,
		FileName:   &upload.FileName,
		Status:     models.StatusSent,
	}
	if err := h.messages.Create(c.Context(), msg); err != nil {
		h.log.Errorw("failed to save file message", "user_id", senderID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to save message"})
	}

	h.router.FanOutMessage(msg)
	return c.JSON(msg)
}

// SendVoice accepts a multipart audio blob plus an optional duration form
// value and fans out the resulting voice message.
func (h *MessageHandler) SendVoice(c *fiber.Ctx) error {
	senderID := userIDFromCtx(c)
	receiverID, err := uuid.Parse(c.Params("to"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid receiver id"})
	}

	file, err := c.FormFile("audio")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "No audio uploaded"})
	}

	upload, err := h.uploader.UploadVoiceNote(c.Context(), file)
	if err != nil {
		h.log.Errorw("voice upload failed", "user_id", senderID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to upload audio"})
	}

	var duration *float64
	if raw := c.FormValue("duration"); raw != "" {
		if parsed, err := strconv.ParseFloat(raw, 64); err == nil {
			duration = &parsed
		}
	}

	msg := &models.Message{
		SenderID:             senderID,
		ReceiverID:           receiverID,
		Kind:                 models.KindAudio,
		AudioURL:             &upload.URL,
		AudioDurationSeconds: duration,
		Status:               models.StatusSent,
	}
	if err := h.messages.Create(c.Context(), msg); err != nil {
		h.log.Errorw("failed to save voice message", "user_id", senderID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to save message"})
	}

	h.router.FanOutMessage(msg)
	return c.JSON(msg)
}

type sharePostRequest struct {
	PostID string `json:"postId" validate:"required,uuid"`
}

// SharePost is the REST variant of the share_post realtime event.
func (h *MessageHandler) SharePost(c *fiber.Ctx) error {
	senderID := userIDFromCtx(c)
	receiverID, err := uuid.Parse(c.Params("to"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid receiver id"})
	}

	var req sharePostRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	postID, _ := uuid.Parse(req.PostID)

	exists, err := h.posts.Exists(c.Context(), postID)
	if err != nil {
		h.log.Errorw("post lookup failed", "post_id", postID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to look up post"})
	}
	if !exists {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Post not found"})
	}

	msg := &models.Message{
		SenderID:     senderID,
		ReceiverID:   receiverID,
		Kind:         models.KindSharedPost,
		SharedPostID: &postID,
		Status:       models.StatusSent,
	}
	if err := h.messages.Create(c.Context(), msg); err != nil {
		h.log.Errorw("failed to save shared post message", "user_id", senderID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to save message"})
	}

	h.router.FanOutMessage(msg)
	return c.JSON(msg)
}

type deleteModeRequest struct {
	Mode string `json:"mode" validate:"required"`
}

// Delete applies the single-message deletion engine over REST.
func (h *MessageHandler) Delete(c *fiber.Ctx) error {
	userID := userIDFromCtx(c)
	messageID, err := uuid.Parse(c.Params("messageId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid message id"})
	}

	var req deleteModeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}
	mode, err := models.ParseDeleteMode(req.Mode)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid mode"})
	}

	if mode == models.DeleteForMe {
		// Local-only: the caller's client hides it, the record stays.
		return c.JSON(fiber.Map{"message": "Deleted for me"})
	}

	msg, err := h.messages.ByID(c.Context(), messageID)
	if errors.Is(err, store.ErrNotFound) {
		// Already gone; repeating the delete is a success with no effect.
		return c.JSON(fiber.Map{"message": "Deleted for everyone"})
	}
	if err != nil {
		h.log.Errorw("failed to load message for delete", "message_id", messageID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete message"})
	}
	if msg.SenderID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Only sender can delete for everyone"})
	}

	if err := h.messages.FlagDeletedForEveryone(c.Context(), messageID); err != nil {
		h.log.Errorw("failed to delete message", "message_id", messageID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to delete message"})
	}

	payload := ws.MessageDeletedPayload{MessageID: messageID}
	h.hub.EmitToUser(msg.SenderID, ws.EventMessageDeleted, payload)
	h.hub.EmitToUser(msg.ReceiverID, ws.EventMessageDeleted, payload)

	return c.JSON(fiber.Map{"message": "Deleted for everyone"})
}

// Clear applies the chat-clearing engine over REST.
func (h *MessageHandler) Clear(c *fiber.Ctx) error {
	userID := userIDFromCtx(c)
	counterpartID, err := uuid.Parse(c.Params("counterpartId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid counterpart id"})
	}

	var req deleteModeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse JSON"})
	}
	mode, err := models.ParseDeleteMode(req.Mode)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid mode"})
	}

	if mode == models.DeleteForMe {
		return c.JSON(fiber.Map{"message": "Chat cleared for me"})
	}

	if _, err := h.messages.ClearConversation(c.Context(), userID, counterpartID); err != nil {
		h.log.Errorw("failed to clear chat", "user_id", userID, "counterpart_id", counterpartID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to clear chat"})
	}

	h.hub.EmitToUser(userID, ws.EventChatCleared, ws.ChatClearedPayload{With: counterpartID})
	h.hub.EmitToUser(counterpartID, ws.EventChatCleared, ws.ChatClearedPayload{With: userID})

	return c.JSON(fiber.Map{"message": "Chat cleared for both"})
}
