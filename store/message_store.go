package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mmburu/mingle/models"
	"gorm.io/gorm"
)

type messageStore struct {
	db *gorm.DB
}

func NewMessageStore(db *gorm.DB) MessageStore {
	return &messageStore{db: db}
}

func (s *messageStore) Create(ctx context.Context, msg *models.Message) error {
	return s.db.WithContext(ctx).Create(msg).Error
}

func (s *messageStore) ByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	var msg models.Message
	err := s.db.WithContext(ctx).
		Where("id = ? AND deleted_for_everyone = false", id).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *messageStore) History(ctx context.Context, a, b uuid.UUID) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)) AND deleted_for_everyone = false",
			a, b, b, a).
		Order("created_at asc, id asc").
		Find(&messages).Error
	return messages, err
}

// Recent folds the viewer's messages, newest first, into one summary per
// counterpart. Derived on every call, never stored.
func (s *messageStore) Recent(ctx context.Context, viewer uuid.UUID) ([]models.ConversationSummary, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("(sender_id = ? OR receiver_id = ?) AND deleted_for_everyone = false", viewer, viewer).
		Order("created_at desc, id desc").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool)
	summaries := make([]models.ConversationSummary, 0, len(messages))
	for i := range messages {
		other := messages[i].CounterpartOf(viewer)
		if seen[other] {
			continue
		}
		seen[other] = true
		summaries = append(summaries, models.ConversationSummary{
			CounterpartID:      other,
			LastMessagePreview: messages[i].Preview(),
			LastMessageAt:      messages[i].CreatedAt,
		})
	}
	return summaries, nil
}

func (s *messageStore) MarkDelivered(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var advanced []uuid.UUID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Message{}).
			Where("id IN ? AND status = ?", ids, models.StatusSent).
			Pluck("id", &advanced).Error; err != nil {
			return err
		}
		if len(advanced) == 0 {
			return nil
		}
		return tx.Model(&models.Message{}).
			Where("id IN ? AND status = ?", advanced, models.StatusSent).
			Update("status", models.StatusDelivered).Error
	})
	if err != nil {
		return nil, err
	}
	return advanced, nil
}

func (s *messageStore) MarkSeen(ctx context.Context, from, to uuid.UUID, ids []uuid.UUID, now time.Time) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var updated []uuid.UUID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Message{}).
			Where("id IN ? AND sender_id = ? AND receiver_id = ? AND status <> ? AND deleted_for_everyone = false",
				ids, from, to, models.StatusSeen).
			Pluck("id", &updated).Error; err != nil {
			return err
		}
		if len(updated) == 0 {
			return nil
		}
		return tx.Model(&models.Message{}).
			Where("id IN ?", updated).
			Updates(map[string]interface{}{
				"status":  models.StatusSeen,
				"seen_at": now,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *messageStore) PendingFor(ctx context.Context, receiver uuid.UUID) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("receiver_id = ? AND status = ? AND deleted_for_everyone = false", receiver, models.StatusSent).
		Order("created_at asc, id asc").
		Find(&messages).Error
	return messages, err
}

func (s *messageStore) FlagDeletedForEveryone(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"deleted_for_everyone":    true,
			"deleted_for_everyone_at": time.Now(),
		}).Error
}

func (s *messageStore) ClearConversation(ctx context.Context, a, b uuid.UUID) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)", a, b, b, a).
		Delete(&models.Message{})
	return res.RowsAffected, res.Error
}

func (s *messageStore) CounterpartIDs(ctx context.Context, user uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).Raw(
		`SELECT DISTINCT CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END
		 FROM messages WHERE sender_id = ? OR receiver_id = ?`,
		user, user, user).Scan(&ids).Error
	return ids, err
}

func (s *messageStore) PurgeFlaggedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("deleted_for_everyone = true AND deleted_for_everyone_at < ?", cutoff).
		Delete(&models.Message{})
	return res.RowsAffected, res.Error
}
