package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mmburu/mingle/models"
)

var ErrNotFound = errors.New("record not found")

// MessageStore owns the canonical message records and their status lifecycle.
type MessageStore interface {
	Create(ctx context.Context, msg *models.Message) error
	// ByID returns ErrNotFound for unknown ids and for records flagged
	// deleted-for-everyone, which are invisible to every read.
	ByID(ctx context.Context, id uuid.UUID) (*models.Message, error)
	History(ctx context.Context, a, b uuid.UUID) ([]models.Message, error)
	Recent(ctx context.Context, viewer uuid.UUID) ([]models.ConversationSummary, error)

	// MarkDelivered advances the given messages from sent to delivered and
	// returns the ids that actually transitioned; messages in any other
	// state are left untouched.
	MarkDelivered(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	// MarkSeen advances messages authored by from and addressed to to, and
	// returns the ids that actually transitioned.
	MarkSeen(ctx context.Context, from, to uuid.UUID, ids []uuid.UUID, now time.Time) ([]uuid.UUID, error)
	// PendingFor lists still-sent messages addressed to receiver, oldest first.
	PendingFor(ctx context.Context, receiver uuid.UUID) ([]models.Message, error)

	FlagDeletedForEveryone(ctx context.Context, id uuid.UUID) error
	ClearConversation(ctx context.Context, a, b uuid.UUID) (int64, error)
	CounterpartIDs(ctx context.Context, user uuid.UUID) ([]uuid.UUID, error)
	PurgeFlaggedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PostStore is the share-validation boundary to the posts subsystem.
type PostStore interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
}
