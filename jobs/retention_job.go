package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmburu/mingle/store"
)

const deletedMessageRetention = 30 * 24 * time.Hour

// PurgeDeletedMessages erases records flagged deleted-for-everyone once the
// retention window has passed. They were already invisible to every read;
// this reclaims the storage.
func PurgeDeletedMessages(messages store.MessageStore) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().Add(-deletedMessageRetention)
	purged, err := messages.PurgeFlaggedBefore(ctx, cutoff)
	if err != nil {
		zap.S().Errorw("retention purge failed", "error", err)
		return
	}
	if purged > 0 {
		zap.S().Infow("purged deleted messages", "count", purged)
	}
}
