package ws

import (
	"context"

	"support-chat/internal/models"
	"support-chat/internal/presence"
	"support-chat/internal/repositories"
)

// StoreSnapshotter reads the recent window from the message store and the
// presence list through the tracker.
type StoreSnapshotter struct {
	messages repositories.GroupMessageRepository
	tracker  *presence.Tracker
	window   int
}

func NewStoreSnapshotter(messages repositories.GroupMessageRepository, tracker *presence.Tracker, window int) *StoreSnapshotter {
	return &StoreSnapshotter{messages: messages, tracker: tracker, window: window}
}

func (s *StoreSnapshotter) RecentMessages(ctx context.Context, groupID int) ([]models.Message, error) {
	return s.messages.ListRecentMessages(ctx, groupID, s.window)
}

func (s *StoreSnapshotter) Presence(ctx context.Context, groupID int) ([]models.PresenceRecord, error) {
	return s.tracker.Snapshot(ctx, groupID)
}
