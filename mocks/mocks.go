package mocks

import (
	"context"
	"mime/multipart"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/mmburu/mingle/media"
	"github.com/mmburu/mingle/models"
)

type MessageStoreMock struct {
	mock.Mock
}

func (m *MessageStoreMock) Create(ctx context.Context, msg *models.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MessageStoreMock) ByID(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	args := m.Called(ctx, id)
	if msg, ok := args.Get(0).(*models.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MessageStoreMock) History(ctx context.Context, a, b uuid.UUID) ([]models.Message, error) {
	args := m.Called(ctx, a, b)
	if msgs, ok := args.Get(0).([]models.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MessageStoreMock) Recent(ctx context.Context, viewer uuid.UUID) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, viewer)
	if summaries, ok := args.Get(0).([]models.ConversationSummary); ok {
		return summaries, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MessageStoreMock) MarkDelivered(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, ids)
	if advanced, ok := args.Get(0).([]uuid.UUID); ok {
		return advanced, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MessageStoreMock) MarkSeen(ctx context.Context, from, to uuid.UUID, ids []uuid.UUID, now time.Time) ([]uuid.UUID, error) {
	args := m.Called(ctx, from, to, ids, now)
	if updated, ok := args.Get(0).([]uuid.UUID); ok {
		return updated, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MessageStoreMock) PendingFor(ctx context.Context, receiver uuid.UUID) ([]models.Message, error) {
	args := m.Called(ctx, receiver)
	if msgs, ok := args.Get(0).([]models.Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MessageStoreMock) FlagDeletedForEveryone(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MessageStoreMock) ClearConversation(ctx context.Context, a, b uuid.UUID) (int64, error) {
	args := m.Called(ctx, a, b)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageStoreMock) CounterpartIDs(ctx context.Context, user uuid.UUID) ([]uuid.UUID, error) {
	args := m.Called(ctx, user)
	if ids, ok := args.Get(0).([]uuid.UUID); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MessageStoreMock) PurgeFlaggedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type PostStoreMock struct {
	mock.Mock
}

func (m *PostStoreMock) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

type UploaderMock struct {
	mock.Mock
}

func (m *UploaderMock) UploadChatFile(ctx context.Context, file *multipart.FileHeader) (*media.Upload, error) {
	args := m.Called(ctx, file)
	if up, ok := args.Get(0).(*media.Upload); ok {
		return up, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *UploaderMock) UploadVoiceNote(ctx context.Context, file *multipart.FileHeader) (*media.Upload, error) {
	args := m.Called(ctx, file)
	if up, ok := args.Get(0).(*media.Upload); ok {
		return up, args.Error(1)
	}
	return nil, args.Error(1)
}
