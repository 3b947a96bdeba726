package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimasrn/webhook-inbox/internal/model"
	"github.com/nimasrn/webhook-inbox/internal/reconciler"
	"github.com/nimasrn/webhook-inbox/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	if fn, ok := args.Get(0).(func(context.Context, *model.Message) *model.Message); ok {
		return fn(ctx, msg), args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *MockMessageRepository) UpdateStatusFirstMatch(ctx context.Context, providerID, metaID string, status model.MessageStatus) (int64, bool, error) {
	args := m.Called(ctx, providerID, metaID, status)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}

func (m *MockMessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]*model.Message, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Message), args.Error(1)
}

func (m *MockMessageRepository) ListAll(ctx context.Context) ([]*model.Message, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Message), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, data []byte, metadata map[string]string) (string, error) {
	args := m.Called(ctx, data, metadata)
	return args.String(0), args.Error(1)
}

type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func newTestService(repo *MockMessageRepository, notifier reconciler.Notifier, pub PayloadPublisher) *MessageService {
	svc := NewMessageService(repo, reconciler.New(repo), notifier, pub)
	svc.now = func() time.Time { return time.Unix(1700000500, 0) }
	svc.newID = func() string { return LocalIDPrefix + "fixed" }
	return svc
}

func TestMessageService_Ingest(t *testing.T) {
	repo := new(MockMessageRepository)
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()

	payload := []byte(`{"entry":[{"changes":[{"value":{
		"messages":[{"id":"m1","from":"123","text":{"body":"hi"},"timestamp":"1700000000"}],
		"contacts":[{"wa_id":"c1","profile":{"name":"Alice"}}],
		"statuses":[{"id":"m1","status":"delivered"}]
	}}]}]}`)

	repo.On("Create", ctx, mock.MatchedBy(func(m *model.Message) bool {
		return m.ProviderMessageID == "m1" && m.ConversationID == "c1" && m.Status == model.MessageStatusSent
	})).Return(&model.Message{ID: 1, ProviderMessageID: "m1", ConversationID: "c1"}, nil)
	repo.On("UpdateStatusFirstMatch", ctx, "m1", "", model.MessageStatusDelivered).Return(int64(1), true, nil)

	outcomes, err := svc.Ingest(ctx, payload)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.Equal(t, reconciler.OutcomeInserted, outcomes[0].Kind)
	assert.Equal(t, reconciler.OutcomeUpdated, outcomes[1].Kind)
	assert.Equal(t, int64(1), outcomes[1].MatchedID)

	repo.AssertExpectations(t)
}

func TestMessageService_Ingest_Malformed(t *testing.T) {
	repo := new(MockMessageRepository)
	svc := newTestService(repo, nil, nil)

	_, err := svc.Ingest(context.Background(), []byte(`not json`))
	assert.ErrorIs(t, err, webhook.ErrMalformedPayload)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestMessageService_Enqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes valid payloads", func(t *testing.T) {
		repo := new(MockMessageRepository)
		pub := new(MockPublisher)
		svc := newTestService(repo, nil, pub)
		raw := []byte(`{"entry":[]}`)

		pub.On("Publish", ctx, raw, mock.AnythingOfType("map[string]string")).Return("1700000000000-0", nil)

		id, err := svc.Enqueue(ctx, raw)
		require.NoError(t, err)
		assert.Equal(t, "1700000000000-0", id)
		pub.AssertExpectations(t)
	})

	t.Run("rejects malformed payloads before publishing", func(t *testing.T) {
		pub := new(MockPublisher)
		svc := newTestService(new(MockMessageRepository), nil, pub)

		_, err := svc.Enqueue(ctx, []byte(`[1,2]`))
		assert.ErrorIs(t, err, webhook.ErrMalformedPayload)
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("wraps publish failures", func(t *testing.T) {
		pub := new(MockPublisher)
		svc := newTestService(new(MockMessageRepository), nil, pub)
		pub.On("Publish", ctx, mock.Anything, mock.Anything).Return("", errors.New("redis down"))

		_, err := svc.Enqueue(ctx, []byte(`{}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis down")
	})

	t.Run("fails without publisher", func(t *testing.T) {
		svc := newTestService(new(MockMessageRepository), nil, nil)
		_, err := svc.Enqueue(ctx, []byte(`{}`))
		assert.Error(t, err)
	})
}

func TestMessageService_ListConversations(t *testing.T) {
	repo := new(MockMessageRepository)
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()

	repo.On("ListAll", ctx).Return([]*model.Message{
		{ID: 1, ConversationID: "a", Body: "old", SentAt: time.Unix(100, 0), Status: model.MessageStatusSent},
		{ID: 2, ConversationID: "b", Body: "b1", SentAt: time.Unix(300, 0), Status: model.MessageStatusRead},
		{ID: 3, ConversationID: "a", Body: "new", SentAt: time.Unix(200, 0), Status: model.MessageStatusSent},
	}, nil)

	convs, err := svc.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "b", convs[0].ConversationID)
	assert.Equal(t, 0, convs[0].UnreadCount)
	assert.Equal(t, "a", convs[1].ConversationID)
	assert.Equal(t, "new", convs[1].LastMessage)
	assert.Equal(t, 2, convs[1].UnreadCount)
}

func TestMessageService_ListConversations_StoreError(t *testing.T) {
	repo := new(MockMessageRepository)
	svc := newTestService(repo, nil, nil)
	ctx := context.Background()
	storeErr := errors.New("db gone")

	repo.On("ListAll", ctx).Return(nil, storeErr)

	_, err := svc.ListConversations(ctx)
	assert.ErrorIs(t, err, storeErr)
}

func TestMessageService_ListMessages(t *testing.T) {
	ctx := context.Background()

	t.Run("delegates to the repository", func(t *testing.T) {
		repo := new(MockMessageRepository)
		svc := newTestService(repo, nil, nil)
		want := []*model.Message{{ID: 1, ConversationID: "c1"}}
		repo.On("ListByConversation", ctx, "c1").Return(want, nil)

		got, err := svc.ListMessages(ctx, " c1 ")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("requires a conversation id", func(t *testing.T) {
		svc := newTestService(new(MockMessageRepository), nil, nil)
		_, err := svc.ListMessages(ctx, "  ")
		assert.ErrorIs(t, err, model.ErrConversationRequired)
	})
}

func TestMessageService_SendOutgoing(t *testing.T) {
	ctx := context.Background()

	t.Run("stores a local message and notifies", func(t *testing.T) {
		repo := new(MockMessageRepository)
		var notified []reconciler.Outcome
		svc := newTestService(repo, reconciler.NotifierFunc(func(_ context.Context, o reconciler.Outcome) {
			notified = append(notified, o)
		}), nil)

		repo.On("Create", ctx, mock.AnythingOfType("*model.Message")).
			Return(func(_ context.Context, m *model.Message) *model.Message {
				cp := *m
				cp.ID = 7
				return &cp
			}, nil)

		msg, err := svc.SendOutgoing(ctx, model.SendRequest{ConversationID: "c1", SenderNumber: "999", Body: "hello"})
		require.NoError(t, err)
		assert.Equal(t, int64(7), msg.ID)
		assert.Equal(t, "c1", msg.ConversationID)
		assert.Equal(t, model.DefaultDisplayName, msg.DisplayName)
		assert.Equal(t, "999", msg.SenderNumber)
		assert.Equal(t, "hello", msg.Body)
		assert.Equal(t, model.MessageStatusSent, msg.Status)
		assert.Equal(t, "local-fixed", msg.ProviderMessageID)
		assert.Equal(t, "local-fixed", msg.MetaMessageID)
		assert.True(t, msg.SentAt.Equal(time.Unix(1700000500, 0)))

		require.Len(t, notified, 1)
		assert.Equal(t, reconciler.OutcomeInserted, notified[0].Kind)
	})

	t.Run("validation errors", func(t *testing.T) {
		repo := new(MockMessageRepository)
		svc := newTestService(repo, nil, nil)

		_, err := svc.SendOutgoing(ctx, model.SendRequest{Body: "hello"})
		assert.ErrorIs(t, err, model.ErrConversationRequired)

		_, err = svc.SendOutgoing(ctx, model.SendRequest{ConversationID: "c1"})
		assert.ErrorIs(t, err, model.ErrEmptyBody)

		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("store failure", func(t *testing.T) {
		repo := new(MockMessageRepository)
		svc := newTestService(repo, nil, nil)
		storeErr := errors.New("insert failed")
		repo.On("Create", ctx, mock.Anything).Return(nil, storeErr)

		_, err := svc.SendOutgoing(ctx, model.SendRequest{ConversationID: "c1", Body: "x"})
		assert.ErrorIs(t, err, storeErr)
	})
}

func TestHealthService_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("database reachable", func(t *testing.T) {
		db := new(MockPinger)
		db.On("Ping", mock.Anything).Return(nil)

		h := NewHealthService(db).Get(ctx)
		assert.True(t, h.Healthy())
		assert.Equal(t, model.DatabaseConnected, h.Database)
		assert.False(t, h.Timestamp.IsZero())
	})

	t.Run("database unreachable", func(t *testing.T) {
		db := new(MockPinger)
		db.On("Ping", mock.Anything).Return(errors.New("refused"))

		h := NewHealthService(db).Get(ctx)
		assert.False(t, h.Healthy())
		assert.Equal(t, model.HealthStatusDegraded, h.Status)
		assert.Equal(t, model.DatabaseDisconnected, h.Database)
	})
}
