package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/nimasrn/webhook-inbox/internal/model"
	"github.com/nimasrn/webhook-inbox/internal/reconciler"
	"github.com/nimasrn/webhook-inbox/internal/webhook"
	xhttp "github.com/nimasrn/webhook-inbox/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

type MockMessageService struct {
	mock.Mock
}

func (m *MockMessageService) ListConversations(ctx context.Context) ([]*model.Conversation, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Conversation), args.Error(1)
}

func (m *MockMessageService) ListMessages(ctx context.Context, conversationID string) ([]*model.Message, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Message), args.Error(1)
}

func (m *MockMessageService) SendOutgoing(ctx context.Context, p model.SendRequest) (*model.Message, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

type MockWebhookService struct {
	mock.Mock
}

func (m *MockWebhookService) Ingest(ctx context.Context, raw []byte) ([]reconciler.Outcome, error) {
	args := m.Called(ctx, raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]reconciler.Outcome), args.Error(1)
}

func (m *MockWebhookService) Enqueue(ctx context.Context, raw []byte) (string, error) {
	args := m.Called(ctx, raw)
	return args.String(0), args.Error(1)
}

type stubHealthService struct {
	health model.Health
}

func (s stubHealthService) Get(context.Context) model.Health {
	return s.health
}

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

func TestWebhookHandler_Receive_Sync(t *testing.T) {
	payload := []byte(`{"entry":[]}`)

	t.Run("processed payload", func(t *testing.T) {
		svc := new(MockWebhookService)
		handler := NewWebhookHandler(svc, false)

		svc.On("Ingest", mock.Anything, payload).Return([]reconciler.Outcome{
			reconciler.Inserted(&model.Message{ID: 1, ConversationID: "c1"}),
			{Kind: reconciler.OutcomeNoMatch, ProviderMessageID: "x"},
		}, nil)

		ctx := setupTestContext("POST", "/api/webhook", payload)
		handler.Receive(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var response webhookResponse
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
		assert.True(t, response.Success)
		assert.Equal(t, "Webhook processed", response.Message)
		assert.Equal(t, reconciler.Summary{Inserted: 1, NoMatch: 1}, response.Summary)
		require.Len(t, response.Outcomes, 2)
		assert.Equal(t, "c1", response.Outcomes[0].Record.ConversationID)

		svc.AssertExpectations(t)
	})

	t.Run("empty payload reports no outcomes", func(t *testing.T) {
		svc := new(MockWebhookService)
		handler := NewWebhookHandler(svc, false)
		svc.On("Ingest", mock.Anything, payload).Return([]reconciler.Outcome{}, nil)

		ctx := setupTestContext("POST", "/api/webhook", payload)
		handler.Receive(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		assert.Contains(t, string(ctx.Response.Body()), `"outcomes":[]`)
	})

	t.Run("malformed payload", func(t *testing.T) {
		svc := new(MockWebhookService)
		handler := NewWebhookHandler(svc, false)
		svc.On("Ingest", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("%w: unexpected EOF", webhook.ErrMalformedPayload))

		ctx := setupTestContext("POST", "/api/webhook", []byte(`{`))
		handler.Receive(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})

	t.Run("store failure keeps partial outcomes", func(t *testing.T) {
		svc := new(MockWebhookService)
		handler := NewWebhookHandler(svc, false)
		svc.On("Ingest", mock.Anything, payload).Return([]reconciler.Outcome{
			reconciler.Inserted(&model.Message{ID: 3}),
		}, errors.New("reconciler: apply message_received: db down"))

		ctx := setupTestContext("POST", "/api/webhook", payload)
		handler.Receive(ctx)

		assert.Equal(t, 500, ctx.Response.StatusCode())

		var response webhookResponse
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
		assert.False(t, response.Success)
		assert.Len(t, response.Outcomes, 1)
		assert.NotContains(t, response.Error, "db down")
	})
}

func TestWebhookHandler_Receive_Async(t *testing.T) {
	payload := []byte(`{"entry":[]}`)

	t.Run("queued", func(t *testing.T) {
		svc := new(MockWebhookService)
		handler := NewWebhookHandler(svc, true)
		svc.On("Enqueue", mock.Anything, payload).Return("1-0", nil)

		ctx := setupTestContext("POST", "/api/webhook", payload)
		handler.Receive(ctx)

		assert.Equal(t, 202, ctx.Response.StatusCode())

		var response queuedResponse
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
		assert.True(t, response.Queued)
		assert.Equal(t, "1-0", response.ID)
		svc.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
	})

	t.Run("malformed", func(t *testing.T) {
		svc := new(MockWebhookService)
		handler := NewWebhookHandler(svc, true)
		svc.On("Enqueue", mock.Anything, mock.Anything).Return("", webhook.ErrMalformedPayload)

		ctx := setupTestContext("POST", "/api/webhook", []byte(`[]`))
		handler.Receive(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})

	t.Run("queue unavailable", func(t *testing.T) {
		svc := new(MockWebhookService)
		handler := NewWebhookHandler(svc, true)
		svc.On("Enqueue", mock.Anything, mock.Anything).Return("", errors.New("redis down"))

		ctx := setupTestContext("POST", "/api/webhook", payload)
		handler.Receive(ctx)

		assert.Equal(t, 500, ctx.Response.StatusCode())
	})
}

func TestMessageHandler_ListConversations(t *testing.T) {
	t.Run("successful list", func(t *testing.T) {
		svc := new(MockMessageService)
		handler := NewMessageHandler(svc)

		svc.On("ListConversations", mock.Anything).Return([]*model.Conversation{
			{ConversationID: "c1", Name: "Alice", LastMessage: "hi", LastTimestamp: time.Unix(1700000000, 0).UTC(), UnreadCount: 2},
		}, nil)

		ctx := setupTestContext("GET", "/api/conversations", nil)
		handler.ListConversations(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var response []map[string]any
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
		require.Len(t, response, 1)
		assert.Equal(t, "c1", response[0]["_id"])
		assert.Equal(t, "hi", response[0]["lastMessage"])
		assert.Equal(t, float64(2), response[0]["unreadCount"])

		svc.AssertExpectations(t)
	})

	t.Run("service error", func(t *testing.T) {
		svc := new(MockMessageService)
		handler := NewMessageHandler(svc)
		svc.On("ListConversations", mock.Anything).Return(nil, errors.New("db down"))

		ctx := setupTestContext("GET", "/api/conversations", nil)
		handler.ListConversations(ctx)

		assert.Equal(t, 500, ctx.Response.StatusCode())
	})
}

func TestMessageHandler_ListMessages(t *testing.T) {
	t.Run("successful list", func(t *testing.T) {
		svc := new(MockMessageService)
		handler := NewMessageHandler(svc)

		svc.On("ListMessages", mock.Anything, "c1").Return([]*model.Message{
			{ID: 1, ConversationID: "c1", Body: "a"},
			{ID: 2, ConversationID: "c1", Body: "b"},
		}, nil)

		ctx := setupTestContext("GET", "/api/messages/c1", nil)
		ctx.SetUserValue("wa_id", "c1")
		handler.ListMessages(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var response []model.Message
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
		require.Len(t, response, 2)
		assert.Equal(t, "a", response[0].Body)

		svc.AssertExpectations(t)
	})

	t.Run("missing conversation id", func(t *testing.T) {
		svc := new(MockMessageService)
		handler := NewMessageHandler(svc)
		svc.On("ListMessages", mock.Anything, "").Return(nil, model.ErrConversationRequired)

		ctx := setupTestContext("GET", "/api/messages/", nil)
		handler.ListMessages(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})

	t.Run("service error", func(t *testing.T) {
		svc := new(MockMessageService)
		handler := NewMessageHandler(svc)
		svc.On("ListMessages", mock.Anything, "c1").Return(nil, errors.New("db down"))

		ctx := setupTestContext("GET", "/api/messages/c1", nil)
		ctx.SetUserValue("wa_id", "c1")
		handler.ListMessages(ctx)

		assert.Equal(t, 500, ctx.Response.StatusCode())
	})
}

func TestMessageHandler_Send(t *testing.T) {
	t.Run("successful send", func(t *testing.T) {
		svc := new(MockMessageService)
		handler := NewMessageHandler(svc)

		body, _ := json.Marshal(map[string]string{"wa_id": "c1", "name": "Me", "number": "555", "message": "hello"})
		svc.On("SendOutgoing", mock.Anything, model.SendRequest{
			ConversationID: "c1",
			DisplayName:    "Me",
			SenderNumber:   "555",
			Body:           "hello",
		}).Return(&model.Message{ID: 9, ConversationID: "c1", Body: "hello", ProviderMessageID: "local-1"}, nil)

		ctx := setupTestContext("POST", "/api/send", body)
		handler.Send(ctx)

		assert.Equal(t, 201, ctx.Response.StatusCode())

		var response model.Message
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
		assert.Equal(t, int64(9), response.ID)
		assert.Equal(t, "local-1", response.ProviderMessageID)

		svc.AssertExpectations(t)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		svc := new(MockMessageService)
		handler := NewMessageHandler(svc)

		ctx := setupTestContext("POST", "/api/send", []byte("invalid"))
		handler.Send(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})

	t.Run("validation error", func(t *testing.T) {
		svc := new(MockMessageService)
		handler := NewMessageHandler(svc)
		svc.On("SendOutgoing", mock.Anything, mock.Anything).Return(nil, model.ErrEmptyBody)

		ctx := setupTestContext("POST", "/api/send", []byte(`{"wa_id":"c1"}`))
		handler.Send(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())

		var response map[string]string
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
		assert.Equal(t, model.ErrEmptyBody.Error(), response["error"])
	})

	t.Run("store error", func(t *testing.T) {
		svc := new(MockMessageService)
		handler := NewMessageHandler(svc)
		svc.On("SendOutgoing", mock.Anything, mock.Anything).Return(nil, errors.New("insert failed"))

		ctx := setupTestContext("POST", "/api/send", []byte(`{"wa_id":"c1","message":"x"}`))
		handler.Send(ctx)

		assert.Equal(t, 500, ctx.Response.StatusCode())
	})
}

func TestHealthHandler_GetHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		handler := NewHealthHandler(stubHealthService{health: model.Health{
			Status:   model.HealthStatusOK,
			Database: model.DatabaseConnected,
		}})

		ctx := setupTestContext("GET", "/api/health", nil)
		handler.GetHealth(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var response model.Health
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
		assert.Equal(t, model.DatabaseConnected, response.Database)
	})

	t.Run("database down", func(t *testing.T) {
		handler := NewHealthHandler(stubHealthService{health: model.Health{
			Status:   model.HealthStatusDegraded,
			Database: model.DatabaseDisconnected,
		}})

		ctx := setupTestContext("GET", "/api/health", nil)
		handler.GetHealth(ctx)

		assert.Equal(t, 503, ctx.Response.StatusCode())
	})
}
