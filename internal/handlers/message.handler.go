package handlers

import (
	"context"
	"errors"

	"github.com/fasthttp/router"
	"github.com/nimasrn/webhook-inbox/internal/model"
	xhttp "github.com/nimasrn/webhook-inbox/pkg/http"
	"github.com/nimasrn/webhook-inbox/pkg/logger"
)

type MessageService interface {
	ListConversations(ctx context.Context) ([]*model.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]*model.Message, error)
	SendOutgoing(ctx context.Context, p model.SendRequest) (*model.Message, error)
}

type MessageHandler struct {
	svc MessageService
}

func RegisterMessageRoutes(e *router.Group, h *MessageHandler) {
	e.GET("/conversations", h.ListConversations)
	e.GET("/messages/{wa_id}", h.ListMessages)
	e.POST("/send", h.Send)
}

func NewMessageHandler(messageService MessageService) *MessageHandler {
	return &MessageHandler{
		svc: messageService,
	}
}

func (h *MessageHandler) ListConversations(ctx *xhttp.RequestCtx) {
	items, err := h.svc.ListConversations(ctx)
	if err != nil {
		logger.Error("list conversations failed", "error", err)
		writeError(ctx, 500, "failed to fetch conversations")
		return
	}
	writeJSON(ctx, 200, items)
}

func (h *MessageHandler) ListMessages(ctx *xhttp.RequestCtx) {
	items, err := h.svc.ListMessages(ctx, pathParam(ctx, "wa_id"))
	if err != nil {
		if errors.Is(err, model.ErrConversationRequired) {
			writeError(ctx, 400, err.Error())
			return
		}
		logger.Error("list messages failed", "error", err)
		writeError(ctx, 500, "failed to fetch messages")
		return
	}
	writeJSON(ctx, 200, items)
}

func (h *MessageHandler) Send(ctx *xhttp.RequestCtx) {
	var req model.SendRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	msg, err := h.svc.SendOutgoing(ctx, req)
	if err != nil {
		if errors.Is(err, model.ErrConversationRequired) || errors.Is(err, model.ErrEmptyBody) {
			writeError(ctx, 400, err.Error())
			return
		}
		logger.Error("send message failed", "error", err)
		writeError(ctx, 500, "failed to send message")
		return
	}
	writeJSON(ctx, 201, msg)
}
