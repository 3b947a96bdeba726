package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gateway "github.com/nimasrn/webhook-inbox/internal/gateways"
	"github.com/rs/zerolog/log"
)

// Deliverer posts a webhook payload to the inbox.
type Deliverer interface {
	Deliver(ctx context.Context, payload []byte) (*gateway.DeliveryResponse, error)
	Stats() []gateway.TargetStats
}

// SimulateMessageRequest asks for one inbound text message.
type SimulateMessageRequest struct {
	ID   string `json:"id"`
	From string `json:"from" binding:"required"`
	Name string `json:"name"`
	Body string `json:"body" binding:"required"`
}

// SimulateStatusRequest asks for one status callback.
type SimulateStatusRequest struct {
	MessageID string `json:"message_id"`
	MetaMsgID string `json:"meta_msg_id"`
	Status    string `json:"status" binding:"required,oneof=sent delivered read failed"`
	Recipient string `json:"recipient"`
}

// SimulateConversationRequest sends several messages from one contact and,
// with Progress set, walks each through delivered and read.
type SimulateConversationRequest struct {
	From     string   `json:"from" binding:"required"`
	Name     string   `json:"name"`
	Messages []string `json:"messages" binding:"required,min=1"`
	Progress bool     `json:"progress"`
}

type DeliveryResult struct {
	MessageID  string          `json:"message_id"`
	Target     string          `json:"target,omitempty"`
	StatusCode int             `json:"status_code,omitempty"`
	LatencyMs  int64           `json:"latency_ms,omitempty"`
	Response   json.RawMessage `json:"response,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Simulator plays the provider side: it builds webhook payloads and posts
// them to the inbox.
type Simulator struct {
	deliverer Deliverer
	accountID string

	mu       sync.Mutex
	minDelay time.Duration
	maxDelay time.Duration
	rng      *rand.Rand

	now func() time.Time
	wg  sync.WaitGroup
}

func NewSimulator(deliverer Deliverer, minDelay, maxDelay time.Duration) *Simulator {
	return &Simulator{
		deliverer: deliverer,
		accountID: "SIM_" + uuid.New().String()[:8],
		minDelay:  minDelay,
		maxDelay:  maxDelay,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
	}
}

func newMessageID() string {
	return "wamid." + uuid.New().String()
}

func (s *Simulator) randomDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	delta := s.maxDelay - s.minDelay
	if delta <= 0 {
		return s.minDelay
	}
	return s.minDelay + time.Duration(s.rng.Int63n(int64(delta)))
}

func (s *Simulator) deliver(ctx context.Context, id string, payload []byte) (DeliveryResult, error) {
	res := DeliveryResult{MessageID: id}
	resp, err := s.deliverer.Deliver(ctx, payload)
	if resp != nil {
		res.Target = resp.Target
		res.StatusCode = resp.StatusCode
		res.LatencyMs = resp.LatencyMs
		res.Response = resp.Body
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res, err
}

// progress sends delivered then read for each id, one random delay apart.
func (s *Simulator) progress(recipient string, ids []string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, status := range []string{"delivered", "read"} {
			for _, id := range ids {
				time.Sleep(s.randomDelay())
				payload, err := statusPayload(s.accountID, id, "", status, recipient, s.now())
				if err != nil {
					log.Error().Err(err).Msg("Failed to build status payload")
					return
				}
				if _, err := s.deliver(context.Background(), id, payload); err != nil {
					log.Warn().Err(err).Str("message_id", id).Str("status", status).Msg("Status delivery failed")
					continue
				}
				log.Info().Str("message_id", id).Str("status", status).Msg("Status delivered")
			}
		}
	}()
}

// Wait blocks until background status progressions finish.
func (s *Simulator) Wait() {
	s.wg.Wait()
}

func statusCodeFor(err error) int {
	if errors.Is(err, gateway.ErrRejected) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadGateway
}

// Handler exposes the simulator over http.
type Handler struct {
	sim *Simulator
}

func NewHandler(sim *Simulator) *Handler {
	return &Handler{sim: sim}
}

func (h *Handler) SimulateMessage(c *gin.Context) {
	var req SimulateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = newMessageID()
	}

	payload, err := messagePayload(h.sim.accountID, req.ID, req.From, req.Name, req.Body, h.sim.now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	res, err := h.sim.deliver(c.Request.Context(), req.ID, payload)
	if err != nil {
		log.Warn().Err(err).Str("message_id", req.ID).Msg("Message delivery failed")
		c.JSON(statusCodeFor(err), res)
		return
	}
	log.Info().Str("message_id", req.ID).Str("from", req.From).Str("target", res.Target).Msg("Message delivered")
	c.JSON(http.StatusOK, res)
}

func (h *Handler) SimulateStatus(c *gin.Context) {
	var req SimulateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	if req.MessageID == "" && req.MetaMsgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message_id or meta_msg_id is required"})
		return
	}

	payload, err := statusPayload(h.sim.accountID, req.MessageID, req.MetaMsgID, req.Status, req.Recipient, h.sim.now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	res, err := h.sim.deliver(c.Request.Context(), req.MessageID, payload)
	if err != nil {
		c.JSON(statusCodeFor(err), res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) SimulateConversation(c *gin.Context) {
	var req SimulateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	results := make([]DeliveryResult, 0, len(req.Messages))
	var delivered []string
	for _, body := range req.Messages {
		id := newMessageID()
		payload, err := messagePayload(h.sim.accountID, id, req.From, req.Name, body, h.sim.now())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		res, err := h.sim.deliver(c.Request.Context(), id, payload)
		results = append(results, res)
		if err == nil {
			delivered = append(delivered, id)
		}
	}

	if req.Progress && len(delivered) > 0 {
		h.sim.progress(req.From, delivered)
	}

	status := http.StatusOK
	if len(delivered) < len(req.Messages) {
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{"results": results, "delivered": len(delivered)})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"account_id": h.sim.accountID,
		"timestamp":  h.sim.now(),
		"targets":    h.sim.deliverer.Stats(),
	})
}

// UpdateConfig changes the status progression delays at runtime.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		MinDelay *string `json:"min_delay"`
		MaxDelay *string `json:"max_delay"`
	}
	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	h.sim.mu.Lock()
	defer h.sim.mu.Unlock()
	minDelay, maxDelay := h.sim.minDelay, h.sim.maxDelay
	for _, f := range []struct {
		raw *string
		dst *time.Duration
	}{{config.MinDelay, &minDelay}, {config.MaxDelay, &maxDelay}} {
		if f.raw == nil {
			continue
		}
		d, err := time.ParseDuration(*f.raw)
		if err != nil || d < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid duration", "value": *f.raw})
			return
		}
		*f.dst = d
	}
	if maxDelay < minDelay {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_delay must not be below min_delay"})
		return
	}
	h.sim.minDelay, h.sim.maxDelay = minDelay, maxDelay
	log.Info().Dur("min_delay", minDelay).Dur("max_delay", maxDelay).Msg("Updated delays")

	c.JSON(http.StatusOK, gin.H{
		"min_delay": minDelay.String(),
		"max_delay": maxDelay.String(),
	})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	sim := router.Group("/simulate")
	{
		sim.POST("/message", handler.SimulateMessage)
		sim.POST("/status", handler.SimulateStatus)
		sim.POST("/conversation", handler.SimulateConversation)
	}
	router.PUT("/config", handler.UpdateConfig)
	router.GET("/health", handler.HealthCheck)

	return router
}
