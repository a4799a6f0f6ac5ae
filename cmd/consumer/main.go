package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TransferEventRequest is the webhook payload the ledger notifier posts for
// every committed transfer.
type TransferEventRequest struct {
	TransactionID   int64      `json:"transaction_id" binding:"required"`
	SourceAccountID *int64     `json:"source_account_id"`
	DestAccountID   int64      `json:"dest_account_id" binding:"required"`
	Amount          int64      `json:"amount" binding:"required"`
	Kind            string     `json:"kind" binding:"required"`
	Reference       string     `json:"reference"`
	ActorRef        string     `json:"actor_ref"`
	CreatedAt       *time.Time `json:"created_at"`
}

// IngestResponse acknowledges a received event.
type IngestResponse struct {
	TransactionID int64     `json:"transaction_id"`
	Accepted      bool      `json:"accepted"`
	Duplicate     bool      `json:"duplicate"`
	ConsumerID    string    `json:"consumer_id"`
	ProcessedAt   time.Time `json:"processed_at"`
}

// HealthResponse reports the sink's state.
type HealthResponse struct {
	Status     string    `json:"status"`
	ConsumerID string    `json:"consumer_id"`
	Timestamp  time.Time `json:"timestamp"`
	AcceptRate float64   `json:"accept_rate"`
	Received   int64     `json:"received"`
}

// MockConsumer simulates a downstream feature service (badges, perks store)
// consuming transfer events. It can be made flaky to exercise the notifier's
// retry and circuit-breaker paths.
type MockConsumer struct {
	acceptRate float64
	minDelay   time.Duration
	maxDelay   time.Duration
	consumerID string
	rng        *rand.Rand

	received atomic.Int64

	mu   sync.Mutex
	seen map[int64]time.Time
}

func NewMockConsumer(acceptRate float64, minDelay, maxDelay time.Duration) *MockConsumer {
	return &MockConsumer{
		acceptRate: acceptRate,
		minDelay:   minDelay,
		maxDelay:   maxDelay,
		consumerID: "MOCK_CONSUMER_" + uuid.New().String()[:8],
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		seen:       make(map[int64]time.Time),
	}
}

// ingest simulates processing one event: random latency, a configurable
// rejection rate and duplicate tracking so at-least-once delivery is visible.
func (m *MockConsumer) ingest(req *TransferEventRequest) (*IngestResponse, bool) {
	time.Sleep(m.randomDelay())

	resp := &IngestResponse{
		TransactionID: req.TransactionID,
		ConsumerID:    m.consumerID,
		ProcessedAt:   time.Now(),
	}

	if !m.shouldAccept() {
		log.Warn().
			Int64("transaction_id", req.TransactionID).
			Str("kind", req.Kind).
			Msg("Event rejected")
		return resp, false
	}

	m.mu.Lock()
	_, dup := m.seen[req.TransactionID]
	if !dup {
		m.seen[req.TransactionID] = time.Now()
	}
	m.mu.Unlock()

	m.received.Add(1)
	resp.Accepted = true
	resp.Duplicate = dup

	log.Info().
		Int64("transaction_id", req.TransactionID).
		Int64("dest_account_id", req.DestAccountID).
		Int64("amount", req.Amount).
		Str("kind", req.Kind).
		Bool("duplicate", dup).
		Msg("Transfer event ingested")

	return resp, true
}

func (m *MockConsumer) randomDelay() time.Duration {
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockConsumer) shouldAccept() bool {
	return m.rng.Float64() < m.acceptRate
}

// Handler struct holds the mock consumer and routes
type Handler struct {
	consumer *MockConsumer
}

func NewHandler(consumer *MockConsumer) *Handler {
	return &Handler{consumer: consumer}
}

// Ingest handles transfer event webhooks
func (h *Handler) Ingest(c *gin.Context) {
	var req TransferEventRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	resp, ok := h.consumer.ingest(&req)
	if !ok {
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetEvent reports whether an event has been seen
func (h *Handler) GetEvent(c *gin.Context) {
	var id int64
	if _, err := fmt.Sscanf(c.Param("transaction_id"), "%d", &id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "transaction_id must be an integer",
		})
		return
	}

	h.consumer.mu.Lock()
	at, ok := h.consumer.seen[id]
	h.consumer.mu.Unlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"transaction_id": id,
			"seen":           false,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transaction_id": id,
		"seen":           true,
		"received_at":    at,
	})
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:     "healthy",
		ConsumerID: h.consumer.consumerID,
		Timestamp:  time.Now(),
		AcceptRate: h.consumer.acceptRate,
		Received:   h.consumer.received.Load(),
	})
}

// UpdateConfig allows changing consumer behaviour at runtime
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		AcceptRate *float64 `json:"accept_rate"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	if config.AcceptRate != nil {
		if *config.AcceptRate >= 0 && *config.AcceptRate <= 1.0 {
			h.consumer.acceptRate = *config.AcceptRate
			log.Info().Float64("rate", *config.AcceptRate).Msg("Updated accept rate")
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "Configuration updated",
		"accept_rate": h.consumer.acceptRate,
	})
}

// SetupRouter configures all routes
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Msg("Request processed")
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/events", handler.Ingest)
		v1.GET("/events/:transaction_id", handler.GetEvent)
		v1.GET("/health", handler.HealthCheck)
		v1.PUT("/config", handler.UpdateConfig)
	}

	// Root health check
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8081")
	acceptRate := getEnvFloat("ACCEPT_RATE", 1)
	minDelay := getEnvDuration("MIN_DELAY", 10*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 200*time.Millisecond)

	log.Info().
		Str("port", port).
		Float64("accept_rate", acceptRate).
		Dur("min_delay", minDelay).
		Dur("max_delay", maxDelay).
		Msg("Starting Mock Transfer Event Consumer")

	consumer := NewMockConsumer(acceptRate, minDelay, maxDelay)
	handler := NewHandler(consumer)
	router := SetupRouter(handler)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
