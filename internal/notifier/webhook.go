package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openperks/points-ledger/internal/model"
	"github.com/openperks/points-ledger/pkg/logger"
	"github.com/openperks/points-ledger/pkg/prom"
	"github.com/valyala/fasthttp"
)

var ErrNoAvailableEndpoints = errors.New("no available webhook endpoints")

// TransferEvent is the payload pushed to downstream features ("you received
// points"). It mirrors the ledger entry; consumers treat it as
// informational, never authoritative.
type TransferEvent struct {
	TransactionID   int64              `json:"transaction_id"`
	SourceAccountID *int64             `json:"source_account_id,omitempty"`
	DestAccountID   int64              `json:"dest_account_id"`
	Amount          int64              `json:"amount"`
	Kind            model.TransferKind `json:"kind"`
	Reference       string             `json:"reference,omitempty"`
	ActorRef        string             `json:"actor_ref"`
	CreatedAt       time.Time          `json:"created_at"`
}

func EventFromTransaction(t *model.Transaction) *TransferEvent {
	return &TransferEvent{
		TransactionID:   t.ID,
		SourceAccountID: t.SourceAccountID,
		DestAccountID:   t.DestAccountID,
		Amount:          t.Amount,
		Kind:            t.Kind,
		Reference:       t.Reference,
		ActorRef:        t.ActorRef,
		CreatedAt:       t.CreatedAt,
	}
}

type EndpointConfig struct {
	Name   string
	URL    string
	Weight int // Base priority weight (1-100)
}

type WebhookConfig struct {
	Endpoints               []EndpointConfig
	Timeout                 time.Duration
	MaxRetries              int
	RetryDelay              time.Duration
	MaxConns                int
	CircuitBreakerThreshold int
	CircuitBreakerTimeout   time.Duration
}

// Endpoint is one downstream webhook target with its own failure tracking.
type Endpoint struct {
	name   string
	url    string
	client *fasthttp.Client

	weight           atomic.Int32
	totalRequests    atomic.Int64
	failedRequests   atomic.Int64
	consecutiveFails atomic.Int32
	circuitOpenUntil atomic.Int64
}

func NewEndpoint(name, url string, weight int, client *fasthttp.Client) *Endpoint {
	e := &Endpoint{
		name:   name,
		url:    url,
		client: client,
	}
	e.weight.Store(int32(weight))
	return e
}

func (e *Endpoint) IsAvailable() bool {
	openUntil := e.circuitOpenUntil.Load()
	return openUntil == 0 || time.Now().Unix() > openUntil
}

func (e *Endpoint) SuccessRate() float64 {
	total := e.totalRequests.Load()
	if total == 0 {
		return 1.0
	}
	return 1.0 - float64(e.failedRequests.Load())/float64(total)
}

// Score ranks endpoints for selection: configured weight scaled by observed
// success rate, with recent consecutive failures compounding the penalty.
func (e *Endpoint) Score() float64 {
	if !e.IsAvailable() {
		return 0.0
	}

	penalty := 1.0 - float64(e.consecutiveFails.Load())*0.1
	if penalty < 0.1 {
		penalty = 0.1
	}

	return float64(e.weight.Load()) * e.SuccessRate() * penalty
}

func (e *Endpoint) recordSuccess() {
	e.totalRequests.Add(1)
	e.consecutiveFails.Store(0)
}

func (e *Endpoint) recordFailure(threshold int, openFor time.Duration) {
	e.totalRequests.Add(1)
	e.failedRequests.Add(1)
	fails := e.consecutiveFails.Add(1)

	if threshold > 0 && int(fails) >= threshold {
		e.circuitOpenUntil.Store(time.Now().Add(openFor).Unix())
		logger.Warn("Webhook endpoint circuit opened", "endpoint", e.name, "consecutive_fails", fails)
	}
}

// WebhookClient pushes transfer events to the best available downstream
// endpoint, failing over between them.
type WebhookClient struct {
	config    *WebhookConfig
	endpoints []*Endpoint
	mu        sync.RWMutex
}

func NewWebhookClient(config *WebhookConfig) (*WebhookClient, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if len(config.Endpoints) == 0 {
		return nil, errors.New("at least one endpoint is required")
	}

	client := &WebhookClient{
		config:    config,
		endpoints: make([]*Endpoint, 0, len(config.Endpoints)),
	}

	for _, ec := range config.Endpoints {
		httpClient := &fasthttp.Client{
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
		}

		client.endpoints = append(client.endpoints, NewEndpoint(ec.Name, ec.URL, ec.Weight, httpClient))
		logger.Info("Webhook endpoint initialized", "name", ec.Name, "url", ec.URL, "weight", ec.Weight)
	}

	return client, nil
}

func (c *WebhookClient) SelectBestEndpoint() (*Endpoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var best *Endpoint
	var bestScore float64

	for _, e := range c.endpoints {
		if !e.IsAvailable() {
			continue
		}
		if score := e.Score(); score > bestScore {
			bestScore = score
			best = e
		}
	}

	if best == nil {
		return nil, ErrNoAvailableEndpoints
	}

	return best, nil
}

// Notify delivers one transfer event, retrying across endpoints.
func (c *WebhookClient) Notify(ctx context.Context, event *TransferEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}

		endpoint, err := c.SelectBestEndpoint()
		if err != nil {
			lastErr = err
			continue
		}

		if err := c.post(endpoint, body); err != nil {
			endpoint.recordFailure(c.config.CircuitBreakerThreshold, c.config.CircuitBreakerTimeout)
			prom.IncNotificationDispatched(endpoint.name, "error")
			logger.Warn("Webhook delivery failed, retrying", "error", err, "endpoint", endpoint.name, "attempt", attempt+1)
			lastErr = err
			continue
		}

		endpoint.recordSuccess()
		prom.IncNotificationDispatched(endpoint.name, "ok")
		logger.Info("Transfer event delivered", "transaction_id", event.TransactionID, "kind", event.Kind, "endpoint", endpoint.name)
		return nil
	}

	return fmt.Errorf("failed after %d attempts: %w", c.config.MaxRetries+1, lastErr)
}

func (c *WebhookClient) post(endpoint *Endpoint, body []byte) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(endpoint.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := endpoint.client.DoTimeout(req, resp, c.config.Timeout); err != nil {
		return err
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		return fmt.Errorf("endpoint returned status %d", status)
	}

	return nil
}
