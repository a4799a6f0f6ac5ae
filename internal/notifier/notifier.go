package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/openperks/points-ledger/internal/config"
	"github.com/openperks/points-ledger/internal/model"
	"github.com/openperks/points-ledger/internal/queue"
	"github.com/openperks/points-ledger/pkg/logger"
	"github.com/openperks/points-ledger/pkg/redis"
	"github.com/openperks/points-ledger/pkg/worker"
)

const DeliveryTimeout = time.Second * 5
const HealthInterval = time.Second * 30
const ShutdownTimeout = time.Minute

// ConservationChecker is the audit projection the sweeper runs against.
type ConservationChecker interface {
	ConservationCheck(ctx context.Context, ownerRefs []string) (*model.ConservationReport, error)
}

// NotifierService consumes committed transfer events from the stream and
// pushes them downstream, with a periodic conservation sweep on the side.
type NotifierService struct {
	adapter     redis.RedisAdapter
	queues      []*queue.Queue
	webhook     *WebhookClient
	idempotency *IdempotencyService
	auditor     ConservationChecker
	sweepEvery  time.Duration
	metrics     *ServiceMetrics
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	worker      *worker.WorkerManager
}

func NewNotifierService(redisAdapter redis.RedisAdapter, webhook *WebhookClient, idempotency *IdempotencyService, auditor ConservationChecker, sweepEvery time.Duration) (*NotifierService, error) {
	ctx, cancel := context.WithCancel(context.Background())
	service := &NotifierService{
		adapter:     redisAdapter,
		queues:      make([]*queue.Queue, 0),
		webhook:     webhook,
		idempotency: idempotency,
		auditor:     auditor,
		sweepEvery:  sweepEvery,
		metrics:     NewServiceMetrics(),
		ctx:         ctx,
		cancel:      cancel,
		worker:      worker.NewWorkerManager(10_000, 50, nil),
	}
	return service, nil
}

// Start brings up the worker pool, the stream consumers and the background
// sweepers.
func (s *NotifierService) Start(consumers int) error {
	logger.Info("Starting Notifier Service...")

	s.worker.SetWorker(s.workerHandler)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil {
			logger.Error("Worker manager stopped", "error", err)
		}
	}()

	for i := 0; i < consumers; i++ {
		queueConfig := queue.QueueConfig{
			Name:              config.Get().QueueName,
			ConsumerGroup:     config.Get().QueueConsumerGroup,
			ConsumerName:      fmt.Sprintf("%s-instance-%d", config.Get().QueueConsumerName, i),
			MaxRetries:        config.Get().QueueMaxRetries,
			VisibilityTimeout: config.Get().QueueVisibilityTimeout,
			PollInterval:      config.Get().QueuePollInterval,
			BatchSize:         config.Get().QueueBatchSize,
			MaxLen:            config.Get().QueueMaxLen,
			EnableDLQ:         config.Get().QueueEnableDLQ,
		}

		q, err := queue.NewQueue(s.adapter, queueConfig)
		if err != nil {
			return fmt.Errorf("failed to create queue %d: %w", i, err)
		}

		if err := q.Consume(s.eventHandler); err != nil {
			return fmt.Errorf("failed to start consumer %d: %w", i, err)
		}

		s.queues = append(s.queues, q)
	}

	s.wg.Add(2)
	go s.metricsReporter()
	go s.healthChecker()

	if s.auditor != nil && s.sweepEvery > 0 {
		s.wg.Add(1)
		go s.conservationSweeper()
	}

	logger.Info("Notifier Service started", "consumers", len(s.queues))
	return nil
}

// Deliver parses one queued event and pushes it downstream exactly once.
func (s *NotifierService) Deliver(ctx context.Context, queueMessage *queue.Message) error {
	var txn model.Transaction
	if err := json.Unmarshal(queueMessage.Data, &txn); err != nil {
		logger.Error("Failed to unmarshal transfer event", "error", err)
		return err // move to DLQ
	}

	eventID := strconv.FormatInt(txn.ID, 10)

	dc, err := s.idempotency.AcquireDeliveryLock(ctx, eventID)
	if err != nil {
		if errors.Is(err, ErrAlreadyDelivered) {
			return nil // ACK, nothing to do
		}
		if errors.Is(err, ErrMaxRetriesExceeded) {
			logger.Error("Giving up on transfer event", "event_id", eventID)
			return nil // ACK to move on; the ledger row itself is intact
		}
		if errors.Is(err, ErrLockAcquireFailed) {
			return errors.New("lock held by another consumer")
		}
		return err
	}

	defer func() {
		if dc.lockAcquired {
			s.idempotency.ReleaseLock(ctx, dc)
		}
	}()

	if err := s.webhook.Notify(ctx, EventFromTransaction(&txn)); err != nil {
		if markErr := s.idempotency.MarkFailure(ctx, dc, err); markErr != nil {
			logger.Error("Failed to mark failure", "event_id", eventID, "error", markErr)
		}
		return err // NACK to retry from queue
	}

	if markErr := s.idempotency.MarkDelivered(ctx, dc); markErr != nil {
		logger.Error("Failed to mark delivered", "event_id", eventID, "error", markErr)
		// Continue - the webhook went out
	}

	return nil
}

func (s *NotifierService) conservationSweeper() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// The check gauges drift and error-logs on violation; the
			// sweeper only has to keep calling it.
			if _, err := s.auditor.ConservationCheck(s.ctx, nil); err != nil {
				logger.Error("Conservation sweep failed", "error", err)
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *NotifierService) metricsReporter() {
	defer s.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reportMetrics()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *NotifierService) reportMetrics() {
	stats := s.metrics.GetStats()
	logger.Info("Notifier metrics",
		"total_delivered", stats["total_delivered"],
		"total_failed", stats["total_failed"],
		"rate_per_second", stats["rate_per_second"],
		"avg_duration_ms", stats["avg_duration_ms"],
		"uptime_seconds", stats["uptime_seconds"])

	for i, q := range s.queues {
		if qStats, err := q.GetStats(); err == nil {
			logger.Info("Queue stats", "queue", i, "total", qStats.TotalMessages, "pending", qStats.PendingMessages)
		}
	}
}

func (s *NotifierService) healthChecker() {
	defer s.wg.Done()

	ticker := time.NewTicker(HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.performHealthCheck()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *NotifierService) performHealthCheck() {
	if err := s.adapter.Client().Ping(context.Background()).Err(); err != nil {
		logger.Error("HEALTH CHECK FAILED: Redis connection error", "error", err)
		return
	}

	for i, q := range s.queues {
		stats, err := q.GetStats()
		if err != nil {
			logger.Warn("HEALTH CHECK WARNING: Queue stats unavailable", "queue", i, "error", err)
			continue
		}
		if stats.PendingMessages > 10000 {
			logger.Warn("HEALTH CHECK WARNING: Queue has high lag", "queue", i, "pending_messages", stats.PendingMessages)
		}
	}
}

// Stop gracefully stops the service
func (s *NotifierService) Stop() {
	logger.Info("Shutting down Notifier Service...")

	s.cancel()

	timeout := ShutdownTimeout
	stopChan := make(chan bool, len(s.queues))

	for i, q := range s.queues {
		go func(index int, queue *queue.Queue) {
			if err := queue.Stop(timeout); err != nil {
				logger.Error("Error stopping queue", "queue", index, "error", err)
			}
			stopChan <- true
		}(i, q)
	}

	for range s.queues {
		select {
		case <-stopChan:
		case <-time.After(timeout + 5*time.Second):
			logger.Warn("Timeout waiting for queues to stop")
		}
	}

	s.worker.Exit()
	s.wg.Wait()
	s.reportMetrics()

	logger.Info("Notifier Service stopped")
}

type jobResult struct {
	msg        *queue.Message
	resultChan chan error
	ctx        context.Context
}

// eventHandler receives messages from the queue and hands them to the
// worker pool, blocking until a worker reports back or the timeout hits.
func (s *NotifierService) eventHandler(ctx context.Context, msg *queue.Message) error {
	resultChan := make(chan error, 1)

	msgCtx, cancel := context.WithTimeout(ctx, DeliveryTimeout+time.Second)
	defer cancel()

	job := &jobResult{
		msg:        msg,
		resultChan: resultChan,
		ctx:        msgCtx,
	}

	s.worker.Enqueue(job)

	select {
	case err := <-resultChan:
		return err
	case <-msgCtx.Done():
		return fmt.Errorf("timeout waiting for worker to deliver event: %w", msgCtx.Err())
	}
}

func (s *NotifierService) workerHandler(workerIndex int, job interface{}) {
	jobRes, ok := job.(*jobResult)
	if !ok {
		logger.Error("Invalid job type in worker", "worker", workerIndex)
		return
	}

	start := time.Now()
	var resultErr error

	select {
	case <-jobRes.ctx.Done():
		logger.Warn("Job context cancelled before delivery started", "worker", workerIndex)
		return
	default:
	}

	if err := s.Deliver(jobRes.ctx, jobRes.msg); err != nil {
		s.metrics.RecordFailure()
		logger.Error("Failed to deliver event", "worker", workerIndex, "error", err)
		resultErr = err
	} else {
		s.metrics.RecordSuccess(time.Since(start))
	}

	select {
	case jobRes.resultChan <- resultErr:
	case <-jobRes.ctx.Done():
		logger.Warn("Context cancelled while sending result", "worker", workerIndex)
	}
}
