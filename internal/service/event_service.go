package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
	"wallet_ledger/internal/domain"
	"wallet_ledger/pkg/metrics"
)

var ErrServiceClosed = errors.New("event service is shut down")

// Sink receives committed-operation events. Deliver is called from worker
// goroutines and may be called concurrently.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event domain.OperationEvent) error
}

type EventService struct {
	sinks           []Sink
	queue           chan domain.OperationEvent
	workers         int
	deliveryTimeout time.Duration
	shutdownChan    chan struct{}
	closeOnce       sync.Once
	mu              sync.RWMutex
	closed          bool
	wg              sync.WaitGroup
	metrics         *metrics.MetricsCollector
	logger          *slog.Logger
}

func NewEventService(
	sinks []Sink,
	workers int,
	queueSize int,
	metrics *metrics.MetricsCollector,
	logger *slog.Logger,
) *EventService {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1000
	}

	service := &EventService{
		sinks:           sinks,
		queue:           make(chan domain.OperationEvent, queueSize),
		workers:         workers,
		deliveryTimeout: 5 * time.Second,
		shutdownChan:    make(chan struct{}),
		metrics:         metrics,
		logger:          logger,
	}

	service.startWorkers()

	return service
}

// Publish queues an event. It blocks while the queue is full.
func (s *EventService) Publish(ctx context.Context, event domain.OperationEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrServiceClosed
	}

	select {
	case s.queue <- event:
		s.logger.Debug("Event queued",
			slog.String("operation_id", event.OperationID),
			slog.String("kind", string(event.Kind)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *EventService) startWorkers() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *EventService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("Event worker started", slog.Int("worker_id", id))

	for {
		select {
		case event := <-s.queue:
			s.processEvent(event, id)
		case <-s.shutdownChan:
			// deliver whatever was queued before shutdown
			for {
				select {
				case event := <-s.queue:
					s.processEvent(event, id)
				default:
					s.logger.Debug("Event worker stopping", slog.Int("worker_id", id))
					return
				}
			}
		}
	}
}

func (s *EventService) processEvent(event domain.OperationEvent, workerID int) {
	for _, sink := range s.sinks {
		startTime := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), s.deliveryTimeout)
		err := sink.Deliver(ctx, event)
		cancel()
		duration := time.Since(startTime)

		if s.metrics != nil {
			s.metrics.RecordEvent(sink.Name(), err == nil)
		}

		if err != nil {
			s.logger.Error("Failed to deliver event",
				slog.String("sink", sink.Name()),
				slog.String("operation_id", event.OperationID),
				slog.String("error", err.Error()),
				slog.Int("worker_id", workerID),
				slog.Duration("duration", duration))
			continue
		}
		s.logger.Debug("Event delivered",
			slog.String("sink", sink.Name()),
			slog.String("operation_id", event.OperationID),
			slog.Int("worker_id", workerID),
			slog.Duration("duration", duration))
	}
}

func (s *EventService) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.shutdownChan)
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Event service shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
