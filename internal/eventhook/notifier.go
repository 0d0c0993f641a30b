// Package eventhook delivers bridge events to a host webhook.
package eventhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zlc_ai/messaging-bridge/internal/protocol"
)

// DeliveryHeader carries the delivery ID. Retries of one event reuse it.
const DeliveryHeader = "X-Bridge-Delivery"

// Config holds the event webhook configuration.
type Config struct {
	// URL is the host webhook URL.
	URL string
	// AuthHeader is the Authorization header value.
	AuthHeader string
	// Timeout is the per-request timeout.
	Timeout time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// QueueSize bounds the events waiting for delivery.
	QueueSize int
	// InitialInterval is the first retry delay.
	InitialInterval time.Duration
	// MaxInterval caps the retry delay.
	MaxInterval time.Duration
}

// Delivery is the body POSTed to the webhook.
type Delivery struct {
	DeliveryID string          `json:"deliveryId"`
	Attempt    int             `json:"attempt"`
	Event      *protocol.Event `json:"event"`
}

// Notifier posts events to the host webhook from a dedicated goroutine.
type Notifier struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger

	queue  chan *protocol.Event
	ctx    context.Context
	cancel context.CancelFunc
	start  sync.Once
	wg     sync.WaitGroup

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewNotifier creates a new event webhook notifier.
func NewNotifier(config Config, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.InitialInterval == 0 {
		config.InitialInterval = 100 * time.Millisecond
	}
	if config.MaxInterval == 0 {
		config.MaxInterval = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Notifier{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger.Named("eventhook"),
		queue:  make(chan *protocol.Event, config.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the delivery goroutine.
func (n *Notifier) Start(ctx context.Context) error {
	if n.config.URL == "" {
		return fmt.Errorf("event webhook URL not configured")
	}
	n.start.Do(func() {
		n.wg.Add(1)
		go n.run()
		n.logger.Info("Event webhook started", zap.String("url", n.config.URL))
	})
	return nil
}

// Stop abandons pending deliveries and waits for the delivery goroutine.
func (n *Notifier) Stop(ctx context.Context) error {
	n.cancel()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if pending := len(n.queue); pending > 0 {
		n.dropped.Add(int64(pending))
		n.logger.Warn("Event webhook stopped with pending events", zap.Int("pending", pending))
	}
	n.logger.Info("Event webhook stopped",
		zap.Int64("delivered", n.delivered.Load()),
		zap.Int64("failed", n.failed.Load()))
	return nil
}

// Emit queues event for delivery. Events are dropped when the queue is full.
func (n *Notifier) Emit(event *protocol.Event) {
	select {
	case n.queue <- event:
	default:
		n.dropped.Add(1)
		n.logger.Warn("Event webhook queue full, event dropped",
			zap.String("event", string(event.Name)),
			zap.String("id", event.ID))
	}
}

// Delivered returns the number of events accepted by the webhook.
func (n *Notifier) Delivered() int64 { return n.delivered.Load() }

// Failed returns the number of events whose retries were exhausted.
func (n *Notifier) Failed() int64 { return n.failed.Load() }

// Dropped returns the number of events never attempted.
func (n *Notifier) Dropped() int64 { return n.dropped.Load() }

func (n *Notifier) run() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case event := <-n.queue:
			if err := n.Notify(n.ctx, event); err != nil {
				n.failed.Add(1)
				n.logger.Error("Event webhook delivery failed",
					zap.String("event", string(event.Name)),
					zap.String("id", event.ID),
					zap.Error(err))
				continue
			}
			n.delivered.Add(1)
		}
	}
}

// Notify posts event synchronously, retrying with exponential backoff.
func (n *Notifier) Notify(ctx context.Context, event *protocol.Event) error {
	if n.config.URL == "" {
		return fmt.Errorf("event webhook URL not configured")
	}

	delivery := Delivery{
		DeliveryID: uuid.New().String(),
		Event:      event,
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = n.config.InitialInterval
	exp.MaxInterval = n.config.MaxInterval
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(n.config.MaxRetries)), ctx)

	operation := func() error {
		delivery.Attempt++
		body, err := json.Marshal(delivery)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to marshal delivery: %w", err))
		}
		return n.post(ctx, delivery.DeliveryID, body)
	}
	notify := func(err error, wait time.Duration) {
		n.logger.Debug("Retrying event webhook",
			zap.String("delivery", delivery.DeliveryID),
			zap.Int("attempt", delivery.Attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return fmt.Errorf("delivery %s after %d attempts: %w", delivery.DeliveryID, delivery.Attempt, err)
	}

	n.logger.Debug("Event sent to webhook",
		zap.String("event", string(event.Name)),
		zap.String("delivery", delivery.DeliveryID),
		zap.Int("attempts", delivery.Attempt))
	return nil
}

func (n *Notifier) post(ctx context.Context, deliveryID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(DeliveryHeader, deliveryID)
	if n.config.AuthHeader != "" {
		req.Header.Set("Authorization", n.config.AuthHeader)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("event webhook error: %d - %s", resp.StatusCode, string(respBody))
	case resp.StatusCode >= 400:
		return backoff.Permanent(fmt.Errorf("event webhook rejected delivery: %d - %s", resp.StatusCode, string(respBody)))
	}
	return nil
}
