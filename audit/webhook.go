package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/giantswarm/guard/instrumentation"
)

const (
	// maxWebhookBackoff caps the retry delay of a single notification
	maxWebhookBackoff = 5 * time.Minute

	// maxWebhookResponseBody bounds how much of a response is read before closing
	maxWebhookResponseBody = 64 << 10
)

// webhookItem is a queued notification with its delivery state.
type webhookItem struct {
	payload     WebhookPayload
	attempts    int
	nextAttempt time.Time
}

// webhookDispatcher delivers notifications to the configured URL with
// bounded retries and exponential backoff.
type webhookDispatcher struct {
	url        string
	client     *http.Client
	userAgent  string
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	batchSize  int
	maxQueue   int
	now        func() time.Time
	logger     *slog.Logger
	metrics    *instrumentation.Metrics

	mu    sync.Mutex
	queue []webhookItem
}

func newWebhookDispatcher(cfg Config, logger *slog.Logger, metrics *instrumentation.Metrics) *webhookDispatcher {
	burst := max(int(cfg.WebhookRatePerSecond), 1)
	return &webhookDispatcher{
		url:        cfg.WebhookURL,
		client:     cfg.HTTPClient,
		userAgent:  cfg.ServiceName + "-Security-Logger/1.0",
		limiter:    rate.NewLimiter(rate.Limit(cfg.WebhookRatePerSecond), burst),
		maxRetries: cfg.WebhookMaxRetries,
		backoff:    cfg.WebhookBackoff,
		batchSize:  cfg.WebhookBatchSize,
		maxQueue:   cfg.MaxWebhookQueue,
		now:        cfg.Clock,
		logger:     logger,
		metrics:    metrics,
	}
}

func (d *webhookDispatcher) enqueue(payload WebhookPayload) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.queue) >= d.maxQueue {
		d.queue = d.queue[1:]
		d.logger.Warn("Webhook queue full, dropping oldest notification",
			"max_queue", d.maxQueue)
	}
	d.queue = append(d.queue, webhookItem{payload: payload})
}

func (d *webhookDispatcher) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// take removes up to batchSize items that are due. force ignores backoff.
func (d *webhookDispatcher) take(force bool) []webhookItem {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	limit := d.batchSize
	if force {
		limit = len(d.queue)
	}

	var due []webhookItem
	kept := d.queue[:0]
	for _, item := range d.queue {
		if len(due) < limit && (force || !item.nextAttempt.After(now)) {
			due = append(due, item)
			continue
		}
		kept = append(kept, item)
	}
	d.queue = kept
	return due
}

func (d *webhookDispatcher) putBack(items ...webhookItem) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.queue = append(d.queue, items...)
	if over := len(d.queue) - d.maxQueue; over > 0 {
		d.queue = d.queue[over:]
	}
}

// process delivers one batch and returns the number of successful deliveries.
func (d *webhookDispatcher) process(ctx context.Context, force bool) int {
	items := d.take(force)
	delivered := 0

	for i, item := range items {
		if err := d.limiter.Wait(ctx); err != nil {
			d.putBack(items[i:]...)
			return delivered
		}

		err := d.send(ctx, item.payload)
		if err == nil {
			delivered++
			d.metrics.RecordWebhookDelivery(ctx, "delivered")
			continue
		}

		item.attempts++
		if item.attempts >= d.maxRetries {
			d.metrics.RecordWebhookDelivery(ctx, "dropped")
			d.logger.Error("Dropping security webhook after retries",
				"event_type", item.payload.EventType,
				"event_id", item.payload.Details.ID,
				"attempts", item.attempts,
				"error", err)
			continue
		}

		item.nextAttempt = d.now().Add(d.backoffFor(item.attempts))
		d.metrics.RecordWebhookDelivery(ctx, "retried")
		d.logger.Warn("Failed to send security webhook",
			"event_type", item.payload.EventType,
			"attempts", item.attempts,
			"next_attempt", item.nextAttempt,
			"error", err)
		d.putBack(item)
	}

	return delivered
}

// backoffFor returns base*2^(attempt-1), capped at maxWebhookBackoff.
func (d *webhookDispatcher) backoffFor(attempt int) time.Duration {
	delay := d.backoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxWebhookBackoff {
			return maxWebhookBackoff
		}
	}
	return min(delay, maxWebhookBackoff)
}

func (d *webhookDispatcher) send(ctx context.Context, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxWebhookResponseBody))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
