package eventbus

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/modsuite/runtime/pkg/models"
)

// ForwarderConfig configures the webhook forwarder.
type ForwarderConfig struct {
	URL         string
	Secret      string   // HMAC-SHA256 signing secret; empty disables signing
	EventTypes  []string // glob patterns this forwarder relays; empty means all
	QueueSize   int      // bounded queue capacity; default 256
	MaxAttempts uint64   // retry attempts per event; default 3
	Timeout     time.Duration
}

// Forwarder relays bus events to an HTTP webhook with a bounded queue and
// drop-oldest backpressure, retrying failed deliveries with
// cenkalti/backoff's exponential policy.
type Forwarder struct {
	cfg    ForwarderConfig
	client *http.Client
	bus    *Bus
	sub    *Subscription
	queue  chan models.Event
	log    zerolog.Logger
}

// NewForwarder creates a forwarder subscribed to bus for the configured
// event type patterns. Call Run to start draining the queue.
func NewForwarder(bus *Bus, cfg ForwarderConfig, log zerolog.Logger) *Forwarder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	patterns := cfg.EventTypes
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}

	f := &Forwarder{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		bus:    bus,
		queue:  make(chan models.Event, cfg.QueueSize),
		log:    log,
	}

	for _, p := range patterns {
		sub := bus.Subscribe(p)
		go f.drainSubscription(sub)
	}
	return f
}

// drainSubscription enqueues matched events into the bounded queue,
// dropping the oldest queued event (not the new one) on overflow, and
// publishing bus.forwarder_dropped so the drop is observable.
func (f *Forwarder) drainSubscription(sub *Subscription) {
	for evt := range sub.Chan() {
		select {
		case f.queue <- evt:
		default:
			select {
			case dropped := <-f.queue:
				f.bus.Publish(models.Event{
					Type:   models.EventBusForwarderDrop,
					Source: "eventbus",
					Payload: map[string]interface{}{
						"dropped_event_type": dropped.Type,
						"dropped_event_id":   dropped.ID,
					},
				})
			default:
			}
			select {
			case f.queue <- evt:
			default:
			}
		}
	}
}

// Run drains the queue and POSTs each event until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-f.queue:
			if err := f.sendWithRetry(ctx, evt); err != nil {
				f.log.Warn().Err(err).Str("url", f.cfg.URL).Str("event_type", evt.Type).Msg("webhook forward failed, giving up")
			}
		}
	}
}

func (f *Forwarder) sendWithRetry(ctx context.Context, evt models.Event) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), f.cfg.MaxAttempts-1), ctx)
	return backoff.Retry(func() error {
		return f.send(ctx, evt)
	}, bo)
}

func (f *Forwarder) send(ctx context.Context, evt models.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal event: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "suite-runtime-webhook/1.0")
	req.Header.Set("X-Suite-Event", evt.Type)

	if f.cfg.Secret != "" {
		mac := hmac.New(sha256.New, []byte(f.cfg.Secret))
		mac.Write(body)
		req.Header.Set("X-Suite-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err // transient, retry
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return backoff.Permanent(fmt.Errorf("webhook returned %d", resp.StatusCode))
	}
	return nil
}
