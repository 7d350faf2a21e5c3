package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	webhookQueueSize  = 1024
	webhookTimeout    = 10 * time.Second
	webhookRetryDelay = time.Second
)

// webhookEvent is the JSON body POSTed for each audit record.
type webhookEvent struct {
	Event      string `json:"event"`
	Email      string `json:"email,omitempty"`
	Reason     string `json:"reason,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// auditWebhook forwards audit records to an external collector. Records are
// queued without blocking the request and sent by a single goroutine; when
// the queue is full the record is dropped.
type auditWebhook struct {
	url        string
	header     string // "Name: Value"
	client     *http.Client
	logger     *slog.Logger
	retryDelay time.Duration

	mu     sync.Mutex // guards closed and sends on events
	closed bool
	events chan webhookEvent
	wg     sync.WaitGroup
}

func newAuditWebhook(url, header string, logger *slog.Logger) *auditWebhook {
	w := &auditWebhook{
		url:        url,
		header:     header,
		client:     &http.Client{Timeout: webhookTimeout},
		logger:     logger.With("component", "audit_webhook"),
		retryDelay: webhookRetryDelay,
		events:     make(chan webhookEvent, webhookQueueSize),
	}
	w.start()
	return w
}

func (w *auditWebhook) start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for evt := range w.events {
			w.deliver(evt)
		}
	}()
}

// enqueue queues evt for delivery. Records arriving after close are
// dropped.
func (w *auditWebhook) enqueue(evt webhookEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		w.logger.Warn("webhook closed, dropping event", "event", evt.Event)
		return
	}
	select {
	case w.events <- evt:
	default:
		w.logger.Warn("queue full, dropping event", "event", evt.Event)
	}
}

// close stops accepting records and waits for queued ones to be sent.
func (w *auditWebhook) close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.events)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// deliver sends evt, retrying once on a transport error or 5xx.
func (w *auditWebhook) deliver(evt webhookEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		w.logger.Warn("marshal failed", "error", err)
		return
	}
	for attempt := 1; attempt <= 2; attempt++ {
		if attempt > 1 {
			time.Sleep(w.retryDelay)
		}
		status, err := w.post(body)
		switch {
		case err != nil:
			w.logger.Warn("request failed", "error", err, "attempt", attempt)
		case status >= 500:
			w.logger.Warn("collector error", "status", status, "attempt", attempt)
		case status >= 400:
			w.logger.Warn("collector rejected event", "status", status, "event", evt.Event)
			return
		default:
			return
		}
	}
}

func (w *auditWebhook) post(body []byte) (int, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "todoapi-audit/1.0")
	if name, value, ok := strings.Cut(w.header, ":"); ok {
		req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
