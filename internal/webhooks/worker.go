package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type Worker struct {
	Queue       *Queue
	HTTP        *http.Client
	MaxAttempts int
	log         zerolog.Logger
	now         func() time.Time
}

func NewWorker(q *Queue, maxAttempts int, log zerolog.Logger) *Worker {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Worker{Queue: q, HTTP: &http.Client{Timeout: 5 * time.Second}, MaxAttempts: maxAttempts, log: log, now: time.Now}
}

// Start processes due deliveries every second until ctx is done.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.processOnce(ctx)
			}
		}
	}()
}

func (w *Worker) processOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for _, it := range w.Queue.Due(w.now(), 50) {
		code, err := w.deliver(ctx, it)
		if err == nil {
			w.log.Debug().Str("id", it.ID).Str("url", it.URL).Int("code", code).Msg("webhook delivered")
			continue
		}
		it.Attempts++
		it.LastError = err.Error()
		if it.Attempts >= w.MaxAttempts {
			w.log.Warn().Err(err).Str("id", it.ID).Str("url", it.URL).Int("attempts", it.Attempts).Msg("webhook failed permanently")
			w.Queue.Fail(it)
			continue
		}
		it.NextAt = w.now().Add(nextBackoff(it.Attempts - 1))
		w.Queue.Enqueue(it)
	}
}

func (w *Worker) deliver(ctx context.Context, it Delivery) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, it.URL, bytes.NewReader(it.Payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Type", it.EventType)
	if it.Secret != "" {
		req.Header.Set("X-Signature", SignHMAC(it.Secret, it.Payload))
	}
	resp, err := w.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func nextBackoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 10 {
		attempts = 10
	}
	base := time.Second * time.Duration(1<<attempts)
	if base > time.Hour {
		base = time.Hour
	}
	return base
}
