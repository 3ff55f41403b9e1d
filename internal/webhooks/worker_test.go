package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"orderbatch/internal/events"
)

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var gotSig, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	q := NewQueue()
	pub := NewPublisher([]Endpoint{{URL: srv.URL, Secret: "secret"}}, q)
	w := NewWorker(q, 3, zerolog.Nop())
	w.HTTP = srv.Client()

	pub.Emit("batch.created", map[string]any{"batch_id": "b1"})
	w.processOnce(context.Background())

	if gotType != "batch.created" {
		t.Fatalf("missing type header: %q", gotType)
	}
	if !VerifyHMAC("secret", gotBody, gotSig) {
		t.Fatalf("bad signature %q", gotSig)
	}
	var payload map[string]any
	_ = json.Unmarshal(gotBody, &payload)
	if payload["type"] != "batch.created" || payload["data"].(map[string]any)["batch_id"] != "b1" {
		t.Fatalf("payload: %s", gotBody)
	}
	if p, f := q.Len(); p != 0 || f != 0 {
		t.Fatalf("queue not drained: pending=%d failed=%d", p, f)
	}
}

func TestWorkerProcessOnce_RetryThenFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()

	q := NewQueue()
	w := NewWorker(q, 2, zerolog.Nop())
	w.HTTP = srv.Client()
	now := time.Now()
	w.now = func() time.Time { return now }
	NewPublisher(ParseEndpoints(srv.URL, ""), q).Emit("batch.created", nil)

	w.processOnce(context.Background())
	if p, f := q.Len(); p != 1 || f != 0 {
		t.Fatalf("after first attempt: pending=%d failed=%d", p, f)
	}
	// not due yet
	w.processOnce(context.Background())
	if p, _ := q.Len(); p != 1 {
		t.Fatalf("retried too early")
	}
	now = now.Add(nextBackoff(0))
	w.processOnce(context.Background())
	if p, f := q.Len(); p != 0 || f != 1 {
		t.Fatalf("expected fail recorded: pending=%d failed=%d", p, f)
	}
}

func TestPublisherForward(t *testing.T) {
	b := events.NewMemory()
	q := NewQueue()
	pub := NewPublisher(ParseEndpoints("http://a.example, http://b.example", "s"), q)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pub.Forward(ctx, b, events.TopicBatches)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for {
		b.Publish(events.TopicBatches, events.Event{Type: "batch.created"})
		if p, _ := q.Len(); p >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event not forwarded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestSignature(t *testing.T) {
	sig := SignHMAC("k", []byte("body"))
	if !VerifyHMAC("k", []byte("body"), sig) || VerifyHMAC("k", []byte("other"), sig) || VerifyHMAC("k", []byte("body"), "zz") {
		t.Fatal("signature round trip")
	}
}
