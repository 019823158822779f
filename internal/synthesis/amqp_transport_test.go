package synthesis

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeAcker struct {
	mu    sync.Mutex
	acked int
}

func (a *fakeAcker) Ack(uint64, bool) error {
	a.mu.Lock()
	a.acked++
	a.mu.Unlock()
	return nil
}

func (a *fakeAcker) Nack(uint64, bool, bool) error { return nil }

func (a *fakeAcker) Reject(uint64, bool) error { return nil }

func (a *fakeAcker) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acked
}

// waitAcks returns the ack count once it reaches want or the deadline passes.
func (a *fakeAcker) waitAcks(want int) int {
	deadline := time.Now().Add(2 * time.Second)
	for a.count() < want && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	return a.count()
}

type fakeAMQPChannel struct {
	mu         sync.Mutex
	declared   []string
	published  []amqp.Publishing
	keys       []string
	deliveries chan amqp.Delivery
}

func (c *fakeAMQPChannel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	c.declared = append(c.declared, name)
	c.mu.Unlock()
	return amqp.Queue{Name: name}, nil
}

func (c *fakeAMQPChannel) Consume(string, string, bool, bool, bool, bool, amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

func (c *fakeAMQPChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	c.mu.Lock()
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeAMQPChannel) Close() error {
	close(c.deliveries)
	return nil
}

func pollUntil(t *testing.T, transport Transport, id string) Response {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, found, err := transport.Poll(context.Background(), id)
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if found {
			return resp
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no response for %s", id)
	return Response{}
}

func TestAMQPTransportRoundTrip(t *testing.T) {
	ch := &fakeAMQPChannel{deliveries: make(chan amqp.Delivery, 4)}
	transport, err := newAMQPTransport(ch, "tts.requests", "tts.responses", nil)
	if err != nil {
		t.Fatalf("newAMQPTransport: %v", err)
	}
	defer transport.Close()

	if len(ch.declared) != 2 {
		t.Fatalf("expected both queues declared, got %v", ch.declared)
	}
	if err := transport.Submit(context.Background(), Request{ID: "r1", Text: "hello", OutputPath: "/tmp/r1.wav"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ch.mu.Lock()
	msg := ch.published[0]
	key := ch.keys[0]
	ch.mu.Unlock()
	if key != "tts.requests" || msg.CorrelationId != "r1" || msg.ReplyTo != "tts.responses" {
		t.Fatalf("unexpected publishing key=%s %+v", key, msg)
	}
	var sent map[string]any
	if err := json.Unmarshal(msg.Body, &sent); err != nil || sent["text"] != "hello" {
		t.Fatalf("unexpected body %s (%v)", msg.Body, err)
	}

	acker := &fakeAcker{}
	ch.deliveries <- amqp.Delivery{
		Acknowledger:  acker,
		CorrelationId: "r1",
		Body:          []byte(`{"status":"success","duration":1.5,"generation_time":0.4}`),
	}
	resp := pollUntil(t, transport, "r1")
	if resp.Status != StatusSuccess || resp.Duration != 1.5 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if _, found, _ := transport.Poll(context.Background(), "r1"); found {
		t.Fatal("response returned twice")
	}
	if got := acker.waitAcks(1); got != 1 {
		t.Fatalf("expected delivery acked once, got %d", got)
	}
}

func TestAMQPTransportDropsWithdrawnResponses(t *testing.T) {
	ch := &fakeAMQPChannel{deliveries: make(chan amqp.Delivery, 4)}
	transport, err := newAMQPTransport(ch, "q.req", "q.resp", nil)
	if err != nil {
		t.Fatalf("newAMQPTransport: %v", err)
	}
	defer transport.Close()

	if err := transport.Submit(context.Background(), Request{ID: "late"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := transport.Withdraw(context.Background(), "late"); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if err := transport.Submit(context.Background(), Request{ID: "live"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	acker := &fakeAcker{}
	ch.deliveries <- amqp.Delivery{Acknowledger: acker, CorrelationId: "late", Body: []byte(`{"status":"success"}`)}
	ch.deliveries <- amqp.Delivery{Acknowledger: acker, CorrelationId: "live", Body: []byte(`not json`)}

	resp := pollUntil(t, transport, "live")
	if resp.Status != StatusError {
		t.Fatalf("malformed body should surface as a worker error, got %+v", resp)
	}
	if _, found, _ := transport.Poll(context.Background(), "late"); found {
		t.Fatal("withdrawn response must be dropped")
	}
	if got := acker.waitAcks(2); got != 2 {
		t.Fatalf("expected both deliveries acked, got %d", got)
	}
}
