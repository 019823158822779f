package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"narrate/internal/logging"
)

// amqpChannel is the subset of *amqp.Channel the transport uses.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPTransport publishes requests to a RabbitMQ queue and collects
// responses from a reply queue, matched by correlation id. Responses for ids
// this process is not waiting on are acknowledged and dropped.
type AMQPTransport struct {
	conn          io.Closer
	ch            amqpChannel
	requestQueue  string
	responseQueue string
	logger        *slog.Logger

	mu        sync.Mutex
	pending   map[string]struct{}
	responses map[string]Response
	stopped   bool
	done      chan struct{}
}

// DialAMQP connects to url and declares both queues.
func DialAMQP(url, requestQueue, responseQueue string, logger *slog.Logger) (*AMQPTransport, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	t, err := newAMQPTransport(ch, requestQueue, responseQueue, logger)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	t.conn = conn
	return t, nil
}

func newAMQPTransport(ch amqpChannel, requestQueue, responseQueue string, logger *slog.Logger) (*AMQPTransport, error) {
	requestQueue = strings.TrimSpace(requestQueue)
	responseQueue = strings.TrimSpace(responseQueue)
	if requestQueue == "" || responseQueue == "" {
		return nil, errors.New("amqp transport: request and response queues are required")
	}
	for _, name := range []string{requestQueue, responseQueue} {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("declare queue %s: %w", name, err)
		}
	}
	deliveries, err := ch.Consume(responseQueue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", responseQueue, err)
	}
	t := &AMQPTransport{
		ch:            ch,
		requestQueue:  requestQueue,
		responseQueue: responseQueue,
		logger:        logging.NewComponentLogger(logger, "synthesis-amqp"),
		pending:       make(map[string]struct{}),
		responses:     make(map[string]Response),
		done:          make(chan struct{}),
	}
	go t.consume(deliveries)
	return t, nil
}

func (t *AMQPTransport) consume(deliveries <-chan amqp.Delivery) {
	defer close(t.done)
	for d := range deliveries {
		id := strings.TrimSpace(d.CorrelationId)
		t.mu.Lock()
		_, waiting := t.pending[id]
		if waiting {
			var resp Response
			if err := json.Unmarshal(d.Body, &resp); err != nil {
				resp = Response{Status: StatusError, Error: fmt.Sprintf("malformed response: %v", err)}
			}
			t.responses[id] = resp
		}
		t.mu.Unlock()

		if !waiting {
			t.logger.Debug("dropping unclaimed synthesis response",
				logging.String(logging.FieldCorrelationID, id),
			)
		}
		if err := d.Ack(false); err != nil {
			logging.WarnWithContext(t.logger, "ack synthesis response failed", "amqp_ack_failed",
				logging.String(logging.FieldCorrelationID, id),
				logging.String(logging.FieldErrorHint, "check the broker connection"),
				logging.String(logging.FieldImpact, "the broker may redeliver this response"),
				logging.Error(err),
			)
		}
	}
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

// Submit publishes req with its id as correlation id.
func (t *AMQPTransport) Submit(ctx context.Context, req Request) error {
	if err := validateID(req.ID); err != nil {
		return err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return errors.New("amqp transport: response consumer stopped")
	}
	t.pending[req.ID] = struct{}{}
	t.mu.Unlock()

	err = t.ch.PublishWithContext(ctx, "", t.requestQueue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		CorrelationId: req.ID,
		MessageId:     req.ID,
		ReplyTo:       t.responseQueue,
		Timestamp:     time.Now().UTC(),
		Body:          body,
	})
	if err != nil {
		t.forget(req.ID)
		return fmt.Errorf("publish request: %w", err)
	}
	return nil
}

// Poll returns a buffered response for id and forgets it.
func (t *AMQPTransport) Poll(_ context.Context, id string) (Response, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if resp, ok := t.responses[id]; ok {
		delete(t.responses, id)
		delete(t.pending, id)
		return resp, true, nil
	}
	if t.stopped {
		return Response{}, false, errors.New("amqp transport: response consumer stopped")
	}
	return Response{}, false, nil
}

// Withdraw stops waiting for id. A published request cannot be recalled;
// its response is dropped when it arrives.
func (t *AMQPTransport) Withdraw(_ context.Context, id string) error {
	t.forget(id)
	return nil
}

func (t *AMQPTransport) forget(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	delete(t.responses, id)
	t.mu.Unlock()
}

// Close shuts down the channel and connection.
func (t *AMQPTransport) Close() error {
	err := t.ch.Close()
	if t.conn != nil {
		err = errors.Join(err, t.conn.Close())
	}
	return err
}
