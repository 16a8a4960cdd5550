package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"spendly/internal/core"
	"spendly/internal/log"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	publishTimeout = 5 * time.Second
	maxBackoff     = 30 * time.Second
)

// Queues names the durable queues bound to the exchange. Each queue is bound
// with its own name as routing key.
type Queues struct {
	TransactionChanged string
	Notification       string
	Email              string
	Report             string
}

func (q Queues) all() []string {
	var names []string
	for _, n := range []string{q.TransactionChanged, q.Notification, q.Email, q.Report} {
		if n != "" {
			names = append(names, n)
		}
	}
	return names
}

// Client publishes and consumes JSON messages on a direct exchange. Publishes
// go through a circuit breaker and the connection is re-established lazily.
type Client struct {
	url          string
	exchangeName string
	queues       Queues

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	failMu       sync.Mutex
	lastFailure  time.Time
}

func NewClient(url, exchangeName string, queues Queues) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queues:       queues,
	}

	if err := client.connect(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Client) connectLocked() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := setup(channel, c.exchangeName, c.queues.all()); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queues: %w", err)
	}

	c.conn = conn
	c.channel = channel
	return nil
}

func setup(channel *amqp091.Channel, exchange string, queues []string) error {
	err := channel.ExchangeDeclare(
		exchange, // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, queue := range queues {
		if _, err := channel.QueueDeclare(
			queue, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}

		if err := channel.QueueBind(queue, queue, exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}
	return nil
}

// ensureChannel returns an open channel, reconnecting when the broker closed
// the previous one.
func (c *Client) ensureChannel() (*amqp091.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil && !c.channel.IsClosed() && c.conn != nil && !c.conn.IsClosed() {
		return c.channel, nil
	}
	c.closeLocked()
	if err := c.connectLocked(); err != nil {
		return nil, err
	}
	slog.Info("Reconnected to AMQP broker", log.FieldComponent, log.ComponentAMQP)
	return c.channel, nil
}

// PublishTransactionChanged announces a committed transaction mutation.
func (c *Client) PublishTransactionChanged(ctx context.Context, msg TransactionChanged) error {
	return c.publishJSON(ctx, c.queues.TransactionChanged, msg)
}

// PublishNotification queues an in-app notification.
func (c *Client) PublishNotification(ctx context.Context, msg NotificationMessage) error {
	return c.publishJSON(ctx, c.queues.Notification, msg)
}

// PublishEmail queues an email for the mailer.
func (c *Client) PublishEmail(ctx context.Context, msg EmailMessage) error {
	return c.publishJSON(ctx, c.queues.Email, msg)
}

// PublishReport queues a report rendering request.
func (c *Client) PublishReport(ctx context.Context, msg ReportRequest) error {
	return c.publishJSON(ctx, c.queues.Report, msg)
}

func (c *Client) publishJSON(ctx context.Context, queue string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if queue == "" {
		return fmt.Errorf("publish: no queue configured")
	}
	if c.isCircuitOpen() {
		return fmt.Errorf("publish to %s: circuit breaker is open", queue)
	}

	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	channel, err := c.ensureChannel()
	if err != nil {
		c.recordFailure()
		return fmt.Errorf("publish to %s: %w", queue, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		queue,          // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.dropConnection()
		}
		return fmt.Errorf("publish message: %w", err)
	}

	c.recordSuccess()
	slog.DebugContext(ctx, "Published message",
		log.FieldComponent, log.ComponentAMQP,
		"exchange", c.exchangeName,
		log.FieldQueue, queue)
	return nil
}

// ConsumeTransactionChanged delivers TransactionChanged events to handler
// until ctx is cancelled. Broken connections are retried with backoff.
func (c *Client) ConsumeTransactionChanged(ctx context.Context, handler func(context.Context, TransactionChanged) error) error {
	queue := c.queues.TransactionChanged
	for attempt := 0; ; attempt++ {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "Stopping message consumption",
				log.FieldComponent, log.ComponentAMQP,
				"reason", ctx.Err())
			return ctx.Err()
		}
		if err == nil || !isConnectionError(err) {
			return err
		}

		c.dropConnection()
		wait := exponentialBackoff(attempt)
		slog.WarnContext(ctx, "Consumer lost connection, retrying",
			log.FieldComponent, log.ComponentAMQP,
			log.FieldQueue, queue,
			log.FieldAttempt, attempt+1,
			"backoff", wait,
			log.FieldError, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) consumeOnce(ctx context.Context, queue string, handler func(context.Context, TransactionChanged) error) error {
	channel, err := c.ensureChannel()
	if err != nil {
		return err
	}

	msgs, err := channel.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack (we want manual ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming transaction events",
		log.FieldComponent, log.ComponentAMQP,
		log.FieldQueue, queue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return amqp091.ErrClosed
			}
			settle(ctx, delivery, processDelivery(ctx, delivery.Body, handler))
		}
	}
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeReject
	outcomeRequeue
)

// processDelivery decodes body and runs handler. Malformed payloads and
// handler validation failures are rejected; any other handler error is
// requeued for redelivery.
func processDelivery(ctx context.Context, body []byte, handler func(context.Context, TransactionChanged) error) outcome {
	msg, err := DecodeTransactionChanged(body)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to decode message",
			log.FieldComponent, log.ComponentAMQP,
			log.FieldError, err)
		return outcomeReject
	}

	if err := handler(ctx, msg); err != nil {
		if errors.Is(err, core.ErrValidation) || errors.Is(err, core.ErrInvalidArgument) || errors.Is(err, ErrMalformedMessage) {
			slog.ErrorContext(ctx, "Rejected unprocessable message",
				log.FieldComponent, log.ComponentAMQP,
				log.FieldTransactionID, msg.TransactionID,
				log.FieldError, err)
			return outcomeReject
		}
		slog.ErrorContext(ctx, "Failed to handle message",
			log.FieldComponent, log.ComponentAMQP,
			log.FieldTransactionID, msg.TransactionID,
			log.FieldEvent, string(msg.EventType),
			log.FieldError, err)
		return outcomeRequeue
	}

	slog.DebugContext(ctx, "Processed transaction event",
		log.FieldComponent, log.ComponentAMQP,
		log.FieldTransactionID, msg.TransactionID,
		log.FieldEvent, string(msg.EventType))
	return outcomeAck
}

func settle(ctx context.Context, d amqp091.Delivery, o outcome) {
	var err error
	switch o {
	case outcomeAck:
		err = d.Ack(false)
	case outcomeReject:
		err = d.Nack(false, false)
	case outcomeRequeue:
		err = d.Nack(false, true)
	}
	if err != nil {
		slog.WarnContext(ctx, "Failed to settle delivery",
			log.FieldComponent, log.ComponentAMQP,
			log.FieldError, err)
	}
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.failMu.Lock()
	last := c.lastFailure
	c.failMu.Unlock()
	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.failMu.Lock()
	c.lastFailure = time.Now()
	c.failMu.Unlock()

	n := atomic.AddInt64(&c.failureCount, 1)
	if n >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		if atomic.SwapInt32(&c.state, StateOpen) != StateOpen {
			slog.Warn("AMQP circuit breaker opened",
				log.FieldComponent, log.ComponentAMQP,
				"failures", n)
		}
	}
}

// exponentialBackoff returns 1s, 2s, 4s, ... capped at maxBackoff.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxBackoff
	}
	d := time.Second << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection refused",
		"connection closed",
		"connection reset",
		"eof",
		"broken pipe",
		"use of closed network connection",
		"channel/connection is not open",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (c *Client) dropConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err = c.conn.Close()
		c.conn = nil
	}
	return err
}
