// Package batch processes batches of independent inbound messages with
// per-message failure isolation.
//
// A Consumer runs one Handler over every message of a batch. A handler error or
// panic for one message never prevents the remaining messages from being
// attempted; the consumer reports the IDs of the messages that must be
// redelivered so the queue can retry only those.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"regionwatch/internal/types"
)

// Message is one inbound message. ID is opaque to the consumer.
type Message struct {
	ID         string
	Body       []byte
	Attributes map[string]string
}

// Handler processes a single message.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// MetricRecorder receives per-batch counters.
type MetricRecorder interface {
	RecordBatch(ctx context.Context, consumer string, received, failed int)
}

// Consumer applies a Handler to each message of a batch.
type Consumer struct {
	name        string
	handler     Handler
	logger      *slog.Logger
	concurrency int
	acknowledge mapset.Set[types.ErrorCode]
	metrics     MetricRecorder
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithConcurrency processes up to n messages of a batch at once. Values below
// 2 process messages sequentially.
func WithConcurrency(n int) Option {
	return func(c *Consumer) { c.concurrency = n }
}

// WithAcknowledge lists error codes that are logged and acknowledged instead
// of being reported for redelivery, for failures a retry can never resolve.
func WithAcknowledge(codes ...types.ErrorCode) Option {
	return func(c *Consumer) { c.acknowledge.Append(codes...) }
}

// WithMetrics records batch counters after every Process call.
func WithMetrics(m MetricRecorder) Option {
	return func(c *Consumer) { c.metrics = m }
}

// New creates a Consumer. name identifies the consumer in logs and metrics.
func New(name string, h Handler, opts ...Option) *Consumer {
	c := &Consumer{
		name:        name,
		handler:     h,
		logger:      slog.Default(),
		concurrency: 1,
		acknowledge: mapset.NewThreadUnsafeSet[types.ErrorCode](),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("consumer", name)
	return c
}

// Process handles every message and returns the IDs of the messages that
// failed, in input order. Messages that succeed are never reported.
func (c *Consumer) Process(ctx context.Context, msgs []Message) []string {
	start := time.Now()
	failed := make([]bool, len(msgs))

	if c.concurrency < 2 || len(msgs) < 2 {
		for i := range msgs {
			failed[i] = !c.processOne(ctx, msgs[i])
		}
	} else {
		// Handlers never return their error to the group, so one failure does
		// not cancel its siblings.
		var g errgroup.Group
		g.SetLimit(c.concurrency)
		for i := range msgs {
			g.Go(func() error {
				failed[i] = !c.processOne(ctx, msgs[i])
				return nil
			})
		}
		_ = g.Wait()
	}

	ids := make([]string, 0)
	for i, f := range failed {
		if f {
			ids = append(ids, msgs[i].ID)
		}
	}

	c.logger.InfoContext(ctx, "batch processed",
		"received", len(msgs),
		"failed", len(ids),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if c.metrics != nil {
		c.metrics.RecordBatch(ctx, c.name, len(msgs), len(ids))
	}
	return ids
}

// processOne reports whether the message can be acknowledged.
func (c *Consumer) processOne(ctx context.Context, msg Message) bool {
	ctx = types.WithMessageID(ctx, msg.ID)
	ctx = types.WithRequestID(ctx, uuid.NewString())

	err := c.safeHandle(ctx, msg)
	if err == nil {
		return true
	}

	logger := c.logger.With(
		"message_id", msg.ID,
		"request_id", types.GetRequestID(ctx),
		"error_code", string(types.CodeOf(err)),
	)
	if code := types.CodeOf(err); code != "" && c.acknowledge.Contains(code) {
		logger.WarnContext(ctx, "message dropped", "error", err)
		return true
	}
	logger.ErrorContext(ctx, "message failed", "error", err)
	return false
}

func (c *Consumer) safeHandle(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorContext(ctx, "handler panicked",
				"message_id", msg.ID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			err = types.NewAppError(types.ErrCodeInternalUnexpected, fmt.Sprintf("handler panicked: %v", r), nil)
		}
	}()
	return c.handler.Handle(ctx, msg)
}
