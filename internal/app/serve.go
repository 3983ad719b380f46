package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"regionwatch/internal/batch"
	"regionwatch/internal/types"
)

// NewConsumer wraps h in a batch.Consumer configured from Deps. Errors with
// one of the ack codes are logged and removed from the queue.
func (d *Deps) NewConsumer(name string, h batch.Handler, ack ...types.ErrorCode) *batch.Consumer {
	return batch.New(name, h,
		batch.WithLogger(d.Logger),
		batch.WithConcurrency(d.Config.Worker.Concurrency),
		batch.WithMetrics(d.Metrics),
		batch.WithAcknowledge(ack...),
	)
}

// ServeSQS runs c as a Lambda SQS handler. With APP_ENV=local it instead
// reads a single SQS event from stdin, processes it and prints the batch
// response, e.g.:
//
//	echo '{"Records":[{"messageId":"1","body":"{...}"}]}' | go run ./cmd/scene-worker
func (d *Deps) ServeSQS(c *batch.Consumer) error {
	if d.Config.Environment == "local" {
		d.Logger.Info("APP_ENV=local: reading SQS event from stdin")
		return RunLocal(context.Background(), c, os.Stdin, os.Stderr, d.Logger)
	}
	lambda.Start(c.HandleSQS)
	return nil
}

// RunLocal processes one JSON-encoded events.SQSEvent read from in. Partial
// failures are written to out as the Lambda batch response would report them.
func RunLocal(ctx context.Context, c *batch.Consumer, in io.Reader, out io.Writer, logger *slog.Logger) error {
	payload, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if len(payload) == 0 {
		return fmt.Errorf("no input received on stdin")
	}

	var ev events.SQSEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("parse stdin as SQS event: %w", err)
	}

	resp, err := c.HandleSQS(ctx, ev)
	if err != nil {
		return err
	}
	if len(resp.BatchItemFailures) > 0 {
		logger.Warn("handler reported partial failures", "failed_count", len(resp.BatchItemFailures))
		respJSON, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Fprintln(out, string(respJSON))
	}
	logger.Info("handler execution completed",
		"records_processed", len(ev.Records),
		"failures", len(resp.BatchItemFailures),
	)
	return nil
}
