// Package queue provides SQS-based message producers for terminal job
// events consumed by downstream notification workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"regionwatch/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// TerminalEventPublisher sends JobTerminalEvents to the job events queue.
//
// Each event carries a deduplication id derived from the job and its final
// status so FIFO queues drop the duplicates an at-least-once status feed can
// produce. Standard queues ignore the attribute.
type TerminalEventPublisher struct {
	client   SQSSender
	queueURL string
	fifo     bool
	logger   *slog.Logger
}

// NewTerminalEventPublisher creates a publisher for queueURL. Queue URLs
// ending in ".fifo" get group and deduplication ids.
func NewTerminalEventPublisher(client SQSSender, queueURL string, logger *slog.Logger) *TerminalEventPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &TerminalEventPublisher{
		client:   client,
		queueURL: queueURL,
		fifo:     isFIFO(queueURL),
		logger:   logger,
	}
}

func isFIFO(queueURL string) bool {
	return strings.HasSuffix(queueURL, ".fifo")
}

// PublishTerminal serializes ev and sends it to the queue.
func (p *TerminalEventPublisher) PublishTerminal(ctx context.Context, ev types.JobTerminalEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal JobTerminalEvent: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"status": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(ev.Status)),
			},
			"regionId": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.RegionID),
			},
		},
	}
	if p.fifo {
		input.MessageGroupId = aws.String(ev.RegionID)
		input.MessageDeduplicationId = aws.String(ev.JobID + ":" + string(ev.Status))
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("queue: failed to send JobTerminalEvent to %s: %w", p.queueURL, err)
	}

	p.logger.InfoContext(ctx, "terminal event published",
		"queue_url", p.queueURL,
		"job_id", ev.JobID,
		"region_id", ev.RegionID,
		"status", string(ev.Status),
	)
	return nil
}

// LogPublisher writes terminal events to the log instead of a queue. It is
// used in stub mode and when no events queue is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishTerminal(ctx context.Context, ev types.JobTerminalEvent) error {
	p.logger.InfoContext(ctx, "stub: terminal event",
		"job_id", ev.JobID,
		"region_id", ev.RegionID,
		"status", string(ev.Status),
		"reason", ev.Reason,
	)
	return nil
}
