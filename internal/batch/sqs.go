package batch

import (
	"context"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

// FromSQS converts an SQS record. Record attributes such as SentTimestamp
// are carried in Attributes.
func FromSQS(r events.SQSMessage) Message {
	attrs := make(map[string]string, len(r.Attributes)+len(r.MessageAttributes))
	for k, v := range r.Attributes {
		attrs[k] = v
	}
	for k, v := range r.MessageAttributes {
		if v.StringValue != nil {
			attrs[k] = *v.StringValue
		}
	}
	return Message{
		ID:         r.MessageId,
		Body:       []byte(r.Body),
		Attributes: attrs,
	}
}

// HandleSQS is a Lambda handler for SQS event sources configured with
// ReportBatchItemFailures. It never returns an error: failures are reported
// per message.
func (c *Consumer) HandleSQS(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	msgs := make([]Message, len(ev.Records))
	for i, r := range ev.Records {
		msgs[i] = FromSQS(r)
	}

	response := events.SQSEventResponse{}
	for _, id := range c.Process(ctx, msgs) {
		response.BatchItemFailures = append(response.BatchItemFailures,
			events.SQSBatchItemFailure{ItemIdentifier: id},
		)
	}
	return response, nil
}

// SentAt returns the SentTimestamp attribute of an SQS message.
func (m Message) SentAt() (time.Time, bool) {
	raw, ok := m.Attributes["SentTimestamp"]
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}
