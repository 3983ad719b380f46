// Package metrics emits operational counters for the region job pipeline.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"regionwatch/internal/batch"
	"regionwatch/internal/core"
	"regionwatch/internal/dispatch"
	"regionwatch/internal/lifecycle"
	"regionwatch/internal/types"
)

// Metric names.
const (
	MetricBatchMessages = "BatchMessages"
	MetricBatchFailures = "BatchFailures"
	MetricJobSubmission = "JobSubmission"
	MetricJobTransition = "JobTransition"
	MetricAPIRequests   = "APIRequests"
	MetricAPILatency    = "APILatency"
	DefaultNamespace    = "RegionWatch"
)

const (
	dimConsumer   = "Consumer"
	dimPriority   = "Priority"
	dimResult     = "Result"
	dimFromStatus = "From"
	dimToStatus   = "To"
	dimMethod     = "Method"
	dimRoute      = "Route"
	dimStatus     = "Status"
	resultSuccess = "success"
	resultFailed  = "failed"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Recorder is the union of every metric sink in the pipeline.
type Recorder interface {
	batch.MetricRecorder
	dispatch.MetricRecorder
	lifecycle.MetricRecorder
	core.MetricsCollector
}

var (
	_ Recorder = (*CloudWatchRecorder)(nil)
	_ Recorder = Nop{}
)

// CloudWatchRecorder publishes counters to CloudWatch. Publish failures are
// logged and never fail the caller.
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchRecorder creates a recorder publishing under namespace.
func NewCloudWatchRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRecorder {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRecorder{client: client, namespace: namespace, logger: logger}
}

// RecordBatch emits BatchMessages and BatchFailures dimensioned by consumer.
func (r *CloudWatchRecorder) RecordBatch(ctx context.Context, consumer string, received, failed int) {
	dims := []cwtypes.Dimension{dimension(dimConsumer, consumer)}
	r.put(ctx,
		count(MetricBatchMessages, float64(received), dims),
		count(MetricBatchFailures, float64(failed), dims),
	)
}

// RecordSubmission emits JobSubmission=1 with Priority and Result dimensions.
func (r *CloudWatchRecorder) RecordSubmission(ctx context.Context, priority types.Priority, ok bool) {
	result := resultSuccess
	if !ok {
		result = resultFailed
	}
	r.put(ctx, count(MetricJobSubmission, 1, []cwtypes.Dimension{
		dimension(dimPriority, string(priority.OrDefault())),
		dimension(dimResult, result),
	}))
}

// RecordTransition emits JobTransition=1 with From and To dimensions.
func (r *CloudWatchRecorder) RecordTransition(ctx context.Context, from, to types.JobStatus) {
	r.put(ctx, count(MetricJobTransition, 1, []cwtypes.Dimension{
		dimension(dimFromStatus, string(from)),
		dimension(dimToStatus, string(to)),
	}))
}

// RecordRequest emits APIRequests and APILatency for one ops API request.
func (r *CloudWatchRecorder) RecordRequest(ctx context.Context, method, route, status string, d time.Duration) {
	dims := []cwtypes.Dimension{
		dimension(dimMethod, method),
		dimension(dimRoute, route),
		dimension(dimStatus, status),
	}
	latency := cwtypes.MetricDatum{
		MetricName: aws.String(MetricAPILatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: dims,
	}
	r.put(ctx, count(MetricAPIRequests, 1, dims), latency)
}

func (r *CloudWatchRecorder) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(r.namespace),
		MetricData: data,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "failed to publish metric",
			"error", err,
			"metric", aws.ToString(data[0].MetricName),
		)
	}
}

func count(name string, value float64, dims []cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	}
}

func dimension(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// Nop discards every metric.
type Nop struct{}

func (Nop) RecordBatch(context.Context, string, int, int)                        {}
func (Nop) RecordSubmission(context.Context, types.Priority, bool)               {}
func (Nop) RecordTransition(context.Context, types.JobStatus, types.JobStatus)   {}
func (Nop) RecordRequest(context.Context, string, string, string, time.Duration) {}
