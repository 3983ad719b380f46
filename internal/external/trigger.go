package external

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	schedtypes "github.com/aws/aws-sdk-go-v2/service/scheduler/types"
	"github.com/google/uuid"

	"regionwatch/internal/schedule"
	"regionwatch/internal/types"
)

// SchedulerAPI is the subset of the EventBridge Scheduler client used by
// TriggerClient.
type SchedulerAPI interface {
	CreateSchedule(ctx context.Context, in *scheduler.CreateScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.CreateScheduleOutput, error)
	UpdateSchedule(ctx context.Context, in *scheduler.UpdateScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.UpdateScheduleOutput, error)
	DeleteSchedule(ctx context.Context, in *scheduler.DeleteScheduleInput, optFns ...func(*scheduler.Options)) (*scheduler.DeleteScheduleOutput, error)
}

// TriggerClientConfig configures a TriggerClient.
type TriggerClientConfig struct {
	GroupName string
	// TargetARN is the queue that receives firings; RoleARN lets the
	// scheduler send to it.
	TargetARN string
	RoleARN   string
	Logger    *slog.Logger
}

// TriggerClient implements schedule.TriggerService on EventBridge Scheduler.
// Each trigger delivers its payload to a single SQS target with no flexible
// window, so firings arrive at the configured instant.
type TriggerClient struct {
	api    SchedulerAPI
	cfg    TriggerClientConfig
	logger *slog.Logger
}

// NewTriggerClient creates a TriggerClient.
func NewTriggerClient(api SchedulerAPI, cfg TriggerClientConfig) *TriggerClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TriggerClient{api: api, cfg: cfg, logger: logger}
}

func (c *TriggerClient) target(t schedule.Trigger) *schedtypes.Target {
	return &schedtypes.Target{
		Arn:     aws.String(c.cfg.TargetARN),
		RoleArn: aws.String(c.cfg.RoleARN),
		Input:   aws.String(string(t.Payload)),
	}
}

func (c *TriggerClient) groupName() *string {
	if c.cfg.GroupName == "" {
		return nil
	}
	return aws.String(c.cfg.GroupName)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}

// Create registers a new trigger. An existing trigger with the same name
// yields schedule.ErrTriggerExists.
func (c *TriggerClient) Create(ctx context.Context, t schedule.Trigger) error {
	_, err := c.api.CreateSchedule(ctx, &scheduler.CreateScheduleInput{
		Name:                       aws.String(t.Name),
		GroupName:                  c.groupName(),
		ScheduleExpression:         aws.String(t.Expression),
		ScheduleExpressionTimezone: optional(t.Timezone),
		FlexibleTimeWindow:         &schedtypes.FlexibleTimeWindow{Mode: schedtypes.FlexibleTimeWindowModeOff},
		Target:                     c.target(t),
		State:                      schedtypes.ScheduleStateEnabled,
		ClientToken:                aws.String(uuid.NewString()),
	})
	if err != nil {
		return c.mapError("CreateSchedule", t.Name, err)
	}
	c.logger.InfoContext(ctx, "schedule created", "trigger_name", t.Name, "expression", t.Expression)
	return nil
}

// Update replaces a trigger's whole definition. An unknown name yields
// schedule.ErrTriggerNotFound.
func (c *TriggerClient) Update(ctx context.Context, t schedule.Trigger) error {
	_, err := c.api.UpdateSchedule(ctx, &scheduler.UpdateScheduleInput{
		Name:                       aws.String(t.Name),
		GroupName:                  c.groupName(),
		ScheduleExpression:         aws.String(t.Expression),
		ScheduleExpressionTimezone: optional(t.Timezone),
		FlexibleTimeWindow:         &schedtypes.FlexibleTimeWindow{Mode: schedtypes.FlexibleTimeWindowModeOff},
		Target:                     c.target(t),
		State:                      schedtypes.ScheduleStateEnabled,
		ClientToken:                aws.String(uuid.NewString()),
	})
	if err != nil {
		return c.mapError("UpdateSchedule", t.Name, err)
	}
	c.logger.InfoContext(ctx, "schedule updated", "trigger_name", t.Name, "expression", t.Expression)
	return nil
}

// Delete removes a trigger. An unknown name yields schedule.ErrTriggerNotFound.
func (c *TriggerClient) Delete(ctx context.Context, name string) error {
	_, err := c.api.DeleteSchedule(ctx, &scheduler.DeleteScheduleInput{
		Name:        aws.String(name),
		GroupName:   c.groupName(),
		ClientToken: aws.String(uuid.NewString()),
	})
	if err != nil {
		return c.mapError("DeleteSchedule", name, err)
	}
	c.logger.InfoContext(ctx, "schedule deleted", "trigger_name", name)
	return nil
}

func (c *TriggerClient) mapError(op, name string, err error) error {
	var (
		conflict   *schedtypes.ConflictException
		notFound   *schedtypes.ResourceNotFoundException
		invalid    *schedtypes.ValidationException
		throttling *schedtypes.ThrottlingException
	)
	details := map[string]any{"operation": op, "trigger_name": name}
	switch {
	case errors.As(err, &conflict):
		return schedule.ErrTriggerExists
	case errors.As(err, &notFound):
		return schedule.ErrTriggerNotFound
	case errors.As(err, &invalid):
		return types.NewAppErrorWithDetails(types.ErrCodeInvalidScheduleExpression,
			"trigger service rejected the schedule", err, details)
	case errors.As(err, &throttling):
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamRateLimited,
			"trigger service throttled the request", err, details)
	}
	return types.NewAppErrorWithDetails(types.ErrCodeUpstreamScheduler, "trigger service call failed", err, details)
}

var _ schedule.TriggerService = (*TriggerClient)(nil)
