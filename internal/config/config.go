// Package config defines the process configuration for regionwatch binaries.
// Configuration is loaded once at startup (Lambda cold start or CLI launch) and
// treated as immutable afterwards.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Fields that only some binaries need are optional at load time. Each binary
// asserts the sections it depends on with the Require* methods.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"regionwatch/internal/types"
)

// SecretString is an alias for types.SecretString so secrets read from the
// environment are redacted when logged.
type SecretString = types.SecretString

// Config is the top-level configuration struct.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"regionwatch"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	IsTestMode  bool   `envconfig:"IS_TEST_MODE" default:"false"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Scheduler     SchedulerConfig
	Engine        EngineConfig
	Regions       RegionsConfig
	Worker        WorkerConfig
	Timeouts      TimeoutConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds the ops API listener settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
	RequestTimeout  time.Duration `envconfig:"SERVER_REQUEST_TIMEOUT" default:"29s"`
	// APIToken guards the ops API. Requests are rejected when it is unset
	// outside stub mode.
	APIToken SecretString `envconfig:"OPS_API_TOKEN"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"5" validate:"min=1"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"0" validate:"min=0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	MigrateOnStart    bool          `envconfig:"DB_MIGRATE_ON_START" default:"false"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// JobEventsQueueURL receives JobTerminalEvents.
	JobEventsQueueURL string `envconfig:"SQS_JOB_EVENTS" validate:"omitempty,url"`
	// InputBucket holds staged job input documents. Staging is skipped when empty.
	InputBucket   string `envconfig:"INPUT_BUCKET"`
	InputPrefix   string `envconfig:"INPUT_PREFIX"`
	InputCompress bool   `envconfig:"INPUT_COMPRESS" default:"true"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// SchedulerConfig configures the recurring trigger service.
type SchedulerConfig struct {
	GroupName      string `envconfig:"SCHEDULER_GROUP" default:"default"`
	RoleARN        string `envconfig:"SCHEDULER_ROLE_ARN"`
	TargetQueueARN string `envconfig:"SCHEDULER_TARGET_ARN"`
	NamePrefix     string `envconfig:"SCHEDULER_NAME_PREFIX"`
}

// EngineConfig configures the job execution engine client.
type EngineConfig struct {
	BaseURL string       `envconfig:"ENGINE_BASE_URL" default:"https://api.runpod.ai" validate:"url"`
	APIKey  SecretString `envconfig:"ENGINE_API_KEY"`

	// Endpoints per priority. Low and high fall back to standard when unset.
	EndpointLow      string `envconfig:"ENGINE_ENDPOINT_LOW"`
	EndpointStandard string `envconfig:"ENGINE_ENDPOINT_STANDARD"`
	EndpointHigh     string `envconfig:"ENGINE_ENDPOINT_HIGH"`

	// WebhookURL, when set, is passed to the engine for status callbacks.
	WebhookURL string `envconfig:"ENGINE_WEBHOOK_URL" validate:"omitempty,url"`

	RateLimit     float64       `envconfig:"ENGINE_RATE_LIMIT" default:"5" validate:"gt=0"`
	RateBurst     int           `envconfig:"ENGINE_RATE_BURST" default:"5" validate:"min=1"`
	SubmitTimeout time.Duration `envconfig:"ENGINE_SUBMIT_TIMEOUT" default:"15s"`
}

// RegionsConfig configures the region registry client.
type RegionsConfig struct {
	BaseURL  string        `envconfig:"REGISTRY_BASE_URL" validate:"omitempty,url"`
	APIKey   SecretString  `envconfig:"REGISTRY_API_KEY"`
	CacheTTL time.Duration `envconfig:"REGISTRY_CACHE_TTL" default:"60s"`
	PageSize int           `envconfig:"REGISTRY_PAGE_SIZE" default:"100" validate:"min=1,max=1000"`

	// FixtureFile seeds the in-memory registry used in stub mode.
	FixtureFile string `envconfig:"REGISTRY_FIXTURE_FILE"`
}

// WorkerConfig tunes the batch workers.
type WorkerConfig struct {
	Concurrency      int           `envconfig:"WORKER_CONCURRENCY" default:"1" validate:"min=1"`
	DispatchParallel int           `envconfig:"DISPATCH_MAX_PARALLEL" default:"4" validate:"min=1"`
	LockTTL          time.Duration `envconfig:"DISPATCH_LOCK_TTL" default:"2m"`
	// StaleJobAfter is how long an active job may go unreported before the
	// reconcile task polls the engine for it.
	StaleJobAfter  time.Duration `envconfig:"RECONCILE_STALE_AFTER" default:"20m"`
	ReconcileLimit int           `envconfig:"RECONCILE_LIMIT" default:"100" validate:"min=1,max=500"`
}

// TimeoutConfig bounds calls to external dependencies.
type TimeoutConfig struct {
	Call time.Duration `envconfig:"TIMEOUT_CALL" default:"10s"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"RegionWatch"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)

// UseStubs reports whether external services should be replaced by logging
// stubs.
func (c *Config) UseStubs() bool {
	return c.IsTestMode || c.Environment == localEnv
}

// RequireScheduler checks the settings needed to manage recurring triggers.
func (c *Config) RequireScheduler() error {
	return c.require(map[string]string{
		"SCHEDULER_ROLE_ARN":   c.Scheduler.RoleARN,
		"SCHEDULER_TARGET_ARN": c.Scheduler.TargetQueueARN,
	})
}

// RequireEngine checks the settings needed to submit jobs.
func (c *Config) RequireEngine() error {
	return c.require(map[string]string{
		"ENGINE_API_KEY":           c.Engine.APIKey.Unmask(),
		"ENGINE_ENDPOINT_STANDARD": c.Engine.EndpointStandard,
	})
}

// RequireRegistry checks the settings needed to read regions.
func (c *Config) RequireRegistry() error {
	return c.require(map[string]string{
		"REGISTRY_BASE_URL": c.Regions.BaseURL,
	})
}

// RequireJobEvents checks the settings needed to publish terminal events.
func (c *Config) RequireJobEvents() error {
	return c.require(map[string]string{
		"SQS_JOB_EVENTS": c.AWS.JobEventsQueueURL,
	})
}

// RequireAPIToken checks that the ops API is protected.
func (c *Config) RequireAPIToken() error {
	return c.require(map[string]string{
		"OPS_API_TOKEN": c.Server.APIToken.Unmask(),
	})
}

// require reports the unset variables in vars. Stub mode needs none of them.
func (c *Config) require(vars map[string]string) error {
	if c.UseStubs() {
		return nil
	}
	var missing []string
	for name, val := range vars {
		if val == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return &ConfigError{
		Type:    ErrMissingEnv,
		Message: fmt.Sprintf("required variables not set: %s", strings.Join(missing, ", ")),
	}
}
