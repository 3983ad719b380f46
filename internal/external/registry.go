package external

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"

	"regionwatch/internal/config"
	"regionwatch/internal/schedule"
	"regionwatch/internal/types"
)

// ClientRegistry is the single point through which binaries obtain external
// service clients. In stub mode (APP_ENV=local or IS_TEST_MODE) every client
// is a logging stub; otherwise real clients are built with strict timeouts.
type ClientRegistry struct {
	Engine   JobEngine
	Triggers schedule.TriggerService
	Regions  RegionSource
}

// NewClientRegistry builds the clients the current configuration allows.
// awsCfg is only used outside stub mode.
func NewClientRegistry(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (*ClientRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.UseStubs() {
		logger.Info("initializing external clients in STUB mode",
			"is_test_mode", cfg.IsTestMode,
			"environment", cfg.Environment,
		)
		return newStubRegistry(cfg, logger)
	}

	logger.Info("initializing external clients", "environment", cfg.Environment)
	return newProductionRegistry(cfg, awsCfg, logger)
}

func newStubRegistry(cfg *config.Config, logger *slog.Logger) (*ClientRegistry, error) {
	stubLogger := logger.With("mode", "stub")
	regions, err := LoadFixtureRegionSource(cfg.Regions.FixtureFile)
	if err != nil {
		return nil, err
	}
	return &ClientRegistry{
		Engine:   NewStubEngine(stubLogger),
		Triggers: NewStubTriggerService(stubLogger),
		Regions:  regions,
	}, nil
}

func newProductionRegistry(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (*ClientRegistry, error) {
	reg := &ClientRegistry{}
	userAgent := cfg.Build.UserAgent()

	if cfg.Engine.APIKey.IsSet() && cfg.Engine.EndpointStandard != "" {
		engineHTTP := &http.Client{Timeout: cfg.Engine.SubmitTimeout + 5*time.Second}
		engine, err := NewEngineClient(
			NewBaseClient(engineHTTP, "engine", NoRetry(), userAgent),
			EngineClientConfig{
				APIKey:  cfg.Engine.APIKey.Unmask(),
				BaseURL: cfg.Engine.BaseURL,
				Endpoints: map[types.Priority]string{
					types.PriorityLow:      cfg.Engine.EndpointLow,
					types.PriorityStandard: cfg.Engine.EndpointStandard,
					types.PriorityHigh:     cfg.Engine.EndpointHigh,
				},
				WebhookURL: cfg.Engine.WebhookURL,
				RateLimit:  cfg.Engine.RateLimit,
				RateBurst:  cfg.Engine.RateBurst,
				Logger:     logger.With("client", "engine"),
			},
		)
		if err != nil {
			return nil, err
		}
		reg.Engine = engine
	}

	if cfg.Regions.BaseURL != "" {
		registryHTTP := &http.Client{Timeout: cfg.Timeouts.Call}
		reg.Regions = NewRegionClient(
			NewBaseClient(registryHTTP, "region-registry", DefaultRetryPolicy(), userAgent),
			RegionClientConfig{
				BaseURL:  cfg.Regions.BaseURL,
				APIKey:   cfg.Regions.APIKey.Unmask(),
				PageSize: cfg.Regions.PageSize,
				CacheTTL: cfg.Regions.CacheTTL,
				Logger:   logger.With("client", "region-registry"),
			},
		)
	}

	if cfg.Scheduler.TargetQueueARN != "" {
		reg.Triggers = NewTriggerClient(scheduler.NewFromConfig(awsCfg), TriggerClientConfig{
			GroupName: cfg.Scheduler.GroupName,
			TargetARN: cfg.Scheduler.TargetQueueARN,
			RoleARN:   cfg.Scheduler.RoleARN,
			Logger:    logger.With("client", "scheduler"),
		})
	}

	return reg, nil
}
