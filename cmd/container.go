// cmd/container.go
//
// Root composition root. Owns infrastructure (DB, Redis, AWS) and wires the
// scheduling core. This is the only place that knows about ALL modules.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/Abraxas-365/batchx/pkg/alertx"
	"github.com/Abraxas-365/batchx/pkg/alertx/alertxconsole"
	"github.com/Abraxas-365/batchx/pkg/alertx/alertxredis"
	"github.com/Abraxas-365/batchx/pkg/alertx/alertxses"
	"github.com/Abraxas-365/batchx/pkg/alertx/alertxwebhook"
	"github.com/Abraxas-365/batchx/pkg/config"
	"github.com/Abraxas-365/batchx/pkg/logx"
	"github.com/Abraxas-365/batchx/pkg/schedx"
	"github.com/Abraxas-365/batchx/pkg/schedx/schedxpg"
)

// Container holds shared infrastructure and the composed scheduling core.
type Container struct {
	Config *config.Config

	// Infrastructure
	DB    *sqlx.DB
	Redis *redis.Client

	// Scheduling core
	Store      *schedxpg.Store
	Alerts     *alertx.Client
	Registry   *schedx.Registry
	Controller *schedx.Controller
	Loader     *schedx.BatchLoader
	Executor   *schedx.Executor
	Retry      *schedx.RetryPolicy
	Processor  *schedx.Processor
}

func NewContainer(cfg *config.Config) *Container {
	logx.Info("🔧 Initializing application container...")

	c := &Container{Config: cfg}

	c.initInfrastructure()
	c.initAlerts()
	c.initScheduling()

	logx.Info("✅ Application container initialized")
	return c
}

// ---------------------------------------------------------------------------
// Infrastructure — DB, Redis
// ---------------------------------------------------------------------------

func (c *Container) initInfrastructure() {
	logx.Info("🏗️ Initializing infrastructure...")

	// 1. Database
	db, err := sqlx.Connect("postgres", c.Config.Database.DSN())
	if err != nil {
		logx.Fatalf("Failed to connect to database: %v", err)
	}
	db.SetMaxOpenConns(c.Config.Database.MaxOpenConns)
	db.SetMaxIdleConns(c.Config.Database.MaxIdleConns)
	db.SetConnMaxLifetime(c.Config.Database.ConnMaxLifetime)
	c.DB = db
	logx.Info("  ✅ Database connected")

	c.Store = schedxpg.NewStore(db)
	if err := c.Store.EnsureSchema(context.Background()); err != nil {
		logx.Fatalf("Failed to ensure schema: %v", err)
	}
	logx.Info("  ✅ Schema ensured")

	// 2. Redis (optional, used for alert pub/sub)
	if c.Config.Redis.Enabled {
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     c.Config.Redis.Address(),
			Password: c.Config.Redis.Password,
			DB:       c.Config.Redis.DB,
		})
		if _, err := c.Redis.Ping(context.Background()).Result(); err != nil {
			logx.Fatalf("Failed to connect to Redis: %v", err)
		}
		logx.Info("  ✅ Redis connected")
	}

	logx.Info("✅ Infrastructure initialized")
}

// ---------------------------------------------------------------------------
// Alerts — provider fan-out per configuration
// ---------------------------------------------------------------------------

func (c *Container) initAlerts() {
	var providers []alertx.Sender
	templates := alertx.NewTemplateRegistry()

	for _, name := range c.Config.Alerts.Providers {
		switch name {
		case "console":
			providers = append(providers, alertxconsole.NewConsoleProvider())
			logx.Info("  ✅ Console alert provider configured")

		case "ses":
			awsCfg, err := awsConfig.LoadDefaultConfig(context.Background(),
				awsConfig.WithRegion(c.Config.Alerts.AWSRegion))
			if err != nil {
				logx.Fatalf("Unable to load AWS SDK config: %v", err)
			}
			providers = append(providers, alertxses.NewSESProvider(
				ses.NewFromConfig(awsCfg),
				c.Config.Alerts.FromAddress,
				c.Config.Alerts.Recipients,
				templates,
			))
			logx.Infof("  ✅ SES alert provider configured (region: %s)", c.Config.Alerts.AWSRegion)

		case "redis":
			if c.Redis == nil {
				logx.Fatal("Redis alert provider requires REDIS_ENABLED=true")
			}
			providers = append(providers, alertxredis.NewRedisProvider(c.Redis, c.Config.Alerts.RedisChannel))
			logx.Infof("  ✅ Redis alert provider configured (channel: %s)", c.Config.Alerts.RedisChannel)

		case "webhook":
			if c.Config.Alerts.WebhookURL == "" {
				logx.Fatal("Webhook alert provider requires ALERTS_WEBHOOK_URL")
			}
			providers = append(providers, alertxwebhook.NewWebhookProvider(c.Config.Alerts.WebhookURL))
			logx.Info("  ✅ Webhook alert provider configured")

		default:
			logx.Fatalf("Unknown alert provider: %s (use console, ses, redis, webhook)", name)
		}
	}

	c.Alerts = alertx.NewClient("batchx", providers,
		alertx.WithMinSeverity(alertx.Severity(c.Config.Alerts.MinSeverity)))
}

// ---------------------------------------------------------------------------
// Scheduling core — controller, loader, executor, retry, processor
// ---------------------------------------------------------------------------

func (c *Container) initScheduling() {
	logx.Info("📦 Initializing scheduling core...")

	// One identity across every component: lock ownership and claim stamps
	// are scoped by this id, so the controller, loader, retry policy,
	// executor, and processor must all carry the same one.
	if c.Config.Processor.ID == "" {
		c.Config.Processor.ID = schedx.GenerateProcessorID()
	}

	c.Registry = schedx.NewRegistry()
	c.registerJobTypes()

	c.Controller = schedx.NewController(c.Config.Processor.ID, c.Store,
		schedx.WithMaxGlobalConcurrent(c.Config.Concurrency.MaxGlobalConcurrent),
		schedx.WithMaxPerActor(c.Config.Concurrency.MaxPerActor),
		schedx.WithLockTTL(c.Config.Concurrency.LockTTL),
		schedx.WithSweepInterval(c.Config.Concurrency.SweepInterval),
	)

	defaults := schedx.DefaultRetryConfig()
	defaults.MaxRetries = c.Config.Retry.MaxRetries
	defaults.BaseDelay = c.Config.Retry.BaseDelay
	defaults.BackoffMultiplier = c.Config.Retry.BackoffMultiplier
	defaults.MaxDelay = c.Config.Retry.MaxDelay
	defaults.JitterEnabled = c.Config.Retry.JitterEnabled
	defaults.MaxJitter = c.Config.Retry.MaxJitter
	defaults.Enabled = c.Config.Retry.Enabled

	c.Processor = c.buildProcessor(defaults)
	logx.Infof("  ✅ Processor %s composed (batch=%d, interval=%s)",
		c.Processor.ID(), c.Config.Processor.BatchSize, c.Config.Processor.Interval)

	logx.Info("✅ Scheduling core initialized")
}

func (c *Container) buildProcessor(defaults schedx.RetryConfig) *schedx.Processor {
	pcfg := c.Config.Processor

	loaderOpts := []schedx.LoaderOption{
		schedx.WithBatchSize(pcfg.BatchSize),
		schedx.WithExecutionTimeout(pcfg.ExecutionTimeout),
		schedx.WithPriorityWeighting(pcfg.PriorityWeighted),
	}
	if len(pcfg.IncludeJobTypes) > 0 {
		loaderOpts = append(loaderOpts, schedx.WithIncludeJobTypes(pcfg.IncludeJobTypes...))
	}
	if len(pcfg.ExcludeJobTypes) > 0 {
		loaderOpts = append(loaderOpts, schedx.WithExcludeJobTypes(pcfg.ExcludeJobTypes...))
	}
	if len(pcfg.ActorFilter) > 0 {
		loaderOpts = append(loaderOpts, schedx.WithActorFilter(pcfg.ActorFilter...))
	}

	c.Loader = schedx.NewBatchLoader(pcfg.ID, c.Store, c.Controller, loaderOpts...)
	c.Retry = schedx.NewRetryPolicy(pcfg.ID, c.Store, defaults)
	c.Executor = schedx.NewExecutor(pcfg.ID, c.Store, c.Registry, c.Retry,
		schedx.WithJobTimeout(pcfg.JobTimeout),
		schedx.WithAlerts(c.Alerts),
	)

	opts := []schedx.ProcessorOption{
		schedx.WithInterval(pcfg.Interval),
		schedx.WithHeartbeatInterval(pcfg.HeartbeatInterval),
		schedx.WithRetrySweep(pcfg.RetrySweep),
		schedx.WithShutdownGrace(pcfg.ShutdownGrace),
		schedx.WithProcessorAlerts(c.Alerts),
	}
	if pcfg.MaxWorkers > 0 {
		opts = append(opts, schedx.WithMaxWorkers(pcfg.MaxWorkers))
	}

	return schedx.NewProcessor(pcfg.ID, c.Store, c.Controller, c.Loader, c.Executor, c.Retry, opts...)
}

var errMissingURL = errors.New("http_request config requires a url")

// registerJobTypes wires the built-in work functions. Deployments embedding
// these packages register their own types instead.
func (c *Container) registerJobTypes() {
	// noop completes immediately; useful for smoke-testing a deployment.
	c.Registry.Register("noop", func(_ context.Context, _ *schedx.Job) error {
		return nil
	})

	// http_request POSTs the job's payload to the URL in its config.
	type httpRequestConfig struct {
		URL     string            `json:"url"`
		Payload json.RawMessage   `json:"payload"`
		Headers map[string]string `json:"headers"`
	}
	httpClient := &http.Client{Timeout: 60 * time.Second}

	c.Registry.Register("http_request",
		func(ctx context.Context, job *schedx.Job) error {
			var cfg httpRequestConfig
			if err := json.Unmarshal(job.Config, &cfg); err != nil {
				return schedx.NewWorkError(schedx.ErrorKindValidation, err)
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(cfg.Payload))
			if err != nil {
				return schedx.NewWorkError(schedx.ErrorKindValidation, err)
			}
			req.Header.Set("Content-Type", "application/json")
			for k, v := range cfg.Headers {
				req.Header.Set(k, v)
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return schedx.NewWorkError(schedx.ErrorKindNetwork, err)
			}
			defer resp.Body.Close()
			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				return schedx.NewWorkError(schedx.ErrorKindRateLimit, statusError(resp.StatusCode))
			case resp.StatusCode == http.StatusUnauthorized:
				return schedx.NewWorkError(schedx.ErrorKindAuthentication, statusError(resp.StatusCode))
			case resp.StatusCode == http.StatusForbidden:
				return schedx.NewWorkError(schedx.ErrorKindPermission, statusError(resp.StatusCode))
			case resp.StatusCode >= 400:
				return schedx.NewWorkError(schedx.ErrorKindExecution, statusError(resp.StatusCode))
			}
			return nil
		},
		schedx.WithValidator(func(job *schedx.Job) error {
			var cfg httpRequestConfig
			if err := json.Unmarshal(job.Config, &cfg); err != nil {
				return err
			}
			if cfg.URL == "" {
				return errMissingURL
			}
			return nil
		}),
	)
}

func statusError(code int) error {
	return fmt.Errorf("unexpected status %d", code)
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func (c *Container) StartBackgroundServices(ctx context.Context) {
	logx.Info("🔄 Starting background services...")
	if err := c.Processor.Start(ctx); err != nil {
		logx.Fatalf("Failed to start processor: %v", err)
	}
}

func (c *Container) Cleanup() {
	logx.Info("🧹 Cleaning up resources...")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := c.Processor.Stop(ctx); err != nil {
		logx.Errorf("Error stopping processor: %v", err)
	} else {
		logx.Info("  ✅ Processor stopped")
	}

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logx.Errorf("Error closing database: %v", err)
		} else {
			logx.Info("  ✅ Database connection closed")
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			logx.Errorf("Error closing Redis: %v", err)
		} else {
			logx.Info("  ✅ Redis connection closed")
		}
	}

	logx.Info("✅ Cleanup complete")
}
