package config

import "time"

// ProcessorConfig configures the batch processing loop.
type ProcessorConfig struct {
	ID                string
	BatchSize         int
	Interval          time.Duration
	HeartbeatInterval time.Duration
	ExecutionTimeout  time.Duration
	JobTimeout        time.Duration
	MaxWorkers        int
	RetrySweep        bool
	ShutdownGrace     time.Duration
	PriorityWeighted  bool
	IncludeJobTypes   []string
	ExcludeJobTypes   []string
	ActorFilter       []string
}

func loadProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		ID:                getEnv("PROCESSOR_ID", ""),
		BatchSize:         getEnvInt("PROCESSOR_BATCH_SIZE", 10),
		Interval:          getEnvDuration("PROCESSOR_INTERVAL", time.Minute),
		HeartbeatInterval: getEnvDuration("PROCESSOR_HEARTBEAT_INTERVAL", 30*time.Second),
		ExecutionTimeout:  getEnvDuration("PROCESSOR_EXECUTION_TIMEOUT", 30*time.Minute),
		JobTimeout:        getEnvDuration("PROCESSOR_JOB_TIMEOUT", 25*time.Minute),
		MaxWorkers:        getEnvInt("PROCESSOR_MAX_WORKERS", 0),
		RetrySweep:        getEnvBool("PROCESSOR_RETRY_SWEEP", true),
		ShutdownGrace:     getEnvDuration("PROCESSOR_SHUTDOWN_GRACE", 30*time.Second),
		PriorityWeighted:  getEnvBool("PROCESSOR_PRIORITY_WEIGHTED", true),
		IncludeJobTypes:   getEnvStringSlice("PROCESSOR_INCLUDE_JOB_TYPES", nil),
		ExcludeJobTypes:   getEnvStringSlice("PROCESSOR_EXCLUDE_JOB_TYPES", nil),
		ActorFilter:       getEnvStringSlice("PROCESSOR_ACTOR_FILTER", nil),
	}
}
