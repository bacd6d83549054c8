package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database *dbConfig
	Service  *svcConfig
	Runner   *runnerConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"grading"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address         string `envconfig:"GRADING_ENGINE_ADDRESS" default:":3443"`
	MetricsAddress  string `envconfig:"GRADING_ENGINE_METRICS_ADDRESS" default:":8080"`
	BaseUrl         string `envconfig:"GRADING_ENGINE_BASE_URL" default:"https://localhost:3443"`
	LogLevel        string `envconfig:"GRADING_ENGINE_LOG_LEVEL" default:"info"`
	MigrationFolder string `envconfig:"GRADING_ENGINE_MIGRATIONS_FOLDER" default:""`
}

type runnerConfig struct {
	// MaxActiveRuns caps simultaneously running runs; excess stays pending.
	MaxActiveRuns int64 `envconfig:"GRADING_ENGINE_MAX_ACTIVE_RUNS" default:"4"`
	// GradingCallsPerRun caps concurrent outbound grading calls within a run.
	GradingCallsPerRun int64 `envconfig:"GRADING_ENGINE_GRADING_CALLS_PER_RUN" default:"5"`
	// BatchGradingCallsPerRun overrides the per-run cap for the batch-grading
	// workflow.
	BatchGradingCallsPerRun int64 `envconfig:"GRADING_ENGINE_BATCH_GRADING_CALLS_PER_RUN" default:"10"`
	// ConfirmationThreshold is the boundary confidence under which human
	// confirmation is requested. Must stay above 0.5 so the uniform-partition
	// fallback is always flagged.
	ConfirmationThreshold float64 `envconfig:"GRADING_ENGINE_CONFIRMATION_THRESHOLD" default:"0.8"`
	// ReviewConfidenceFloor is the per-page confidence under which the review
	// stage counts a page as ambiguous.
	ReviewConfidenceFloor float64 `envconfig:"GRADING_ENGINE_REVIEW_CONFIDENCE_FLOOR" default:"0.4"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
		if err := singleConfig.validate(); err != nil {
			singleConfig = nil
			return nil, err
		}
	}
	return singleConfig, nil
}

func (c *Config) validate() error {
	if c.Runner.MaxActiveRuns < 1 {
		return fmt.Errorf("max active runs must be at least 1, got %d", c.Runner.MaxActiveRuns)
	}
	if c.Runner.GradingCallsPerRun < 1 || c.Runner.BatchGradingCallsPerRun < 1 {
		return fmt.Errorf("per-run grading call caps must be at least 1")
	}
	if c.Runner.ConfirmationThreshold <= 0.5 || c.Runner.ConfirmationThreshold > 1 {
		return fmt.Errorf("confirmation threshold must be in (0.5, 1], got %f", c.Runner.ConfirmationThreshold)
	}
	return nil
}
