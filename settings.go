package mqpub

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"google.golang.org/grpc/codes"
	"gopkg.in/yaml.v3"
)

// PublishSettings is everything a Publisher needs besides its transport.
type PublishSettings struct {
	Batch   BatchSettings
	Retry   RetryPolicy
	Breaker BreakerSettings
}

// DefaultPublishSettings returns the default batch, retry and breaker settings.
func DefaultPublishSettings() PublishSettings {
	return PublishSettings{
		Batch:   DefaultBatchSettings(),
		Retry:   DefaultRetryPolicy(),
		Breaker: DefaultBreakerSettings(),
	}
}

// Validate reports every invalid setting at once.
func (s PublishSettings) Validate() error {
	var errs []error
	if err := s.Batch.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("batch: %w", err))
	}
	if err := s.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	if s.Breaker.Enabled && s.Breaker.ConsecutiveFailures == 0 {
		errs = append(errs, errors.New("breaker: consecutive failures must be >= 1"))
	}
	return errors.Join(errs...)
}

// settingsFile is the on-disk and environment form of PublishSettings.
type settingsFile struct {
	Batch   batchFile   `yaml:"batch"`
	Retry   retryFile   `yaml:"retry"`
	Breaker breakerFile `yaml:"breaker"`
}

type batchFile struct {
	MaxMessages int           `yaml:"max_messages" env:"MQ_BATCH_MAX_MESSAGES"`
	MaxBytes    int           `yaml:"max_bytes"    env:"MQ_BATCH_MAX_BYTES"`
	MaxLatency  time.Duration `yaml:"max_latency"  env:"MQ_BATCH_MAX_LATENCY"`
}

type retryFile struct {
	RetryCodes   []string      `yaml:"retry_codes"   env:"MQ_RETRY_CODES" envSeparator:","`
	InitialDelay time.Duration `yaml:"initial_delay" env:"MQ_RETRY_INITIAL_DELAY"`
	Multiplier   float64       `yaml:"multiplier"    env:"MQ_RETRY_MULTIPLIER"`
	MaxDelay     time.Duration `yaml:"max_delay"     env:"MQ_RETRY_MAX_DELAY"`
	TotalTimeout time.Duration `yaml:"total_timeout" env:"MQ_RETRY_TOTAL_TIMEOUT"`
	RPCTimeout   time.Duration `yaml:"rpc_timeout"   env:"MQ_RETRY_RPC_TIMEOUT"`
}

type breakerFile struct {
	Enabled             bool          `yaml:"enabled"              env:"MQ_BREAKER_ENABLED"`
	MaxRequests         uint32        `yaml:"max_requests"         env:"MQ_BREAKER_MAX_REQUESTS"`
	Interval            time.Duration `yaml:"interval"             env:"MQ_BREAKER_INTERVAL"`
	Timeout             time.Duration `yaml:"timeout"              env:"MQ_BREAKER_TIMEOUT"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" env:"MQ_BREAKER_CONSECUTIVE_FAILURES"`
}

// LoadPublishSettings builds settings from the defaults, then the YAML file
// at path (skipped when path is empty), then MQ_* environment variables.
func LoadPublishSettings(path string) (PublishSettings, error) {
	f := toSettingsFile(DefaultPublishSettings())

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return PublishSettings{}, fmt.Errorf("cannot read settings file: %w", err)
		}
		if err := yaml.Unmarshal(data, &f); err != nil {
			return PublishSettings{}, fmt.Errorf("cannot parse settings file: %w", err)
		}
	}

	if err := env.Parse(&f); err != nil {
		return PublishSettings{}, fmt.Errorf("cannot parse settings environment: %w", err)
	}

	s, err := f.settings()
	if err != nil {
		return PublishSettings{}, err
	}
	if err := s.Validate(); err != nil {
		return PublishSettings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

func toSettingsFile(s PublishSettings) settingsFile {
	names := make([]string, len(s.Retry.RetryCodes))
	for i, c := range s.Retry.RetryCodes {
		names[i] = codeName(c)
	}

	return settingsFile{
		Batch: batchFile{
			MaxMessages: s.Batch.MaxMessages,
			MaxBytes:    s.Batch.MaxBytes,
			MaxLatency:  s.Batch.MaxLatency,
		},
		Retry: retryFile{
			RetryCodes:   names,
			InitialDelay: s.Retry.InitialDelay,
			Multiplier:   s.Retry.Multiplier,
			MaxDelay:     s.Retry.MaxDelay,
			TotalTimeout: s.Retry.TotalTimeout,
			RPCTimeout:   s.Retry.RPCTimeout,
		},
		Breaker: breakerFile{
			Enabled:             s.Breaker.Enabled,
			MaxRequests:         s.Breaker.MaxRequests,
			Interval:            s.Breaker.Interval,
			Timeout:             s.Breaker.Timeout,
			ConsecutiveFailures: s.Breaker.ConsecutiveFailures,
		},
	}
}

func (f settingsFile) settings() (PublishSettings, error) {
	retryCodes := make([]codes.Code, 0, len(f.Retry.RetryCodes))
	for _, name := range f.Retry.RetryCodes {
		c, err := ParseCode(name)
		if err != nil {
			return PublishSettings{}, fmt.Errorf("retry codes: %w", err)
		}
		retryCodes = append(retryCodes, c)
	}

	return PublishSettings{
		Batch: BatchSettings{
			MaxMessages: f.Batch.MaxMessages,
			MaxBytes:    f.Batch.MaxBytes,
			MaxLatency:  f.Batch.MaxLatency,
		},
		Retry: RetryPolicy{
			RetryCodes:   retryCodes,
			InitialDelay: f.Retry.InitialDelay,
			Multiplier:   f.Retry.Multiplier,
			MaxDelay:     f.Retry.MaxDelay,
			TotalTimeout: f.Retry.TotalTimeout,
			RPCTimeout:   f.Retry.RPCTimeout,
		},
		Breaker: BreakerSettings{
			Enabled:             f.Breaker.Enabled,
			MaxRequests:         f.Breaker.MaxRequests,
			Interval:            f.Breaker.Interval,
			Timeout:             f.Breaker.Timeout,
			ConsecutiveFailures: f.Breaker.ConsecutiveFailures,
		},
	}, nil
}
