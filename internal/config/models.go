package config

import "time"

// TopLevel wraps App for namespacing in the config file; viper's
// UnmarshalKey doesn't play well with env vars, hence the wrapping.
type TopLevel struct {
	Ledgersync struct {
		Server App `json:"server" mapstructure:"server"`
	} `json:"ledgersync" mapstructure:"ledgersync"`
}

type App struct {
	BindAddress     string              `json:"bind_address" mapstructure:"bind_address"`
	ShutdownTimeout time.Duration       `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	Elasticsearch   ElasticsearchClient `json:"elasticsearch" mapstructure:"elasticsearch"`
	Ledger          LedgerClient        `json:"ledger" mapstructure:"ledger"`
	ApmClient       *ApmClient          `json:"apm,omitempty" mapstructure:"apm"`
	Auth            *Auth               `json:"auth,omitempty" mapstructure:"auth"`
	Logging         *Logging            `json:"logging,omitempty" mapstructure:"logging"`
	Sync            Sync                `json:"sync" mapstructure:"sync"`
	Verification    Verification        `json:"verification" mapstructure:"verification"`
	RateLimits      RateLimits          `json:"rate_limits" mapstructure:"rate_limits"`
}

type Logging struct {
	Json  *bool   `json:"json,omitempty" mapstructure:"json"`
	File  *string `json:"file,omitempty" mapstructure:"file"`
	Level *string `json:"level,omitempty" mapstructure:"level"`
}

type ElasticsearchClient struct {
	Addresses []string       `json:"addresses" mapstructure:"addresses"`
	User      *BasicAuthUser `json:"user,omitempty" mapstructure:"user"`
}

// LedgerClient points at the ledger read API this service ingests facts
// from. Streams lists the event streams to reconcile; each gets its own
// cursor and its own sync loop.
type LedgerClient struct {
	Address      string         `json:"address" mapstructure:"address"`
	FetchTimeout time.Duration  `json:"fetch_timeout" mapstructure:"fetch_timeout"`
	Streams      []string       `json:"streams" mapstructure:"streams"`
	User         *BasicAuthUser `json:"user,omitempty" mapstructure:"user"`
}

type ApmClient struct {
	Address     *string `json:"address,omitempty" mapstructure:"address"`
	SecretToken *string `json:"secret_token,omitempty" mapstructure:"secret_token"`
}

// Sync drives the per-stream reconciliation loops.
type Sync struct {
	Interval            time.Duration `json:"interval" mapstructure:"interval"`
	BatchSize           uint          `json:"batch_size" mapstructure:"batch_size"`
	BackoffMin          time.Duration `json:"backoff_min" mapstructure:"backoff_min"`
	BackoffMax          time.Duration `json:"backoff_max" mapstructure:"backoff_max"`
	OrphanHorizonCycles uint          `json:"orphan_horizon_cycles" mapstructure:"orphan_horizon_cycles"`
}

// Verification configures the job queue and its worker pool.
type Verification struct {
	Workers                   uint          `json:"workers" mapstructure:"workers"`
	ClaimAmount               uint          `json:"claim_amount" mapstructure:"claim_amount"`
	PollInterval              time.Duration `json:"poll_interval" mapstructure:"poll_interval"`
	ExecutionTimeout          time.Duration `json:"execution_timeout" mapstructure:"execution_timeout"`
	Retention                 time.Duration `json:"retention" mapstructure:"retention"`
	VersionConflictRetryTimes uint          `json:"version_conflict_retry_times" mapstructure:"version_conflict_retry_times"`
	ReapInterval              time.Duration `json:"reap_interval" mapstructure:"reap_interval"`
	RetentionSweepSchedule    string        `json:"retention_sweep_schedule" mapstructure:"retention_sweep_schedule"`
}

// RateLimits defines the two independent limit classes.
type RateLimits struct {
	Ingestion RateLimit `json:"ingestion" mapstructure:"ingestion"`
	General   RateLimit `json:"general" mapstructure:"general"`
}

type RateLimit struct {
	Limit  int64         `json:"limit" mapstructure:"limit"`
	Period time.Duration `json:"period" mapstructure:"period"`
}

type Auth struct {
	BasicAuth []BasicAuthUser `json:"basic_auth" mapstructure:"basic_auth"`
}

type BasicAuthUser struct {
	Name     string `json:"name" mapstructure:"name"`
	Password string `json:"password" mapstructure:"password"`
}
