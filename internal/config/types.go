package config

// Config is the root configuration structure for scanguard.
// Serialised to ~/.scanguard/config.json.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"      json:"database"`
	Server        ServerConfig        `mapstructure:"server"        json:"server"`
	Rules         RulesConfig         `mapstructure:"rules"         json:"rules"`
	Cache         CacheConfig         `mapstructure:"cache"         json:"cache"`
	Reporter      ReporterConfig      `mapstructure:"reporter"      json:"reporter"`
	Index         PackageIndexConfig  `mapstructure:"index"         json:"index"`
	Auth          AuthConfig          `mapstructure:"auth"          json:"auth"`
	Observability ObservabilityConfig `mapstructure:"observability" json:"observability"`
}

// DatabaseConfig controls the storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (default), "mysql", or "postgres".
	Driver string `mapstructure:"driver" json:"driver"`
	// Path is the SQLite file path (expanded at runtime).
	Path string `mapstructure:"path" json:"path"`
	// DSN is the connection string used when Driver is "mysql" or "postgres".
	DSN string `mapstructure:"dsn" json:"dsn"`
	// PersistentPoolSize caps the idle connections kept open for reuse
	// (mysql and postgres).
	PersistentPoolSize int `mapstructure:"persistent_pool_size" json:"persistent_pool_size"`
	// MaxPoolSize is the maximum number of open connections.
	MaxPoolSize int `mapstructure:"max_pool_size" json:"max_pool_size"`
}

// ServerConfig controls the HTTP listener and lease timing.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	// JobTimeoutSeconds is the lease duration after which a PENDING scan is
	// reclaimed for redispatch.
	JobTimeoutSeconds int `mapstructure:"job_timeout_seconds" json:"job_timeout_seconds"`
}

// RulesConfig controls the rule-snapshot source.
type RulesConfig struct {
	// Provider is "github" (default) or "gitlab".
	Provider string `mapstructure:"provider" json:"provider"`
	// Repository is "owner/repo" on the configured provider.
	Repository string `mapstructure:"repository" json:"repository"`
	// Branch is the default branch to read the snapshot from.
	Branch string `mapstructure:"branch" json:"branch"`
	// GitHubToken authenticates GitHub API calls. The sentinel value "test"
	// short-circuits Fetch to an empty snapshot without contacting GitHub.
	GitHubToken string `mapstructure:"github_token" json:"github_token"`
	// GitLabToken authenticates GitLab API calls.
	GitLabToken string `mapstructure:"gitlab_token" json:"gitlab_token"`
	// RefreshIntervalSeconds drives the scheduler's periodic Refresh calls.
	RefreshIntervalSeconds int `mapstructure:"refresh_interval_seconds" json:"refresh_interval_seconds"`
}

// CacheConfig controls the in-process job cache.
type CacheConfig struct {
	// Size <= 1 disables the cache; dispatch and ingestion then talk to the
	// store directly.
	Size int `mapstructure:"size" json:"size"`
}

// ReporterConfig controls the malicious-package reporting workflow.
type ReporterConfig struct {
	// URL is the base URL of the observation sink that malware reports are
	// POSTed to. The reachability check uses PackageIndexConfig instead.
	URL string `mapstructure:"url" json:"url"`
}

// PackageIndexConfig controls the upstream package index used both to
// validate a newly-queued (name, version) exists and to confirm a package
// is reachable before a malware report is forwarded.
type PackageIndexConfig struct {
	// URLTemplate is formatted with name then version (via fmt.Sprintf) to
	// build the reachability-check URL; e.g. PyPI's per-release JSON API.
	URLTemplate string `mapstructure:"url_template" json:"url_template"`
}

// AuthConfig controls auth-subject extraction at the HTTP boundary.
type AuthConfig struct {
	Auth0Domain   string `mapstructure:"auth0_domain"   json:"auth0_domain"`
	Auth0Audience string `mapstructure:"auth0_audience" json:"auth0_audience"`
}

// ObservabilityConfig controls logging and error reporting.
type ObservabilityConfig struct {
	LogConfigFile string `mapstructure:"log_config_file"   json:"log_config_file"`
	LogLevel      string `mapstructure:"log_level"         json:"log_level"`
	SentryDSN     string `mapstructure:"sentry_dsn"         json:"sentry_dsn"`
	SentryEnv     string `mapstructure:"sentry_environment" json:"sentry_environment"`
	SentryRelease string `mapstructure:"sentry_release"     json:"sentry_release"`
}
