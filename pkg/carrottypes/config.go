package carrottypes

// ProjectConfig is the top-level carrot.yaml configuration (spec §6).
// Optional nested sections mirror the teacher's ProjectConfig shape
// (internal/config/config.go), generalized from provider selection to
// CARROT's fixed Postgres store plus its many external collaborators.
type ProjectConfig struct {
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`
	WDLStorage WDLStorageConfig `yaml:"wdlStorage"`
	Email    EmailConfig    `yaml:"email"`
	GCloud   GCloudConfig   `yaml:"gcloud,omitempty"`
	GitHub   GitHubConfig   `yaml:"github"`
	CustomImageBuilds CustomImageBuildsConfig `yaml:"customImageBuilds"`
	Womtool  WomtoolConfig  `yaml:"womtool"`
	Reporting ReportingConfig `yaml:"reporting"`
	Logging  LoggingConfig  `yaml:"logging"`
	StatusManager StatusManagerConfig `yaml:"statusManager"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
	Archiver ArchiverConfig `yaml:"archiver"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Domain string `yaml:"domain,omitempty"`
	// APIKey, if set, is required via X-API-Key on every request but
	// GET /api/v1/health (internal/server.APIKeyMiddleware).
	APIKey string `yaml:"apiKey,omitempty"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	ConnectionURL string `yaml:"connectionUrl"`
	PoolSize      int    `yaml:"poolSize"`
}

// EngineConfig holds the Cromwell engine address and default call timeout.
type EngineConfig struct {
	Address        string `yaml:"address"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// StatusManagerConfig configures the periodic sweep (spec §4.2).
type StatusManagerConfig struct {
	StatusCheckWaitTimeInSecs       int `yaml:"statusCheckWaitTimeInSecs"`
	AllowedConsecutiveFailures      int `yaml:"allowedConsecutiveStatusCheckFailures"`
	SweepConcurrency                int `yaml:"sweepConcurrency"`
}

// WDLStorageConfig selects either a local directory or an object-storage
// prefix for WDL source content (spec §6).
type WDLStorageConfig struct {
	LocalDirectory   string `yaml:"localDirectory,omitempty"`
	ObjectStorePrefix string `yaml:"objectStorePrefix,omitempty"`
}

// EmailConfig configures notification dispatch transport (spec §6, §4.7).
type EmailConfig struct {
	Mode     EmailMode `yaml:"mode"`
	From     string    `yaml:"from,omitempty"`
	Domain   string    `yaml:"domain,omitempty"`
	Username string    `yaml:"username,omitempty"`
	Password string    `yaml:"password,omitempty"`
	SMTPHost string    `yaml:"smtpHost,omitempty"`
	SMTPPort int       `yaml:"smtpPort,omitempty"`
}

// GCloudConfig holds an optional service account key path (spec §6).
type GCloudConfig struct {
	ServiceAccountKeyPath string `yaml:"serviceAccountKeyPath,omitempty"`
}

// GitHubConfig configures the PR-comparison integration (spec §4.5, §6).
// The PubSub subscription is implemented over AWS SQS — see DESIGN.md.
type GitHubConfig struct {
	Enabled              bool   `yaml:"enabled"`
	APIToken             string `yaml:"apiToken,omitempty"`
	QueueURL             string `yaml:"queueUrl,omitempty"`
	PubsubMaxMessagesPer int    `yaml:"pubsubMaxMessagesPer"`
	PubsubWaitTimeInSecs int    `yaml:"pubsubWaitTimeInSecs"`
}

// CustomImageBuildsConfig configures the Software Build Coordinator (spec §4.3, §6).
type CustomImageBuildsConfig struct {
	Enabled              bool   `yaml:"enabled"`
	RegistryHost         string `yaml:"registryHost,omitempty"`
	PrivateRepoUsername  string `yaml:"privateRepoUsername,omitempty"`
	PrivateRepoPassword  string `yaml:"privateRepoPassword,omitempty"`
	KMSKeyringName       string `yaml:"kmsKeyringName,omitempty"`
	KMSKeyName           string `yaml:"kmsKeyName,omitempty"`
	LocalRepoCachePath   string `yaml:"localRepoCachePath"`
	// BuildWDLLocation resolves, via the WDL store, to the generic
	// docker-build workflow submitted for every image build (§4.3).
	BuildWDLLocation string `yaml:"buildWdlLocation,omitempty"`
}

// WomtoolConfig locates the womtool jar invoked by internal/womtool.
type WomtoolConfig struct {
	JarLocation string `yaml:"jarLocation"`
}

// ReportingConfig configures the Report Trigger (spec §4.6, §6).
type ReportingConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ReportStoragePrefix string `yaml:"reportStoragePrefix,omitempty"`
	ReportDockerImage string `yaml:"reportDockerImage,omitempty"`
	// GeneratorWDLLocation resolves, via the WDL store, to the report-
	// generation workflow submitted for every materialized report (§4.6).
	GeneratorWDLLocation string `yaml:"generatorWdlLocation,omitempty"`
}

// LoggingConfig configures the slog level. Only DefaultLevel is applied to
// the process logger; ModuleLevels is parsed but not consulted.
type LoggingConfig struct {
	DefaultLevel string            `yaml:"defaultLevel"`
	ModuleLevels map[string]string `yaml:"moduleLevels,omitempty"`
}

// WatchdogConfig configures the stuck-run/crash-safety scanner (SPEC_FULL §4.8).
type WatchdogConfig struct {
	Enabled              bool   `yaml:"enabled"`
	Interval             string `yaml:"interval"`
	StuckRunThreshold    string `yaml:"stuckRunThreshold"`
}

// ArchiverConfig configures the background archival pass (SPEC_FULL §4.9).
type ArchiverConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Interval       string `yaml:"interval"`
	RetentionAfter string `yaml:"retentionAfter"`
}
