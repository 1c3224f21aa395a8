package config

type AppConfig struct {
	APIPort     string `env:"PORT" envDefault:"12300"`
	APIKey      string `env:"API_KEY,required"`
	RabbitMQURL string `env:"RABBITMQ_URL"`
}

type DatabaseConfig struct {
	Host            string `env:"MAILAGENT_POSTGRES_HOST,required"`
	Port            string `env:"MAILAGENT_POSTGRES_PORT,required"`
	User            string `env:"MAILAGENT_POSTGRES_USER,required"`
	DBName          string `env:"MAILAGENT_POSTGRES_DB_NAME,required"`
	Password        string `env:"MAILAGENT_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"MAILAGENT_POSTGRES_DB_MAX_CONN"`
	MaxIdleConn     int    `env:"MAILAGENT_POSTGRES_DB_MAX_IDLE_CONN"`
	ConnMaxLifetime int    `env:"MAILAGENT_POSTGRES_DB_CONN_MAX_LIFETIME"`
	LogLevel        string `env:"MAILAGENT_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"MAILAGENT_POSTGRES_SSL_MODE" envDefault:"require"`
}

type WatcherConfig struct {
	// LookbackDays bounds the initial window when an account has no cursor.
	LookbackDays int `env:"WATCHER_LOOKBACK_DAYS" envDefault:"5"`
	// SafetyMarginHours widens the server-side SINCE query to tolerate
	// clock/timezone skew; precise filtering happens client-side.
	SafetyMarginHours  int    `env:"WATCHER_SAFETY_MARGIN_HOURS" envDefault:"24"`
	IdleTimeoutSeconds int    `env:"WATCHER_IDLE_TIMEOUT_SECONDS" envDefault:"60"`
	AuthRetryBudget    int    `env:"WATCHER_AUTH_RETRY_BUDGET" envDefault:"5"`
	SweepSchedule      string `env:"WATCHER_SWEEP_SCHEDULE" envDefault:"@every 20m"`
	// TriageOnIngest hands accepted messages straight to triage; when
	// false they wait for an explicit processing run.
	TriageOnIngest bool `env:"WATCHER_TRIAGE_ON_INGEST" envDefault:"true"`
}

type TriageConfig struct {
	BatchSize    int `env:"TRIAGE_BATCH_SIZE" envDefault:"5"`
	DigestBudget int `env:"TRIAGE_DIGEST_BUDGET" envDefault:"1000"`
}

type AIConfig struct {
	Url            string `env:"AI_API_URL" envDefault:"https://api.openai.com/v1"`
	ApiKey         string `env:"AI_API_KEY"`
	Model          string `env:"AI_MODEL" envDefault:"gpt-4o-mini"`
	TimeoutSeconds int    `env:"AI_TIMEOUT_SECONDS" envDefault:"60"`
}

type ArchiveConfig struct {
	Enabled         bool   `env:"ARCHIVE_ENABLED" envDefault:"false"`
	Endpoint        string `env:"ARCHIVE_S3_ENDPOINT"`
	Region          string `env:"ARCHIVE_S3_REGION" envDefault:"auto"`
	AccessKeyID     string `env:"ARCHIVE_S3_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"ARCHIVE_S3_ACCESS_KEY_SECRET"`
	Bucket          string `env:"ARCHIVE_S3_BUCKET" envDefault:"raw-messages"`
}
