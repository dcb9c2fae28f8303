package config

import "github.com/caarlos0/env/v11"

type Config struct {
	DBPath string `env:"DB_PATH" envDefault:"db.sqlite"`

	SMTPAddr     string `env:"SMTP_ADDR"     envDefault:"localhost:25"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	MailFrom     string `env:"MAIL_FROM"     envDefault:"noreply@localhost"`

	IngestCronSpec string `env:"INGEST_CRON_SPEC" envDefault:"*/15 * * * *"`
	DigestCronSpec string `env:"DIGEST_CRON_SPEC" envDefault:"*/5 * * * *"`

	IngestBudgetSeconds    int64 `env:"INGEST_BUDGET_SECONDS"     envDefault:"60"`
	IngestMaxFeedsPerRun   int   `env:"INGEST_MAX_FEEDS_PER_RUN"  envDefault:"100"`
	FeedMinIntervalMinutes int64 `env:"FEED_MIN_INTERVAL_MINUTES" envDefault:"30"`

	DigestBudgetSeconds int64 `env:"DIGEST_BUDGET_SECONDS"  envDefault:"120"`
	DoNotMailAfterHours int64 `env:"DO_NOT_MAIL_AFTER_HOURS" envDefault:"48"`
	BounceThreshold     int64 `env:"BOUNCE_THRESHOLD"        envDefault:"10"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
	Verbose     bool   `env:"VERBOSE"      envDefault:"false"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
