package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr       string        `mapstructure:"http_addr"`
	DBDriver       string        `mapstructure:"db_driver"`
	DBDSN          string        `mapstructure:"db_dsn"`
	AutoMigrate    bool          `mapstructure:"auto_migrate"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	AccessTokenTTL  string `mapstructure:"access_token_ttl"`
	RefreshTokenTTL string `mapstructure:"refresh_token_ttl"`

	DemoUsername     string `mapstructure:"demo_username"`
	TariffsAdminOnly bool   `mapstructure:"tariffs_admin_only"`

	MQTTBroker   string `mapstructure:"mqtt_broker"`
	MQTTTopic    string `mapstructure:"mqtt_topic"`
	MQTTClientID string `mapstructure:"mqtt_client_id"`

	StatementSchedule  string `mapstructure:"statement_schedule"`
	TokenPurgeSchedule string `mapstructure:"token_purge_schedule"`
	TariffArchiveDir   string `mapstructure:"tariff_archive_dir"`

	EmailProvider  string `mapstructure:"email_provider"`
	EmailFrom      string `mapstructure:"email_from"`
	EmailFromName  string `mapstructure:"email_from_name"`
	SMTPHost       string `mapstructure:"smtp_host"`
	SMTPPort       int    `mapstructure:"smtp_port"`
	SMTPUsername   string `mapstructure:"smtp_username"`
	SMTPPassword   string `mapstructure:"smtp_password"`
	SMTPEncryption string `mapstructure:"smtp_encryption"`
	SendGridAPIKey string `mapstructure:"sendgrid_api_key"`

	AlertWebhookURL  string `mapstructure:"alert_webhook_url"`
	AlertWebhookType string `mapstructure:"alert_webhook_type"`
}

// SetDefaults registers every key with its default so that environment
// variables are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8000")
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_dsn", "meterbill.db")
	v.SetDefault("auto_migrate", false)
	v.SetDefault("request_timeout", "30s")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("access_token_ttl", "30m")
	v.SetDefault("refresh_token_ttl", "7d")

	v.SetDefault("demo_username", "test")
	v.SetDefault("tariffs_admin_only", false)

	v.SetDefault("mqtt_broker", "tcp://localhost:1883")
	v.SetDefault("mqtt_topic", "meterbill/readings")
	v.SetDefault("mqtt_client_id", "meterbill-ingest")

	v.SetDefault("statement_schedule", "0 6 1 * *")
	v.SetDefault("token_purge_schedule", "@hourly")
	v.SetDefault("tariff_archive_dir", "")

	v.SetDefault("email_provider", "")
	v.SetDefault("email_from", "")
	v.SetDefault("email_from_name", "meterbill")
	v.SetDefault("smtp_host", "")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("smtp_username", "")
	v.SetDefault("smtp_password", "")
	v.SetDefault("smtp_encryption", "starttls")
	v.SetDefault("sendgrid_api_key", "")

	v.SetDefault("alert_webhook_url", "")
	v.SetDefault("alert_webhook_type", "generic")
}

// New returns a viper instance reading METERBILL_* environment variables
// and, when path is set, a config file.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("METERBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return v, nil
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch c.DBDriver {
	case "memory", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("db_driver: unsupported %q", c.DBDriver))
	}
	if c.DBDriver == "postgres" && c.DBDSN == "" {
		errs = append(errs, errors.New("db_dsn: required for postgres"))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log_format: unsupported %q", c.LogFormat))
	}
	switch c.EmailProvider {
	case "", "smtp", "sendgrid":
	default:
		errs = append(errs, fmt.Errorf("email_provider: unsupported %q", c.EmailProvider))
	}
	return errors.Join(errs...)
}
