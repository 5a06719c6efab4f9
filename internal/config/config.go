package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"sitewright.io/internal/access"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type MailConfig struct {
	SMTPAddr string
	From     string
	Username string
	Password string
	BaseURL  string
}

type ServiceTokenConfig struct {
	Secret string
	TTL    time.Duration
}

// AccessConfig holds the tenant-tunable access settings; see
// access.Settings for the semantics of each knob.
type AccessConfig struct {
	SessionTTL        time.Duration
	RememberTTL       time.Duration
	VerificationTTL   time.Duration
	ResetTTL          time.Duration
	AnswerQuorum      int
	QuestionsPerUser  int
	MinPasswordLength int
}

type AppConfig struct {
	Environment  string
	HTTP         HTTPConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Mail         MailConfig
	ServiceToken ServiceTokenConfig
	Access       AccessConfig
}

// Settings converts the loaded access block into the domain settings
// object passed into the services.
func (c *AppConfig) Settings() *access.Settings {
	return &access.Settings{
		SessionTTL:        c.Access.SessionTTL,
		RememberTTL:       c.Access.RememberTTL,
		VerificationTTL:   c.Access.VerificationTTL,
		ResetTTL:          c.Access.ResetTTL,
		AnswerQuorum:      c.Access.AnswerQuorum,
		QuestionsPerUser:  c.Access.QuestionsPerUser,
		MinPasswordLength: c.Access.MinPasswordLength,
	}
}

// Load reads config.yaml (optional) and SITEWRIGHT_* environment
// variables, applying defaults for everything else.
func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("SITEWRIGHT")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.StringToTimeDurationHookFunc()
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "15s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("mail.baseurl", "http://localhost:8080")

	v.SetDefault("servicetoken.ttl", "1h")

	v.SetDefault("access.sessionttl", "2h")
	v.SetDefault("access.rememberttl", "720h") // 30 days
	v.SetDefault("access.verificationttl", "24h")
	v.SetDefault("access.resetttl", "1h")
	v.SetDefault("access.answerquorum", 0) // 0 = all answers on file
	v.SetDefault("access.questionsperuser", 3)
	v.SetDefault("access.minpasswordlength", 8)
}
