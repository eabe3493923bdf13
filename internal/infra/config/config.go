package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	// TZ — часовой пояс платформы: в нём считаются даты броней и «сегодня» для рекламы.
	TZ          string `envconfig:"TZ" default:"America/New_York"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	AdminToken  string `envconfig:"ADMIN_TOKEN"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Digest struct {
		TargetHour           int           `envconfig:"DIGEST_TARGET_HOUR" default:"7"`
		MaxBatch             int           `envconfig:"DIGEST_MAX_BATCH" default:"500"`
		SendDelay            time.Duration `envconfig:"DIGEST_SEND_DELAY" default:"100ms"`
		LookbackHours        int           `envconfig:"DIGEST_LOOKBACK_HOURS" default:"24"`
		AssemblyConcurrency  int           `envconfig:"DIGEST_ASSEMBLY_CONCURRENCY" default:"8"`
		DefaultNeighborhoods []string      `envconfig:"DIGEST_DEFAULT_NEIGHBORHOODS" default:"nyc-west-village,nyc-soho,nyc-tribeca"`
		SkipWithoutPrimary   bool          `envconfig:"DIGEST_SKIP_WITHOUT_PRIMARY" default:"false"`
		UnsubscribeBaseURL   string        `envconfig:"DIGEST_UNSUBSCRIBE_BASE_URL" default:"https://example.com/unsubscribe"`
		Schedule             string        `envconfig:"DIGEST_SCHEDULE" default:"0 * * * *"`
		ReapSchedule         string        `envconfig:"REAP_SCHEDULE" default:"*/15 * * * *"`
		RunTimeout           time.Duration `envconfig:"DIGEST_RUN_TIMEOUT" default:"50m"`
	} `envconfig:""`

	Pricing struct {
		Tier1Neighborhoods []string `envconfig:"PRICING_TIER1_NEIGHBORHOODS"`
		Tier2Neighborhoods []string `envconfig:"PRICING_TIER2_NEIGHBORHOODS"`

		Tier1DailyCents  int64 `envconfig:"PRICING_TIER1_DAILY_CENTS" default:"50000"`
		Tier1SundayCents int64 `envconfig:"PRICING_TIER1_SUNDAY_CENTS" default:"75000"`
		Tier2DailyCents  int64 `envconfig:"PRICING_TIER2_DAILY_CENTS" default:"30000"`
		Tier2SundayCents int64 `envconfig:"PRICING_TIER2_SUNDAY_CENTS" default:"45000"`
		Tier3DailyCents  int64 `envconfig:"PRICING_TIER3_DAILY_CENTS" default:"15000"`
		Tier3SundayCents int64 `envconfig:"PRICING_TIER3_SUNDAY_CENTS" default:"25000"`

		GlobalDailyCents  int64 `envconfig:"PRICING_GLOBAL_DAILY_CENTS" default:"1000000"`
		GlobalSundayCents int64 `envconfig:"PRICING_GLOBAL_SUNDAY_CENTS" default:"1500000"`

		SeasonCacheTTL time.Duration `envconfig:"PRICING_SEASON_CACHE_TTL" default:"10m"`
	} `envconfig:""`

	Booking struct {
		LeadHours int `envconfig:"BOOKING_LEAD_HOURS" default:"48"`
		MaxDays   int `envconfig:"BOOKING_MAX_DAYS" default:"90"`
	} `envconfig:""`

	Weather struct {
		BaseURL  string        `envconfig:"WEATHER_BASE_URL" default:"https://api.open-meteo.com/v1"`
		Timeout  time.Duration `envconfig:"WEATHER_TIMEOUT" default:"5s"`
		CacheTTL time.Duration `envconfig:"WEATHER_CACHE_TTL" default:"30m"`
	} `envconfig:""`

	Mailer struct {
		BaseURL string        `envconfig:"MAILER_BASE_URL" default:"https://api.resend.com"`
		APIKey  string        `envconfig:"MAILER_API_KEY"`
		From    string        `envconfig:"MAILER_FROM" default:"Daily Brief <brief@example.com>"`
		Timeout time.Duration `envconfig:"MAILER_TIMEOUT" default:"15s"`
	} `envconfig:""`

	Events struct {
		// Driver: redis, amqp или пусто (события отключены).
		Driver   string `envconfig:"EVENTS_DRIVER"`
		RedisKey string `envconfig:"EVENTS_REDIS_KEY" default:"digest_runs"`
		AMQPURL  string `envconfig:"RABBITMQ_URL"`
		Exchange string `envconfig:"EVENTS_EXCHANGE" default:"digest.runs"`
	} `envconfig:""`

	Telegram struct {
		Token       string `envconfig:"TG_BOT_TOKEN"`
		AlertChatID int64  `envconfig:"TG_ALERT_CHAT_ID"`
	} `envconfig:""`

	Audit struct {
		// Driver: postgres или sqlite.
		Driver     string        `envconfig:"AUDIT_DRIVER" default:"postgres"`
		SQLitePath string        `envconfig:"AUDIT_SQLITE_PATH" default:"audit.db"`
		Timeout    time.Duration `envconfig:"AUDIT_WRITE_TIMEOUT" default:"10s"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// Parse разбирает окружение и возвращает ошибку вместо завершения процесса.
func Parse() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Location возвращает часовой пояс платформы, при ошибке — UTC.
func (c AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}
