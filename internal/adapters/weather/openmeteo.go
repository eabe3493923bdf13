package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"neighborhood-digest/internal/domain"
	"neighborhood-digest/internal/infra/cache"
	"neighborhood-digest/internal/infra/metrics"
)

// Cache — хранилище ответов погоды. *cache.RedisCache удовлетворяет интерфейсу.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Config задаёт параметры клиента Open-Meteo.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	CacheTTL time.Duration
	RetryMax int
	// RetryWaitMin и RetryWaitMax задают паузы между повторами.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// OpenMeteo получает текущую погоду из API Open-Meteo.
type OpenMeteo struct {
	client  *retryablehttp.Client
	baseURL string
	cache   Cache
	ttl     time.Duration
	log     zerolog.Logger
}

var _ domain.WeatherService = (*OpenMeteo)(nil)

// NewOpenMeteo создаёт клиента. cache может быть nil.
func NewOpenMeteo(cfg Config, c Cache, logger zerolog.Logger) *OpenMeteo {
	client := retryablehttp.NewClient()
	client.Logger = leveledLogger{log: logger}
	client.RetryMax = cfg.RetryMax
	if client.RetryMax <= 0 {
		client.RetryMax = 3
	}
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &OpenMeteo{
		client:  client,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		cache:   c,
		ttl:     ttl,
		log:     logger,
	}
}

// FetchWeather реализует domain.WeatherService. Возвращает nil, если в ответе
// нет текущих данных.
func (o *OpenMeteo) FetchWeather(ctx context.Context, lat, lon float64, timezone, country string) (*domain.Weather, error) {
	if lat == 0 && lon == 0 {
		return nil, nil
	}
	key := fmt.Sprintf("weather:%.2f:%.2f", lat, lon)
	if w, ok := o.cached(ctx, key); ok {
		return w, nil
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("current", "temperature_2m,weather_code")
	if timezone != "" {
		q.Set("timezone", timezone)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/forecast?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := o.client.Do(req)
	metrics.ObserveNetworkRequest("weather", "current", "open-meteo", start, err)
	if err != nil {
		return nil, fmt.Errorf("open-meteo: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("open-meteo: статус %d", resp.StatusCode)
	}

	w := parseCurrent(body)
	if w == nil {
		return nil, nil
	}
	o.store(ctx, key, w)
	o.log.Debug().Str("country", country).Float64("temp_c", w.TemperatureC).Msg("weather: получена погода")
	return w, nil
}

func (o *OpenMeteo) cached(ctx context.Context, key string) (*domain.Weather, bool) {
	if o.cache == nil {
		return nil, false
	}
	raw, err := o.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			o.log.Warn().Err(err).Msg("weather: кэш недоступен")
		}
		return nil, false
	}
	var w domain.Weather
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, false
	}
	return &w, true
}

func (o *OpenMeteo) store(ctx context.Context, key string, w *domain.Weather) {
	if o.cache == nil {
		return
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return
	}
	if err := o.cache.Set(ctx, key, raw, o.ttl); err != nil {
		o.log.Warn().Err(err).Msg("weather: не удалось сохранить в кэш")
	}
}

func parseCurrent(body []byte) *domain.Weather {
	temp := gjson.GetBytes(body, "current.temperature_2m")
	if !temp.Exists() {
		return nil
	}
	c := temp.Float()
	code := gjson.GetBytes(body, "current.weather_code")
	return &domain.Weather{
		TemperatureC: round1(c),
		TemperatureF: round1(c*9/5 + 32),
		Description:  describe(code.Int(), code.Exists()),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// describe переводит код погоды WMO в короткое описание.
func describe(code int64, known bool) string {
	if !known {
		return ""
	}
	switch {
	case code == 0:
		return "Clear sky"
	case code >= 1 && code <= 2:
		return "Partly cloudy"
	case code == 3:
		return "Overcast"
	case code == 45 || code == 48:
		return "Fog"
	case code >= 51 && code <= 57:
		return "Drizzle"
	case code >= 61 && code <= 67, code >= 80 && code <= 82:
		return "Rain"
	case code >= 71 && code <= 77, code == 85 || code == 86:
		return "Snow"
	case code >= 95:
		return "Thunderstorm"
	default:
		return "Mixed conditions"
	}
}

// leveledLogger передаёт журнал retryablehttp в zerolog.
type leveledLogger struct {
	log zerolog.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Error().Fields(kv).Msg("weather: " + msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Debug().Fields(kv).Msg("weather: " + msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Debug().Fields(kv).Msg("weather: " + msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Warn().Fields(kv).Msg("weather: " + msg) }
