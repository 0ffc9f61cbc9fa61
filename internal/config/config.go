package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/joho/godotenv"
	"github.com/sosodev/duration"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Upstream measurements API.
	OpenAQBaseURL     string
	OpenAQTimeout     time.Duration
	City              string
	Locations         []string
	Parameters        []string
	FetchLimit        int
	Lookback          time.Duration
	PollInterval      time.Duration
	CacheTTL          time.Duration
	CacheSize         int
	SimulatedFallback bool

	// Extra advisory ladders merged over the built-in ones.
	LaddersFile string

	KafkaEnabled           bool
	KafkaBrokers           []string
	KafkaMeasurementsTopic string
	KafkaAdvisoriesTopic   string

	InfluxEnabled bool
	InfluxURL     string
	InfluxToken   string
	InfluxOrg     string
	InfluxBucket  string

	HTTPAddr           string
	CORSAllowedOrigins []string
	LogLevel           string
	LogFormat          string
	ShutdownTimeout    time.Duration
}

// Load reads configuration from environment variables, applying defaults where
// unset. A .env file in the working directory is read first when present;
// variables already set in the environment take precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	openAQTimeout, err := parsePositiveDuration("OPENAQ_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	pollInterval, err := parsePositiveDuration("POLL_INTERVAL", "15m")
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseDuration("CACHE_TTL", "5m")
	if err != nil {
		return nil, err
	}
	lookback, err := parseISODuration("OPENAQ_LOOKBACK", "PT24H")
	if err != nil {
		return nil, err
	}
	fetchLimit, err := parsePositiveInt("OPENAQ_LIMIT", 100)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parsePositiveInt("CACHE_SIZE", 256)
	if err != nil {
		return nil, err
	}

	influxURL := os.Getenv("INFLUX_URL")

	cfg := &Config{
		OpenAQBaseURL:     strings.TrimRight(sharedcfg.EnvOrDefault("OPENAQ_BASE_URL", "https://api.openaq.org/v2"), "/"),
		OpenAQTimeout:     openAQTimeout,
		City:              sharedcfg.EnvOrDefault("OPENAQ_CITY", "Delhi"),
		Locations:         splitList(sharedcfg.EnvOrDefault("OPENAQ_LOCATIONS", "Anand Vihar")),
		Parameters:        splitList(strings.ToLower(sharedcfg.EnvOrDefault("OPENAQ_PARAMETERS", "pm25,no2,o3"))),
		FetchLimit:        fetchLimit,
		Lookback:          lookback,
		PollInterval:      pollInterval,
		CacheTTL:          cacheTTL,
		CacheSize:         cacheSize,
		SimulatedFallback: os.Getenv("SIMULATED_FALLBACK") == "true",

		LaddersFile: os.Getenv("ADVISORY_LADDERS_FILE"),

		KafkaEnabled:           os.Getenv("KAFKA_ENABLED") == "true",
		KafkaBrokers:           sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaMeasurementsTopic: sharedcfg.EnvOrDefault("KAFKA_MEASUREMENTS_TOPIC", "air-quality-measurements"),
		KafkaAdvisoriesTopic:   sharedcfg.EnvOrDefault("KAFKA_ADVISORIES_TOPIC", "air-quality-advisories"),

		InfluxEnabled: influxURL != "",
		InfluxURL:     influxURL,
		InfluxToken:   os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:     os.Getenv("INFLUX_ORG"),
		InfluxBucket:  sharedcfg.EnvOrDefault("INFLUX_BUCKET", "air_quality"),

		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		CORSAllowedOrigins: splitList(sharedcfg.EnvOrDefault("CORS_ALLOWED_ORIGINS", "*")),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
	}

	if cfg.City == "" {
		return nil, errors.New("OPENAQ_CITY is required")
	}
	if len(cfg.Locations) == 0 {
		return nil, errors.New("OPENAQ_LOCATIONS is required")
	}
	if len(cfg.Parameters) == 0 {
		return nil, errors.New("OPENAQ_PARAMETERS is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is empty")
	}
	if cfg.InfluxEnabled && cfg.InfluxOrg == "" {
		return nil, errors.New("INFLUX_URL is set but INFLUX_ORG is not")
	}

	return cfg, nil
}

// Queries expands the configured locations and parameters into one query each.
func (c *Config) Queries() []domain.Query {
	queries := make([]domain.Query, 0, len(c.Locations)*len(c.Parameters))
	for _, loc := range c.Locations {
		for _, param := range c.Parameters {
			queries = append(queries, domain.Query{
				City:      c.City,
				Location:  loc,
				Parameter: param,
				Limit:     c.FetchLimit,
				Lookback:  c.Lookback,
			})
		}
	}
	return queries
}

func parseDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := parseDuration(key, def)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

// parseISODuration reads an ISO-8601 duration such as "PT24H" or "P1D".
func parseISODuration(key, def string) (time.Duration, error) {
	d, err := duration.Parse(sharedcfg.EnvOrDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	td := d.ToTimeDuration()
	if td <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return td, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
