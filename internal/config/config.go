// Package config loads pipeline settings from the environment, reading a
// .env file first when one is present.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/pm25forecast/pm25forecast/internal/database"
	"github.com/pm25forecast/pm25forecast/internal/telemetry"
)

// Config holds every setting of the pipeline binaries.
type Config struct {
	App       AppConfig
	Database  database.Config
	Paths     PathsConfig
	Crawl     CrawlConfig
	Fetch     FetchConfig
	Log       LogConfig
	Telemetry telemetry.Config
	Dataset   DatasetConfig
}

type AppConfig struct {
	Env     string
	Port    int
	Version string

	// AllowedOrigins are the CORS origins of the query API.
	AllowedOrigins []string
}

type PathsConfig struct {
	DataDir       string
	RawDir        string
	NewRawDir     string
	ProcessedDir  string
	FeaturesDir   string
	DatasetDir    string
	LSTMDir       string
	CitiesFile    string
	CityCodesFile string
}

type CrawlConfig struct {
	StartYear int
	EndYear   int

	// RequestInterval is the base politeness interval between history units.
	RequestInterval time.Duration

	// HistoryBatchSize is the number of cities between history flushes.
	HistoryBatchSize int

	// RealtimeBatchSize is the number of cities between realtime flushes;
	// zero flushes once at the end of the run.
	RealtimeBatchSize int

	// RealtimeInterval is the wait between scheduled realtime cycles.
	RealtimeInterval time.Duration

	SaveToDB bool
	Region   string
}

type FetchConfig struct {
	MaxAttempts  int
	Timeout      time.Duration
	UseProxy     bool
	ProxyPool    []string
	ProxyTestURL string
	ProxyTimeout time.Duration
	TunnelHost   string
	TunnelUser   string
	TunnelPass   string
}

type LogConfig struct {
	Level  string
	Format string
	Dir    string
}

type DatasetConfig struct {
	Lookback   int
	TrainRatio float64
	ValRatio   float64
	TestRatio  float64
}

// Load reads configuration from the environment, applying defaults where
// unset, and validates it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	p := &parser{}
	dataDir := getEnv("DATA_DIR", "data")

	cfg := &Config{
		App: AppConfig{
			Env:     getEnv("APP_ENV", "development"),
			Port:    p.int("APP_PORT", 8080),
			Version: getEnv("APP_VERSION", "dev"),

			AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		},
		Database: database.Config{
			Driver:          database.Driver(getEnv("DB_DRIVER", string(database.DriverSQLite))),
			SQLitePath:      getEnv("SQLITE_DATABASE", filepath.Join(dataDir, "aqi_data.db")),
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    p.int("DB_MAX_OPEN_CONNS", 5),
			ConnMaxLifetime: p.duration("DB_CONN_MAX_LIFETIME", time.Hour),
		},
		Paths: PathsConfig{
			DataDir:       dataDir,
			RawDir:        getEnv("RAW_DATA_DIR", filepath.Join(dataDir, "raw")),
			NewRawDir:     getEnv("NEWRAW_DATA_DIR", filepath.Join(dataDir, "newraw")),
			ProcessedDir:  getEnv("PROCESSED_DATA_DIR", filepath.Join(dataDir, "processed")),
			FeaturesDir:   getEnv("FEATURES_DIR", filepath.Join(dataDir, "features")),
			DatasetDir:    getEnv("DATASET_DIR", filepath.Join(dataDir, "dataset")),
			LSTMDir:       getEnv("LSTM_DATA_DIR", filepath.Join(dataDir, "lstm")),
			CitiesFile:    getEnv("CITIES_FILE", filepath.Join("config", "cities.json")),
			CityCodesFile: getEnv("CITY_CODES_FILE", filepath.Join("config", "city_codes.json")),
		},
		Crawl: CrawlConfig{
			StartYear:         p.int("START_YEAR", 2013),
			EndYear:           p.int("END_YEAR", time.Now().Year()),
			RequestInterval:   p.duration("REQUEST_INTERVAL", 2*time.Second),
			HistoryBatchSize:  p.int("HISTORY_CRAWL_BATCH_SIZE", 1),
			RealtimeBatchSize: p.int("REALTIME_CRAWL_BATCH_SIZE", 0),
			RealtimeInterval:  p.duration("REALTIME_CRAWL_INTERVAL", time.Hour),
			SaveToDB:          p.bool("SAVE_TO_DB", true),
			Region:            getEnv("CRAWL_REGION", "京津冀"),
		},
		Fetch: FetchConfig{
			MaxAttempts:  p.int("MAX_RETRY_TIMES", 3),
			Timeout:      p.duration("REQUEST_TIMEOUT", 15*time.Second),
			UseProxy:     p.bool("USE_PROXY", false),
			ProxyPool:    splitList(os.Getenv("PROXY_POOL")),
			ProxyTestURL: getEnv("PROXY_TEST_URL", "http://httpbin.org/ip"),
			ProxyTimeout: p.duration("PROXY_TIMEOUT", 5*time.Second),
			TunnelHost:   os.Getenv("TUNNEL_PROXY"),
			TunnelUser:   os.Getenv("TUNNEL_USERNAME"),
			TunnelPass:   os.Getenv("TUNNEL_PASSWORD"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
			Dir:    getEnv("LOG_DIR", "logs"),
		},
		Telemetry: telemetry.Config{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "pm25forecast"),
			ServiceVersion: getEnv("APP_VERSION", "dev"),
			Environment:    getEnv("APP_ENV", "development"),
			OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Enabled:        p.bool("OTEL_ENABLED", false),
		},
		Dataset: DatasetConfig{
			Lookback:   p.int("LOOKBACK", 7),
			TrainRatio: p.float("TRAIN_RATIO", 0.7),
			ValRatio:   p.float("VAL_RATIO", 0.15),
			TestRatio:  p.float("TEST_RATIO", 0.15),
		},
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case database.DriverSQLite:
		if c.Database.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_DATABASE is required for the sqlite driver"))
		}
	case database.DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q is not supported", c.Database.Driver))
	}

	if c.Crawl.StartYear < 2000 || c.Crawl.StartYear > c.Crawl.EndYear {
		errs = append(errs, fmt.Errorf("invalid year range %d-%d", c.Crawl.StartYear, c.Crawl.EndYear))
	}
	if c.Crawl.HistoryBatchSize < 1 {
		errs = append(errs, errors.New("HISTORY_CRAWL_BATCH_SIZE must be at least 1"))
	}
	if c.Crawl.RealtimeBatchSize < 0 {
		errs = append(errs, errors.New("REALTIME_CRAWL_BATCH_SIZE must not be negative"))
	}
	if c.Crawl.RealtimeInterval <= 0 {
		errs = append(errs, errors.New("REALTIME_CRAWL_INTERVAL must be positive"))
	}
	if c.Fetch.MaxAttempts < 1 {
		errs = append(errs, errors.New("MAX_RETRY_TIMES must be at least 1"))
	}

	d := c.Dataset
	if d.Lookback < 1 {
		errs = append(errs, errors.New("LOOKBACK must be at least 1"))
	}
	if d.TrainRatio <= 0 || d.ValRatio < 0 || d.TestRatio < 0 {
		errs = append(errs, errors.New("split ratios must be non-negative with a positive train ratio"))
	}
	if math.Abs(d.TrainRatio+d.ValRatio+d.TestRatio-1) > 1e-6 {
		errs = append(errs, fmt.Errorf("split ratios sum to %.4f, want 1", d.TrainRatio+d.ValRatio+d.TestRatio))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
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

// parser collects malformed values instead of silently using defaults.
type parser struct {
	errs []error
}

func (p *parser) int(key string, defaultValue int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", key, s, err))
		return defaultValue
	}
	return v
}

func (p *parser) float(key string, defaultValue float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", key, s, err))
		return defaultValue
	}
	return v
}

func (p *parser) bool(key string, defaultValue bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", key, s, err))
		return defaultValue
	}
	return v
}

// duration accepts Go duration syntax or a bare number of seconds.
func (p *parser) duration(key string, defaultValue time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	p.errs = append(p.errs, fmt.Errorf("invalid %s %q", key, s))
	return defaultValue
}
