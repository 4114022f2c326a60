// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/fund-document-crawler/internal/crawler"
	"github.com/JakeFAU/fund-document-crawler/internal/schedule"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Storage  StorageConfig  `mapstructure:"storage"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CatalogConfig describes the catalog being crawled.
type CatalogConfig struct {
	URL        string         `mapstructure:"url"`
	Categories []string       `mapstructure:"categories"`
	Layout     crawler.Layout `mapstructure:"layout"`
}

// CrawlerConfig bounds one crawl.
type CrawlerConfig struct {
	MaxEntries               int `mapstructure:"max_entries"`
	DisclaimerTimeoutSeconds int `mapstructure:"disclaimer_timeout_seconds"`
	PageTimeoutSeconds       int `mapstructure:"page_timeout_seconds"`
	ControlTimeoutSeconds    int `mapstructure:"control_timeout_seconds"`
	SettleDelayMs            int `mapstructure:"settle_delay_ms"`
}

// ScheduleConfig sets the daily trigger and repeating period.
type ScheduleConfig struct {
	StartTime       string        `mapstructure:"start_time"`
	RepeatingPeriod time.Duration `mapstructure:"repeating_period"`
	Timezone        string        `mapstructure:"timezone"`
}

// StorageConfig sets where documents and the record log live.
type StorageConfig struct {
	Root         string `mapstructure:"root"`
	RecordLog    string `mapstructure:"record_log"`
	DocumentsDir string `mapstructure:"documents_dir"`
	DateLayout   string `mapstructure:"date_layout"`
	// HashAlgorithm is "sha256" or "md5"; md5 keeps content dedup working
	// against record logs written with MD5 fingerprints.
	HashAlgorithm string `mapstructure:"hash_algorithm"`
	// Mirror selects an optional secondary copy of downloads: "", "gcs",
	// "local" or "memory".
	Mirror    string `mapstructure:"mirror"`
	MirrorDir string `mapstructure:"mirror_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	GCSPrefix string `mapstructure:"gcs_prefix"`
}

// HTTPConfig configures document downloads.
type HTTPConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	UserAgent         string  `mapstructure:"user_agent"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	MaxBodyBytes      int     `mapstructure:"max_body_bytes"`
}

// BrowserConfig configures the Chrome instance used for navigation.
type BrowserConfig struct {
	Headless             bool   `mapstructure:"headless"`
	ExecPath             string `mapstructure:"exec_path"`
	ActionTimeoutSeconds int    `mapstructure:"action_timeout_seconds"`
	WindowWidth          int    `mapstructure:"window_width"`
	WindowHeight         int    `mapstructure:"window_height"`
}

// DBConfig controls the optional Postgres record mirror.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxConns     int32  `mapstructure:"max_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// PubSubConfig holds metadata for document notifications.
type PubSubConfig struct {
	// Backend is "", "pubsub" or "memory".
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// LoggingConfig toggles zap features and crawl reporting.
type LoggingConfig struct {
	Development   bool `mapstructure:"development"`
	Debug         bool `mapstructure:"debug"`
	Summary       bool `mapstructure:"summary"`
	ExecutionTime bool `mapstructure:"execution_time"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FUNDDOCS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("catalog.url", "https://fondswelt.hansainvest.com/de/downloads-und-formulare/download-center")
	categories := make([]string, 0, len(crawler.DefaultCategories))
	for _, c := range crawler.DefaultCategories {
		categories = append(categories, string(c))
	}
	v.SetDefault("catalog.categories", categories)
	layout := crawler.DefaultLayout()
	v.SetDefault("catalog.layout.disclaimer_button", layout.DisclaimerButton)
	v.SetDefault("catalog.layout.active_page", layout.ActivePage)
	v.SetDefault("catalog.layout.rows", layout.Rows)
	v.SetDefault("catalog.layout.identifier", layout.Identifier)
	v.SetDefault("catalog.layout.document_link", layout.DocumentLink)
	v.SetDefault("catalog.layout.document_date", layout.DocumentDate)
	v.SetDefault("catalog.layout.first_document_column", layout.FirstDocumentColumn)
	v.SetDefault("catalog.layout.next_button", layout.NextButton)
	v.SetDefault("catalog.layout.disabled_class", layout.DisabledClass)

	v.SetDefault("crawler.max_entries", 200)
	v.SetDefault("crawler.disclaimer_timeout_seconds", 10)
	v.SetDefault("crawler.page_timeout_seconds", 10)
	v.SetDefault("crawler.control_timeout_seconds", 5)
	v.SetDefault("crawler.settle_delay_ms", 1000)

	v.SetDefault("schedule.start_time", "12:00")
	v.SetDefault("schedule.repeating_period", 24*time.Hour)
	v.SetDefault("schedule.timezone", "Local")

	v.SetDefault("storage.root", ".")
	v.SetDefault("storage.record_log", "FundDatabase/fundDatabase.csv")
	v.SetDefault("storage.documents_dir", "FundDatabase/Hansainvest")
	v.SetDefault("storage.date_layout", crawler.DefaultDateLayout)
	v.SetDefault("storage.hash_algorithm", "sha256")
	v.SetDefault("storage.mirror", "")

	v.SetDefault("http.timeout_seconds", 60)
	v.SetDefault("http.user_agent", "funddocs-bot/0.1")
	v.SetDefault("http.requests_per_second", 1.0)
	v.SetDefault("http.max_body_bytes", 0)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.action_timeout_seconds", 30)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)

	v.SetDefault("db.table", "fund_documents")
	v.SetDefault("db.ensure_schema", true)

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.debug", false)
	v.SetDefault("logging.summary", true)
	v.SetDefault("logging.execution_time", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	u, err := url.Parse(c.Catalog.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("catalog.url must be an absolute URL")
	}
	if len(c.Catalog.Categories) == 0 {
		return fmt.Errorf("catalog.categories must not be empty")
	}
	if err := c.Catalog.Layout.Validate(); err != nil {
		return err
	}
	if c.Crawler.MaxEntries <= 0 {
		return fmt.Errorf("crawler.max_entries must be > 0")
	}
	if c.Crawler.SettleDelayMs < 0 {
		return fmt.Errorf("crawler.settle_delay_ms must be >= 0")
	}
	if _, err := schedule.ParseTimeOfDay(c.Schedule.StartTime); err != nil {
		return fmt.Errorf("schedule.start_time: %w", err)
	}
	if c.Schedule.RepeatingPeriod <= 0 {
		return fmt.Errorf("schedule.repeating_period must be > 0")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Storage.Root) == "" {
		return fmt.Errorf("storage.root is required")
	}
	if strings.TrimSpace(c.Storage.RecordLog) == "" {
		return fmt.Errorf("storage.record_log is required")
	}
	switch strings.ToLower(c.Storage.HashAlgorithm) {
	case "", "sha256", "md5":
	default:
		return fmt.Errorf("storage.hash_algorithm must be sha256 or md5")
	}
	switch c.Storage.Mirror {
	case "":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.mirror is gcs")
		}
	case "local":
		if c.Storage.MirrorDir == "" {
			return fmt.Errorf("storage.mirror_dir must be set when storage.mirror is local")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.mirror must be one of gcs, local, memory or empty")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return fmt.Errorf("http.max_body_bytes must be >= 0")
	}
	if c.Browser.ActionTimeoutSeconds <= 0 {
		return fmt.Errorf("browser.action_timeout_seconds must be > 0")
	}
	switch c.PubSub.Backend {
	case "", "memory":
	case "pubsub":
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub.backend is pubsub")
		}
	default:
		return fmt.Errorf("pubsub.backend must be one of pubsub, memory or empty")
	}
	return nil
}

// Location resolves schedule.timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Schedule.Timezone == "" || c.Schedule.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone: %w", err)
	}
	return loc, nil
}

// RecordLogPath returns the record log location; relative paths are under
// storage.root.
func (c Config) RecordLogPath() string {
	if filepath.IsAbs(c.Storage.RecordLog) {
		return c.Storage.RecordLog
	}
	return filepath.Join(c.Storage.Root, c.Storage.RecordLog)
}

// CategoryList converts catalog.categories to crawler categories.
func (c Config) CategoryList() []crawler.Category {
	out := make([]crawler.Category, 0, len(c.Catalog.Categories))
	for _, name := range c.Catalog.Categories {
		out = append(out, crawler.Category(strings.TrimSpace(name)))
	}
	return out
}

// WalkerConfig builds the walker settings.
func (c Config) WalkerConfig() crawler.WalkerConfig {
	return crawler.WalkerConfig{
		Layout:            c.Catalog.Layout,
		Categories:        c.CategoryList(),
		CatalogURL:        c.Catalog.URL,
		DisclaimerTimeout: seconds(c.Crawler.DisclaimerTimeoutSeconds),
		PageTimeout:       seconds(c.Crawler.PageTimeoutSeconds),
		ControlTimeout:    seconds(c.Crawler.ControlTimeoutSeconds),
		SettleDelay:       time.Duration(c.Crawler.SettleDelayMs) * time.Millisecond,
	}
}

// EvaluatorConfig builds the row evaluator settings.
func (c Config) EvaluatorConfig() crawler.EvaluatorConfig {
	return crawler.EvaluatorConfig{
		Categories:   c.CategoryList(),
		MaxEntries:   c.Crawler.MaxEntries,
		Root:         c.Storage.Root,
		DocumentsDir: c.Storage.DocumentsDir,
		DateLayout:   c.Storage.DateLayout,
	}
}

// ScheduleConfig builds the scheduler settings. Validate must have passed.
func (c Config) ScheduleConfig() (schedule.Config, error) {
	tod, err := schedule.ParseTimeOfDay(c.Schedule.StartTime)
	if err != nil {
		return schedule.Config{}, err
	}
	loc, err := c.Location()
	if err != nil {
		return schedule.Config{}, err
	}
	return schedule.Config{StartTime: tod, Interval: c.Schedule.RepeatingPeriod, Location: loc}, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
