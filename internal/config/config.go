// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all crawler configuration knobs loaded via Viper.
type Config struct {
	Source    SourceConfig    `mapstructure:"source"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Navigator NavigatorConfig `mapstructure:"navigator"`
	Assets    AssetsConfig    `mapstructure:"assets"`
	Store     StoreConfig     `mapstructure:"store"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	RunLog    RunLogConfig    `mapstructure:"runlog"`
}

// SourceConfig describes the upstream results API.
type SourceConfig struct {
	BaseAPI   string `mapstructure:"base_api"`
	SiteURL   string `mapstructure:"site_url"`
	Level     string `mapstructure:"level"`
	UserAgent string `mapstructure:"user_agent"`
	// CookieEnv names the environment variable holding the session cookie.
	CookieEnv  string   `mapstructure:"cookie_env"`
	Cookie     string   `mapstructure:"-"`
	BlankCodes []string `mapstructure:"blank_codes"`
	NullCodes  []string `mapstructure:"null_codes"`
}

// CrawlerConfig governs the queue and worker pool.
type CrawlerConfig struct {
	Workers             int `mapstructure:"workers"`
	QueueDepth          int `mapstructure:"queue_depth"`
	WorkerPauseMinMs    int `mapstructure:"worker_pause_min_ms"`
	WorkerPauseMaxMs    int `mapstructure:"worker_pause_max_ms"`
	SpecialVotesPauseMs int `mapstructure:"special_votes_pause_ms"`
}

// HTTPConfig configures the fetch client and its retry behavior.
type HTTPConfig struct {
	TimeoutSeconds        int     `mapstructure:"timeout_seconds"`
	AssetTimeoutSeconds   int     `mapstructure:"asset_timeout_seconds"`
	MaxConnsPerHost       int     `mapstructure:"max_conns_per_host"`
	MaxBodyBytes          int     `mapstructure:"max_body_bytes"`
	DataMaxAttempts       int     `mapstructure:"data_max_attempts"`
	NavigationMaxAttempts int     `mapstructure:"navigation_max_attempts"`
	JitterMinMs           int     `mapstructure:"jitter_min_ms"`
	JitterMaxMs           int     `mapstructure:"jitter_max_ms"`
	DataBackoffMs         int     `mapstructure:"data_backoff_ms"`
	NavigationBackoffMs   int     `mapstructure:"navigation_backoff_ms"`
	RequestsPerSecond     float64 `mapstructure:"requests_per_second"`
	Burst                 int     `mapstructure:"burst"`
}

// DepartmentConfig is one entry of the fixed department list.
type DepartmentConfig struct {
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
}

// NavigatorConfig tunes hierarchy traversal.
type NavigatorConfig struct {
	Departments      []DepartmentConfig `mapstructure:"departments"`
	ZoneLabels       map[string]string  `mapstructure:"zone_labels"`
	UnknownZoneLabel string             `mapstructure:"unknown_zone_label"`
}

// AssetsConfig sets where scanned documents and logos are stored.
type AssetsConfig struct {
	Backend        string `mapstructure:"backend"`
	Root           string `mapstructure:"root"`
	DocumentsDir   string `mapstructure:"documents_dir"`
	LogosDir       string `mapstructure:"logos_dir"`
	DocumentPrefix string `mapstructure:"document_prefix"`
	GCSBucket      string `mapstructure:"gcs_bucket"`
	GCSPrefix      string `mapstructure:"gcs_prefix"`
}

// StoreConfig selects and configures the record store.
type StoreConfig struct {
	Driver       string `mapstructure:"driver"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	PostgresDSN  string `mapstructure:"postgres_dsn"`
	Table        string `mapstructure:"table"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features and the audit file.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	AuditFile   string `mapstructure:"audit_file"`
}

// TracingConfig selects the span exporter. Exporter is none, stdout, or gcp;
// stdout spans go to OutputFile when it is set.
type TracingConfig struct {
	Exporter   string `mapstructure:"exporter"`
	ProjectID  string `mapstructure:"project_id"`
	OutputFile string `mapstructure:"output_file"`
}

// RunLogConfig points at the run history file.
type RunLogConfig struct {
	HistoryFile string `mapstructure:"history_file"`
}

// Load builds a Config from disk/environment. A .env file in the working
// directory is read first when present.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	if cfg.Source.CookieEnv != "" {
		cfg.Source.Cookie = os.Getenv(cfg.Source.CookieEnv)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.base_api", "https://resultadosgenerales2025-api.cne.hn/esc/v1")
	v.SetDefault("source.site_url", "https://resultadosgenerales2025.cne.hn")
	v.SetDefault("source.level", "01")
	v.SetDefault("source.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("source.cookie_env", "CNE_COOKIE")
	v.SetDefault("source.blank_codes", []string{"996"})
	v.SetDefault("source.null_codes", []string{"997", "998"})

	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.queue_depth", 1000)
	v.SetDefault("crawler.worker_pause_min_ms", 500)
	v.SetDefault("crawler.worker_pause_max_ms", 1500)
	v.SetDefault("crawler.special_votes_pause_ms", 100)

	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.asset_timeout_seconds", 20)
	v.SetDefault("http.max_conns_per_host", 4)
	v.SetDefault("http.max_body_bytes", 50*1024*1024)
	v.SetDefault("http.data_max_attempts", 3)
	v.SetDefault("http.navigation_max_attempts", 5)
	v.SetDefault("http.jitter_min_ms", 400)
	v.SetDefault("http.jitter_max_ms", 800)
	v.SetDefault("http.data_backoff_ms", 1000)
	v.SetDefault("http.navigation_backoff_ms", 2000)
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("http.burst", 1)

	v.SetDefault("navigator.departments", defaultDepartments())
	v.SetDefault("navigator.zone_labels", map[string]string{"01": "URBANA", "02": "RURAL"})
	v.SetDefault("navigator.unknown_zone_label", "Unknown")

	v.SetDefault("assets.backend", "local")
	v.SetDefault("assets.root", "assets")
	v.SetDefault("assets.documents_dir", "scans/pdf")
	v.SetDefault("assets.logos_dir", "party_logos")
	v.SetDefault("assets.document_prefix", "HND_2025_JRV_")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "data/databases/HND_2025_Presidential_Results.db")
	v.SetDefault("store.table", "scraped_data")
	v.SetDefault("store.max_open_conns", 8)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 9090)

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.audit_file", "cne_async_audit.log")

	v.SetDefault("tracing.exporter", "none")

	v.SetDefault("runlog.history_file", "historial_tiempos.txt")
}

func defaultDepartments() []map[string]string {
	names := [][2]string{
		{"01", "Atlantida"}, {"02", "Colon"}, {"03", "Comayagua"}, {"04", "Copan"},
		{"05", "Cortes"}, {"06", "Choluteca"}, {"07", "El_Paraiso"}, {"08", "Francisco_Morazan"},
		{"09", "Gracias_a_Dios"}, {"10", "Intibuca"}, {"11", "Islas_de_la_Bahia"}, {"12", "La_Paz"},
		{"13", "Lempira"}, {"14", "Ocotepeque"}, {"15", "Olancho"}, {"16", "Santa_Barbara"},
		{"17", "Valle"}, {"18", "Yoro"}, {"20", "Voto_Exterior"},
	}
	out := make([]map[string]string, 0, len(names))
	for _, n := range names {
		out = append(out, map[string]string{"id": n[0], "name": n[1]})
	}
	return out
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Source.BaseAPI == "" {
		return fmt.Errorf("source.base_api must be set")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.Crawler.WorkerPauseMaxMs < c.Crawler.WorkerPauseMinMs {
		return fmt.Errorf("crawler.worker_pause_max_ms must be >= worker_pause_min_ms")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxConnsPerHost <= 0 {
		return fmt.Errorf("http.max_conns_per_host must be > 0")
	}
	if c.HTTP.DataMaxAttempts <= 0 || c.HTTP.NavigationMaxAttempts <= 0 {
		return fmt.Errorf("http.data_max_attempts and http.navigation_max_attempts must be > 0")
	}
	if c.HTTP.JitterMaxMs < c.HTTP.JitterMinMs {
		return fmt.Errorf("http.jitter_max_ms must be >= jitter_min_ms")
	}
	if len(c.Navigator.Departments) == 0 {
		return fmt.Errorf("navigator.departments must not be empty")
	}
	switch c.Assets.Backend {
	case "local":
	case "gcs":
		if c.Assets.GCSBucket == "" {
			return fmt.Errorf("assets.gcs_bucket must be set when assets.backend is gcs")
		}
	default:
		return fmt.Errorf("assets.backend %q is not supported", c.Assets.Backend)
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path must be set for the sqlite driver")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn must be set for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver %q is not supported", c.Store.Driver)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	case "gcp":
		if c.Tracing.ProjectID == "" {
			return fmt.Errorf("tracing.project_id must be set when tracing.exporter is gcp")
		}
	default:
		return fmt.Errorf("tracing.exporter %q is not supported", c.Tracing.Exporter)
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0 when the server is enabled")
	}
	return nil
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// AssetTimeout converts the asset download timeout into a duration.
func (c Config) AssetTimeout() time.Duration {
	return time.Duration(c.HTTP.AssetTimeoutSeconds) * time.Second
}

// Referer is the site URL with a trailing slash, as browsers send it.
func (c SourceConfig) Referer() string {
	return strings.TrimRight(c.SiteURL, "/") + "/"
}

// Origin is the site URL without a trailing slash.
func (c SourceConfig) Origin() string {
	return strings.TrimRight(c.SiteURL, "/")
}
