package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	EnvDev   = "dev"
	EnvStage = "stage"
	EnvProd  = "prod"
)

const (
	QueueDriverPostgres = "postgres"
	QueueDriverKafka    = "kafka"
)

var (
	// ErrKafkaBrokersRequired is returned when the kafka queue driver is selected without brokers.
	ErrKafkaBrokersRequired = errors.New("kafka brokers are required for the kafka queue driver")
	// ErrProviderTimeoutTooShort is returned when the VirusTotal request budget cannot fit a
	// full submit and poll cycle into scanner.provider_timeout.
	ErrProviderTimeoutTooShort = errors.New("provider timeout is shorter than a rate-limited virustotal scan")
)

type Config struct {
	Env        string `yaml:"env" validate:"oneof=dev stage prod"`
	HTTPServer `yaml:"http_server"`
	Postgres   `yaml:"postgres"`
	Queue      Queue     `yaml:"queue"`
	Scanner    Scanner   `yaml:"scanner"`
	Providers  Providers `yaml:"providers"`
	Feed       Feed      `yaml:"feed"`
}

type HTTPServer struct {
	Port              int           `yaml:"port" validate:"gte=0,lte=65535"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
}

var defaultHTTPServer = HTTPServer{
	Port:              8081,
	ReadHeaderTimeout: 5 * time.Second,
	IdleTimeout:       time.Minute,
}

func (s *HTTPServer) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

type Postgres struct {
	User            string        `yaml:"user" validate:"required"`
	Password        string        `yaml:"password"`
	Host            string        `yaml:"host" validate:"required"`
	Port            int           `yaml:"port"`
	DB              string        `yaml:"db" validate:"required"`
	SSLMode         string        `yaml:"sslmode"`
	MigrationsPath  string        `yaml:"migrations_path"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
}

var defaultPostgres = Postgres{
	Host:            "localhost",
	Port:            5432,
	SSLMode:         "disable",
	MigrationsPath:  "file://migrations",
	ConnMaxIdleTime: 5 * time.Minute,
	ConnMaxLifetime: 30 * time.Minute,
	MaxIdleConns:    5,
	MaxOpenConns:    25,
}

func (p *Postgres) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DB, p.SSLMode)
}

// Queue configures the change queue and the batching of drained URLs.
type Queue struct {
	Driver        string        `yaml:"driver" validate:"oneof=postgres kafka"`
	DrainInterval time.Duration `yaml:"drain_interval" validate:"gt=0"`
	BatchSize     int           `yaml:"batch_size" validate:"gt=0"`
	BatchDelay    time.Duration `yaml:"batch_delay" validate:"gte=0"`
	Kafka         Kafka         `yaml:"kafka"`
}

type Kafka struct {
	Brokers   []string      `yaml:"brokers"`
	Topic     string        `yaml:"topic"`
	GroupID   string        `yaml:"group_id"`
	DrainWait time.Duration `yaml:"drain_wait"`
}

var defaultQueue = Queue{
	Driver:        QueueDriverPostgres,
	DrainInterval: 2 * time.Second,
	BatchSize:     10,
	BatchDelay:    2 * time.Second,
	Kafka: Kafka{
		Topic:     "urls-to-check",
		GroupID:   "url-scanner",
		DrainWait: time.Second,
	},
}

type Scanner struct {
	ProviderTimeout time.Duration `yaml:"provider_timeout" validate:"gt=0"`
	RescanInterval  time.Duration `yaml:"rescan_interval" validate:"gt=0"`
	// AllUnknownStatus is "safe" or "keep".
	AllUnknownStatus string `yaml:"all_unknown_status" validate:"omitempty,oneof=safe keep"`
}

var defaultScanner = Scanner{
	ProviderTimeout:  90 * time.Second,
	RescanInterval:   2 * time.Hour,
	AllUnknownStatus: "safe",
}

type Providers struct {
	WebRisk    WebRisk    `yaml:"web_risk"`
	VirusTotal VirusTotal `yaml:"virustotal"`
	URLhaus    URLhaus    `yaml:"urlhaus"`
	PhishTank  PhishTank  `yaml:"phishtank"`
}

type WebRisk struct {
	BaseURL string        `yaml:"base_url" validate:"omitempty,url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type VirusTotal struct {
	URLsURL           string        `yaml:"urls_url" validate:"omitempty,url"`
	AnalysisURL       string        `yaml:"analysis_url" validate:"omitempty,url"`
	APIKey            string        `yaml:"api_key"`
	PollInterval      time.Duration `yaml:"poll_interval" validate:"gte=0"`
	MaxPollAttempts   int           `yaml:"max_poll_attempts" validate:"gt=0"`
	RequestsPerMinute int           `yaml:"requests_per_minute" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout"`
}

// ScanDuration is the worst-case time of one submit and poll cycle for a single
// URL. With a request budget set, each of the MaxPollAttempts+1 requests may
// wait a full limiter interval.
func (v *VirusTotal) ScanDuration() time.Duration {
	d := time.Duration(v.MaxPollAttempts) * v.PollInterval
	if v.RequestsPerMinute > 0 {
		d += time.Duration(v.MaxPollAttempts+1) * time.Minute / time.Duration(v.RequestsPerMinute)
	}
	return d
}

type URLhaus struct {
	APIURL  string        `yaml:"api_url" validate:"omitempty,url"`
	AuthKey string        `yaml:"auth_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type PhishTank struct {
	CSVPath string `yaml:"csv_path"`
}

var defaultProviders = Providers{
	WebRisk: WebRisk{
		BaseURL: "https://webrisk.googleapis.com",
		Timeout: 10 * time.Second,
	},
	VirusTotal: VirusTotal{
		URLsURL:         "https://www.virustotal.com/api/v3/urls",
		AnalysisURL:     "https://www.virustotal.com/api/v3/analyses/",
		PollInterval:    5 * time.Second,
		MaxPollAttempts: 10,
		Timeout:         10 * time.Second,
	},
	URLhaus: URLhaus{
		APIURL:  "https://urlhaus-api.abuse.ch/v1/url/",
		Timeout: 10 * time.Second,
	},
}

type Feed struct {
	Name         string        `yaml:"name" validate:"required"`
	URL          string        `yaml:"url" validate:"required,url"`
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
	SyncInterval time.Duration `yaml:"sync_interval" validate:"gt=0"`
}

var defaultFeed = Feed{
	Name:         "openphish",
	URL:          "https://raw.githubusercontent.com/openphish/public_feed/refs/heads/main/feed.txt",
	Timeout:      30 * time.Second,
	SyncInterval: 12 * time.Hour,
}

// Load reads the YAML config at path, expanding ${VAR} references from the
// environment, and validates the result over the defaults.
func Load(path string) (*Config, error) {
	const op = "config.Load"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read config file: %w", op, err)
	}

	var cfg Config
	setDefaults(&cfg)

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("%s: failed to decode config file: %w", op, err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("%s: invalid config: %w", op, err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}

	if cfg.Queue.Driver == QueueDriverKafka && len(cfg.Queue.Kafka.Brokers) == 0 {
		return ErrKafkaBrokersRequired
	}

	if vt := cfg.Providers.VirusTotal; vt.RequestsPerMinute > 0 && vt.ScanDuration() > cfg.Scanner.ProviderTimeout {
		return fmt.Errorf("%w: need at least %s, got %s",
			ErrProviderTimeoutTooShort, vt.ScanDuration(), cfg.Scanner.ProviderTimeout)
	}

	return nil
}

func setDefaults(cfg *Config) {
	cfg.Env = EnvDev
	cfg.HTTPServer = defaultHTTPServer
	cfg.Postgres = defaultPostgres
	cfg.Queue = defaultQueue
	cfg.Scanner = defaultScanner
	cfg.Providers = defaultProviders
	cfg.Feed = defaultFeed
}
