package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lupppig/notifysender/internal/awsconfig"
	"github.com/lupppig/notifysender/internal/channel/ses"
	"github.com/lupppig/notifysender/internal/channel/webpush"
	"github.com/lupppig/notifysender/internal/dispatch"
	"github.com/lupppig/notifysender/internal/ledger/ic"
	"github.com/lupppig/notifysender/internal/logging"
	"github.com/lupppig/notifysender/internal/observability"
	"github.com/lupppig/notifysender/internal/reconcile"
	"github.com/lupppig/notifysender/internal/retry"
	"github.com/lupppig/notifysender/internal/store/dynamodb"
)

const (
	DefaultConfigFileName = "notification-sender.yaml"
	DefaultEnvFileName    = ".env"
	DefaultHTTPAddr       = ":8080"
	DefaultGRPCAddr       = ":50051"
)

type Config struct {
	Ledger    LedgerConfig         `yaml:"ledger"`
	Store     StoreConfig          `yaml:"store"`
	Directory DirectoryConfig      `yaml:"directory"`
	Channels  ChannelsConfig       `yaml:"channels"`
	AWS       awsconfig.Options    `yaml:"aws"`
	Dispatch  dispatch.Config      `yaml:"dispatch"`
	Reconcile reconcile.Config     `yaml:"reconcile"`
	Retry     retry.Config         `yaml:"retry"`
	Events    EventsConfig         `yaml:"events"`
	Server    ServerConfig         `yaml:"server"`
	Logging   logging.Options      `yaml:"logging"`
	Tracing   observability.Config `yaml:"tracing"`
}

type LedgerConfig struct {
	// Backend is "ic" or "file".
	Backend string    `yaml:"backend"`
	IC      ic.Config `yaml:"ic"`
	// File seeds an in-memory ledger for local runs.
	File string `yaml:"file"`
}

type StoreConfig struct {
	// Backend is "memory", "sqlite", "postgres" or "dynamodb".
	Backend     string          `yaml:"backend"`
	SQLitePath  string          `yaml:"sqlite_path"`
	PostgresDSN string          `yaml:"postgres_dsn"`
	DynamoDB    dynamodb.Config `yaml:"dynamodb"`
	// CreateTables creates missing DynamoDB tables or runs Postgres
	// migrations at startup.
	CreateTables bool `yaml:"create_tables"`
}

type DirectoryConfig struct {
	// Backend is "file", "postgres" or "dynamodb".
	Backend       string      `yaml:"backend"`
	File          string      `yaml:"file"`
	PostgresDSN   string      `yaml:"postgres_dsn"`
	DynamoDBTable string      `yaml:"dynamodb_table"`
	Cache         CacheConfig `yaml:"cache"`
}

type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
}

type ChannelsConfig struct {
	Push  PushConfig  `yaml:"push"`
	Email EmailConfig `yaml:"email"`
}

type PushConfig struct {
	// Backend is "sns", "webpush" or "none".
	Backend   string         `yaml:"backend"`
	Webpush   webpush.Config `yaml:"webpush"`
	RateLimit float64        `yaml:"rate_limit"`
	Burst     int            `yaml:"burst"`
}

type EmailConfig struct {
	// Backend is "ses" or "none".
	Backend   string     `yaml:"backend"`
	SES       ses.Config `yaml:"ses"`
	RateLimit float64    `yaml:"rate_limit"`
	Burst     int        `yaml:"burst"`
}

type EventsConfig struct {
	NATSURL string `yaml:"nats_url"`
}

type ServerConfig struct {
	HTTPAddr  string `yaml:"http_addr"`
	GRPCAddr  string `yaml:"grpc_addr"`
	JWTSecret string `yaml:"jwt_secret"`
	// SendInterval and RemoveInterval schedule runs in serve mode; zero
	// disables the schedule.
	SendInterval   time.Duration `yaml:"send_interval"`
	RemoveInterval time.Duration `yaml:"remove_interval"`
}

func DefaultConfig() *Config {
	return &Config{
		Ledger: LedgerConfig{
			Backend: "ic",
			IC:      ic.Config{URL: "https://icp-api.io"},
		},
		Store: StoreConfig{
			Backend:    "sqlite",
			SQLitePath: "notification-sender.db",
			DynamoDB: dynamodb.Config{
				AttemptsTable: "notification_delivery_attempts",
				OutcomesTable: "notification_outcomes",
			},
		},
		Directory: DirectoryConfig{
			Backend:       "file",
			File:          "recipients.yaml",
			DynamoDBTable: "recipient_endpoints",
			Cache:         CacheConfig{TTL: 5 * time.Minute},
		},
		Channels: ChannelsConfig{
			Push:  PushConfig{Backend: "sns", RateLimit: 50, Burst: 10},
			Email: EmailConfig{Backend: "ses", RateLimit: 14, Burst: 1},
		},
		Dispatch:  dispatch.DefaultConfig(),
		Reconcile: reconcile.Config{Workers: 4},
		Retry:     retry.DefaultConfig(),
		Server: ServerConfig{
			HTTPAddr: DefaultHTTPAddr,
			GRPCAddr: DefaultGRPCAddr,
		},
		Logging: logging.Options{Level: "info"},
		Tracing: observability.DefaultConfig(),
	}
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %v, got %q", field, allowed, value)
}

func (c *Config) Validate() error {
	if err := oneOf("ledger.backend", c.Ledger.Backend, "ic", "file"); err != nil {
		return err
	}
	if c.Ledger.Backend == "ic" {
		if c.Ledger.IC.CanisterID == "" {
			return fmt.Errorf("ledger.ic.canister_id is required (NOTIFICATIONS_CANISTER_ID)")
		}
		if c.Ledger.IC.URL == "" {
			return fmt.Errorf("ledger.ic.url is required (IC_URL)")
		}
	}
	if c.Ledger.Backend == "file" && c.Ledger.File == "" {
		return fmt.Errorf("ledger.file is required for the file ledger")
	}

	if err := oneOf("store.backend", c.Store.Backend, "memory", "sqlite", "postgres", "dynamodb"); err != nil {
		return err
	}
	if c.Store.Backend == "postgres" && c.Store.PostgresDSN == "" {
		return fmt.Errorf("store.postgres_dsn is required for the postgres store")
	}

	if err := oneOf("directory.backend", c.Directory.Backend, "file", "postgres", "dynamodb"); err != nil {
		return err
	}
	if c.Directory.Backend == "postgres" && c.Directory.PostgresDSN == "" && c.Store.PostgresDSN == "" {
		return fmt.Errorf("directory.postgres_dsn is required for the postgres directory")
	}

	if err := oneOf("channels.push.backend", c.Channels.Push.Backend, "sns", "webpush", "none"); err != nil {
		return err
	}
	if c.Channels.Push.Backend == "webpush" && c.Channels.Push.Webpush.URL == "" {
		return fmt.Errorf("channels.push.webpush.url is required for the webpush backend")
	}
	if err := oneOf("channels.email.backend", c.Channels.Email.Backend, "ses", "none"); err != nil {
		return err
	}
	if c.Channels.Email.Backend == "ses" && c.Channels.Email.SES.From == "" {
		return fmt.Errorf("channels.email.ses.from is required for the ses backend")
	}

	if err := c.Dispatch.Validate(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	return nil
}

// Load builds the configuration: defaults, then .env, then the YAML file at
// path (or the default file name), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := godotenv.Load(DefaultEnvFileName); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", DefaultEnvFileName, err)
	}

	if path == "" {
		path = DefaultConfigFileName
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.Store.DynamoDB.Namespace == "" {
		cfg.Store.DynamoDB.Namespace = cfg.Ledger.IC.CanisterID
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := map[string]*string{
		"NOTIFICATIONS_CANISTER_ID":   &c.Ledger.IC.CanisterID,
		"IC_URL":                      &c.Ledger.IC.URL,
		"IC_IDENTITY_PEM":             &c.Ledger.IC.IdentityPEM,
		"NOTIFIER_LEDGER_BACKEND":     &c.Ledger.Backend,
		"NOTIFIER_LEDGER_FILE":        &c.Ledger.File,
		"NOTIFIER_STORE_BACKEND":      &c.Store.Backend,
		"NOTIFIER_SQLITE_PATH":        &c.Store.SQLitePath,
		"NOTIFIER_POSTGRES_DSN":       &c.Store.PostgresDSN,
		"NOTIFIER_DIRECTORY_BACKEND":  &c.Directory.Backend,
		"NOTIFIER_DIRECTORY_FILE":     &c.Directory.File,
		"NOTIFIER_REDIS_ADDR":         &c.Directory.Cache.RedisAddr,
		"NOTIFIER_PUSH_BACKEND":       &c.Channels.Push.Backend,
		"NOTIFIER_PUSH_GATEWAY_URL":   &c.Channels.Push.Webpush.URL,
		"NOTIFIER_PUSH_GATEWAY_TOKEN": &c.Channels.Push.Webpush.Token,
		"NOTIFIER_EMAIL_BACKEND":      &c.Channels.Email.Backend,
		"NOTIFIER_EMAIL_FROM":         &c.Channels.Email.SES.From,
		"NOTIFIER_AWS_REGION":         &c.AWS.Region,
		"NOTIFIER_AWS_ENDPOINT":       &c.AWS.Endpoint,
		"NOTIFIER_NATS_URL":           &c.Events.NATSURL,
		"NOTIFIER_HTTP_ADDR":          &c.Server.HTTPAddr,
		"NOTIFIER_GRPC_ADDR":          &c.Server.GRPCAddr,
		"NOTIFIER_JWT_SECRET":         &c.Server.JWTSecret,
		"NOTIFIER_OTLP_ENDPOINT":      &c.Tracing.OTLPEndpoint,
		"NOTIFIER_LOG_LEVEL":          &c.Logging.Level,
		"NOTIFIER_LOG_FILE":           &c.Logging.File,
	}
	for key, dst := range setString {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("IS_DEVELOPMENT"); v != "" {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parse IS_DEVELOPMENT: %w", err)
		}
		c.Ledger.IC.FetchRootKey = dev
	}
	if v := os.Getenv("NOTIFIER_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse NOTIFIER_WORKERS: %w", err)
		}
		c.Dispatch.Workers = n
	}
	return nil
}
