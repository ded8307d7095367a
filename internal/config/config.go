package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	PersistenceMemory   = "memory"
	PersistencePostgres = "postgres"
	PersistenceSQLite   = "sqlite"
)

type Config struct {
	HTTPAddr   string `yaml:"http_addr"`
	GRPCAddr   string `yaml:"grpc_addr"`
	ThriftAddr string `yaml:"thrift_addr"`

	JWTSecret string        `yaml:"jwt_secret"`
	JWTTTL    time.Duration `yaml:"jwt_ttl"`

	Persistence    string `yaml:"persistence"`
	DatabaseURL    string `yaml:"database_url"`
	SQLitePath     string `yaml:"sqlite_path"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`

	NATSEnabled          bool   `yaml:"nats_enabled"`
	NATSURL              string `yaml:"nats_url"`
	TelemetrySubject     string `yaml:"telemetry_subject"`
	CommandSubjectPrefix string `yaml:"command_subject_prefix"`
	EventsSubject        string `yaml:"events_subject"`

	OutboxEnabled  bool          `yaml:"outbox_enabled"`
	OutboxInterval time.Duration `yaml:"outbox_poll_interval"`
	OutboxBatch    int           `yaml:"outbox_batch_size"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Fleet Fleet `yaml:"fleet"`
}

// Fleet holds the engine thresholds and sizes.
type Fleet struct {
	DegradedAfter     time.Duration `yaml:"degraded_after"`
	LostAfter         time.Duration `yaml:"lost_after"`
	LostCriticalAfter time.Duration `yaml:"lost_critical_after"`
	EvictAfter        time.Duration `yaml:"evict_after"`
	CriticalBattery   float64       `yaml:"critical_battery"`
	WeakSignal        float64       `yaml:"weak_signal"`
	CommandTimeout    time.Duration `yaml:"command_timeout"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
	MailboxSize       int           `yaml:"mailbox_size"`
	SubscriberBacklog int           `yaml:"subscriber_backlog"`
	AlertBuffer       int           `yaml:"alert_buffer"`
	CruiseSpeedMPS    float64       `yaml:"cruise_speed_mps"`
}

// Load builds the server configuration from the environment, an optional
// YAML file (--config or FLEET_CONFIG) and command-line flags, in that
// order of precedence from lowest to highest.
func Load(args []string) (Config, error) {
	cfg, err := load("fleet-server", args)
	if err != nil {
		return cfg, err
	}
	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("JWT_SECRET is required")
	}
	return cfg, nil
}

// LoadWorker loads the outbox relay configuration, which needs Postgres
// and NATS but no API secrets.
func LoadWorker(args []string) (Config, error) {
	cfg, err := load("fleet-worker", args)
	if err != nil {
		return cfg, err
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func load(name string, args []string) (Config, error) {
	cfg := fromEnv()

	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configPath := flagSet.String("config", getString("FLEET_CONFIG", ""), "path to a YAML config file")
	httpAddr := flagSet.String("http-addr", "", "HTTP listen address")
	grpcAddr := flagSet.String("grpc-addr", "", "gRPC listen address")
	thriftAddr := flagSet.String("thrift-addr", "", "Thrift listen address")
	persistence := flagSet.String("persistence", "", "history store: memory, postgres or sqlite")
	logLevel := flagSet.String("log-level", "", "debug, info, warn or error")
	if err := flagSet.Parse(args); err != nil {
		return cfg, err
	}

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", *configPath, err)
		}
	}

	if flagSet.Changed("http-addr") {
		cfg.HTTPAddr = *httpAddr
	}
	if flagSet.Changed("grpc-addr") {
		cfg.GRPCAddr = *grpcAddr
	}
	if flagSet.Changed("thrift-addr") {
		cfg.ThriftAddr = *thriftAddr
	}
	if flagSet.Changed("persistence") {
		cfg.Persistence = *persistence
	}
	if flagSet.Changed("log-level") {
		cfg.LogLevel = *logLevel
	}
	return cfg, cfg.validate()
}

func fromEnv() Config {
	var cfg Config
	cfg.HTTPAddr = getString("HTTP_ADDR", ":8080")
	cfg.GRPCAddr = getString("GRPC_ADDR", ":9090")
	cfg.ThriftAddr = getString("THRIFT_ADDR", ":9091")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.JWTTTL = getDuration("JWT_TTL", time.Hour)
	cfg.Persistence = getString("PERSISTENCE", PersistenceMemory)
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.SQLitePath = getString("SQLITE_PATH", "fleet.db")
	cfg.MigrateOnStart = getBool("MIGRATE_ON_START", true)
	cfg.NATSEnabled = getBool("NATS_ENABLED", false)
	cfg.NATSURL = getString("NATS_URL", "nats://127.0.0.1:4222")
	cfg.TelemetrySubject = getString("TELEMETRY_SUBJECT", "fleet.telemetry")
	cfg.CommandSubjectPrefix = getString("COMMAND_SUBJECT_PREFIX", "fleet.commands")
	cfg.EventsSubject = getString("EVENTS_SUBJECT", "fleet.events")
	cfg.OutboxEnabled = getBool("OUTBOX_ENABLED", true)
	cfg.OutboxInterval = getDuration("OUTBOX_POLL_INTERVAL", time.Second)
	cfg.OutboxBatch = getInt("OUTBOX_BATCH_SIZE", 50)
	cfg.LogLevel = getString("LOG_LEVEL", "info")
	cfg.LogFormat = getString("LOG_FORMAT", "json")

	cfg.Fleet.DegradedAfter = getDuration("DEGRADED_AFTER", 5*time.Second)
	cfg.Fleet.LostAfter = getDuration("LOST_AFTER", 15*time.Second)
	cfg.Fleet.LostCriticalAfter = getDuration("LOST_CRITICAL_AFTER", 0)
	cfg.Fleet.EvictAfter = getDuration("EVICT_AFTER", 0)
	cfg.Fleet.CriticalBattery = getFloat("CRITICAL_BATTERY", 15)
	cfg.Fleet.WeakSignal = getFloat("WEAK_SIGNAL", 20)
	cfg.Fleet.CommandTimeout = getDuration("COMMAND_TIMEOUT", 30*time.Second)
	cfg.Fleet.TickInterval = getDuration("TICK_INTERVAL", time.Second)
	cfg.Fleet.SnapshotInterval = getDuration("SNAPSHOT_INTERVAL", time.Second)
	cfg.Fleet.MailboxSize = getInt("MAILBOX_SIZE", 256)
	cfg.Fleet.SubscriberBacklog = getInt("SUBSCRIBER_BACKLOG", 16)
	cfg.Fleet.AlertBuffer = getInt("ALERT_BUFFER", 1024)
	cfg.Fleet.CruiseSpeedMPS = getFloat("CRUISE_SPEED_MPS", 8)
	return cfg
}

func (c Config) validate() error {
	switch c.Persistence {
	case PersistenceMemory, PersistenceSQLite:
	case PersistencePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for postgres persistence")
		}
	default:
		return fmt.Errorf("unknown persistence %q", c.Persistence)
	}
	if c.Fleet.LostAfter <= c.Fleet.DegradedAfter {
		return fmt.Errorf("LOST_AFTER (%s) must exceed DEGRADED_AFTER (%s)", c.Fleet.LostAfter, c.Fleet.DegradedAfter)
	}
	if c.Fleet.MailboxSize <= 0 || c.Fleet.SubscriberBacklog <= 0 || c.Fleet.AlertBuffer <= 0 {
		return fmt.Errorf("mailbox, subscriber backlog and alert buffer sizes must be positive")
	}
	if c.OutboxBatch <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be positive")
	}
	return nil
}

// String renders the configuration for startup logs with secrets masked.
func (c Config) String() string {
	secret := ""
	if c.JWTSecret != "" {
		secret = "***"
	}
	dsn := c.DatabaseURL
	if i := strings.Index(dsn, "@"); i > 0 {
		if j := strings.Index(dsn, "://"); j > 0 && j+3 < i {
			dsn = dsn[:j+3] + "***" + dsn[i:]
		}
	}
	return fmt.Sprintf("http=%s grpc=%s thrift=%s persistence=%s db=%s jwt=%s nats=%t(%s) log=%s/%s",
		c.HTTPAddr, c.GRPCAddr, c.ThriftAddr, c.Persistence, dsn, secret, c.NATSEnabled, c.NATSURL, c.LogLevel, c.LogFormat)
}

func getString(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
