package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"controlroom/internal/classify"
	"controlroom/internal/consolidate"
	"controlroom/internal/controlroom"
	"controlroom/internal/publish"
	"controlroom/internal/store"
)

const (
	defaultPort     = ":8090"
	defaultStore    = "outputs"
	defaultAuditDir = "tmp/audit"
	defaultTable    = "control_room_snapshots"
	// defaultArtifactGlob matches the snapshot files producers emit for the
	// control room and skips their domain outputs in the same tree.
	defaultArtifactGlob = "control_room_snapshot*.json"
)

type Config struct {
	Port  string
	Store StoreConfig

	PollInterval    time.Duration
	StalenessWindow time.Duration
	PassTimeout     time.Duration
	ReadTimeout     time.Duration
	ReadConcurrency int
	HistoryLimit    int

	PolicyFile string
	Policy     Policy

	AuditDir string
	Kafka    publish.KafkaConfig

	LogLevel  string
	LogFormat string
}

type StoreConfig struct {
	Location string
	Table    string
	S3       store.S3Config
	Cache    store.CacheConfig
	Filter   store.Filter
}

// Open returns the store options for store.Open.
func (s StoreConfig) Open() store.OpenConfig {
	return store.OpenConfig{Location: s.Location, S3: s.S3, Table: s.Table, Cache: s.Cache, Filter: s.Filter}
}

// Load reads .env (when present), the environment and the policy file. Any
// malformed value is an error; a bad threshold rule is a
// *snapshot.ClassificationConfigError.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var errs []string
	dur := func(name string, def time.Duration) time.Duration {
		d, err := envDuration(name, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return d
	}
	num := func(name string, def int) int {
		n, err := envInt(name, def)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return n
	}

	cfg := &Config{
		Port: resolvePort(os.Getenv("PORT")),
		Store: StoreConfig{
			Location: firstNonEmpty(env("CONTROLROOM_STORE"), defaultStore),
			Table:    firstNonEmpty(env("CONTROLROOM_PG_TABLE"), defaultTable),
			S3:       loadS3Config(),
			Cache: store.CacheConfig{
				TTL:        dur("CONTROLROOM_CACHE_TTL", store.DefaultCacheConfig().TTL),
				MaxEntries: num("CONTROLROOM_CACHE_MAX_ENTRIES", store.DefaultCacheConfig().MaxEntries),
			},
			Filter: store.Filter{
				Glob:     firstNonEmpty(env("CONTROLROOM_ARTIFACT_GLOB"), defaultArtifactGlob),
				MaxBytes: int64(num("CONTROLROOM_MAX_ARTIFACT_BYTES", int(store.DefaultMaxArtifactBytes))),
			},
		},
		PollInterval:    dur("CONTROLROOM_POLL_INTERVAL", controlroom.DefaultPollInterval),
		StalenessWindow: dur("CONTROLROOM_STALENESS_WINDOW", consolidate.DefaultWindow),
		PassTimeout:     dur("CONTROLROOM_PASS_TIMEOUT", controlroom.DefaultPassTimeout),
		ReadTimeout:     dur("CONTROLROOM_READ_TIMEOUT", controlroom.DefaultReadTimeout),
		ReadConcurrency: num("CONTROLROOM_READ_CONCURRENCY", controlroom.DefaultReadConcurrency),
		HistoryLimit:    num("CONTROLROOM_HISTORY_LIMIT", controlroom.DefaultHistoryLimit),
		PolicyFile:      env("CONTROLROOM_POLICY_FILE"),
		AuditDir:        firstNonEmpty(env("CONTROLROOM_AUDIT_DIR"), defaultAuditDir),
		Kafka: publish.KafkaConfig{
			Brokers:   splitList(env("KAFKA_BROKERS")),
			ViewTopic: firstNonEmpty(env("KAFKA_VIEW_TOPIC"), publish.DefaultViewTopic),
			DLQTopic:  firstNonEmpty(env("KAFKA_DLQ_TOPIC"), publish.DefaultDLQTopic),
		},
		LogLevel:  firstNonEmpty(env("LOG_LEVEL"), "info"),
		LogFormat: firstNonEmpty(env("LOG_FORMAT"), "text"),
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	if err := cfg.ReloadPolicy(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReloadPolicy reads PolicyFile, or installs the default policy when unset.
// It also applies the environment overrides that refine the policy.
func (c *Config) ReloadPolicy() error {
	p := DefaultPolicy()
	if strings.TrimSpace(c.PolicyFile) != "" {
		loaded, err := LoadPolicy(c.PolicyFile)
		if err != nil {
			return err
		}
		p = loaded
	}
	if p.Staleness.Default <= 0 {
		p.Staleness.Default = c.StalenessWindow
	}
	if raw := env("CONTROLROOM_ASSUME_UTC"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("config: CONTROLROOM_ASSUME_UTC: %w", err)
		}
		p.AssumeUTC = v
	}
	c.Policy = p
	return nil
}

// Validate checks cross-field constraints after flag overrides.
func (c *Config) Validate() error {
	switch {
	case c.PollInterval <= 0:
		return fmt.Errorf("config: poll interval must be positive")
	case c.PassTimeout <= 0 || c.ReadTimeout <= 0:
		return fmt.Errorf("config: timeouts must be positive")
	case c.ReadConcurrency <= 0:
		return fmt.Errorf("config: read concurrency must be positive")
	case c.HistoryLimit <= 0:
		return fmt.Errorf("config: history limit must be positive")
	case strings.TrimSpace(c.Store.Location) == "":
		return fmt.Errorf("config: store location is empty")
	}
	if _, _, _, err := store.ParseLocation(c.Store.Location); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Store.Filter.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return c.Policy.Thresholds.Validate()
}

// ClassifierPolicy is a convenience for building the classifier.
func (c *Config) ClassifierPolicy() classify.Policy { return c.Policy.Thresholds }

func loadS3Config() store.S3Config {
	return store.S3Config{
		Endpoint:  firstNonEmpty(env("CONTROLROOM_S3_ENDPOINT"), env("MINIO_ENDPOINT"), "localhost:9000"),
		Region:    firstNonEmpty(env("CONTROLROOM_S3_REGION"), "us-east-1"),
		AccessKey: firstNonEmpty(env("CONTROLROOM_S3_ACCESS_KEY"), env("MINIO_ROOT_USER")),
		SecretKey: firstNonEmpty(env("CONTROLROOM_S3_SECRET_KEY"), env("MINIO_ROOT_PASSWORD")),
		UseSSL:    envBool("CONTROLROOM_S3_USE_SSL", false),
	}
}

func resolvePort(raw string) string {
	p := strings.TrimSpace(raw)
	if p == "" {
		return defaultPort
	}
	if strings.HasPrefix(p, ":") || strings.Contains(p, ":") {
		return p
	}
	return ":" + p
}

func env(name string) string {
	return strings.TrimSpace(os.Getenv(name))
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	raw := env(name)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return def, fmt.Errorf("%s: must be positive, got %s", name, raw)
	}
	return d, nil
}

func envInt(name string, def int) (int, error) {
	raw := env(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def, fmt.Errorf("%s: %w", name, err)
	}
	if n <= 0 {
		return def, fmt.Errorf("%s: must be positive, got %d", name, n)
	}
	return n, nil
}

func envBool(name string, def bool) bool {
	raw := env(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
