package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string

	Store        StoreConfig
	Transport    TransportConfig
	RedisURL     string
	BuildLockTTL time.Duration

	GeometryURL     string
	GeometryTimeout time.Duration
	SegmentationURL string
	LayerBits       int

	Bulk    BulkConfig
	Refusal RefusalConfig
	// Aliases maps alternative dataset names to canonical names.
	Aliases map[string]string
}

type StoreConfig struct {
	Backend     string
	Prefix      string
	S3          S3Config
	DatabaseURL string
	DiskRoot    string
	// CacheEntries bounds the in-process blob cache; zero disables it.
	CacheEntries int
	CacheTTL     time.Duration
}

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type TransportConfig struct {
	Backend string
	NATSURL string
	Stream  string
}

type BulkConfig struct {
	MaxSynchronous int
	MaxAsync       int
	NumWorkers     int
	PerJobSeconds  int
}

type RefusalConfig struct {
	CacheTTL  time.Duration
	CacheSize int
}

const (
	BackendMinio    = "minio"
	BackendS3       = "s3"
	BackendPostgres = "postgres"
	BackendDisk     = "disk"
	BackendMemory   = "memory"

	TransportNATS   = "nats"
	TransportMemory = "memory"
)

// Load reads .env, then flags, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return load(os.Args[1:], os.Getenv)
}

func load(args []string, getenv func(string) string) (*Config, error) {
	fs := flag.NewFlagSet("skeletoncache", flag.ContinueOnError)
	port := fs.String("port", ":8081", "server port")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	env := func(key string) string { return strings.TrimSpace(getenv(key)) }

	if envPort := env("PORT"); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}
	appEnv := firstNonEmpty(env("APP_ENV"), "local")

	cfg := &Config{
		Port:      *port,
		Env:       appEnv,
		LogLevel:  firstNonEmpty(env("LOG_LEVEL"), "info"),
		LogFormat: firstNonEmpty(env("LOG_FORMAT"), "text"),
		Store:     loadStoreConfig(appEnv, env),
		Transport: TransportConfig{
			Backend: strings.ToLower(firstNonEmpty(env("TRANSPORT_BACKEND"), defaultTransport(env("NATS_URL")))),
			NATSURL: env("NATS_URL"),
			Stream:  firstNonEmpty(env("NATS_STREAM"), "SKELETON_REQUESTS"),
		},
		RedisURL:        env("REDIS_URL"),
		GeometryURL:     env("GEOMETRY_URL"),
		SegmentationURL: env("SEGMENTATION_URL"),
		Aliases:         parseAliases(env("DATASET_ALIASES")),
	}

	var err error
	ints := []struct {
		key string
		def int
		dst *int
	}{
		{"PCG_LAYER_BITS", 8, &cfg.LayerBits},
		{"BULK_MAX_SYNCHRONOUS", 10, &cfg.Bulk.MaxSynchronous},
		{"BULK_MAX_ASYNC", 10000, &cfg.Bulk.MaxAsync},
		{"NUM_WORKERS", 4, &cfg.Bulk.NumWorkers},
		{"PER_JOB_SECONDS", 60, &cfg.Bulk.PerJobSeconds},
		{"REFUSAL_CACHE_SIZE", 4096, &cfg.Refusal.CacheSize},
		{"ARTIFACT_CACHE_ENTRIES", 256, &cfg.Store.CacheEntries},
	}
	for _, f := range ints {
		if *f.dst, err = intEnv(env(f.key), f.def); err != nil {
			return nil, fmt.Errorf("%s: %w", f.key, err)
		}
	}
	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"BUILD_LOCK_TTL", 5 * time.Minute, &cfg.BuildLockTTL},
		{"GEOMETRY_TIMEOUT", 10 * time.Minute, &cfg.GeometryTimeout},
		{"REFUSAL_CACHE_TTL", 0, &cfg.Refusal.CacheTTL},
		{"ARTIFACT_CACHE_TTL", 5 * time.Minute, &cfg.Store.CacheTTL},
	}
	for _, f := range durations {
		if *f.dst, err = durationEnv(env(f.key), f.def); err != nil {
			return nil, fmt.Errorf("%s: %w", f.key, err)
		}
	}
	return cfg, nil
}

func loadStoreConfig(appEnv string, env func(string) string) StoreConfig {
	sc := StoreConfig{
		Backend:     strings.ToLower(firstNonEmpty(env("OBJECT_STORE_BACKEND"), defaultBackend(appEnv, env))),
		Prefix:      env("SKELETON_CACHE_PREFIX"),
		DatabaseURL: env("DATABASE_URL"),
		DiskRoot:    firstNonEmpty(env("DISK_ROOT"), "tmp/skeletons"),
		S3: S3Config{
			Endpoint:  resolveS3Endpoint(appEnv, env),
			Region:    firstNonEmpty(env("SKELETON_S3_REGION"), "us-east-1"),
			AccessKey: firstNonEmpty(env("SKELETON_S3_ACCESS_KEY"), env("MINIO_ROOT_USER")),
			SecretKey: firstNonEmpty(env("SKELETON_S3_SECRET_KEY"), env("MINIO_ROOT_PASSWORD")),
			Bucket:    firstNonEmpty(env("SKELETON_S3_BUCKET"), "skeleton-cache"),
			UseSSL:    resolveS3UseSSL(appEnv, env),
		},
	}
	if isLocal(appEnv) {
		sc.S3.AccessKey = firstNonEmpty(sc.S3.AccessKey, "skeletons")
		sc.S3.SecretKey = firstNonEmpty(sc.S3.SecretKey, "skeletons123")
	}
	return sc
}

func defaultBackend(appEnv string, env func(string) string) string {
	switch {
	case isLocal(appEnv):
		return BackendMinio
	case env("SKELETON_S3_ENDPOINT") != "":
		return BackendMinio
	case env("SKELETON_S3_BUCKET") != "":
		return BackendS3
	case env("DATABASE_URL") != "":
		return BackendPostgres
	default:
		return BackendMemory
	}
}

func defaultTransport(natsURL string) string {
	if natsURL != "" {
		return TransportNATS
	}
	return TransportMemory
}

func resolveS3Endpoint(appEnv string, env func(string) string) string {
	if isLocal(appEnv) {
		return firstNonEmpty(env("SKELETON_S3_ENDPOINT"), "minio:9000")
	}
	return env("SKELETON_S3_ENDPOINT")
}

func resolveS3UseSSL(appEnv string, env func(string) string) bool {
	if isLocal(appEnv) {
		return false
	}
	raw := env("SKELETON_S3_USE_SSL")
	if raw == "" {
		return true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

// parseAliases reads "alias=canonical,alias2=canonical".
func parseAliases(raw string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		alias, canonical, ok := strings.Cut(pair, "=")
		alias, canonical = strings.TrimSpace(alias), strings.TrimSpace(canonical)
		if !ok || alias == "" || canonical == "" {
			continue
		}
		out[alias] = canonical
	}
	return out
}

// Validate rejects settings the processes cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMinio:
		if c.Store.S3.Endpoint == "" {
			return fmt.Errorf("config: minio backend needs SKELETON_S3_ENDPOINT")
		}
	case BackendS3:
		if c.Store.S3.Bucket == "" {
			return fmt.Errorf("config: s3 backend needs SKELETON_S3_BUCKET")
		}
	case BackendPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("config: postgres backend needs DATABASE_URL")
		}
	case BackendDisk, BackendMemory:
	default:
		return fmt.Errorf("config: unknown OBJECT_STORE_BACKEND %q", c.Store.Backend)
	}
	switch c.Transport.Backend {
	case TransportNATS:
		if c.Transport.NATSURL == "" {
			return fmt.Errorf("config: nats transport needs NATS_URL")
		}
	case TransportMemory:
	default:
		return fmt.Errorf("config: unknown TRANSPORT_BACKEND %q", c.Transport.Backend)
	}
	if c.GeometryURL == "" {
		return fmt.Errorf("config: GEOMETRY_URL is required")
	}
	b := c.Bulk
	if b.MaxSynchronous <= 0 || b.MaxAsync <= 0 || b.NumWorkers <= 0 || b.PerJobSeconds <= 0 {
		return fmt.Errorf("config: bulk limits must be positive")
	}
	if c.LayerBits <= 0 || c.LayerBits >= 64 {
		return fmt.Errorf("config: PCG_LAYER_BITS must be between 1 and 63")
	}
	return nil
}

func isLocal(appEnv string) bool {
	return strings.EqualFold(strings.TrimSpace(appEnv), "local")
}

func intEnv(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func durationEnv(raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
