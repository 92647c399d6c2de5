package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ImageBackendGemini = "gemini"
	ImageBackendKIE    = "kie"

	PersistSQLite = "sqlite"
	PersistMySQL  = "mysql"
	PersistRedis  = "redis"
	PersistMemory = "memory"
)

// Config aggregates runtime configuration for the studio and its backends.
// Provider API keys are not part of it: they are read from the environment
// on every call.
type Config struct {
	ListenAddr  string
	AccessCodes []string
	BotToken    string

	GeminiTextModel  string
	GeminiImageModel string
	ImageBackend     string
	KIEBaseURL       string
	KIEModel         string
	RequestTimeout   time.Duration
	PageParallelism  int
	MaxSessions      int
	SessionIdleTTL   time.Duration

	PersistBackend    string
	SQLitePath        string
	MySQLDSN          string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisPrefix       string
	SnapshotCacheSize int

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables, applying sane defaults.
// A .env file is optional.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const defaultKIEBaseURL = "https://api.kie.ai"

	cfg := Config{
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		AccessCodes:       getList("ACCESS_CODES"),
		BotToken:          os.Getenv("TELEGRAM_BOT_TOKEN"),
		GeminiTextModel:   getEnv("GEMINI_TEXT_MODEL", "gemini-3-flash-preview"),
		GeminiImageModel:  getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		ImageBackend:      strings.ToLower(getEnv("IMAGE_BACKEND", ImageBackendGemini)),
		KIEBaseURL:        normalizeKIEBaseURL(getEnv("KIE_BASE_URL", defaultKIEBaseURL), defaultKIEBaseURL),
		KIEModel:          getEnv("KIE_MODEL", "nano-banana-pro"),
		RequestTimeout:    time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 120)),
		PageParallelism:   getInt("PAGE_PARALLELISM", 2),
		MaxSessions:       getInt("MAX_SESSIONS", 1000),
		SessionIdleTTL:    time.Minute * time.Duration(getInt("SESSION_IDLE_MINUTES", 120)),
		PersistBackend:    strings.ToLower(getEnv("PERSIST_BACKEND", PersistSQLite)),
		SQLitePath:        getEnv("SQLITE_PATH", filepath.Join("data", "studio.db")),
		MySQLDSN:          os.Getenv("MYSQL_DSN"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getInt("REDIS_DB", 0),
		RedisPrefix:       getEnv("REDIS_PREFIX", "studio"),
		SnapshotCacheSize: getInt("SNAPSHOT_CACHE_SIZE", 64),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3Region:          os.Getenv("S3_REGION"),
		S3AccessKey:       os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("S3_SECRET_KEY"),
		S3Bucket:          os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:   os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:    getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:          getEnv("S3_PREFIX", "mockup-references"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	switch c.ImageBackend {
	case ImageBackendGemini:
	case ImageBackendKIE:
		// KIE takes reference images by URL, so mockups need a bucket
		for key, v := range map[string]string{
			"S3_REGION":          c.S3Region,
			"S3_ACCESS_KEY":      c.S3AccessKey,
			"S3_SECRET_KEY":      c.S3SecretKey,
			"S3_BUCKET":          c.S3Bucket,
			"S3_PUBLIC_BASE_URL": c.S3PublicBaseURL,
		} {
			if v == "" {
				missing = append(missing, key)
			}
		}
	default:
		return fmt.Errorf("unknown IMAGE_BACKEND %q", c.ImageBackend)
	}

	switch c.PersistBackend {
	case PersistSQLite, PersistRedis, PersistMemory:
	case PersistMySQL:
		if c.MySQLDSN == "" {
			missing = append(missing, "MYSQL_DSN")
		}
	default:
		return fmt.Errorf("unknown PERSIST_BACKEND %q", c.PersistBackend)
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	return nil
}

// normalizeKIEBaseURL ensures we always hit the documented API host. The root
// kie.ai domain serves HTML instead of JSON.
func normalizeKIEBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	if parsed.Host == "kie.ai" {
		parsed.Host = "api.kie.ai"
	}

	return parsed.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getList splits a comma separated variable, dropping blanks.
func getList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
