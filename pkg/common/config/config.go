package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64

	// Database
	DBDriver         string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	MySQLDSN         string
	SQLitePath       string
	// ConnectAttempts bounds startup retries against the database and Redis.
	ConnectAttempts int

	// Blob storage
	StorageBackend     string
	StorageBasePath    string
	GCSBucket          string
	GCSEndpoint        string
	GCSCredentialsFile string

	// Import pipeline
	ImportTransactional bool
	ImportIsolation     string
	ImportLockBackend   string
	ImportLockTTL       time.Duration

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers      []string
	ImportEventsTopic string
	ImportDLQTopic    string

	// HTTP
	CORSAllowedOrigins []string
	RateLimitRPS       int
	RateLimitBurst     int
}

// fileOverlay mirrors the keys accepted in CONFIG_FILE. Values found there act as
// defaults; environment variables still win.
type fileOverlay map[string]string

func Load() *Config {
	overlay := loadOverlay(os.Getenv("CONFIG_FILE"))

	get := func(key, def string) string {
		if v, ok := overlay[key]; ok && v != "" {
			def = v
		}
		return getEnv(key, def)
	}

	return &Config{
		ServerPort:     get("SERVER_PORT", "8080"),
		ServerHost:     get("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    parseDuration(get("READ_TIMEOUT", ""), 30*time.Second),
		WriteTimeout:   parseDuration(get("WRITE_TIMEOUT", ""), 60*time.Second),
		MaxRequestBody: int64(parseInt(get("MAX_REQUEST_BODY_BYTES", ""), 512*1024*1024)),

		DBDriver:         strings.ToLower(get("DB_DRIVER", "postgres")),
		PostgresHost:     get("POSTGRES_HOST", "localhost"),
		PostgresPort:     get("POSTGRES_PORT", "5432"),
		PostgresUser:     get("POSTGRES_USER", "dicom"),
		PostgresPassword: get("POSTGRES_PASSWORD", "dicom"),
		PostgresDB:       get("POSTGRES_DB", "dicom_catalog"),
		PostgresSSLMode:  get("POSTGRES_SSLMODE", "disable"),
		MySQLDSN:         get("MYSQL_DSN", ""),
		SQLitePath:       get("SQLITE_PATH", "dicom-catalog.db"),
		ConnectAttempts:  parseInt(get("CONNECT_ATTEMPTS", ""), 5),

		StorageBackend:     strings.ToLower(get("STORAGE_BACKEND", "local")),
		StorageBasePath:    get("STORAGE_BASE_PATH", "/tmp/dicom-storage"),
		GCSBucket:          get("GCS_BUCKET", "dicomfiles"),
		GCSEndpoint:        get("GCS_ENDPOINT", ""),
		GCSCredentialsFile: get("GCS_CREDENTIALS_FILE", ""),

		ImportTransactional: parseBool(get("IMPORT_TRANSACTIONAL", ""), true),
		ImportIsolation:     strings.ToLower(get("IMPORT_ISOLATION", "serializable")),
		ImportLockBackend:   strings.ToLower(get("IMPORT_LOCK_BACKEND", "none")),
		ImportLockTTL:       parseDuration(get("IMPORT_LOCK_TTL", ""), 30*time.Second),

		RedisHost:     get("REDIS_HOST", "localhost"),
		RedisPort:     get("REDIS_PORT", "6379"),
		RedisPassword: get("REDIS_PASSWORD", ""),
		RedisDB:       parseInt(get("REDIS_DB", ""), 0),

		KafkaBrokers:      parseList(get("KAFKA_BROKERS", "")),
		ImportEventsTopic: get("IMPORT_EVENTS_TOPIC", "dicom.instances"),
		ImportDLQTopic:    get("IMPORT_DLQ_TOPIC", ""),

		CORSAllowedOrigins: parseList(get("CORS_ALLOWED_ORIGINS", "")),
		RateLimitRPS:       parseInt(get("RATE_LIMIT_RPS", ""), 50),
		RateLimitBurst:     parseInt(get("RATE_LIMIT_BURST", ""), 100),
	}
}

func loadOverlay(path string) fileOverlay {
	if path == "" {
		return nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil
	}
	overlay := make(fileOverlay, len(raw))
	for k, v := range raw {
		key := strings.ToUpper(strings.ReplaceAll(k, ".", "_"))
		switch val := v.(type) {
		case []interface{}:
			parts := make([]string, 0, len(val))
			for _, p := range val {
				parts = append(parts, toString(p))
			}
			overlay[key] = strings.Join(parts, ",")
		default:
			overlay[key] = toString(val)
		}
	}
	return overlay
}

func toString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		out, err := yaml.Marshal(val)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(out))
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(value string, defaultValue int) int {
	if value == "" {
		return defaultValue
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if value == "" {
		return defaultValue
	}
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	return defaultValue
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if value == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	return defaultValue
}

func parseList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
