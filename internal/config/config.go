// Package config loads the OMS's environment-variable configuration,
// following the teacher's common/config.GetEnv/MustGetEnv shape and
// layering github.com/joho/godotenv for local .env files.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// GetEnv retrieves an environment variable or returns a default value.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// MustGetEnv retrieves an environment variable or panics if not set.
func MustGetEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic("Required environment variable not set: " + key)
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	return time.Duration(getEnvInt(key, int(defaultValue/time.Second))) * time.Second
}

// splitCSV splits a comma-separated environment value into its trimmed,
// non-empty parts. An empty input yields an empty (nil) slice.
func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Config is the complete set of OMS process parameters, loaded once at
// startup in cmd/omsd.
type Config struct {
	FrontendEndpoint       string
	BackendEndpoint        string
	BackendConnectEndpoint string
	NumWorkers             int
	Brokers                []string
	MySQLDSN               string
	InstrumentConfigPath   string
	ReconnectInterval      time.Duration
	PingInterval           time.Duration
	HeartbeatInterval      time.Duration
	HeartbeatLiveness      int
	StopCheckInterval      time.Duration
	RollWaitTimeout        time.Duration
	OTLPEndpoint           string
	MetricsPort            string
	LogLevel               string
}

// Load reads .env (if present) then the environment into a Config,
// mirroring orders/main.go's env-var bootstrap.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		FrontendEndpoint:       GetEnv("OMS_FRONTEND_ENDPOINT", "tcp://*:5570"),
		BackendEndpoint:        GetEnv("OMS_BACKEND_ENDPOINT", "tcp://*:5571"),
		BackendConnectEndpoint: GetEnv("OMS_BACKEND_CONNECT_ENDPOINT", "tcp://127.0.0.1:5571"),
		NumWorkers:             getEnvInt("OMS_NUM_WORKERS", 8),
		Brokers:                splitCSV(GetEnv("OMS_BROKERS", "")),
		MySQLDSN:               GetEnv("OMS_MYSQL_DSN", "oms:oms@tcp(127.0.0.1:3306)/oms?parseTime=true"),
		InstrumentConfigPath:   GetEnv("OMS_INSTRUMENT_CONFIG", "instruments.yml"),
		ReconnectInterval:      getEnvSeconds("OMS_RECONNECT_INTERVAL_SEC", 10*time.Second),
		PingInterval:           getEnvSeconds("OMS_PING_INTERVAL_SEC", 5*time.Second),
		HeartbeatInterval:      getEnvSeconds("OMS_HEARTBEAT_INTERVAL_SEC", 15*time.Second),
		HeartbeatLiveness:      getEnvInt("OMS_HEARTBEAT_LIVENESS", 5),
		StopCheckInterval:      getEnvSeconds("OMS_STOP_CHECK_INTERVAL_SEC", 300*time.Second),
		RollWaitTimeout:        getEnvSeconds("OMS_ROLL_WAIT_TIMEOUT_SEC", 30*time.Second),
		OTLPEndpoint:           GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		MetricsPort:            GetEnv("METRICS_PORT", "9090"),
		LogLevel:               GetEnv("LOG_LEVEL", "INFO"),
	}
}
