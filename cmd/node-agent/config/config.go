package config

import (
	"flag"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is the node-agent's configuration. Flags take precedence over
// environment variables; the environment (plus an optional .env file)
// provides the defaults.
type Config struct {
	Port                  string
	RuntimeDir            string
	CloudHypervisorBinary string
	QEMUBinary            string

	LogLevel          string
	LogMaxSize        string
	LogMaxFiles       int
	LogRotateInterval string

	OtelEnabled           bool
	OtelEndpoint          string
	OtelServiceName       string
	OtelServiceInstanceID string
	OtelInsecure          bool
	Version               string
	Env                   string
}

// Load reads configuration from command-line flags and the environment,
// loading a .env file if present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		QEMUBinary: getEnv("QEMU_BINARY", "/usr/bin/qemu-system-x86_64"),

		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogMaxSize:        getEnv("LOG_MAX_SIZE", "50MB"),
		LogMaxFiles:       getEnvInt("LOG_MAX_FILES", 1),
		LogRotateInterval: getEnv("LOG_ROTATE_INTERVAL", "5m"),

		OtelEnabled:           getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:          getEnv("OTEL_ENDPOINT", "127.0.0.1:4317"),
		OtelServiceName:       getEnv("OTEL_SERVICE_NAME", "qarax-node-agent"),
		OtelServiceInstanceID: getEnv("OTEL_SERVICE_INSTANCE_ID", getHostname()),
		OtelInsecure:          getEnvBool("OTEL_INSECURE", true),
		Version:               getEnv("VERSION", "unknown"),
		Env:                   getEnv("ENV", "unset"),
	}

	port := flag.Uint("port", uint(getEnvInt("PORT", 50051)), "node RPC listening port")
	runtimeDir := flag.String("runtime-dir", getEnv("RUNTIME_DIR", "/var/lib/qarax/vms"), "per-VM runtime directory root")
	chBinary := flag.String("cloud-hypervisor-binary", getEnv("CLOUD_HYPERVISOR_BINARY", "/usr/local/bin/cloud-hypervisor"), "cloud-hypervisor binary path")
	flag.Parse()

	cfg.Port = strconv.FormatUint(uint64(*port), 10)
	cfg.RuntimeDir = *runtimeDir
	cfg.CloudHypervisorBinary = *chBinary
	return cfg
}

func getHostname() string {
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
