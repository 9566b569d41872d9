package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port               string
	DatabaseURL        string
	Timezone           string
	BridgeInterval     time.Duration
	PerPatientMinutes  int
	BaseWaitOverrides  map[string]int
	NotifyProvider     string
	NotifySendTimeout  time.Duration
	RateLimitPerMinute int
	RateLimitBurst     int
	OTLPEndpoint       string
	ServiceName        string
}

func Load() Config {
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	serviceName := os.Getenv("SERVICE_NAME")
	if serviceName == "" {
		serviceName = "queue-service"
	}

	return Config{
		Port:               port,
		DatabaseURL:        os.Getenv("DB_DSN"),
		Timezone:           os.Getenv("QUEUE_TIMEZONE"),
		BridgeInterval:     readDurationSeconds("BRIDGE_INTERVAL_SECONDS", 60),
		PerPatientMinutes:  readInt("PER_PATIENT_MINUTES", 5),
		BaseWaitOverrides:  readBaseWaitOverrides(),
		NotifyProvider:     os.Getenv("NOTIFY_PROVIDER"),
		NotifySendTimeout:  readDurationSeconds("NOTIFY_SEND_TIMEOUT_SECONDS", 5),
		RateLimitPerMinute: readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:     readInt("RATE_LIMIT_BURST", 30),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:        serviceName,
	}
}

// Location resolves QUEUE_TIMEZONE; the day boundary for queue numbers is
// midnight in this zone.
func (c Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// readBaseWaitOverrides collects BASE_WAIT_<DEPT> env vars into a department
// baseline map. BASE_WAIT_GENERAL_MEDICINE=18 overrides "general medicine".
func readBaseWaitOverrides() map[string]int {
	overrides := map[string]int{}
	for _, pair := range os.Environ() {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || !strings.HasPrefix(key, "BASE_WAIT_") {
			continue
		}
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			continue
		}
		dept := strings.ToLower(strings.TrimPrefix(key, "BASE_WAIT_"))
		dept = strings.ReplaceAll(dept, "_", " ")
		overrides[dept] = minutes
	}
	if len(overrides) == 0 {
		return nil
	}
	return overrides
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
