package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	DatabaseURL string
	LogSQL      bool

	LogFormat string
	LogLevel  string

	// KafkaBrokers selects the kafka notification queue, an in-process queue is used when empty.
	KafkaBrokers []string
	// ElasticsearchURL enables the audit event index.
	ElasticsearchURL string

	// NotificationRate limits deliveries per second of the notification worker.
	NotificationRate  float64
	NotificationBurst int

	TracingEnabled bool
}

// Load reads configuration from the environment, after loading .env files when present.
// Variables already set in the environment win over file values.
func Load(envFiles ...string) *Config {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			logrus.Warnf("failed to load env file %s: %v", f, err)
		}
	}

	return &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		LogSQL:            os.Getenv("DATABASE_LOG_SQL") == "true",
		LogFormat:         getOrDefault("LOG_FORMAT", "text"),
		LogLevel:          getOrDefault("LOG_LEVEL", "info"),
		KafkaBrokers:      splitList(os.Getenv("KAFKA_BROKERS")),
		ElasticsearchURL:  os.Getenv("ELASTICSEARCH_URL"),
		NotificationRate:  parseFloat("NOTIFICATION_RATE", 10),
		NotificationBurst: int(parseFloat("NOTIFICATION_BURST", 20)),
		TracingEnabled:    os.Getenv("TRACING_ENABLED") == "true",
	}
}

func getOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func parseFloat(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logrus.Warnf("invalid value of %s: %s, using %v", key, v, defaultValue)
		return defaultValue
	}
	return f
}

func splitList(v string) []string {
	var items []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
