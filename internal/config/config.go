package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Registrar backends for tag updates.
const (
	RegistrarKafka = "kafka"
	RegistrarRedis = "redis"
	RegistrarHTTP  = "http"
)

// Zone sources for enriching trigger events.
const (
	ZoneSourceNone = "none"
	ZoneSourceFile = "file"
	ZoneSourceAPI  = "api"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaSinkTopic   string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	// Tag publishing.
	TagExpiry    time.Duration
	TagQueueSize int
	ChannelID    string
	Registrar    string

	RedisAddr string

	EngagementURL   string
	EngagementToken string
	EngagementRPS   float64

	// Zone enrichment and location backend.
	ZoneSource    string
	ZoneFile      string
	ZoneCacheSize int

	PointURL      string
	PointAPIKey   string
	PointPackage  string
	PointUsername string
	PointTimeout  time.Duration

	AutoAuthenticate bool
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	tagExpiry, err := parsePositiveDuration("TAG_EXPIRY", "7s")
	if err != nil {
		return nil, err
	}

	pointTimeout, err := parsePositiveDuration("POINT_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	tagQueueSize, err := parsePositiveInt("TAG_QUEUE_SIZE", 256)
	if err != nil {
		return nil, err
	}

	zoneCacheSize, err := parsePositiveInt("ZONE_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}

	engagementRPS, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("ENGAGEMENT_RPS", "10"), 64)
	if err != nil || engagementRPS <= 0 {
		return nil, errors.New("invalid ENGAGEMENT_RPS")
	}

	autoAuth, err := strconv.ParseBool(sharedcfg.EnvOrDefault("AUTO_AUTHENTICATE", "false"))
	if err != nil {
		return nil, errors.New("invalid AUTO_AUTHENTICATE")
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "location-triggers"),
		KafkaSinkTopic:     sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "audience-tag-updates"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "geotrigger-bridge"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		TagExpiry:    tagExpiry,
		TagQueueSize: tagQueueSize,
		ChannelID:    os.Getenv("CHANNEL_ID"),
		Registrar:    sharedcfg.EnvOrDefault("REGISTRAR", RegistrarKafka),

		RedisAddr: sharedcfg.EnvOrDefault("REDIS_ADDR", "localhost:6379"),

		EngagementURL:   os.Getenv("ENGAGEMENT_URL"),
		EngagementToken: os.Getenv("ENGAGEMENT_TOKEN"),
		EngagementRPS:   engagementRPS,

		ZoneSource:    sharedcfg.EnvOrDefault("ZONE_SOURCE", ZoneSourceNone),
		ZoneFile:      os.Getenv("ZONE_FILE"),
		ZoneCacheSize: zoneCacheSize,

		PointURL:      os.Getenv("POINT_URL"),
		PointAPIKey:   os.Getenv("POINT_API_KEY"),
		PointPackage:  os.Getenv("POINT_PACKAGE"),
		PointUsername: os.Getenv("POINT_USERNAME"),
		PointTimeout:  pointTimeout,

		AutoAuthenticate: autoAuth,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if c.KafkaSourceTopic == "" {
		return errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if c.ChannelID == "" {
		return errors.New("CHANNEL_ID is required")
	}

	switch c.Registrar {
	case RegistrarKafka:
		if c.KafkaSinkTopic == "" {
			return errors.New("KAFKA_SINK_TOPIC is required when REGISTRAR is kafka")
		}
	case RegistrarRedis:
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when REGISTRAR is redis")
		}
	case RegistrarHTTP:
		if c.EngagementURL == "" {
			return errors.New("ENGAGEMENT_URL is required when REGISTRAR is http")
		}
	default:
		return fmt.Errorf("invalid REGISTRAR %q", c.Registrar)
	}

	switch c.ZoneSource {
	case ZoneSourceNone:
	case ZoneSourceFile:
		if c.ZoneFile == "" {
			return errors.New("ZONE_FILE is required when ZONE_SOURCE is file")
		}
	case ZoneSourceAPI:
		if c.PointURL == "" || c.PointAPIKey == "" {
			return errors.New("POINT_URL and POINT_API_KEY are required when ZONE_SOURCE is api")
		}
	default:
		return fmt.Errorf("invalid ZONE_SOURCE %q", c.ZoneSource)
	}
	return nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parsePositiveInt(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return n, nil
}
