package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	defaultBroker = "localhost:9092"
	testChannelID = "channel-123"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CHANNEL_ID", testChannelID)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "location-triggers", cfg.KafkaSourceTopic)
	assert.Equal(t, "audience-tag-updates", cfg.KafkaSinkTopic)
	assert.Equal(t, "geotrigger-bridge", cfg.KafkaGroupID)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.BatchFlushInterval)
	assert.Equal(t, 7*time.Second, cfg.TagExpiry)
	assert.Equal(t, 256, cfg.TagQueueSize)
	assert.Equal(t, testChannelID, cfg.ChannelID)
	assert.Equal(t, RegistrarKafka, cfg.Registrar)
	assert.Equal(t, ZoneSourceNone, cfg.ZoneSource)
	assert.Equal(t, 1000, cfg.ZoneCacheSize)
	assert.Equal(t, 5*time.Second, cfg.PointTimeout)
	assert.InDelta(t, 10.0, cfg.EngagementRPS, 0)
	assert.False(t, cfg.AutoAuthenticate)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_SOURCE_TOPIC", "custom-source")
	t.Setenv("KAFKA_SINK_TOPIC", "custom-sink")
	t.Setenv("KAFKA_GROUP_ID", "custom-group")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("BATCH_SIZE", "100")
	t.Setenv("BATCH_FLUSH_INTERVAL", "1s")
	t.Setenv("TAG_EXPIRY", "30s")
	t.Setenv("TAG_QUEUE_SIZE", "16")
	t.Setenv("CHANNEL_ID", testChannelID)
	t.Setenv("REGISTRAR", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("ZONE_SOURCE", "api")
	t.Setenv("POINT_URL", "https://point.test")
	t.Setenv("POINT_API_KEY", "key")
	t.Setenv("POINT_PACKAGE", "com.example.app")
	t.Setenv("POINT_USERNAME", "device-1")
	t.Setenv("POINT_TIMEOUT", "2s")
	t.Setenv("ZONE_CACHE_SIZE", "50")
	t.Setenv("AUTO_AUTHENTICATE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-source", cfg.KafkaSourceTopic)
	assert.Equal(t, "custom-sink", cfg.KafkaSinkTopic)
	assert.Equal(t, "custom-group", cfg.KafkaGroupID)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 1*time.Second, cfg.BatchFlushInterval)
	assert.Equal(t, 30*time.Second, cfg.TagExpiry)
	assert.Equal(t, 16, cfg.TagQueueSize)
	assert.Equal(t, RegistrarRedis, cfg.Registrar)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, ZoneSourceAPI, cfg.ZoneSource)
	assert.Equal(t, "https://point.test", cfg.PointURL)
	assert.Equal(t, "key", cfg.PointAPIKey)
	assert.Equal(t, "com.example.app", cfg.PointPackage)
	assert.Equal(t, "device-1", cfg.PointUsername)
	assert.Equal(t, 2*time.Second, cfg.PointTimeout)
	assert.Equal(t, 50, cfg.ZoneCacheSize)
	assert.True(t, cfg.AutoAuthenticate)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "missing channel", env: map[string]string{"CHANNEL_ID": ""}, want: "CHANNEL_ID"},
		{name: "invalid shutdown timeout", env: map[string]string{"SHUTDOWN_TIMEOUT": "not-a-duration"}, want: "SHUTDOWN_TIMEOUT"},
		{name: "negative shutdown timeout", env: map[string]string{"SHUTDOWN_TIMEOUT": "-1s"}, want: "SHUTDOWN_TIMEOUT"},
		{name: "invalid batch size", env: map[string]string{"BATCH_SIZE": "0"}, want: "BATCH_SIZE"},
		{name: "batch size too large", env: map[string]string{"BATCH_SIZE": "9999"}, want: "BATCH_SIZE"},
		{name: "invalid flush interval", env: map[string]string{"BATCH_FLUSH_INTERVAL": "nope"}, want: "BATCH_FLUSH_INTERVAL"},
		{name: "invalid tag expiry", env: map[string]string{"TAG_EXPIRY": "0s"}, want: "TAG_EXPIRY"},
		{name: "invalid queue size", env: map[string]string{"TAG_QUEUE_SIZE": "-3"}, want: "TAG_QUEUE_SIZE"},
		{name: "invalid cache size", env: map[string]string{"ZONE_CACHE_SIZE": "lots"}, want: "ZONE_CACHE_SIZE"},
		{name: "invalid point timeout", env: map[string]string{"POINT_TIMEOUT": "bad"}, want: "POINT_TIMEOUT"},
		{name: "invalid rps", env: map[string]string{"ENGAGEMENT_RPS": "0"}, want: "ENGAGEMENT_RPS"},
		{name: "invalid auto authenticate", env: map[string]string{"AUTO_AUTHENTICATE": "maybe"}, want: "AUTO_AUTHENTICATE"},
		{name: "unknown registrar", env: map[string]string{"REGISTRAR": "smtp"}, want: "REGISTRAR"},
		{name: "http registrar without url", env: map[string]string{"REGISTRAR": "http"}, want: "ENGAGEMENT_URL"},
		{name: "unknown zone source", env: map[string]string{"ZONE_SOURCE": "ldap"}, want: "ZONE_SOURCE"},
		{name: "file zone source without file", env: map[string]string{"ZONE_SOURCE": "file"}, want: "ZONE_FILE"},
		{name: "api zone source without key", env: map[string]string{"ZONE_SOURCE": "api"}, want: "POINT_API_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CHANNEL_ID", testChannelID)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
