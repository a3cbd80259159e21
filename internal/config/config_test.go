package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"DEPLOYMENT_ENV", "ENVIRONMENT", "LOG_LEVEL", "OTEL_EXPORTER_OTLP_PROTOCOL",
		"OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "SCHEDULER_JOBS", "KAFKA_BROKERS", "REDIS_ADDR",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "paycore", cfg.AppName)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "grpc", cfg.OTLPProtocol)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQueryThreshold)
	assert.Equal(t, 5*time.Minute, cfg.WebhookTolerance)
	assert.Equal(t, 30*time.Second, cfg.SchedulerInterval)
	assert.Empty(t, cfg.SchedulerJobs)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.True(t, cfg.SchedulerEnabled)
	assert.False(t, cfg.IsProduction())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "staging")
	t.Setenv("DEPLOYMENT_ENV", "Production")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP/protobuf")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("SCHEDULER_JOBS", "retry_dispatch")
	t.Setenv("SCHEDULER_ENABLED", "off")
	t.Setenv("WEBHOOK_TOLERANCE_SECONDS", "60")

	cfg := Load()

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "http/protobuf", cfg.OTLPProtocol)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"retry_dispatch"}, cfg.SchedulerJobs)
	assert.False(t, cfg.SchedulerEnabled)
	assert.Equal(t, time.Minute, cfg.WebhookTolerance)
}
