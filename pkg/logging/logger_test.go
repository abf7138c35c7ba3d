package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &Config{
				Level:       "info",
				Format:      "json",
				Output:      "stdout",
				ServiceName: "test-service",
				Version:     "1.0.0",
			},
			wantErr: false,
		},
		{
			name: "invalid log level",
			config: &Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
			wantErr: true,
		},
		{
			name: "invalid format",
			config: &Config{
				Level:  "info",
				Format: "invalid",
				Output: "stdout",
			},
			wantErr: true,
		},
		{
			name:    "nil config uses defaults",
			config:  nil,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, logger)
			}
		})
	}
}

func newBufferedLogger(t *testing.T, level string) (*Logger, *bytes.Buffer) {
	t.Helper()

	logger, err := NewLogger(&Config{
		Level:       level,
		Format:      "json",
		Output:      "stdout",
		ServiceName: "test-service",
		Version:     "1.0.0",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	return logger, &buf
}

func TestLogger_WithContext(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	ctx = WithRequestID(ctx, "test-request-id")

	logger.WithContext(ctx).Info("test message")

	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "test-correlation-id", logEntry["correlation_id"])
	assert.Equal(t, "test-request-id", logEntry["request_id"])
	assert.Equal(t, "test-service", logEntry["service"])
	assert.Equal(t, "1.0.0", logEntry["version"])
	assert.Equal(t, "test message", logEntry["message"])
}

func TestLogger_LogRequest(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	logger.LogRequest(ctx, "GET", "/api/test", "127.0.0.1", 200, 100*time.Millisecond)

	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "GET", logEntry["http_method"])
	assert.Equal(t, "/api/test", logEntry["http_path"])
	assert.Equal(t, float64(200), logEntry["http_status"])
	assert.Equal(t, "127.0.0.1", logEntry["client_ip"])
	assert.Equal(t, float64(100), logEntry["response_time_ms"])
}

func TestLogger_LogDegradedMode(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	logger.LogDegradedMode(context.Background(), "rate_limiter", "redis unreachable")

	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "warning", logEntry["level"])
	assert.Equal(t, "rate_limiter", logEntry["component"])
	assert.Equal(t, "redis unreachable", logEntry["reason"])
	assert.Equal(t, true, logEntry["degraded"])
}

func TestLogger_LogError(t *testing.T) {
	logger, buf := newBufferedLogger(t, "debug")

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	logger.LogError(ctx, assert.AnError, "test error message", logrus.Fields{
		"component": "test-component",
	})

	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "test error message", logEntry["message"])
	assert.Equal(t, assert.AnError.Error(), logEntry["error"])
	assert.Equal(t, "test-component", logEntry["component"])
	assert.Contains(t, logEntry, "stack_trace")
}

func TestCorrelationIDFunctions(t *testing.T) {
	id1 := NewCorrelationID()
	id2 := NewCorrelationID()
	assert.NotEmpty(t, id1)
	assert.NotEmpty(t, id2)
	assert.NotEqual(t, id1, id2)

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")
	assert.Equal(t, "test-correlation-id", GetCorrelationID(ctx))

	assert.Empty(t, GetCorrelationID(context.Background()))
}

func TestLogger_WithFields(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	logger.WithFields(logrus.Fields{
		"custom_field": "custom_value",
		"number_field": 42,
	}).Info("test message with fields")

	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, "custom_value", logEntry["custom_field"])
	assert.Equal(t, float64(42), logEntry["number_field"])
	assert.Equal(t, "test-service", logEntry["service"])
}

func TestLogger_WithError(t *testing.T) {
	logger, buf := newBufferedLogger(t, "info")

	logger.WithError(assert.AnError).Error("error occurred")

	var logEntry map[string]interface{}
	err := json.Unmarshal(buf.Bytes(), &logEntry)
	require.NoError(t, err)

	assert.Equal(t, assert.AnError.Error(), logEntry["error"])
	assert.Contains(t, logEntry["error_type"], "errors.errorString")
}

func TestLogger_TextFormat(t *testing.T) {
	logger, err := NewLogger(&Config{
		Level:       "info",
		Format:      "text",
		Output:      "stdout",
		ServiceName: "test-service",
		Version:     "1.0.0",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	logger.SetOutput(&buf)

	logger.WithFields(logrus.Fields{
		"test_field": "test_value",
	}).Info("test message")

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "test_field=test_value")
	assert.Contains(t, output, "service=test-service")
}

func BenchmarkLogger_WithContext(b *testing.B) {
	logger, err := NewLogger(&Config{
		Level:       "info",
		Format:      "json",
		Output:      "stdout",
		ServiceName: "test-service",
		Version:     "1.0.0",
	})
	require.NoError(b, err)
	logger.SetOutput(&bytes.Buffer{})

	ctx := WithCorrelationID(context.Background(), "test-correlation-id")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		logger.WithContext(ctx).Info("benchmark message")
	}
}
