package logger_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/pharmacy-ledger/pkg/logger"
)

func TestScopedFields(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter("pharmacy-service", &buf, zerolog.DebugLevel)

	log.WithComponent("engine").
		WithBatch("b-1").
		WithActor("u-1", "pharmacist").
		WithRequestID("req-1").
		WithCorrelationID("corr-1").
		WithError(errors.New("boom")).
		Warn().Msg("movement rejected")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "pharmacy-service", line["service"])
	assert.Equal(t, "engine", line["component"])
	assert.Equal(t, "b-1", line["batch_id"])
	assert.Equal(t, "u-1", line["user_id"])
	assert.Equal(t, "pharmacist", line["role"])
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "corr-1", line["correlation_id"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "warn", line["level"])
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter("pharmacy-service", &buf, zerolog.InfoLevel)

	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Nop().Error().Msg("discarded")
}
