package logger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestToZapFields(t *testing.T) {
	fields := toZapFields([]any{
		"url", "http://h/a.pdf",
		"error", errors.New("boom"),
		"took", time.Second,
		zap.Int("count", 3),
		"dangling",
	})

	require.Len(t, fields, 4)
	assert.Equal(t, "url", fields[0].Key)
	assert.Equal(t, zapcore.ErrorType, fields[1].Type)
	assert.Equal(t, zapcore.DurationType, fields[2].Type)
	assert.Equal(t, "count", fields[3].Key)
}

func TestWithCarriesFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := NewFromZap(zap.New(core)).With("cycle_id", "c1")

	log.Debug("hidden")
	log.Warn("download failed", "url", "http://h/a.pdf")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "c1", ctx["cycle_id"])
	assert.Equal(t, "http://h/a.pdf", ctx["url"])
}

func TestNewRejectsUnknownEncoding(t *testing.T) {
	_, err := New(Config{Encoding: "xml"})
	require.Error(t, err)

	log, err := New(Config{Level: "DEBUG", Encoding: "json"})
	require.NoError(t, err)
	assert.NotNil(t, log)
}

func TestGetLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, getLogLevel(" debug "))
	assert.Equal(t, zapcore.InfoLevel, getLogLevel("verbose"))
}
