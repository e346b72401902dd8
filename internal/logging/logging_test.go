package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"defaults", *NewDefaultConfig(), false},
		{"console format", Config{Level: "debug", Format: "console"}, false},
		{"bad format", Config{Level: "info", Format: "xml"}, true},
		{"bad level", Config{Level: "loud", Format: "json"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewLoggerRejectsInvalidConfig(t *testing.T) {
	_, err := NewLogger(&Config{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestNewLoggerNilConfigUsesDefaults(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestContextFieldRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, NamespaceFromContext(ctx))
	assert.Empty(t, SignalIDFromContext(ctx))
	assert.Empty(t, PhaseFromContext(ctx))

	ctx = WithNamespace(ctx, "demo")
	ctx = WithSignalID(ctx, "sig-1")
	ctx = WithPhase(ctx, "specification")

	assert.Equal(t, "demo", NamespaceFromContext(ctx))
	assert.Equal(t, "sig-1", SignalIDFromContext(ctx))
	assert.Equal(t, "specification", PhaseFromContext(ctx))
}

func TestContextFields(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))

	ctx := WithSignalID(WithNamespace(context.Background(), "demo"), "sig-1")
	fields := ContextFields(ctx)
	assert.Equal(t, []zap.Field{
		zap.String("namespace", "demo"),
		zap.String("signal.id", "sig-1"),
	}, fields)
}

func TestLoggerEmitsContextFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := &Logger{zap: zap.New(core)}

	ctx := WithNamespace(context.Background(), "demo")
	logger.Info(ctx, "signal accepted")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "signal accepted", entries[0].Message)
	assert.Equal(t, "demo", entries[0].ContextMap()["namespace"])
}

func TestNamedAndWith(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := (&Logger{zap: zap.New(core)}).Named("engine").With(zap.String("worker", "architect-basic"))

	logger.Info(context.Background(), "dispatched")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "engine", entries[0].LoggerName)
	assert.Equal(t, "architect-basic", entries[0].ContextMap()["worker"])
}
