package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestFacadeUsableBeforeInit(t *testing.T) {
	assert.NotNil(t, Log)
	assert.NotNil(t, Sugar)

	// must not panic even though Init never ran
	assert.NotPanics(t, func() {
		Debug("debug message")
		Info("info message", zap.String("key", "value"))
		Warn("warn message")
		Error("error message")
		Sugar.Infow("sugared", "key", "value")
	})
}

func TestInit(t *testing.T) {
	err := Init(&Config{Level: "debug", Format: "json"})
	assert.NoError(t, err)
	assert.NotNil(t, Log)
	assert.True(t, Log.Core().Enabled(zap.DebugLevel))

	err = Init(&Config{Level: "warn", Format: "text"})
	assert.NoError(t, err)
	assert.False(t, Log.Core().Enabled(zap.InfoLevel))
}

func TestFromContext(t *testing.T) {
	ctx := context.Background()
	assert.Same(t, Log, FromContext(ctx))

	ctx = WithRequestID(ctx, "req-123")
	assert.NotSame(t, Log, FromContext(ctx))
}
