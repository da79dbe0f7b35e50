package testutil_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/internal/testutil"
)

func TestMockLogger(t *testing.T) {
	logger := testutil.NewMockLogger()

	logger.Info("test info", logging.String("key", "value"))

	messages := logger.GetMessages()
	assert.Len(t, messages, 1)
	assert.Equal(t, "info", messages[0].Level)
	assert.Equal(t, "test info", messages[0].Message)

	logger.Clear()
	assert.Len(t, logger.GetMessages(), 0)

	logger.Error("test error")
	assert.True(t, logger.HasMessage("error", "test error"))
	assert.False(t, logger.HasMessage("info", "test info"))
}

func TestMockLogger_ChildrenShareRecord(t *testing.T) {
	logger := testutil.NewMockLogger()
	ctx := logging.ContextWithRequestID(context.Background(), "req-1")

	logger.Named("http").Named("handler").
		With(logging.String("doc", "d1")).
		WithContext(ctx).
		WithError(errors.New("boom")).
		Warn("failed")

	require.Equal(t, 1, logger.Count())
	msg, ok := logger.Find("warn", "failed")
	require.True(t, ok)
	assert.Equal(t, "http.handler", msg.Logger)

	v, ok := msg.Field("doc")
	assert.True(t, ok)
	assert.Equal(t, "d1", v)
	v, _ = msg.Field("request_id")
	assert.Equal(t, "req-1", v)
	_, ok = msg.Field("missing")
	assert.False(t, ok)
}
