package logging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	apperrors "github.com/turtacn/EpiExtract/pkg/errors"
)

func newTestLogger(t *testing.T) (Logger, *zaptest.Buffer) {
	t.Helper()
	buf := &zaptest.Buffer{}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), buf, zapcore.DebugLevel)
	return NewLoggerFromCore(core), buf
}

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		l, err := NewLogger(LogConfig{Level: LevelDebug, Format: format, OutputPaths: []string{"stdout"}})
		require.NoError(t, err, format)
		assert.NotNil(t, l)
	}
}

func TestNewLogger_EmptyOutputPathsRejected(t *testing.T) {
	l, err := NewLogger(LogConfig{OutputPaths: []string{}})
	assert.Error(t, err)
	assert.Nil(t, l)
}

func TestNewDefaultLoggers_NotNil(t *testing.T) {
	assert.NotNil(t, NewDefaultLogger())
	assert.NotNil(t, NewDevelopmentLogger())
}

func TestNopLogger_ReturnsSelf(t *testing.T) {
	n := NewNopLogger()
	n.Debug("x")
	n.Info("x")
	n.Warn("x")
	n.Error("x")
	assert.Equal(t, n, n.With(String("k", "v")))
	assert.Equal(t, n, n.WithContext(context.Background()))
	assert.Equal(t, n, n.WithError(errors.New("e")))
	assert.Equal(t, n, n.Named("child"))
	assert.NoError(t, n.Sync())
}

func TestZapLogger_WritesLevelsAndFields(t *testing.T) {
	l, buf := newTestLogger(t)

	l.Debug("debug entry", Int("tokens", 12))
	l.Info("info entry", String("tier", "infections"))
	l.Warn("warn entry", Bool("strict", true))
	l.Error("error entry", Duration("elapsed", time.Second))

	out := buf.String()
	assert.Contains(t, out, `"msg":"debug entry"`)
	assert.Contains(t, out, `"tokens":12`)
	assert.Contains(t, out, `"tier":"infections"`)
	assert.Contains(t, out, `"strict":true`)
	assert.Contains(t, out, `"level":"error"`)
}

func TestZapLogger_WithContext_AddsRequestID(t *testing.T) {
	l, buf := newTestLogger(t)

	ctx := ContextWithRequestID(context.Background(), "req-42")
	l.WithContext(ctx).Info("handled")

	assert.Contains(t, buf.String(), `"request_id":"req-42"`)
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
}

func TestZapLogger_WithError_AppErrorCode(t *testing.T) {
	l, buf := newTestLogger(t)

	err := apperrors.New(apperrors.ErrCodeInvalidSpan, "bad offsets")
	l.WithError(err).Error("rejected document")

	out := buf.String()
	assert.Contains(t, out, "bad offsets")
	assert.Contains(t, out, `"error_code":"DOC_003"`)
}

func TestZapLogger_Named(t *testing.T) {
	l, buf := newTestLogger(t)
	l.Named("incident").Info("table classified")
	assert.Contains(t, buf.String(), `"logger":"incident"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("verbose"))
}

func TestLogOperationDuration_SlowOperationWarns(t *testing.T) {
	l, buf := newTestLogger(t)

	LogOperationDuration(l, "annotate", time.Now().Add(-2*time.Second), time.Second)
	assert.Contains(t, buf.String(), `"msg":"slow operation"`)

	buf.Reset()
	LogOperationDuration(l, "annotate", time.Now(), time.Hour)
	assert.Contains(t, buf.String(), `"msg":"operation completed"`)
}

func TestSetDefault(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	l, _ := newTestLogger(t)
	SetDefault(l)
	assert.Equal(t, l, Default())

	SetDefault(nil)
	assert.Equal(t, l, Default())
}

func TestSetLevel(t *testing.T) {
	l, err := NewLogger(LogConfig{Level: LevelInfo, OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	child := l.Named("child").With(String("k", "v"))

	assert.True(t, SetLevel(child, LevelDebug))
	assert.Equal(t, zapcore.DebugLevel, l.(*zapLogger).level.Level())

	assert.False(t, SetLevel(NewNopLogger(), LevelDebug))
	assert.False(t, SetLevel(NewLoggerFromCore(zapcore.NewNopCore()), LevelDebug))
}
