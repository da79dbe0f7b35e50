// Package testutil provides shared test helpers: a recording logger and
// disposable containers for integration tests.
package testutil

import (
	"context"
	"sync"

	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
)

// MockLogger implements logging.Logger and records every entry. Child
// loggers from With, Named and WithError share the parent's record.
type MockLogger struct {
	store  *logStore
	fields []logging.Field
	name   string
}

type logStore struct {
	mu       sync.Mutex
	messages []LogMessage
}

// LogMessage represents a single log entry captured by MockLogger.
type LogMessage struct {
	Level   string
	Logger  string
	Message string
	Fields  []logging.Field
}

// Field returns the value of the field named key, if present.
func (m LogMessage) Field(key string) (interface{}, bool) {
	for _, f := range m.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// NewMockLogger creates a new MockLogger instance.
func NewMockLogger() *MockLogger {
	return &MockLogger{store: &logStore{}}
}

func (m *MockLogger) log(level, msg string, fields []logging.Field) {
	all := make([]logging.Field, 0, len(m.fields)+len(fields))
	all = append(all, m.fields...)
	all = append(all, fields...)

	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	m.store.messages = append(m.store.messages, LogMessage{
		Level:   level,
		Logger:  m.name,
		Message: msg,
		Fields:  all,
	})
}

func (m *MockLogger) Debug(msg string, fields ...logging.Field) { m.log("debug", msg, fields) }
func (m *MockLogger) Info(msg string, fields ...logging.Field)  { m.log("info", msg, fields) }
func (m *MockLogger) Warn(msg string, fields ...logging.Field)  { m.log("warn", msg, fields) }
func (m *MockLogger) Error(msg string, fields ...logging.Field) { m.log("error", msg, fields) }
func (m *MockLogger) Fatal(msg string, fields ...logging.Field) { m.log("fatal", msg, fields) }

func (m *MockLogger) With(fields ...logging.Field) logging.Logger {
	child := *m
	child.fields = append(append([]logging.Field{}, m.fields...), fields...)
	return &child
}

func (m *MockLogger) WithContext(ctx context.Context) logging.Logger {
	if id := logging.RequestIDFromContext(ctx); id != "" {
		return m.With(logging.String("request_id", id))
	}
	return m
}

func (m *MockLogger) WithError(err error) logging.Logger {
	return m.With(logging.Err(err))
}

func (m *MockLogger) Named(name string) logging.Logger {
	child := *m
	if child.name != "" {
		child.name += "." + name
	} else {
		child.name = name
	}
	return &child
}

func (m *MockLogger) Sync() error {
	return nil
}

// GetMessages returns a copy of all logged messages.
func (m *MockLogger) GetMessages() []LogMessage {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	result := make([]LogMessage, len(m.store.messages))
	copy(result, m.store.messages)
	return result
}

// Count returns the number of recorded entries.
func (m *MockLogger) Count() int {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	return len(m.store.messages)
}

// Clear removes all logged messages.
func (m *MockLogger) Clear() {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	m.store.messages = m.store.messages[:0]
}

// HasMessage checks if a message with the given level and content was logged.
func (m *MockLogger) HasMessage(level, msg string) bool {
	_, ok := m.Find(level, msg)
	return ok
}

// Find returns the first entry with the given level and message.
func (m *MockLogger) Find(level, msg string) (LogMessage, bool) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for _, logged := range m.store.messages {
		if logged.Level == level && logged.Message == msg {
			return logged, true
		}
	}
	return LogMessage{}, false
}

var _ logging.Logger = (*MockLogger)(nil)
