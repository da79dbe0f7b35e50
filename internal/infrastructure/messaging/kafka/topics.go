package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/turtacn/EpiExtract/internal/config"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

// Event types carried in EventEnvelope.EventType.
const (
	EventDocumentSubmitted   = "document.submitted"
	EventExtractionCompleted = "extraction.completed"

	SchemaVersion = "v1"
)

// EventEnvelope wraps every event payload.
type EventEnvelope struct {
	EventID       string            `json:"event_id"`
	EventType     string            `json:"event_type"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	SchemaVersion string            `json:"schema_version"`
	TraceID       string            `json:"trace_id,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// DocumentSubmittedPayload asks a worker to extract Document.
type DocumentSubmittedPayload struct {
	Document *epi.AnnotatedDocument `json:"document"`
}

// ExtractionCompletedPayload announces a finished extraction.
type ExtractionCompletedPayload struct {
	epi.ExtractionSummary
	DurationMS int64                 `json:"duration_ms"`
	Result     *epi.ExtractionResult `json:"result,omitempty"`
}

// NewEventEnvelope marshals payload into a new envelope.
func NewEventEnvelope(eventType, source string, payload interface{}) (*EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal payload")
	}
	return &EventEnvelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: SchemaVersion,
		Payload:       data,
	}, nil
}

// DecodePayload unmarshals the payload into target.
func (e *EventEnvelope) DecodePayload(target interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return errors.New(errors.ErrCodeMessageInvalid, "event payload is empty")
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return errors.Wrap(err, errors.ErrCodeMessageInvalid, "failed to decode event payload")
	}
	return nil
}

// ToMessage renders the envelope as a message for topic keyed by key.
func (e *EventEnvelope) ToMessage(topic, key string) (*ProducerMessage, error) {
	val, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal envelope")
	}
	headers := map[string]string{
		"event_type":     e.EventType,
		"source_service": e.Source,
		"schema_version": e.SchemaVersion,
	}
	if e.TraceID != "" {
		headers["trace_id"] = e.TraceID
	}
	msg := &ProducerMessage{Topic: topic, Value: val, Headers: headers, Timestamp: e.Timestamp}
	if key != "" {
		msg.Key = []byte(key)
	}
	return msg, nil
}

// MessageToEventEnvelope decodes the envelope of msg.
func MessageToEventEnvelope(msg *Message) (*EventEnvelope, error) {
	if len(msg.Value) == 0 {
		return nil, errors.New(errors.ErrCodeMessageInvalid, "empty message value")
	}
	var env EventEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMessageInvalid, "failed to unmarshal envelope")
	}
	if env.SchemaVersion != "" && env.SchemaVersion != SchemaVersion {
		return nil, errors.Newf(errors.ErrCodeMessageInvalid, "unsupported schema version %q", env.SchemaVersion)
	}
	return &env, nil
}

// ConnInterface abstracts kafka.Conn for testing.
type ConnInterface interface {
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// TopicManager creates and inspects topics.
type TopicManager struct {
	conn   ConnInterface
	logger logging.Logger
}

// NewTopicManager dials the controller broker.
func NewTopicManager(brokers []string, logger logging.Logger) (*TopicManager, error) {
	if len(brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "kafka brokers required")
	}
	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to dial kafka")
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to find kafka controller")
	}
	ctrl, err := kafka.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeServiceUnavailable, "failed to dial kafka controller")
	}
	return newTopicManager(ctrl, logger), nil
}

func newTopicManager(conn ConnInterface, logger logging.Logger) *TopicManager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &TopicManager{conn: conn, logger: logger.Named("kafka.topics")}
}

// CreateTopic creates cfg.Name unless it already exists.
func (m *TopicManager) CreateTopic(ctx context.Context, cfg TopicConfig) error {
	if cfg.Name == "" {
		return errors.New(errors.ErrCodeValidation, "topic name required")
	}
	if cfg.NumPartitions <= 0 {
		return errors.New(errors.ErrCodeValidation, "partitions must be > 0")
	}
	if cfg.ReplicationFactor <= 0 {
		return errors.New(errors.ErrCodeValidation, "replication factor must be > 0")
	}

	kCfg := kafka.TopicConfig{
		Topic:             cfg.Name,
		NumPartitions:     cfg.NumPartitions,
		ReplicationFactor: cfg.ReplicationFactor,
	}
	if cfg.RetentionMs > 0 {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: "retention.ms", ConfigValue: fmt.Sprintf("%d", cfg.RetentionMs)})
	}
	if cfg.CleanupPolicy != "" {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: "cleanup.policy", ConfigValue: cfg.CleanupPolicy})
	}
	if cfg.MaxMessageBytes > 0 {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: "max.message.bytes", ConfigValue: fmt.Sprintf("%d", cfg.MaxMessageBytes)})
	}
	for k, v := range cfg.Configs {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: k, ConfigValue: v})
	}

	if err := m.conn.CreateTopics(kCfg); err != nil {
		if errors.Is(err, kafka.TopicAlreadyExists) || strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return errors.Wrap(err, errors.ErrCodeMessagePublish, "failed to create topic").WithDetail(cfg.Name)
	}
	m.logger.Info("topic created", logging.String("topic", cfg.Name))
	return nil
}

// TopicExists reports whether name has at least one partition.
func (m *TopicManager) TopicExists(ctx context.Context, name string) (bool, error) {
	partitions, err := m.conn.ReadPartitions(name)
	if err != nil {
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.ErrCodeMessageConsume, "failed to read partitions")
	}
	return len(partitions) > 0, nil
}

// ListTopics lists every topic visible to the connection.
func (m *TopicManager) ListTopics(ctx context.Context) ([]string, error) {
	partitions, err := m.conn.ReadPartitions()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMessageConsume, "failed to read partitions")
	}
	seen := make(map[string]bool)
	var topics []string
	for _, p := range partitions {
		if !seen[p.Topic] {
			seen[p.Topic] = true
			topics = append(topics, p.Topic)
		}
	}
	return topics, nil
}

// EnsureTopics creates every topic in topics.
func (m *TopicManager) EnsureTopics(ctx context.Context, topics []TopicConfig) error {
	for _, topic := range topics {
		if err := m.CreateTopic(ctx, topic); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the controller connection.
func (m *TopicManager) Close() error {
	return m.conn.Close()
}

const day = 24 * 3600 * 1000

// DefaultTopics lists the input, output and dead-letter topics of cfg.
func DefaultTopics(cfg config.KafkaConfig) []TopicConfig {
	return []TopicConfig{
		{Name: cfg.InputTopic, NumPartitions: 6, ReplicationFactor: 1, RetentionMs: 7 * day},
		{Name: cfg.OutputTopic, NumPartitions: 6, ReplicationFactor: 1, RetentionMs: 7 * day},
		{Name: cfg.DeadLetterTopic, NumPartitions: 1, ReplicationFactor: 1, RetentionMs: 30 * day},
	}
}
