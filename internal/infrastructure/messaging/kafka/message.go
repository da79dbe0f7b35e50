package kafka

import (
	"context"
	"time"
)

// Message is a consumed record.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// MessageHandler processes one message. A non-nil error triggers a retry.
type MessageHandler func(ctx context.Context, msg *Message) error

// ProducerMessage is a record to publish.
type ProducerMessage struct {
	Topic     string
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Partition int
	Timestamp time.Time
}

// BatchItemError reports one failed message of a batch.
type BatchItemError struct {
	Index int
	Topic string
	Error error
}

// BatchPublishResult summarizes PublishBatch.
type BatchPublishResult struct {
	Succeeded int
	Failed    int
	Errors    []BatchItemError
}

// TopicConfig describes a topic to create.
type TopicConfig struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	RetentionMs       int64
	CleanupPolicy     string
	MaxMessageBytes   int
	Configs           map[string]string
}
