package kafka

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/EpiExtract/internal/config"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/pkg/errors"
)

var ErrProducerClosed = errors.New(errors.ErrCodeMessagePublish, "producer closed")

// ProducerConfig holds configuration for the Producer.
type ProducerConfig struct {
	Brokers          []string
	Acks             string
	MaxRetries       int
	BatchSize        int
	BatchTimeout     time.Duration
	MaxMessageBytes  int
	CompressionCodec string
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	// AllowAutoTopicCreation lets the broker create missing topics on write.
	AllowAutoTopicCreation bool
	Security               SecurityConfig
}

// ProducerConfigFromConfig maps the kafka config section onto a ProducerConfig.
func ProducerConfigFromConfig(cfg config.KafkaConfig) ProducerConfig {
	return ProducerConfig{
		Brokers:                cfg.Brokers,
		Acks:                   cfg.RequiredAcks,
		MaxRetries:             cfg.MaxRetries,
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: cfg.AutoCreateTopics,
	}
}

// ProducerStats is a snapshot of the producer counters.
type ProducerStats struct {
	Sent      int64
	Failed    int64
	BytesSent int64
}

// WriterInterface abstracts kafka.Writer for testing.
type WriterInterface interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Stats() kafka.WriterStats
}

// Producer writes messages to Kafka.
type Producer struct {
	writer WriterInterface
	config ProducerConfig
	logger logging.Logger
	closed atomic.Bool

	sent      atomic.Int64
	failed    atomic.Int64
	bytesSent atomic.Int64
}

// NewProducer creates a Producer for cfg.
func NewProducer(cfg ProducerConfig, logger logging.Logger) (*Producer, error) {
	if err := ValidateProducerConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	applyProducerDefaults(&cfg)

	transport := &kafka.Transport{DialTimeout: 10 * time.Second}
	tlsCfg, err := newTLSConfig(cfg.Security)
	if err != nil {
		return nil, err
	}
	transport.TLS = tlsCfg
	mech, err := newSASLMechanism(cfg.Security)
	if err != nil {
		return nil, err
	}
	transport.SASL = mech

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		MaxAttempts:            cfg.MaxRetries + 1,
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		BatchBytes:             int64(cfg.MaxMessageBytes),
		WriteTimeout:           cfg.WriteTimeout,
		ReadTimeout:            cfg.ReadTimeout,
		RequiredAcks:           requiredAcks(cfg.Acks),
		Compression:            compression(cfg.CompressionCodec),
		AllowAutoTopicCreation: cfg.AllowAutoTopicCreation,
		Transport:              transport,
	}
	return newProducerWithWriter(writer, cfg, logger), nil
}

func newProducerWithWriter(w WriterInterface, cfg ProducerConfig, logger logging.Logger) *Producer {
	applyProducerDefaults(&cfg)
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Producer{writer: w, config: cfg, logger: logger.Named("kafka.producer")}
}

func applyProducerDefaults(cfg *ProducerConfig) {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 10 * time.Millisecond
	}
	if cfg.MaxMessageBytes == 0 {
		cfg.MaxMessageBytes = 1 << 20
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
}

func requiredAcks(acks string) kafka.RequiredAcks {
	switch acks {
	case "none":
		return kafka.RequireNone
	case "all":
		return kafka.RequireAll
	default:
		return kafka.RequireOne
	}
}

func compression(codec string) kafka.Compression {
	switch codec {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0
	}
}

// Publish writes one message.
func (p *Producer) Publish(ctx context.Context, msg *ProducerMessage) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}
	if err := p.validate(msg); err != nil {
		return err
	}

	start := time.Now()
	if err := p.writer.WriteMessages(ctx, toKafkaMessage(msg)); err != nil {
		p.failed.Add(1)
		return errors.Wrap(err, errors.ErrCodeMessagePublish, "publish failed").WithDetail(msg.Topic)
	}
	p.sent.Add(1)
	p.bytesSent.Add(int64(len(msg.Value)))

	p.logger.Debug("message published",
		logging.String("topic", msg.Topic),
		logging.Duration("latency", time.Since(start)))
	return nil
}

func (p *Producer) validate(msg *ProducerMessage) error {
	if msg.Topic == "" {
		return errors.New(errors.ErrCodeValidation, "topic required")
	}
	if len(msg.Value) == 0 {
		return errors.New(errors.ErrCodeValidation, "message value required")
	}
	if len(msg.Value) > p.config.MaxMessageBytes {
		return errors.Newf(errors.ErrCodeValidation, "message of %d bytes exceeds limit of %d", len(msg.Value), p.config.MaxMessageBytes)
	}
	return nil
}

// PublishBatch writes msgs in one call and reports per-message failures.
func (p *Producer) PublishBatch(ctx context.Context, msgs []*ProducerMessage) (*BatchPublishResult, error) {
	if p.closed.Load() {
		return nil, ErrProducerClosed
	}
	if len(msgs) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "messages empty")
	}

	kMsgs := make([]kafka.Message, len(msgs))
	for i, msg := range msgs {
		if err := p.validate(msg); err != nil {
			return nil, err
		}
		kMsgs[i] = toKafkaMessage(msg)
	}

	result := &BatchPublishResult{}
	err := p.writer.WriteMessages(ctx, kMsgs...)
	var writeErrs kafka.WriteErrors
	switch {
	case err == nil:
		result.Succeeded = len(msgs)
	case errors.As(err, &writeErrs):
		for i, we := range writeErrs {
			if we == nil {
				result.Succeeded++
				continue
			}
			result.Failed++
			result.Errors = append(result.Errors, BatchItemError{Index: i, Topic: msgs[i].Topic, Error: we})
		}
	default:
		result.Failed = len(msgs)
		result.Errors = append(result.Errors, BatchItemError{Index: -1, Error: err})
	}

	p.sent.Add(int64(result.Succeeded))
	p.failed.Add(int64(result.Failed))
	p.logger.Info("batch published",
		logging.Int("succeeded", result.Succeeded),
		logging.Int("failed", result.Failed))
	return result, nil
}

// Stats returns a snapshot of the producer counters.
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{Sent: p.sent.Load(), Failed: p.failed.Load(), BytesSent: p.bytesSent.Load()}
}

// Close flushes pending writes and closes the writer.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := p.writer.Close()
	p.logger.Info("kafka producer closed", logging.Int64("sent", p.sent.Load()))
	return err
}

func toKafkaMessage(msg *ProducerMessage) kafka.Message {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return kafka.Message{
		Topic:     msg.Topic,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Time:      ts,
		Partition: msg.Partition,
	}
}

// ValidateProducerConfig validates cfg.
func ValidateProducerConfig(cfg ProducerConfig) error {
	if len(cfg.Brokers) == 0 {
		return errors.New(errors.ErrCodeValidation, "kafka brokers required")
	}
	if cfg.MaxRetries < 0 {
		return errors.New(errors.ErrCodeValidation, "max retries must be >= 0")
	}
	return validateSecurity(cfg.Security)
}
