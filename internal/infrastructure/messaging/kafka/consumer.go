package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"github.com/turtacn/EpiExtract/internal/config"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/EpiExtract/pkg/errors"
)

var (
	ErrAlreadyRunning = errors.New(errors.ErrCodeConflict, "consumer already running")
	ErrConsumerClosed = errors.New(errors.ErrCodeMessageConsume, "consumer closed")
)

const (
	defaultMaxRetries      = 3
	defaultRetryBackoff    = time.Second
	defaultMaxRetryBackoff = 30 * time.Second
	fetchErrorPause        = time.Second
)

// Dead-letter headers.
const (
	HeaderOriginalTopic = "original_topic"
	HeaderErrorMessage  = "error_message"
	HeaderRetryCount    = "retry_count"
)

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxRetries      int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	DeadLetterTopic string
}

// SecurityConfig holds the SASL and TLS settings shared by readers and writers.
type SecurityConfig struct {
	SASLEnabled   bool
	SASLMechanism string
	SASLUsername  string
	SASLPassword  string
	TLSEnabled    bool
	TLSCertPath   string
}

// ConsumerConfig holds configuration for the Consumer.
type ConsumerConfig struct {
	Brokers            []string
	GroupID            string
	Topics             []string
	AutoOffsetReset    string
	AutoCommitInterval time.Duration
	SessionTimeout     time.Duration
	HeartbeatInterval  time.Duration
	MaxWait            time.Duration
	FetchMinBytes      int
	FetchMaxBytes      int
	Security           SecurityConfig
	RetryConfig        RetryConfig
}

// ConsumerConfigFromConfig maps the kafka config section onto a
// ConsumerConfig reading cfg.InputTopic.
func ConsumerConfigFromConfig(cfg config.KafkaConfig) ConsumerConfig {
	return ConsumerConfig{
		Brokers:         cfg.Brokers,
		GroupID:         cfg.GroupID,
		Topics:          []string{cfg.InputTopic},
		AutoOffsetReset: cfg.AutoOffsetReset,
		RetryConfig: RetryConfig{
			MaxRetries:      cfg.MaxRetries,
			RetryBackoff:    cfg.RetryBackoff,
			DeadLetterTopic: cfg.DeadLetterTopic,
		},
	}
}

// ConsumerMetrics holds consumer counters.
type ConsumerMetrics struct {
	MessagesConsumed     atomic.Int64
	MessagesProcessed    atomic.Int64
	MessagesFailed       atomic.Int64
	MessagesRetried      atomic.Int64
	MessagesDeadLettered atomic.Int64
	Lag                  atomic.Int64
}

// ConsumerStats is a snapshot of ConsumerMetrics.
type ConsumerStats struct {
	Consumed     int64
	Processed    int64
	Failed       int64
	Retried      int64
	DeadLettered int64
	Lag          int64
}

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Stats() kafka.ReaderStats
}

// DeadLetterPublisher receives messages whose retries are exhausted.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, msg *ProducerMessage) error
	Close() error
}

// Consumer fetches messages, dispatches them to the handler of their topic
// and commits each offset once the message is handled or dead-lettered.
type Consumer struct {
	reader ReaderInterface
	config ConsumerConfig
	logger logging.Logger

	handlers map[string]MessageHandler
	mu       sync.RWMutex

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	deadLetter DeadLetterPublisher
	metrics    *ConsumerMetrics
	appMetrics *prometheus.AppMetrics
}

// ConsumerOption customizes a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerMetrics records per-message metrics.
func WithConsumerMetrics(m *prometheus.AppMetrics) ConsumerOption {
	return func(c *Consumer) { c.appMetrics = m }
}

// WithDeadLetterPublisher replaces the dead-letter producer.
func WithDeadLetterPublisher(p DeadLetterPublisher) ConsumerOption {
	return func(c *Consumer) { c.deadLetter = p }
}

// WithReader replaces the kafka reader.
func WithReader(r ReaderInterface) ConsumerOption {
	return func(c *Consumer) { c.reader = r }
}

// NewConsumer creates a Consumer for cfg.
func NewConsumer(cfg ConsumerConfig, logger logging.Logger, opts ...ConsumerOption) (*Consumer, error) {
	if err := ValidateConsumerConfig(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	applyConsumerDefaults(&cfg)

	c := &Consumer{
		config:   cfg,
		logger:   logger.Named("kafka.consumer"),
		handlers: make(map[string]MessageHandler),
		metrics:  &ConsumerMetrics{},
	}
	for _, o := range opts {
		o(c)
	}

	if c.reader == nil {
		dialer, err := newDialer(cfg.Security)
		if err != nil {
			return nil, err
		}
		readerCfg := kafka.ReaderConfig{
			Brokers:           cfg.Brokers,
			GroupID:           cfg.GroupID,
			GroupTopics:       cfg.Topics,
			MinBytes:          cfg.FetchMinBytes,
			MaxBytes:          cfg.FetchMaxBytes,
			MaxWait:           cfg.MaxWait,
			CommitInterval:    cfg.AutoCommitInterval,
			SessionTimeout:    cfg.SessionTimeout,
			HeartbeatInterval: cfg.HeartbeatInterval,
			StartOffset:       kafka.FirstOffset,
			Dialer:            dialer,
		}
		if cfg.AutoOffsetReset == "latest" {
			readerCfg.StartOffset = kafka.LastOffset
		}
		c.reader = kafka.NewReader(readerCfg)
	}

	if c.deadLetter == nil && cfg.RetryConfig.DeadLetterTopic != "" {
		p, err := NewProducer(ProducerConfig{Brokers: cfg.Brokers, Security: cfg.Security}, logger)
		if err != nil {
			return nil, err
		}
		c.deadLetter = p
	}
	return c, nil
}

func applyConsumerDefaults(cfg *ConsumerConfig) {
	if cfg.AutoOffsetReset == "" {
		cfg.AutoOffsetReset = "earliest"
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 3 * time.Second
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 10 * time.Second
	}
	if cfg.FetchMinBytes == 0 {
		cfg.FetchMinBytes = 1
	}
	if cfg.FetchMaxBytes == 0 {
		cfg.FetchMaxBytes = 50 << 20
	}
	if cfg.RetryConfig.MaxRetries == 0 {
		cfg.RetryConfig.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryConfig.RetryBackoff == 0 {
		cfg.RetryConfig.RetryBackoff = defaultRetryBackoff
	}
	if cfg.RetryConfig.MaxRetryBackoff == 0 {
		cfg.RetryConfig.MaxRetryBackoff = defaultMaxRetryBackoff
	}
}

func newDialer(sec SecurityConfig) (*kafka.Dialer, error) {
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	tlsCfg, err := newTLSConfig(sec)
	if err != nil {
		return nil, err
	}
	dialer.TLS = tlsCfg
	mech, err := newSASLMechanism(sec)
	if err != nil {
		return nil, err
	}
	dialer.SASLMechanism = mech
	return dialer, nil
}

func newTLSConfig(sec SecurityConfig) (*tls.Config, error) {
	if !sec.TLSEnabled {
		return nil, nil
	}
	caCert, err := os.ReadFile(sec.TLSCertPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "failed to read kafka CA certificate")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, errors.New(errors.ErrCodeValidation, "kafka CA certificate contains no PEM blocks")
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

func newSASLMechanism(sec SecurityConfig) (sasl.Mechanism, error) {
	if !sec.SASLEnabled {
		return nil, nil
	}
	var (
		mech sasl.Mechanism
		err  error
	)
	switch sec.SASLMechanism {
	case "PLAIN":
		mech = plain.Mechanism{Username: sec.SASLUsername, Password: sec.SASLPassword}
	case "SCRAM-SHA-256":
		mech, err = scram.Mechanism(scram.SHA256, sec.SASLUsername, sec.SASLPassword)
	case "SCRAM-SHA-512":
		mech, err = scram.Mechanism(scram.SHA512, sec.SASLUsername, sec.SASLPassword)
	default:
		return nil, errors.Newf(errors.ErrCodeValidation, "unsupported SASL mechanism %q", sec.SASLMechanism)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to create SASL mechanism")
	}
	return mech, nil
}

// Subscribe registers handler for topic.
func (c *Consumer) Subscribe(topic string, handler MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = handler
	c.logger.Info("subscribed to topic", logging.String("topic", topic))
}

// Unsubscribe removes the handler of topic.
func (c *Consumer) Unsubscribe(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, topic)
}

// Start runs the consume loop until ctx is canceled or Close is called.
func (c *Consumer) Start(ctx context.Context) error {
	if c.running.Swap(true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.Info("kafka consumer started",
		logging.String("group", c.config.GroupID),
		logging.Strings("topics", c.config.Topics))
	return nil
}

// Wait blocks until the consume loop exits.
func (c *Consumer) Wait() { c.wg.Wait() }

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for ctx.Err() == nil {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("fetch failed", logging.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(fetchErrorPause):
			}
			continue
		}

		c.metrics.MessagesConsumed.Add(1)
		if m.HighWaterMark > 0 {
			c.metrics.Lag.Store(m.HighWaterMark - m.Offset - 1)
		}

		msg := fromKafkaMessage(m)

		c.mu.RLock()
		handler, ok := c.handlers[m.Topic]
		c.mu.RUnlock()

		if !ok {
			c.logger.Warn("no handler for topic", logging.String("topic", m.Topic))
		} else {
			start := time.Now()
			err := c.processMessage(ctx, msg, handler)
			if ctx.Err() != nil {
				// Leave the offset uncommitted so the message is redelivered.
				return
			}
			if c.appMetrics != nil {
				prometheus.RecordMessage(c.appMetrics, m.Topic, time.Since(start), err)
			}
			if err != nil {
				c.metrics.MessagesFailed.Add(1)
			} else {
				c.metrics.MessagesProcessed.Add(1)
			}
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Error("commit failed",
				logging.String("topic", m.Topic),
				logging.Int64("offset", m.Offset),
				logging.Err(err))
		}
	}
}

// processMessage runs handler with exponential backoff between attempts.
// When retries are exhausted the message goes to the dead-letter topic and
// the last handler error is returned.
func (c *Consumer) processMessage(ctx context.Context, msg *Message, handler MessageHandler) error {
	err := handler(ctx, msg)
	if err == nil {
		return nil
	}

	rc := c.config.RetryConfig
	backoff := rc.RetryBackoff
	attempts := 0
	for attempts < rc.MaxRetries {
		if errors.IsCode(err, errors.ErrCodeMessageInvalid) {
			break
		}
		c.metrics.MessagesRetried.Add(1)
		attempts++

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		if err = handler(ctx, msg); err == nil {
			return nil
		}

		backoff *= 2
		if rc.MaxRetryBackoff > 0 && backoff > rc.MaxRetryBackoff {
			backoff = rc.MaxRetryBackoff
		}
	}

	c.logger.Error("message processing failed",
		logging.String("topic", msg.Topic),
		logging.Int64("offset", msg.Offset),
		logging.Int("retries", attempts),
		logging.Err(err))

	c.sendToDeadLetter(ctx, msg, attempts, err)
	return err
}

func (c *Consumer) sendToDeadLetter(ctx context.Context, msg *Message, retries int, cause error) {
	topic := c.config.RetryConfig.DeadLetterTopic
	if c.deadLetter == nil || topic == "" {
		return
	}
	headers := make(map[string]string, len(msg.Headers)+3)
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[HeaderOriginalTopic] = msg.Topic
	headers[HeaderErrorMessage] = cause.Error()
	headers[HeaderRetryCount] = strconv.Itoa(retries)

	dl := &ProducerMessage{Topic: topic, Key: msg.Key, Value: msg.Value, Headers: headers}
	if err := c.deadLetter.Publish(ctx, dl); err != nil {
		c.logger.Error("dead-letter publish failed", logging.String("topic", topic), logging.Err(err))
		return
	}
	c.metrics.MessagesDeadLettered.Add(1)
	if c.appMetrics != nil {
		c.appMetrics.DeadLetteredTotal.WithLabelValues(msg.Topic).Inc()
	}
}

func fromKafkaMessage(m kafka.Message) *Message {
	msg := &Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Timestamp: m.Time,
		Headers:   make(map[string]string, len(m.Headers)),
	}
	for _, h := range m.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}
	return msg
}

// Stats returns a snapshot of the consumer counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Consumed:     c.metrics.MessagesConsumed.Load(),
		Processed:    c.metrics.MessagesProcessed.Load(),
		Failed:       c.metrics.MessagesFailed.Load(),
		Retried:      c.metrics.MessagesRetried.Load(),
		DeadLettered: c.metrics.MessagesDeadLettered.Load(),
		Lag:          c.metrics.Lag.Load(),
	}
}

// Close stops the loop and releases the reader and dead-letter producer.
func (c *Consumer) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.running.Store(false)

	var firstErr error
	if c.reader != nil {
		firstErr = c.reader.Close()
	}
	if c.deadLetter != nil {
		if err := c.deadLetter.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.logger.Info("kafka consumer closed", logging.Int64("consumed", c.metrics.MessagesConsumed.Load()))
	return firstErr
}

// ValidateConsumerConfig validates cfg.
func ValidateConsumerConfig(cfg ConsumerConfig) error {
	if len(cfg.Brokers) == 0 {
		return errors.New(errors.ErrCodeValidation, "kafka brokers required")
	}
	if cfg.GroupID == "" {
		return errors.New(errors.ErrCodeValidation, "kafka group id required")
	}
	if len(cfg.Topics) == 0 {
		return errors.New(errors.ErrCodeValidation, "kafka topics required")
	}
	if cfg.AutoOffsetReset != "" && cfg.AutoOffsetReset != "earliest" && cfg.AutoOffsetReset != "latest" {
		return errors.New(errors.ErrCodeValidation, "auto offset reset must be earliest or latest")
	}
	if cfg.RetryConfig.MaxRetries < 0 {
		return errors.New(errors.ErrCodeValidation, "max retries must be >= 0")
	}
	return validateSecurity(cfg.Security)
}

func validateSecurity(sec SecurityConfig) error {
	if sec.SASLEnabled {
		if sec.SASLMechanism == "" {
			return errors.New(errors.ErrCodeValidation, "SASL mechanism required")
		}
		if sec.SASLUsername == "" || sec.SASLPassword == "" {
			return errors.New(errors.ErrCodeValidation, "SASL credentials required")
		}
	}
	if sec.TLSEnabled && sec.TLSCertPath == "" {
		return errors.New(errors.ErrCodeValidation, "TLS certificate path required")
	}
	return nil
}
