// Package worker turns document.submitted events into extractions.
package worker

import (
	"context"
	"time"

	"github.com/turtacn/EpiExtract/internal/application/extraction"
	"github.com/turtacn/EpiExtract/internal/infrastructure/database/redis"
	"github.com/turtacn/EpiExtract/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/pkg/errors"
)

const (
	// SourceKafka labels metrics of documents that arrived on the input topic.
	SourceKafka = "kafka"

	defaultLockTTL        = 2 * time.Minute
	defaultHandlerTimeout = 5 * time.Minute
	lockPrefix            = "lock:document:"
)

// HandlerConfig holds the handler settings.
type HandlerConfig struct {
	LockTTL time.Duration
	Timeout time.Duration
}

// DocumentHandler extracts the document of each document.submitted event.
// With a lock factory, one worker at a time extracts a given document id.
type DocumentHandler struct {
	service extraction.Service
	locks   redis.LockFactory
	cfg     HandlerConfig
	logger  logging.Logger
}

// NewDocumentHandler creates a DocumentHandler. locks may be nil.
func NewDocumentHandler(service extraction.Service, locks redis.LockFactory, cfg HandlerConfig, log logging.Logger) *DocumentHandler {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHandlerTimeout
	}
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &DocumentHandler{service: service, locks: locks, cfg: cfg, logger: log.Named("worker")}
}

// Handle is a kafka.MessageHandler. Malformed events and rejected documents
// fail with ErrCodeMessageInvalid so they are dead-lettered without retries.
func (h *DocumentHandler) Handle(ctx context.Context, msg *kafka.Message) error {
	env, err := kafka.MessageToEventEnvelope(msg)
	if err != nil {
		return err
	}
	if env.EventType != kafka.EventDocumentSubmitted {
		return errors.Newf(errors.ErrCodeMessageInvalid, "unexpected event type %q", env.EventType)
	}
	var payload kafka.DocumentSubmittedPayload
	if err := env.DecodePayload(&payload); err != nil {
		return err
	}
	if payload.Document == nil {
		return errors.New(errors.ErrCodeMessageInvalid, "event carries no document")
	}
	doc := payload.Document
	if doc.ID == "" {
		doc.ID = string(msg.Key)
	}

	log := h.logger.With(
		logging.String("document_id", doc.ID),
		logging.String("event_id", env.EventID),
		logging.Int64("offset", msg.Offset))

	if h.locks != nil && doc.ID != "" {
		lock := h.locks.NewMutex(lockPrefix+doc.ID, redis.WithLockTTL(h.cfg.LockTTL))
		ok, err := lock.TryLock(ctx)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeCacheError, "document lock failed")
		}
		if !ok {
			return errors.New(errors.ErrCodeConflict, "document is being extracted by another worker").WithDetail(doc.ID)
		}
		defer func() {
			if err := lock.Unlock(context.Background()); err != nil {
				log.Warn("document unlock failed", logging.Err(err))
			}
		}()
	}

	ctx, cancel := context.WithTimeout(extraction.ContextWithSource(ctx, SourceKafka), h.cfg.Timeout)
	defer cancel()
	if env.TraceID != "" {
		log = log.With(logging.String("trace_id", env.TraceID))
	}

	result, err := h.service.Extract(ctx, doc)
	if err != nil {
		if errors.IsClientError(errors.GetCode(err)) {
			log.Warn("document rejected", logging.Err(err))
			return errors.Wrap(err, errors.ErrCodeMessageInvalid, "document rejected")
		}
		return err
	}
	log.Debug("event handled",
		logging.Int("infections", len(result.Infections)),
		logging.Int("incidents", len(result.Incidents)))
	return nil
}
