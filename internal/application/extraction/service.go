// Package extraction provides the application service that runs the
// infection and structured incident extractors over pre-annotated documents
// and fans the results out to the configured sinks.
package extraction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/EpiExtract/internal/annotation"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/EpiExtract/internal/intelligence/incident"
	"github.com/turtacn/EpiExtract/internal/intelligence/infection"
	"github.com/turtacn/EpiExtract/internal/intelligence/preannotated"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/common"
	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

// Service defines the extraction operations exposed to the transports.
type Service interface {
	Extract(ctx context.Context, doc *epi.AnnotatedDocument) (*epi.ExtractionResult, error)
	ExtractBatch(ctx context.Context, req *common.BatchRequest[*epi.AnnotatedDocument]) (*common.BatchResponse[*epi.ExtractionResult], error)
	Resolve(ctx context.Context, doc *epi.AnnotatedDocument) ([]incident.ResolutionIncident, error)
	Get(ctx context.Context, documentID string) (*epi.ExtractionResult, error)
	List(ctx context.Context, page common.Pagination) ([]epi.ExtractionSummary, int64, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Collaborators
// ─────────────────────────────────────────────────────────────────────────────

// Repository is the system of record for extraction results.
type Repository interface {
	Save(ctx context.Context, doc *epi.AnnotatedDocument, result *epi.ExtractionResult) error
	Get(ctx context.Context, documentID string) (*epi.ExtractionResult, error)
	List(ctx context.Context, page common.Pagination) ([]epi.ExtractionSummary, int64, error)
}

// Cache memoizes results by input fingerprint. A miss is reported as an
// error with code ErrCodeCacheMiss.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Archive keeps raw inputs and results as objects.
type Archive interface {
	PutDocument(ctx context.Context, doc *epi.AnnotatedDocument) error
	PutResult(ctx context.Context, result *epi.ExtractionResult) error
}

// Indexer makes results searchable.
type Indexer interface {
	IndexResult(ctx context.Context, result *epi.ExtractionResult) error
}

// Publisher announces completed extractions.
type Publisher interface {
	PublishExtractionCompleted(ctx context.Context, result *epi.ExtractionResult) error
}

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config holds the service settings.
type Config struct {
	Options epi.Options
	// MaxBatchSize bounds ExtractBatch requests.
	MaxBatchSize int
	// Concurrency bounds the documents extracted at once in a batch.
	Concurrency int
	CacheTTL    time.Duration
	// Lexicon overrides the built-in infection lemma table.
	Lexicon infection.Lexicon
}

const (
	defaultMaxBatchSize = 100
	defaultConcurrency  = 8
	defaultCacheTTL     = time.Hour
)

func (c *Config) applyDefaults() {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = defaultMaxBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
}

// Option wires an optional collaborator.
type Option func(*serviceImpl)

func WithRepository(r Repository) Option { return func(s *serviceImpl) { s.repo = r } }
func WithCache(c Cache) Option           { return func(s *serviceImpl) { s.cache = c } }
func WithArchive(a Archive) Option       { return func(s *serviceImpl) { s.archive = a } }
func WithIndexer(i Indexer) Option       { return func(s *serviceImpl) { s.indexer = i } }
func WithPublisher(p Publisher) Option   { return func(s *serviceImpl) { s.publisher = p } }

func WithMetrics(m *prometheus.AppMetrics) Option {
	return func(s *serviceImpl) { s.metrics = m }
}

func WithLogger(l logging.Logger) Option {
	return func(s *serviceImpl) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(s *serviceImpl) { s.now = now } }

type sourceKey struct{}

// ContextWithSource tags ctx with the transport a document arrived on. The
// source labels metrics.
func ContextWithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return "direct"
}

// ─────────────────────────────────────────────────────────────────────────────
// Implementation
// ─────────────────────────────────────────────────────────────────────────────

type serviceImpl struct {
	cfg       Config
	repo      Repository
	cache     Cache
	archive   Archive
	indexer   Indexer
	publisher Publisher
	metrics   *prometheus.AppMetrics
	logger    logging.Logger
	now       func() time.Time
}

// NewService creates the extraction service. Every collaborator is optional.
func NewService(cfg Config, opts ...Option) Service {
	cfg.applyDefaults()
	s := &serviceImpl{
		cfg:    cfg,
		logger: logging.NewNopLogger(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// annotate runs both extractors over src.
func (s *serviceImpl) annotate(src *epi.AnnotatedDocument) (*annotation.Document, error) {
	doc, err := preannotated.NewDocument(src)
	if err != nil {
		return nil, err
	}
	doc.Register(infection.NewAnnotator(infection.Options{
		StrictOnly:        s.cfg.Options.StrictOnly,
		Debug:             s.cfg.Options.Debug,
		CompatibilityMode: s.cfg.Options.CompatibilityMode,
		Lexicon:           s.cfg.Lexicon,
	}, infection.WithLogger(s.logger)))
	doc.Register(incident.NewAnnotator(s.logger))

	if _, err := doc.RequireTiers(annotation.TierInfections, annotation.TierStructuredIncidents); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *serviceImpl) Extract(ctx context.Context, src *epi.AnnotatedDocument) (*epi.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTimeout, "extraction canceled")
	}
	if src == nil {
		return nil, errors.New(errors.ErrCodeDocumentEmpty, "document is required")
	}
	if src.ID == "" {
		src.ID = uuid.New().String()
	}
	source := sourceFrom(ctx)
	log := s.logger.With(logging.String("document_id", src.ID), logging.String("source", source))

	key, keyErr := s.cacheKey(src)
	if s.cache != nil && keyErr == nil {
		var cached epi.ExtractionResult
		err := s.cache.Get(ctx, key, &cached)
		switch {
		case err == nil:
			s.recordCache(true)
			if cached.DocumentID == src.ID {
				return &cached, nil
			}
			// same content under a new id
			cached.DocumentID = src.ID
			if err := s.deliver(ctx, log, src, &cached); err != nil {
				return nil, err
			}
			return &cached, nil
		case errors.IsCode(err, errors.ErrCodeCacheMiss):
			s.recordCache(false)
		default:
			log.Warn("cache lookup failed", logging.Err(err))
		}
	}

	start := s.now()
	if s.metrics != nil {
		s.metrics.ExtractionInFlight.WithLabelValues(source).Inc()
		defer s.metrics.ExtractionInFlight.WithLabelValues(source).Dec()
	}
	doc, err := s.annotate(src)
	elapsed := s.now().Sub(start)
	if err != nil {
		s.recordExtraction(source, elapsed, nil, err)
		log.Warn("extraction failed", logging.Err(err))
		return nil, err
	}

	result, err := buildResult(doc, s.cfg.Options)
	if err != nil {
		s.recordExtraction(source, elapsed, nil, err)
		return nil, err
	}
	result.ExtractedAt = s.now().UTC()
	result.DurationMS = elapsed.Milliseconds()
	s.recordExtraction(source, elapsed, result, nil)

	if err := s.deliver(ctx, log, src, result); err != nil {
		return nil, err
	}
	if s.cache != nil && keyErr == nil {
		if err := s.cache.Set(ctx, key, result, s.cfg.CacheTTL); err != nil {
			log.Warn("cache store failed", logging.Err(err))
		}
	}

	log.Info("document extracted",
		logging.Int("infections", len(result.Infections)),
		logging.Int("incidents", len(result.Incidents)),
		logging.Duration("duration", elapsed),
	)
	return result, nil
}

// deliver saves result and hands it to the other sinks. Only a failed save
// is returned.
func (s *serviceImpl) deliver(ctx context.Context, log logging.Logger, src *epi.AnnotatedDocument, result *epi.ExtractionResult) error {
	if s.repo != nil {
		if err := s.repo.Save(ctx, src, result); err != nil {
			log.Error("failed to save extraction", logging.Err(err))
			return err
		}
	}
	s.fanOut(ctx, log, src, result)
	return nil
}

// fanOut delivers result to the best-effort sinks. Failures are logged and
// counted, never returned.
func (s *serviceImpl) fanOut(ctx context.Context, log logging.Logger, src *epi.AnnotatedDocument, result *epi.ExtractionResult) {
	sinkErr := func(sink string, err error) {
		if err == nil {
			return
		}
		log.Warn("result sink failed", logging.String("sink", sink), logging.Err(err))
		if s.metrics != nil {
			s.metrics.SinkFailuresTotal.WithLabelValues(sink).Inc()
		}
	}
	if s.archive != nil {
		sinkErr("archive", s.archive.PutDocument(ctx, src))
		sinkErr("archive", s.archive.PutResult(ctx, result))
	}
	if s.indexer != nil {
		sinkErr("index", s.indexer.IndexResult(ctx, result))
	}
	if s.publisher != nil {
		sinkErr("publisher", s.publisher.PublishExtractionCompleted(ctx, result))
	}
}

func (s *serviceImpl) ExtractBatch(ctx context.Context, req *common.BatchRequest[*epi.AnnotatedDocument]) (*common.BatchResponse[*epi.ExtractionResult], error) {
	if req == nil || len(req.Items) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "batch is empty")
	}
	if len(req.Items) > s.cfg.MaxBatchSize {
		return nil, errors.Newf(errors.ErrCodeValidation, "batch of %d documents exceeds the limit of %d",
			len(req.Items), s.cfg.MaxBatchSize)
	}
	if s.metrics != nil {
		s.metrics.ExtractionBatchSize.WithLabelValues(sourceFrom(ctx)).Observe(float64(len(req.Items)))
	}

	results := make([]*epi.ExtractionResult, len(req.Items))
	failures := make([]error, len(req.Items))
	attempted := make([]bool, len(req.Items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, doc := range req.Items {
		i, doc := i, doc
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			attempted[i] = true
			res, err := s.Extract(gctx, doc)
			if err != nil {
				failures[i] = err
				if req.StopOnError {
					return err
				}
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	resp := &common.BatchResponse[*epi.ExtractionResult]{
		Succeeded: make([]*epi.ExtractionResult, 0, len(req.Items)),
		Failed:    []common.BatchError{},
	}
	for i := range req.Items {
		if !attempted[i] {
			continue
		}
		resp.TotalProcessed++
		if failures[i] != nil {
			resp.Failed = append(resp.Failed, common.BatchError{Index: i, Error: errorDetail(failures[i])})
			continue
		}
		resp.Succeeded = append(resp.Succeeded, results[i])
	}
	return resp, nil
}

func (s *serviceImpl) Resolve(ctx context.Context, src *epi.AnnotatedDocument) ([]incident.ResolutionIncident, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTimeout, "resolution canceled")
	}
	if src == nil {
		return nil, errors.New(errors.ErrCodeDocumentEmpty, "document is required")
	}
	doc, err := s.annotate(src)
	if err != nil {
		return nil, err
	}
	tier, _ := doc.Tier(annotation.TierStructuredIncidents)
	return incident.FormatForResolution(tier.Spans()), nil
}

func (s *serviceImpl) Get(ctx context.Context, documentID string) (*epi.ExtractionResult, error) {
	if documentID == "" {
		return nil, errors.New(errors.ErrCodeValidation, "document id is required")
	}
	if s.repo == nil {
		return nil, errors.New(errors.ErrCodeExtractionNotFound, "no result store configured").WithDetail(documentID)
	}
	return s.repo.Get(ctx, documentID)
}

func (s *serviceImpl) List(ctx context.Context, page common.Pagination) ([]epi.ExtractionSummary, int64, error) {
	page = page.Normalize()
	if err := page.Validate(); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeValidation, "invalid pagination")
	}
	if s.repo == nil {
		return []epi.ExtractionSummary{}, 0, nil
	}
	return s.repo.List(ctx, page)
}

// cacheKey fingerprints the document content, without its id, together with
// the extraction options and any lexicon override. Map keys marshal sorted, so
// equal lexicons hash equally.
func (s *serviceImpl) cacheKey(src *epi.AnnotatedDocument) (string, error) {
	clone := *src
	clone.ID = ""
	payload, err := json.Marshal(struct {
		Doc     *epi.AnnotatedDocument `json:"doc"`
		Options epi.Options            `json:"options"`
		Lexicon infection.Lexicon      `json:"lexicon,omitempty"`
	}{&clone, s.cfg.Options, s.cfg.Lexicon})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return "extraction:" + hex.EncodeToString(sum[:]), nil
}

func (s *serviceImpl) recordCache(hit bool) {
	if s.metrics != nil {
		prometheus.RecordCacheAccess(s.metrics, "extraction", hit)
	}
}

func (s *serviceImpl) recordExtraction(source string, d time.Duration, result *epi.ExtractionResult, err error) {
	if s.metrics == nil {
		return
	}
	var infections int
	var types []string
	if result != nil {
		infections = len(result.Infections)
		for _, inc := range result.Incidents {
			types = append(types, inc.Type)
		}
	}
	prometheus.RecordExtraction(s.metrics, source, d, infections, types, err)
	if err != nil {
		prometheus.RecordError(s.metrics, "extraction", errors.GetCode(err).String())
	}
}

func errorDetail(err error) common.ErrorDetail {
	return common.ErrorDetail{Code: errors.GetCode(err).String(), Message: err.Error()}
}
