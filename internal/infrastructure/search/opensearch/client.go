// Package opensearch indexes extracted infections and incidents so they can
// be searched across documents.
package opensearch

import (
	"context"
	"crypto/tls"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/turtacn/EpiExtract/internal/config"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/pkg/errors"
)

var (
	ErrInvalidConfig    = errors.New(errors.ErrCodeValidation, "opensearch addresses are required")
	ErrConnectionFailed = errors.New(errors.ErrCodeSearchIndex, "opensearch connection failed")
)

const (
	defaultMaxRetries   = 3
	defaultRetryBackoff = 100 * time.Millisecond
	healthCheckInterval = 30 * time.Second
)

// Client manages the OpenSearch connection and tracks cluster health.
type Client struct {
	client  *opensearch.Client
	logger  logging.Logger
	healthy atomic.Bool
	cancel  context.CancelFunc
}

// NewClient connects to cfg.Addresses, pings the cluster and starts a
// background health check.
func NewClient(cfg config.OpenSearchConfig, log logging.Logger) (*Client, error) {
	if len(cfg.Addresses) == 0 {
		return nil, ErrInvalidConfig
	}
	c, err := newClient(cfg, log)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	if err := c.Ping(ctx); err != nil {
		cancel()
		return nil, ErrConnectionFailed.WithCause(err)
	}
	go c.watchHealth(ctx)

	c.logger.Info("OpenSearch client connected", logging.Strings("addresses", cfg.Addresses))
	return c, nil
}

func newClient(cfg config.OpenSearchConfig, log logging.Logger) (*Client, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	transport := &http.Transport{MaxIdleConnsPerHost: 10}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses:     cfg.Addresses,
		Username:      cfg.User,
		Password:      cfg.Password,
		Transport:     transport,
		MaxRetries:    defaultMaxRetries,
		RetryBackoff:  func(int) time.Duration { return defaultRetryBackoff },
		RetryOnStatus: []int{502, 503, 504, 429},
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSearchIndex, "failed to create opensearch client")
	}
	return &Client{client: client, logger: log.Named("opensearch"), cancel: func() {}}, nil
}

// Ping checks the connection and updates the health flag.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.client.Ping(c.client.Ping.WithContext(ctx))
	if err != nil {
		c.healthy.Store(false)
		return errors.Wrap(err, errors.ErrCodeSearchIndex, "opensearch ping failed")
	}
	defer resp.Body.Close()

	if resp.IsError() {
		c.healthy.Store(false)
		return errors.Newf(errors.ErrCodeSearchIndex, "opensearch ping returned status %d", resp.StatusCode)
	}
	c.healthy.Store(true)
	return nil
}

// IsHealthy reports the result of the last ping.
func (c *Client) IsHealthy() bool { return c.healthy.Load() }

// Close stops the health check.
func (c *Client) Close() error {
	c.cancel()
	return nil
}

func (c *Client) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prev := c.healthy.Load()
			err := c.Ping(ctx)
			curr := c.healthy.Load()
			if prev && !curr {
				c.logger.Error("OpenSearch cluster became unhealthy", logging.Err(err))
			} else if !prev && curr {
				c.logger.Info("OpenSearch cluster recovered")
			}
		}
	}
}
