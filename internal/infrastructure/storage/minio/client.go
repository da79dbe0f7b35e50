// Package minio archives raw documents and extraction results in an
// S3-compatible object store.
package minio

import (
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"

	"github.com/turtacn/EpiExtract/internal/config"
	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/pkg/errors"
)

// ObjectAPI is the subset of *minio.Client the archive uses.
type ObjectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	SetBucketLifecycle(ctx context.Context, bucketName string, config *lifecycle.Configuration) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

const (
	defaultRegion  = "us-east-1"
	connectTimeout = 10 * time.Second
)

// Client is a bucket-scoped object store handle.
type Client struct {
	api    ObjectAPI
	bucket string
	region string
	logger logging.Logger
}

// NewClient connects to cfg.Endpoint and makes sure the bucket exists with
// its lifecycle rule.
func NewClient(cfg config.MinIOConfig, log logging.Logger) (*Client, error) {
	if log == nil {
		log = logging.NewNopLogger()
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	api, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeObjectStorage, "failed to create minio client")
	}

	c := NewClientWithAPI(api, cfg.Bucket, log)
	c.region = region

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := c.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	if err := c.SetRetention(ctx, cfg.RetentionDays); err != nil {
		return nil, err
	}

	log.Info("MinIO client connected",
		logging.String("endpoint", cfg.Endpoint),
		logging.String("bucket", cfg.Bucket),
		logging.Bool("ssl", cfg.UseSSL),
	)
	return c, nil
}

// NewClientWithAPI wraps an existing API handle.
func NewClientWithAPI(api ObjectAPI, bucket string, log logging.Logger) *Client {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &Client{api: api, bucket: bucket, region: defaultRegion, logger: log.Named("minio")}
}

// Bucket returns the bucket name.
func (c *Client) Bucket() string { return c.bucket }

// EnsureBucket creates the bucket when it does not exist.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.api.BucketExists(ctx, c.bucket)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeObjectStorage, "failed to check bucket existence")
	}
	if exists {
		return nil
	}
	if err := c.api.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{Region: c.region}); err != nil {
		return errors.Wrapf(err, errors.ErrCodeObjectStorage, "failed to create bucket %s", c.bucket)
	}
	c.logger.Info("created bucket", logging.String("bucket", c.bucket))
	return nil
}

// SetRetention expires every archived object after days. Zero leaves the
// bucket lifecycle untouched.
func (c *Client) SetRetention(ctx context.Context, days int) error {
	if days <= 0 {
		return nil
	}
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{{
		ID:         "epiextract-retention",
		Status:     "Enabled",
		Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(days)},
	}}
	if err := c.api.SetBucketLifecycle(ctx, c.bucket, cfg); err != nil {
		return errors.Wrap(err, errors.ErrCodeObjectStorage, "failed to set bucket lifecycle")
	}
	return nil
}

// HealthCheck verifies the bucket is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	exists, err := c.api.BucketExists(ctx, c.bucket)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeObjectStorage, "minio health check failed")
	}
	if !exists {
		return errors.Newf(errors.ErrCodeObjectStorage, "bucket %s missing", c.bucket)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
