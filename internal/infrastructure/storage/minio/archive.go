package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/url"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/EpiExtract/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

const (
	documentsPrefix = "documents/"
	resultsPrefix   = "results/"
	contentTypeJSON = "application/json"
)

// Archive stores each input document at documents/{id}.json and each
// result at results/{id}.json. Ids are path-escaped.
type Archive struct {
	client *Client
}

// NewArchive returns an archive over client.
func NewArchive(client *Client) *Archive {
	return &Archive{client: client}
}

// DocumentKey is the object key of a document.
func DocumentKey(id string) string { return documentsPrefix + url.PathEscape(id) + ".json" }

// ResultKey is the object key of a result.
func ResultKey(id string) string { return resultsPrefix + url.PathEscape(id) + ".json" }

// PutDocument archives doc.
func (a *Archive) PutDocument(ctx context.Context, doc *epi.AnnotatedDocument) error {
	if doc == nil || doc.ID == "" {
		return errors.New(errors.ErrCodeValidation, "document id is required")
	}
	return a.put(ctx, DocumentKey(doc.ID), doc.ID, doc)
}

// PutResult archives result.
func (a *Archive) PutResult(ctx context.Context, result *epi.ExtractionResult) error {
	if result == nil || result.DocumentID == "" {
		return errors.New(errors.ErrCodeValidation, "document id is required")
	}
	return a.put(ctx, ResultKey(result.DocumentID), result.DocumentID, result)
}

// GetDocument reads back an archived document.
func (a *Archive) GetDocument(ctx context.Context, id string) (*epi.AnnotatedDocument, error) {
	doc := &epi.AnnotatedDocument{}
	if err := a.get(ctx, DocumentKey(id), doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// GetResult reads back an archived result.
func (a *Archive) GetResult(ctx context.Context, id string) (*epi.ExtractionResult, error) {
	result := &epi.ExtractionResult{}
	if err := a.get(ctx, ResultKey(id), result); err != nil {
		return nil, err
	}
	return result, nil
}

// Exists reports whether a result is archived for id.
func (a *Archive) Exists(ctx context.Context, id string) (bool, error) {
	_, err := a.client.api.StatObject(ctx, a.client.bucket, ResultKey(id), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, errors.Wrap(err, errors.ErrCodeObjectStorage, "failed to stat result")
}

// Delete removes the document and result objects of id.
func (a *Archive) Delete(ctx context.Context, id string) error {
	for _, key := range []string{DocumentKey(id), ResultKey(id)} {
		if err := a.client.api.RemoveObject(ctx, a.client.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return errors.Wrapf(err, errors.ErrCodeObjectStorage, "failed to remove %s", key)
		}
	}
	return nil
}

func (a *Archive) put(ctx context.Context, key, id string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode object")
	}
	_, err = a.client.api.PutObject(ctx, a.client.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentTypeJSON,
		UserMetadata: map[string]string{"document-id": id},
	})
	if err != nil {
		return errors.Wrapf(err, errors.ErrCodeObjectStorage, "failed to upload %s", key)
	}
	a.client.logger.Debug("archived object", logging.String("key", key), logging.Int("size", len(data)))
	return nil
}

func (a *Archive) get(ctx context.Context, key string, dest interface{}) error {
	obj, err := a.client.api.GetObject(ctx, a.client.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return a.readError(key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return a.readError(key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return errors.Wrapf(err, errors.ErrCodeSerialization, "failed to decode %s", key)
	}
	return nil
}

func (a *Archive) readError(key string, err error) error {
	if isNoSuchKey(err) {
		return errors.New(errors.ErrCodeNotFound, "object not found").WithDetail(key)
	}
	return errors.Wrapf(err, errors.ErrCodeObjectStorage, "failed to download %s", key)
}
