//go:build integration

package minio_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/turtacn/EpiExtract/internal/config"
	"github.com/turtacn/EpiExtract/internal/infrastructure/storage/minio"
	"github.com/turtacn/EpiExtract/pkg/errors"
	"github.com/turtacn/EpiExtract/pkg/types/epi"
)

func startMinIO(t *testing.T) config.MinIOConfig {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return config.MinIOConfig{
		Enabled:       true,
		Endpoint:      endpoint,
		AccessKey:     "minioadmin",
		SecretKey:     "minioadmin",
		Bucket:        "epiextract-test",
		RetentionDays: 7,
	}
}

func TestArchive_RoundTrip(t *testing.T) {
	client, err := minio.NewClient(startMinIO(t), nil)
	require.NoError(t, err)
	require.NoError(t, client.HealthCheck(context.Background()))

	archive := minio.NewArchive(client)
	ctx := context.Background()
	doc := &epi.AnnotatedDocument{ID: "doc/1", Text: "Three patients were infected."}
	result := &epi.ExtractionResult{
		DocumentID:  "doc/1",
		Infections:  []epi.Infection{{Start: 0, End: 28, Text: "Three patients were infected", Attributes: []string{"infection"}}},
		Incidents:   []epi.Incident{},
		ExtractedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	require.NoError(t, archive.PutDocument(ctx, doc))
	require.NoError(t, archive.PutResult(ctx, result))

	gotDoc, err := archive.GetDocument(ctx, "doc/1")
	require.NoError(t, err)
	assert.Equal(t, doc.Text, gotDoc.Text)

	gotResult, err := archive.GetResult(ctx, "doc/1")
	require.NoError(t, err)
	assert.Equal(t, result, gotResult)

	ok, err := archive.Exists(ctx, "doc/1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, archive.Delete(ctx, "doc/1"))
	_, err = archive.GetResult(ctx, "doc/1")
	assert.True(t, errors.IsNotFound(err))
}
