package s3storage_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dharsanguruparan/racketdrop/internal/config"
	"github.com/dharsanguruparan/racketdrop/internal/s3storage"
)

// setupMinio starts a MinIO container and returns a Storage with its bucket
// created.
func setupMinio(t *testing.T) *s3storage.Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "minioadmin",
			"MINIO_ROOT_PASSWORD": "minioadmin",
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	store, err := s3storage.New(config.StorageConfig{
		Endpoint:  endpoint,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "media",
	})
	require.NoError(t, err)
	require.NoError(t, store.EnsureBucket(ctx))
	return store
}

func TestStoragePutExistsList(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	store := setupMinio(t)
	ctx := context.Background()

	key := s3storage.ObjectKey("item-1", "forehand.mp4")
	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	body := "fake video bytes"
	require.NoError(t, store.Put(ctx, key, strings.NewReader(body), int64(len(body)), "video/mp4"))

	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	objects, err := store.List(ctx, s3storage.UploadPrefix)
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, key, objects[0].Key)
	assert.Equal(t, int64(len(body)), objects[0].Size)

	require.NoError(t, store.EnsureBucket(ctx), "bucket creation is idempotent")
	assert.NoError(t, store.Ping(ctx))
}
