package status

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/racketdrop/internal/analysis"
	"github.com/dharsanguruparan/racketdrop/internal/analysis/mock"
	"github.com/dharsanguruparan/racketdrop/internal/intake"
	"github.com/dharsanguruparan/racketdrop/internal/model"
	"github.com/dharsanguruparan/racketdrop/internal/queue"
	"github.com/dharsanguruparan/racketdrop/internal/repository"
	"github.com/dharsanguruparan/racketdrop/internal/worker"
)

type brokenStore struct {
	*repository.Memory
}

func (b *brokenStore) GetResult(context.Context, string) (*model.Result, error) {
	return nil, errors.New("connection refused")
}

func submit(t *testing.T, repo *repository.Memory, q *queue.Memory) string {
	t.Helper()
	receipt, err := intake.NewService(repo, q).Submit(context.Background(), intake.Submission{
		MediaRef:          "uploads/" + uuid.NewString() + ".mp4",
		Category:          "tennis",
		SubClassification: model.Forehand,
		Orientation:       model.RightHanded,
	})
	require.NoError(t, err)
	return receipt.ItemID
}

func drain(t *testing.T, q *queue.Memory, p *worker.Processor) {
	t.Helper()
	q.Close()
	require.NoError(t, q.Consume(context.Background(), p.Handle))
}

func TestGet_ProcessingHasNoResult(t *testing.T) {
	repo := repository.NewMemory()
	id := submit(t, repo, queue.NewMemory(1))

	view, err := NewService(repo).Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StateProcessing, view.State)
	assert.Nil(t, view.Result)
}

func TestGet_CompletedAfterWorkerRuns(t *testing.T) {
	repo := repository.NewMemory()
	q := queue.NewMemory(1)
	id := submit(t, repo, q)
	drain(t, q, worker.NewProcessor(repo, mock.NewClient()))

	view, err := NewService(repo).Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, view.State)
	require.NotNil(t, view.Result)
	assert.Equal(t, model.AttributionPrimary, view.Result.AttributedTo)
	assert.Nil(t, view.Result.FallbackReason)
}

func TestGet_FailedHasNullResult(t *testing.T) {
	repo := repository.NewMemory()
	q := queue.NewMemory(1)
	id := submit(t, repo, q)
	drain(t, q, worker.NewProcessor(repo, mock.NewFailingClient(analysis.ErrEngine)))

	view, err := NewService(repo).Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, view.State)
	assert.Nil(t, view.Result)
}

func TestGet_ResultIsAuthoritative(t *testing.T) {
	repo := repository.NewMemory()
	id := submit(t, repo, queue.NewMemory(1))
	require.NoError(t, repo.UpsertResult(context.Background(), &model.Result{ItemID: id, Summary: "s", AttributedTo: model.AttributionPrimary}))

	view, err := NewService(repo).Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, view.State)
	assert.NotNil(t, view.Result)
}

func TestGet_NotFound(t *testing.T) {
	svc := NewService(repository.NewMemory())

	_, err := svc.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_StoreErrorIsNotNotFound(t *testing.T) {
	repo := repository.NewMemory()
	id := submit(t, repo, queue.NewMemory(1))

	_, err := NewService(&brokenStore{Memory: repo}).Get(context.Background(), id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestGet_IsPure(t *testing.T) {
	repo := repository.NewMemory()
	id := submit(t, repo, queue.NewMemory(1))
	before, err := repo.GetItem(context.Background(), id)
	require.NoError(t, err)

	svc := NewService(repo)
	for i := 0; i < 3; i++ {
		_, err := svc.Get(context.Background(), id)
		require.NoError(t, err)
	}

	after, err := repo.GetItem(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
