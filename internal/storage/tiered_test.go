package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hemicycle/internal/models"
)

type failingStore struct {
	*MemoryStore
	err error
}

func (f failingStore) BatchGet(context.Context, []string, string) ([]models.DeputyRecord, error) {
	return nil, f.err
}

func (f failingStore) SaveDeputies(context.Context, string, []models.DeputyRecord) (int, error) {
	return 0, f.err
}

func TestTieredBackfillsFront(t *testing.T) {
	ctx := context.Background()
	front, _ := setupTestRedis(t, 0)
	primary := NewMemoryStore()
	_, err := primary.SaveDeputies(ctx, "17", []models.DeputyRecord{
		deputy("PA1", "Marie", "Curie"),
		deputy("PA2", "Jean", "Jaurès"),
	})
	require.NoError(t, err)
	_, err = front.SaveDeputies(ctx, "17", []models.DeputyRecord{deputy("PA1", "Marie", "Curie")})
	require.NoError(t, err)

	tiered := NewTiered(front, primary, nil)
	got, err := tiered.BatchGet(ctx, []string{"PA1", "PA2", "PA3"}, "17")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	backfilled, err := front.BatchGet(ctx, []string{"PA2"}, "17")
	require.NoError(t, err)
	assert.Equal(t, []models.DeputyRecord{deputy("PA2", "Jean", "Jaurès")}, backfilled)
}

func TestTieredFrontFailureFallsThrough(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	_, err := primary.SaveDeputies(ctx, "17", []models.DeputyRecord{deputy("PA1", "Marie", "Curie")})
	require.NoError(t, err)

	tiered := NewTiered(failingStore{NewMemoryStore(), errors.New("redis down")}, primary, nil)
	got, err := tiered.BatchGet(ctx, []string{"PA1"}, "17")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	n, err := tiered.SaveDeputies(ctx, "17", []models.DeputyRecord{deputy("PA2", "Jean", "Jaurès")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTieredPrimaryFailure(t *testing.T) {
	ctx := context.Background()
	front := NewMemoryStore()
	_, err := front.SaveDeputies(ctx, "17", []models.DeputyRecord{deputy("PA1", "Marie", "Curie")})
	require.NoError(t, err)
	boom := errors.New("primary down")

	tiered := NewTiered(front, failingStore{NewMemoryStore(), boom}, nil)

	got, err := tiered.BatchGet(ctx, []string{"PA1", "PA2"}, "17")
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = tiered.BatchGet(ctx, []string{"PA2"}, "17")
	assert.ErrorIs(t, err, boom)

	_, err = tiered.SaveDeputies(ctx, "17", []models.DeputyRecord{deputy("PA2", "Jean", "Jaurès")})
	assert.ErrorIs(t, err, boom)
}

func TestTieredCountUsesPrimary(t *testing.T) {
	ctx := context.Background()
	front := NewMemoryStore()
	_, err := front.SaveDeputies(ctx, "17", []models.DeputyRecord{deputy("PA1", "Marie", "Curie")})
	require.NoError(t, err)

	n, err := NewTiered(front, NewMemoryStore(), nil).Count(ctx, "17")
	require.NoError(t, err)
	assert.Zero(t, n)
}
