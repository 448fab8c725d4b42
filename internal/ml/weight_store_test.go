package ml

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot() *WeightSnapshot {
	return &WeightSnapshot{
		Name:    "comfort_model",
		Version: "abc123",
		Sizes:   []int{12, 2},
		Layers: []LayerSnapshot{
			{Rows: 2, Cols: 12, Weights: make([]float64, 24), Bias: []float64{0.1, 0.2}},
		},
		SavedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestFileWeightStore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "weights")
	store := NewFileWeightStore(dir)

	t.Run("MissingIsErrNoWeights", func(t *testing.T) {
		_, err := store.Load(ctx, "comfort_model")
		assert.ErrorIs(t, err, ErrNoWeights)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, testSnapshot()))

		loaded, err := store.Load(ctx, "comfort_model")
		require.NoError(t, err)
		assert.Equal(t, testSnapshot(), loaded)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "temp files must not be left behind")
	})

	t.Run("CorruptFile", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))
		_, err := store.Load(ctx, "broken")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrNoWeights)
	})
}

func TestPostgresWeightStore(t *testing.T) {
	ctx := context.Background()
	mockDB, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockDB.Close()

	store := NewPostgresWeightStore(mockDB)

	t.Run("Save", func(t *testing.T) {
		snap := testSnapshot()
		payload, _ := json.Marshal(snap)

		mockDB.ExpectExec("INSERT INTO model_weights").
			WithArgs(snap.Name, snap.Version, payload, snap.SavedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, store.Save(ctx, snap))
		require.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("Load", func(t *testing.T) {
		payload, _ := json.Marshal(testSnapshot())
		mockDB.ExpectQuery("SELECT payload FROM model_weights").
			WithArgs("comfort_model").
			WillReturnRows(pgxmock.NewRows([]string{"payload"}).AddRow(payload))

		snap, err := store.Load(ctx, "comfort_model")
		require.NoError(t, err)
		assert.Equal(t, "abc123", snap.Version)
		require.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("LoadMissing", func(t *testing.T) {
		mockDB.ExpectQuery("SELECT payload FROM model_weights").
			WithArgs("comfort_model").
			WillReturnError(pgx.ErrNoRows)

		_, err := store.Load(ctx, "comfort_model")
		assert.ErrorIs(t, err, ErrNoWeights)
		require.NoError(t, mockDB.ExpectationsWereMet())
	})
}
