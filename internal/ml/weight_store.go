package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNoWeights is returned when no persisted weights exist for a model.
var ErrNoWeights = errors.New("no persisted weights")

type LayerSnapshot struct {
	Rows    int       `json:"rows"`
	Cols    int       `json:"cols"`
	Weights []float64 `json:"weights"`
	Bias    []float64 `json:"bias"`
}

// WeightSnapshot is the serialised form of a trained network.
type WeightSnapshot struct {
	Name    string          `json:"name"`
	Version string          `json:"version"`
	Sizes   []int           `json:"sizes"`
	Layers  []LayerSnapshot `json:"layers"`
	SavedAt time.Time       `json:"saved_at"`
}

// WeightStore persists model weights. Save must be atomic: a concurrent or
// interrupted Save never leaves a partially written snapshot visible to Load.
type WeightStore interface {
	Save(ctx context.Context, snap *WeightSnapshot) error
	Load(ctx context.Context, name string) (*WeightSnapshot, error)
}

// FileWeightStore keeps one JSON file per model under Dir.
type FileWeightStore struct {
	Dir string
}

func NewFileWeightStore(dir string) *FileWeightStore {
	return &FileWeightStore{Dir: dir}
}

func (s *FileWeightStore) path(name string) string {
	return filepath.Join(s.Dir, name+".json")
}

func (s *FileWeightStore) Save(ctx context.Context, snap *WeightSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create weight directory: %w", err)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode weights: %w", err)
	}

	tmp, err := os.CreateTemp(s.Dir, snap.Name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp weight file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write weights: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync weights: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close weight file: %w", err)
	}

	return os.Rename(tmp.Name(), s.path(snap.Name))
}

func (s *FileWeightStore) Load(ctx context.Context, name string) (*WeightSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoWeights
		}
		return nil, err
	}
	var snap WeightSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("corrupt weight file %s: %w", s.path(name), err)
	}
	return &snap, nil
}

// DatabaseQuerier is the subset of pgxpool.Pool used for weight persistence.
type DatabaseQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresWeightStore keeps snapshots in the model_weights table. A single
// upsert statement replaces the row atomically.
type PostgresWeightStore struct {
	db DatabaseQuerier
}

func NewPostgresWeightStore(db DatabaseQuerier) *PostgresWeightStore {
	return &PostgresWeightStore{db: db}
}

func (s *PostgresWeightStore) Save(ctx context.Context, snap *WeightSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode weights: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO model_weights (name, version, payload, saved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
		SET version = EXCLUDED.version, payload = EXCLUDED.payload, saved_at = EXCLUDED.saved_at`,
		snap.Name, snap.Version, payload, snap.SavedAt)
	if err != nil {
		return fmt.Errorf("failed to store weights: %w", err)
	}
	return nil
}

func (s *PostgresWeightStore) Load(ctx context.Context, name string) (*WeightSnapshot, error) {
	var payload []byte
	err := s.db.QueryRow(ctx, `SELECT payload FROM model_weights WHERE name = $1`, name).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoWeights
		}
		return nil, fmt.Errorf("failed to query weights: %w", err)
	}

	var snap WeightSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("corrupt weights for %s: %w", name, err)
	}
	return &snap, nil
}
