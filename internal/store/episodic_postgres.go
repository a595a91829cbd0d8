package store

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/substratelabs/arbiter/internal/domain"
)

// featureDims is the fixed dimensionality of the feature embedding column.
const featureDims = 16

// PostgresEpisodicStore persists episodic records in Postgres with a
// pgvector feature embedding. Similarity is computed in the database by L2
// distance over the embedding, so the caller-supplied DistanceFunc is not
// consulted here.
type PostgresEpisodicStore struct {
	db *pgxpool.Pool
}

func NewPostgresEpisodicStore(db *pgxpool.Pool) *PostgresEpisodicStore {
	return &PostgresEpisodicStore{db: db}
}

// FeatureVector folds an arbitrary feature map into a fixed-size embedding
// by hashing each key into a slot. Values are squashed with tanh so one
// large feature cannot dominate the distance.
func FeatureVector(features map[string]float64) []float32 {
	vec := make([]float32, featureDims)
	for k, v := range features {
		h := fnv.New32a()
		h.Write([]byte(k))
		vec[h.Sum32()%featureDims] += float32(math.Tanh(v))
	}
	return vec
}

func (s *PostgresEpisodicStore) Put(ctx context.Context, rec *domain.EpisodicRecord) error {
	featuresJSON, err := json.Marshal(rec.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	vec := pgvector.NewVector(FeatureVector(rec.Features))

	_, err = s.db.Exec(ctx,
		`INSERT INTO episodic_records (
			bucket, task_id, backend_id, features, predicted_cost, actual_cost, embedding, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.Bucket, rec.TaskID, rec.BackendID, featuresJSON,
		rec.PredictedCost, rec.ActualCost, vec, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert episodic record: %w", err)
	}
	return nil
}

func (s *PostgresEpisodicStore) Query(ctx context.Context, bucket string, features map[string]float64, k int, _ domain.DistanceFunc) ([]domain.EpisodicRecord, error) {
	if k <= 0 {
		return nil, nil
	}
	vec := pgvector.NewVector(FeatureVector(features))

	rows, err := s.db.Query(ctx,
		`SELECT bucket, task_id, backend_id, features, predicted_cost, actual_cost, created_at
		 FROM episodic_records
		 WHERE bucket = $1
		 ORDER BY embedding <-> $2
		 LIMIT $3`,
		bucket, vec, k,
	)
	if err != nil {
		return nil, fmt.Errorf("query episodic records: %w", err)
	}
	defer rows.Close()

	var results []domain.EpisodicRecord
	for rows.Next() {
		var rec domain.EpisodicRecord
		var featuresJSON []byte
		if err := rows.Scan(&rec.Bucket, &rec.TaskID, &rec.BackendID, &featuresJSON,
			&rec.PredictedCost, &rec.ActualCost, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan episodic record: %w", err)
		}
		if len(featuresJSON) > 0 {
			_ = json.Unmarshal(featuresJSON, &rec.Features)
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}
