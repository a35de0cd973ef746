package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cutting-params/internal/db"
	"github.com/sells-group/cutting-params/internal/model"
)

// PostgresStore implements Store using pgxpool. Embeddings are stored as
// float4[] and ranked in process, so no vector extension is required.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS chunks (
	collection TEXT NOT NULL,
	ordinal    INTEGER NOT NULL,
	text       TEXT NOT NULL,
	table_ids  INTEGER[] NOT NULL DEFAULT '{}',
	embedding  REAL[] NOT NULL,
	PRIMARY KEY (collection, ordinal)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	query      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var chunkColumns = []string{"collection", "ordinal", "text", "table_ids", "embedding"}

// ReplaceCollection deletes the collection and COPYs the new chunks in one
// transaction.
func (s *PostgresStore) ReplaceCollection(ctx context.Context, collection string, chunks []model.DocumentChunk) error {
	if err := validateChunks(collection, chunks); err != nil {
		return err
	}

	rows := make([][]any, len(chunks))
	for i, c := range chunks {
		ids := make([]int32, len(c.TableIDs))
		for j, id := range c.TableIDs {
			ids[j] = int32(id)
		}
		rows[i] = []any{collection, int32(i), c.Text, ids, c.Embedding}
	}

	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE collection = $1`, collection); err != nil {
			return eris.Wrapf(err, "postgres: clear collection %s", collection)
		}
		_, err := db.CopyFrom(ctx, tx, "chunks", chunkColumns, rows)
		return err
	})
}

func (s *PostgresStore) SearchChunks(ctx context.Context, collection string, vector []float32, topK int) ([]model.ScoredChunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ordinal, text, table_ids, embedding FROM chunks WHERE collection = $1 ORDER BY ordinal`,
		collection,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: search %s", collection)
	}
	defer rows.Close()

	var candidates []model.DocumentChunk
	for rows.Next() {
		c := model.DocumentChunk{Collection: collection}
		var ordinal int32
		var ids []int32
		if err := rows.Scan(&ordinal, &c.Text, &ids, &c.Embedding); err != nil {
			return nil, eris.Wrap(err, "postgres: scan chunk")
		}
		c.Ordinal = int(ordinal)
		for _, id := range ids {
			c.TableIDs = append(c.TableIDs, int(id))
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: search iterate")
	}
	if len(candidates) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "postgres: collection %s", collection)
	}
	return rank(candidates, vector, topK)
}

func (s *PostgresStore) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT collection, COUNT(*), MAX(cardinality(embedding)) FROM chunks GROUP BY collection ORDER BY collection`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list collections")
	}
	defer rows.Close()

	var out []CollectionInfo
	for rows.Next() {
		var ci CollectionInfo
		var n int64
		var dims int32
		if err := rows.Scan(&ci.Name, &n, &dims); err != nil {
			return nil, eris.Wrap(err, "postgres: scan collection")
		}
		ci.Chunks = int(n)
		ci.Dimensions = int(dims)
		out = append(out, ci)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list collections iterate")
}

func (s *PostgresStore) CreateRun(ctx context.Context, query string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, query, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, query, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.Run{
		ID:        id,
		Query:     query,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result *model.QueryResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET error = $1, status = $2, updated_at = $3 WHERE id = $4`,
		reason, string(model.RunStatusFailed), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, query, status, result, error, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	)
	r, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	query := `SELECT id, query, status, result, error, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPostgresRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var status string
	var resultNull *[]byte
	var errNull *string

	if err := row.Scan(&r.ID, &r.Query, &status, &resultNull, &errNull, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if resultNull != nil {
		r.Result = &model.QueryResult{}
		if err := json.Unmarshal(*resultNull, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	if errNull != nil {
		r.Error = *errNull
	}
	return &r, nil
}
