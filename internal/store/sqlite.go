package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/cutting-params/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Embeddings are
// stored as little-endian float32 blobs and ranked in process.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS chunks (
	collection TEXT NOT NULL,
	ordinal    INTEGER NOT NULL,
	text       TEXT NOT NULL,
	table_ids  TEXT NOT NULL DEFAULT '[]',
	embedding  BLOB NOT NULL,
	dimensions INTEGER NOT NULL,
	PRIMARY KEY (collection, ordinal)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	query      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	error      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ReplaceCollection atomically swaps the contents of a collection.
func (s *SQLiteStore) ReplaceCollection(ctx context.Context, collection string, chunks []model.DocumentChunk) error {
	if err := validateChunks(collection, chunks); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE collection = ?`, collection); err != nil {
		return eris.Wrapf(err, "sqlite: clear collection %s", collection)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (collection, ordinal, text, table_ids, embedding, dimensions) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert chunk")
	}
	defer stmt.Close() //nolint:errcheck

	for i, c := range chunks {
		ids, err := json.Marshal(tableIDs(c.TableIDs))
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal table ids")
		}
		if _, err := stmt.ExecContext(ctx, collection, i, c.Text, string(ids), encodeVector(c.Embedding), len(c.Embedding)); err != nil {
			return eris.Wrapf(err, "sqlite: insert chunk %d", i)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit replace")
}

func (s *SQLiteStore) SearchChunks(ctx context.Context, collection string, vector []float32, topK int) ([]model.ScoredChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ordinal, text, table_ids, embedding FROM chunks WHERE collection = ? ORDER BY ordinal`,
		collection,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: search %s", collection)
	}
	defer rows.Close() //nolint:errcheck

	var candidates []model.DocumentChunk
	for rows.Next() {
		c := model.DocumentChunk{Collection: collection}
		var ids string
		var blob []byte
		if err := rows.Scan(&c.Ordinal, &c.Text, &ids, &blob); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan chunk")
		}
		if err := json.Unmarshal([]byte(ids), &c.TableIDs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal table ids")
		}
		if len(c.TableIDs) == 0 {
			c.TableIDs = nil
		}
		c.Embedding = decodeVector(blob)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: search iterate")
	}
	if len(candidates) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: collection %s", collection)
	}
	return rank(candidates, vector, topK)
}

func (s *SQLiteStore) ListCollections(ctx context.Context) ([]CollectionInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT collection, COUNT(*), MAX(dimensions) FROM chunks GROUP BY collection ORDER BY collection`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list collections")
	}
	defer rows.Close() //nolint:errcheck

	var out []CollectionInfo
	for rows.Next() {
		var ci CollectionInfo
		if err := rows.Scan(&ci.Name, &ci.Chunks, &ci.Dimensions); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan collection")
		}
		out = append(out, ci)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list collections iterate")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, query string) (*model.Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, query, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, query, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.Run{
		ID:        id,
		Query:     query,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, result *model.QueryResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(model.RunStatusComplete), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET error = ?, status = ?, updated_at = ? WHERE id = ?`,
		reason, string(model.RunStatusFailed), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, query, status, result, error, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error) {
	query := `SELECT id, query, status, result, error, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var resultJSON, errText sql.NullString

	err := row.Scan(&r.ID, &r.Query, &r.Status, &resultJSON, &errText, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "sqlite: run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if resultJSON.Valid {
		r.Result = &model.QueryResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	r.Error = errText.String
	return &r, nil
}

func tableIDs(ids []int) []int {
	if ids == nil {
		return []int{}
	}
	return ids
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
