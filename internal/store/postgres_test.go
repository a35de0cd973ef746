package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cutting-params/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_ReplaceCollection(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM chunks WHERE collection = \$1`).
		WithArgs("rag-tools").
		WillReturnResult(pgxmock.NewResult("DELETE", 4))
	mock.ExpectCopyFrom(pgx.Identifier{"chunks"}, chunkColumns).WillReturnResult(3)
	mock.ExpectCommit()

	err := s.ReplaceCollection(context.Background(), "rag-tools", sampleChunks())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceCollection_DeleteFails(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM chunks`).
		WithArgs("rag-tools").
		WillReturnError(errors.New("locked"))
	mock.ExpectRollback()

	err := s.ReplaceCollection(context.Background(), "rag-tools", sampleChunks())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clear collection rag-tools")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReplaceCollection_Invalid(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	err := s.ReplaceCollection(context.Background(), "c", []model.DocumentChunk{{Text: "no vector"}})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SearchChunks(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"ordinal", "text", "table_ids", "embedding"}).
		AddRow(int32(0), "milling", []int32{}, []float32{0, 1}).
		AddRow(int32(1), "turning D10", []int32{3}, []float32{1, 0})
	mock.ExpectQuery(`SELECT ordinal, text, table_ids, embedding FROM chunks WHERE collection = \$1`).
		WithArgs("rag-tools").
		WillReturnRows(rows)

	hits, err := s.SearchChunks(context.Background(), "rag-tools", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "turning D10", hits[0].Text)
	assert.Equal(t, 1, hits[0].Ordinal)
	assert.Equal(t, []int{3}, hits[0].TableIDs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SearchChunks_DimensionMismatch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rows := pgxmock.NewRows([]string{"ordinal", "text", "table_ids", "embedding"}).
		AddRow(int32(0), "milling", []int32{}, []float32{0, 1, 0})
	mock.ExpectQuery(`SELECT ordinal, text, table_ids, embedding FROM chunks WHERE collection = \$1`).
		WithArgs("rag-tools").
		WillReturnRows(rows)

	_, err := s.SearchChunks(context.Background(), "rag-tools", []float32{1, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SearchChunks_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT ordinal, text, table_ids, embedding FROM chunks`).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"ordinal", "text", "table_ids", "embedding"}))

	_, err := s.SearchChunks(context.Background(), "missing", []float32{1}, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "q", "running", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "q", run.Query)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET result = \$1`).
		WithArgs(pgxmock.AnyArg(), "complete", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteRun(context.Background(), "run-1", &model.QueryResult{})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET error = \$1`).
		WithArgs("boom", "failed", pgxmock.AnyArg(), "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FailRun(context.Background(), "run-1", "boom"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, query, status, result, error, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, query, status, result, error, created_at, updated_at FROM runs WHERE true AND status = \$1 ORDER BY created_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("failed", 5, 10).
		WillReturnError(errors.New("down"))

	_, err := s.ListRuns(context.Background(), model.RunFilter{Status: model.RunStatusFailed, Limit: 5, Offset: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list runs")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS chunks`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
