package state

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leapstack-labs/nodebook/internal/notebook"
	"github.com/leapstack-labs/nodebook/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Path: ":memory:", Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_Migrates(t *testing.T) {
	s := setupTestStore(t)

	version, err := s.MigrationVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	ctx := context.Background()

	s, err := Open(ctx, Config{Driver: DriverSQLite, Path: path})
	require.NoError(t, err)
	p, err := s.Create(ctx, "u1", "persisted")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Driver: DriverSQLite, Path: path})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Name)
}

func TestOpen_BadConfig(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql"})
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{Driver: DriverPostgres})
	assert.Error(t, err)
}

func TestStore_ProjectLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p, err := s.Create(ctx, "alice", "first")
	require.NoError(t, err)
	assert.Len(t, p.ID, 6)
	assert.Equal(t, emptyContent, p.Content)
	assert.False(t, p.Public)

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, p.CreatedAt, got.CreatedAt)

	nb, err := got.Notebook()
	require.NoError(t, err)
	assert.Empty(t, nb.Cells)

	nb.AddCell("", "const a = 1")
	nb.AddPackage(notebook.Package{Name: "pkg", Version: "1.0.0", URL: "https://cdn.example/pkg"})
	require.NoError(t, s.Save(ctx, p.ID, nb))
	require.NoError(t, s.Rename(ctx, p.ID, "renamed"))
	require.NoError(t, s.SetPublic(ctx, p.ID, true))

	got, err = s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.True(t, got.Public)

	saved, err := got.Notebook()
	require.NoError(t, err)
	require.Len(t, saved.Cells, 1)
	assert.Equal(t, nb.Cells[0].ID, saved.Cells[0].ID)
	assert.Equal(t, "const a = 1", saved.Cells[0].Source)
	assert.Len(t, saved.Packages, 1)

	require.NoError(t, s.Delete(ctx, p.ID))
	_, err = s.Get(ctx, p.ID)
	assert.True(t, errors.Is(err, ErrProjectNotFound))
	assert.True(t, errors.Is(s.Rename(ctx, p.ID, "x"), ErrProjectNotFound))
	assert.True(t, errors.Is(s.Delete(ctx, p.ID), ErrProjectNotFound))
}

func TestStore_List(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	a, err := s.Create(ctx, "alice", "a")
	require.NoError(t, err)
	b, err := s.Create(ctx, "alice", "b")
	require.NoError(t, err)
	_, err = s.Create(ctx, "bob", "c")
	require.NoError(t, err)
	gone, err := s.Create(ctx, "alice", "gone")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, gone.ID))

	// Touch a so it becomes the most recent.
	require.NoError(t, s.Rename(ctx, a.ID, "a2"))

	list, err := s.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)

	none, err := s.List(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_PostgresStatements(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	s := NewWithDB(db, DriverPostgres, nil)
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(
		`INSERT INTO projects (id, user_id, name, content, public, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`)).
		WithArgs(sqlmock.AnyArg(), "alice", "nb", emptyContent, false, int64(1700000000000), int64(1700000000000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	p, err := s.Create(ctx, "alice", "nb")
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE projects SET name = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL`)).
		WithArgs("renamed", int64(1700000000000), p.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Rename(ctx, p.ID, "renamed"))

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT id, user_id, name, content, public, created_at, updated_at FROM projects WHERE id = $1 AND deleted_at IS NULL`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "content", "public", "created_at", "updated_at"}))
	_, err = s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrProjectNotFound))

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE projects SET public = $1`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.True(t, errors.Is(s.SetPublic(ctx, "missing", true), ErrProjectNotFound))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	lite := &Store{driver: DriverSQLite}

	q := `SELECT * FROM t WHERE a = ? AND b = ?`
	assert.Equal(t, `SELECT * FROM t WHERE a = $1 AND b = $2`, pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
}

func TestNewID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id, err := newID(6)
		require.NoError(t, err)
		assert.Len(t, id, 6)
		assert.Regexp(t, `^[A-Za-z0-9_-]{6}$`, id)
		seen[id] = true
	}
	assert.Greater(t, len(seen), 90)
}
