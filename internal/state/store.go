// Package state persists projects in SQLite or PostgreSQL.
//
// A stored project's content is the export form of a notebook.Project, so
// run state never reaches the database.
package state

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	_ "modernc.org/sqlite"             // sqlite driver

	"github.com/leapstack-labs/nodebook/internal/notebook"
)

// ErrProjectNotFound is returned when no live project has the given id.
var ErrProjectNotFound = errors.New("project not found")

// Driver selects the database backend.
type Driver string

// Supported drivers.
const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

func (d Driver) sqlDriver() string {
	if d == DriverPostgres {
		return "pgx"
	}
	return "sqlite"
}

func (d Driver) gooseDialect() string {
	if d == DriverPostgres {
		return "postgres"
	}
	return "sqlite"
}

// Config configures Open.
type Config struct {
	Driver Driver
	// Path is the SQLite database file; ":memory:" for an in-memory database.
	Path string
	// DSN is the PostgreSQL connection string.
	DSN string
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// Project is a stored project row.
type Project struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Name      string     `json:"name"`
	Content   string     `json:"content"`
	Public    bool       `json:"public"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// Notebook decodes the stored content.
func (p *Project) Notebook() (*notebook.Project, error) {
	return notebook.Import([]byte(p.Content), notebook.FormatJSON)
}

// Store reads and writes projects.
type Store struct {
	db     *sql.DB
	driver Driver
	logger *slog.Logger
	now    func() time.Time
}

// Open connects to the configured database and runs migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}

	var dsn string
	switch cfg.Driver {
	case DriverSQLite:
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
			dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		} else {
			dsn = ":memory:"
		}
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres driver requires a dsn")
		}
		dsn = cfg.DSN
	default:
		return nil, fmt.Errorf("unknown state driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver.sqlDriver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	if dsn == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Driver, err)
	}

	s := NewWithDB(db, cfg.Driver, cfg.Logger)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an open connection without running migrations.
func NewWithDB(db *sql.DB, driver Driver, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, driver: driver, logger: logger, now: time.Now}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// rebind rewrites ? placeholders for drivers that use numbered ones.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const idAlphabet = "useandom-26T198340PX75pxJACKVERYMINDBUSHWOLF_GQZbfghjklqvwyzrict"

// newID returns a short random id in the style of nanoid.
func newID(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = idAlphabet[b&63]
	}
	return string(buf), nil
}

// emptyContent is the content of a freshly created project.
const emptyContent = `{"contexts":[],"packages":[]}`

// Create stores a new empty project owned by userID.
func (s *Store) Create(ctx context.Context, userID, name string) (*Project, error) {
	id, err := newID(6)
	if err != nil {
		return nil, fmt.Errorf("failed to generate project id: %w", err)
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	p := &Project{
		ID:        id,
		UserID:    userID,
		Name:      name,
		Content:   emptyContent,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO projects (id, user_id, name, content, public, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		p.ID, p.UserID, p.Name, p.Content, p.Public, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	s.logger.Debug("project created", "id", p.ID, "user_id", userID)
	return p, nil
}

const projectColumns = `id, user_id, name, content, public, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	p := &Project{}
	var created, updated int64
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Content, &p.Public, &created, &updated); err != nil {
		return nil, err
	}
	p.CreatedAt = time.UnixMilli(created).UTC()
	p.UpdatedAt = time.UnixMilli(updated).UTC()
	return p, nil
}

// Get returns a live project by id.
func (s *Store) Get(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+projectColumns+` FROM projects WHERE id = ? AND deleted_at IS NULL`), id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// List returns the live projects of userID, most recently updated first.
func (s *Store) List(ctx context.Context, userID string) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+projectColumns+` FROM projects WHERE user_id = ? AND deleted_at IS NULL ORDER BY updated_at DESC, id`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Save replaces the content of a project with the export form of nb.
func (s *Store) Save(ctx context.Context, id string, nb *notebook.Project) error {
	content, err := nb.Export(notebook.FormatJSON)
	if err != nil {
		return err
	}
	return s.update(ctx, id, "content", string(content))
}

// Rename changes a project's name.
func (s *Store) Rename(ctx context.Context, id, name string) error {
	return s.update(ctx, id, "name", name)
}

// SetPublic changes a project's visibility.
func (s *Store) SetPublic(ctx context.Context, id string, public bool) error {
	return s.update(ctx, id, "public", public)
}

// Delete soft-deletes a project.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.update(ctx, id, "deleted_at", s.now().UTC().UnixMilli())
}

// update sets one column on a live project and bumps updated_at. column is
// always a constant from this file.
func (s *Store) update(ctx context.Context, id, column string, value any) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE projects SET `+column+` = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`),
		value, s.now().UTC().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update project %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update project %s: %w", column, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, id)
	}
	return nil
}
