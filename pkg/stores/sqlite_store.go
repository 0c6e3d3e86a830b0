package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore is the Store backed by a SQLite file, or by an in-memory
// database for plans and tests. A store returned by InTx or DryRun is bound
// to that transaction and must not be closed.
type SQLiteStore struct {
	db   *sql.DB
	q    dbtx
	tx   *sql.Tx
	path string
	cfg  Config
	now  func() time.Time
}

// Config configures the database file and its connection pool. Zero pool
// values take defaults; in-memory databases always use one connection.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c Config) withDefaults() Config {
	if isMemory(c.Path) {
		// every connection to :memory: would open a separate database
		c.MaxOpenConns, c.MaxIdleConns, c.ConnMaxLifetime = 1, 1, 0
		return c
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	return c
}

// NewSQLiteStore returns an unopened store; call Init and Migrate before use.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	cfg = cfg.withDefaults()
	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// newSQLiteStoreWithDB wraps an already opened database. It is used by tests
// that substitute the driver.
func newSQLiteStoreWithDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:   db,
		q:    db,
		path: "external",
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// dsn enables foreign keys and a busy timeout on every pooled connection.
// Transactions take the write lock up front so two applies never interleave
// their reads and writes. File databases also run in WAL mode.
func (s *SQLiteStore) dsn() string {
	pragmas := []string{"_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)", "_txlock=immediate"}
	if !isMemory(s.path) {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	sep := "?"
	if strings.Contains(s.path, "?") {
		sep = "&"
	}
	return s.path + sep + strings.Join(pragmas, "&")
}

// Init opens the database and checks that it answers.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database %s: %w", s.path, err)
	}

	s.db = db
	s.q = db
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.tx != nil {
		return fmt.Errorf("cannot close a transaction-bound store")
	}
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate applies every pending embedded migration.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	m, err := s.migrator()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) migrator() (*migrate.Migrate, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	target, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare migration target: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", target)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// SchemaVersion returns the applied migration version and whether the last
// migration was left dirty.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (uint, bool, error) {
	if s.db == nil {
		return 0, false, fmt.Errorf("database not initialized")
	}

	var version uint
	var dirty bool
	err := s.db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}

// InTx runs fn against a store bound to a single transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(Store) error) error {
	return s.runTx(ctx, fn, true)
}

// DryRun runs fn like InTx and rolls back whatever it wrote.
func (s *SQLiteStore) DryRun(ctx context.Context, fn func(Store) error) error {
	return s.runTx(ctx, fn, false)
}

func (s *SQLiteStore) runTx(ctx context.Context, fn func(Store) error, commit bool) error {
	if s.tx != nil {
		return fn(s)
	}
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	bound := *s
	bound.q, bound.tx = tx, tx

	if err := fn(&bound); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if !commit {
		if err := tx.Rollback(); err != nil {
			return fmt.Errorf("failed to roll back dry run: %w", err)
		}
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetSiteByName retrieves a site by its name
func (s *SQLiteStore) GetSiteByName(ctx context.Context, name string) (*Site, error) {
	query := `
		SELECT id, name, primary_locale, default_timezone, default_hostname_id,
			   workflow_states, created_by, created_at, updated_at
		FROM sites
		WHERE name = ?
	`

	site := &Site{}
	var states string
	err := s.q.QueryRowContext(ctx, query, name).Scan(
		&site.ID,
		&site.Name,
		&site.PrimaryLocale,
		&site.DefaultTimezone,
		&site.DefaultHostnameID,
		&states,
		&site.CreatedBy,
		&site.CreatedAt,
		&site.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("site %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get site: %w", err)
	}

	if err := json.Unmarshal([]byte(states), &site.WorkflowStates); err != nil {
		return nil, fmt.Errorf("failed to decode workflow states of site %s: %w", name, err)
	}

	return site, nil
}

// CreateSite creates a new site record
func (s *SQLiteStore) CreateSite(ctx context.Context, site *Site) error {
	query := `
		INSERT INTO sites (name, primary_locale, default_timezone, default_hostname_id,
			workflow_states, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	if len(site.WorkflowStates) == 0 {
		site.WorkflowStates = []string{WorkflowDraft, WorkflowReview, WorkflowPublished}
	}
	states, err := json.Marshal(site.WorkflowStates)
	if err != nil {
		return fmt.Errorf("failed to encode workflow states: %w", err)
	}

	now := s.now()
	if site.CreatedAt.IsZero() {
		site.CreatedAt = now
	}
	site.UpdatedAt = now

	result, err := s.q.ExecContext(ctx, query,
		site.Name,
		site.PrimaryLocale,
		site.DefaultTimezone,
		site.DefaultHostnameID,
		string(states),
		site.CreatedBy,
		site.CreatedAt,
		site.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create site: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get site ID: %w", err)
	}

	site.ID = id
	return nil
}

// UpdateSite updates the mutable attributes of a site
func (s *SQLiteStore) UpdateSite(ctx context.Context, site *Site) error {
	query := `
		UPDATE sites
		SET primary_locale = ?, default_timezone = ?, default_hostname_id = ?, updated_at = ?
		WHERE id = ?
	`

	site.UpdatedAt = s.now()
	result, err := s.q.ExecContext(ctx, query,
		site.PrimaryLocale,
		site.DefaultTimezone,
		site.DefaultHostnameID,
		site.UpdatedAt,
		site.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update site: %w", err)
	}

	return expectOneRow(result, "site", site.ID)
}

// GetHostname retrieves a hostname by address
func (s *SQLiteStore) GetHostname(ctx context.Context, address string) (*Hostname, error) {
	query := `
		SELECT id, site_id, address, welcome_page_id, is_default, created_at, updated_at
		FROM hostnames
		WHERE address = ?
	`

	host := &Hostname{}
	err := s.q.QueryRowContext(ctx, query, address).Scan(
		&host.ID,
		&host.SiteID,
		&host.Address,
		&host.WelcomePageID,
		&host.IsDefault,
		&host.CreatedAt,
		&host.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("hostname %s: %w", address, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}

	return host, nil
}

// ListHostnames lists the hostnames of a site
func (s *SQLiteStore) ListHostnames(ctx context.Context, siteID int64) ([]*Hostname, error) {
	query := `
		SELECT id, site_id, address, welcome_page_id, is_default, created_at, updated_at
		FROM hostnames
		WHERE site_id = ?
		ORDER BY id ASC
	`

	rows, err := s.q.QueryContext(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("failed to list hostnames: %w", err)
	}
	defer rows.Close()

	hosts := []*Hostname{}
	for rows.Next() {
		host := &Hostname{}
		err := rows.Scan(
			&host.ID,
			&host.SiteID,
			&host.Address,
			&host.WelcomePageID,
			&host.IsDefault,
			&host.CreatedAt,
			&host.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hostname: %w", err)
		}
		hosts = append(hosts, host)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hostnames: %w", err)
	}

	return hosts, nil
}

// CreateHostname creates a new hostname record
func (s *SQLiteStore) CreateHostname(ctx context.Context, host *Hostname) error {
	query := `
		INSERT INTO hostnames (site_id, address, welcome_page_id, is_default, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	now := s.now()
	host.CreatedAt = now
	host.UpdatedAt = now

	result, err := s.q.ExecContext(ctx, query,
		host.SiteID,
		host.Address,
		host.WelcomePageID,
		host.IsDefault,
		host.CreatedAt,
		host.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create hostname: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get hostname ID: %w", err)
	}

	host.ID = id
	return nil
}

// UpdateHostname updates the welcome page and default flag of a hostname
func (s *SQLiteStore) UpdateHostname(ctx context.Context, host *Hostname) error {
	query := `
		UPDATE hostnames
		SET welcome_page_id = ?, is_default = ?, updated_at = ?
		WHERE id = ?
	`

	host.UpdatedAt = s.now()
	result, err := s.q.ExecContext(ctx, query, host.WelcomePageID, host.IsDefault, host.UpdatedAt, host.ID)
	if err != nil {
		return fmt.Errorf("failed to update hostname: %w", err)
	}

	return expectOneRow(result, "hostname", host.ID)
}

// CreateAuditEntry appends to the audit trail. A zero timestamp is set to
// the store's clock.
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	result, err := s.q.ExecContext(ctx,
		`INSERT INTO audit (action, actor, target_id, details, timestamp) VALUES (?, ?, ?, ?, ?)`,
		entry.Action, entry.Actor, entry.TargetID, entry.Details, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry %s: %w", entry.Action, err)
	}
	if entry.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read audit entry id: %w", err)
	}
	return nil
}

// ListAuditEntries returns the newest entries first. A nil action or actor
// matches every row.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error) {
	const query = `
		SELECT id, action, actor, target_id, details, timestamp
		FROM audit
		WHERE (?1 IS NULL OR action = ?1)
		  AND (?2 IS NULL OR actor = ?2)
		ORDER BY timestamp DESC, id DESC
		LIMIT ?3 OFFSET ?4
	`
	rows, err := s.q.QueryContext(ctx, query, action, actor, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Action, &e.Actor, &e.TargetID, &e.Details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit entries: %w", err)
	}
	return entries, nil
}

// HealthCheck pings the database.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

// expectOneRow turns an update that touched no row into a not-found error.
func expectOneRow(result sql.Result, kind string, id int64) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}

	return nil
}
