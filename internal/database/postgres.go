package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/ossguard/scanguard/internal/config"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

// PostgresDB implements DB using PostgreSQL via jackc/pgx's database/sql
// driver. Postgres, like MySQL, leases with a native
// SELECT ... FOR UPDATE SKIP LOCKED.
type PostgresDB struct {
	db  *sql.DB
	dsn string
}

// NewPostgres opens a PostgreSQL connection using cfg.DSN.
func NewPostgres(cfg config.DatabaseConfig) (*PostgresDB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required when driver is postgres")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	maxPool := cfg.MaxPoolSize
	if maxPool <= 0 {
		maxPool = 25
	}
	idle := cfg.PersistentPoolSize
	if idle <= 0 {
		idle = 5
	}
	db.SetMaxOpenConns(maxPool)
	db.SetMaxIdleConns(idle)

	p := &PostgresDB{db: db, dsn: cfg.DSN}
	if err := p.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return p, nil
}

func (p *PostgresDB) Driver() string           { return "postgres" }
func (p *PostgresDB) SupportsSkipLocked() bool { return true }

func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// Migrate applies all *.sql files from migrations/postgres/ in sorted order.
func (p *PostgresDB) Migrate(ctx context.Context) error {
	return runMigrationsDollar(ctx, p.db, postgresMigrationsFS, "migrations/postgres", "postgres", `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id         SERIAL PRIMARY KEY,
			filename   TEXT NOT NULL UNIQUE,
			applied_at TEXT NOT NULL
		)`)
}

// Select, Get and Exec accept callers' queries written with "?"
// placeholders (the portable style used throughout the service layer) and
// rebind them to "$n" before handing off to pgx, which does not accept "?".
func (p *PostgresDB) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	rows, err := p.db.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return scanRows(rows, dest)
}

func (p *PostgresDB) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	row := p.db.QueryRowContext(ctx, rebind(query), args...)
	return scanRow(row, dest)
}

func (p *PostgresDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := p.db.ExecContext(ctx, rebind(query), args...)
	return err
}

func (p *PostgresDB) Insert(ctx context.Context, table string, record interface{}) error {
	cols, placeholders, vals := structToInsert(record, dollarPlaceholders)
	// nosemgrep: go.lang.security.audit.database.string-formatted-query.string-formatted-query
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := p.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

// Update, like Select/Get/Exec, accepts a where clause written with "?"
// placeholders; rebindOffset renumbers them to land after the SET clause's
// own $n placeholders.
func (p *PostgresDB) Update(ctx context.Context, table string, record interface{}, where string, args ...interface{}) error {
	cols, vals := structToUpdate(record, identityColumns)
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}
	allArgs := append(vals, args...)
	whereShifted := rebindOffset(where, len(cols))
	// nosemgrep: go.lang.security.audit.database.string-formatted-query.string-formatted-query
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(sets, ", "), whereShifted)
	_, err := p.db.ExecContext(ctx, query, allArgs...)
	return err
}

func (p *PostgresDB) Upsert(ctx context.Context, table string, record interface{}, conflictCols []string) error {
	query, vals := upsertOnConflict(table, record, conflictCols, dollarPlaceholders, "excluded")
	_, err := p.db.ExecContext(ctx, query, vals...)
	return err
}

func (p *PostgresDB) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

// pgTx implements Tx over *sql.Tx using dollar placeholders; kept separate
// from sqlTx because Postgres's UPDATE needs its WHERE clause placeholder
// numbers shifted past the SET clause's.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) Select(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	rows, err := t.tx.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	return scanRows(rows, dest)
}

func (t *pgTx) Get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	row := t.tx.QueryRowContext(ctx, rebind(query), args...)
	return scanRow(row, dest)
}

func (t *pgTx) Exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := t.tx.ExecContext(ctx, rebind(query), args...)
	return err
}

func (t *pgTx) Insert(ctx context.Context, table string, record interface{}) error {
	cols, placeholders, vals := structToInsert(record, dollarPlaceholders)
	// nosemgrep: go.lang.security.audit.database.string-formatted-query.string-formatted-query
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := t.tx.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}

func (t *pgTx) Update(ctx context.Context, table string, record interface{}, where string, args ...interface{}) error {
	cols, vals := structToUpdate(record, identityColumns)
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}
	allArgs := append(vals, args...)
	whereShifted := rebindOffset(where, len(cols))
	// nosemgrep: go.lang.security.audit.database.string-formatted-query.string-formatted-query
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(sets, ", "), whereShifted)
	_, err := t.tx.ExecContext(ctx, query, allArgs...)
	return err
}

func (t *pgTx) Upsert(ctx context.Context, table string, record interface{}, conflictCols []string) error {
	query, vals := upsertOnConflict(table, record, conflictCols, dollarPlaceholders, "excluded")
	_, err := t.tx.ExecContext(ctx, query, vals...)
	return err
}

func (t *pgTx) Commit() error   { return t.tx.Commit() }
func (t *pgTx) Rollback() error { return t.tx.Rollback() }

// rebind rewrites a query written with "?" placeholders (the portable style
// used throughout the service layer) into Postgres's "$n" syntax.
func rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString(fmt.Sprintf("$%d", n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// rebindOffset is rebind shifted by offset — used for a fragment (e.g. an
// UPDATE's WHERE clause) whose placeholders must land after an earlier
// clause's own $1..$offset.
func rebindOffset(fragment string, offset int) string {
	if !strings.Contains(fragment, "?") {
		return fragment
	}
	var b strings.Builder
	n := offset
	for i := 0; i < len(fragment); i++ {
		if fragment[i] == '?' {
			n++
			b.WriteString(fmt.Sprintf("$%d", n))
			continue
		}
		b.WriteByte(fragment[i])
	}
	return b.String()
}
