package credential

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrations embed.FS

// TableUserCredentials holds one row per user: uid, password, otpsecret.
const TableUserCredentials = "user_credentials"

// driverNames maps backend types to database/sql driver names.
var driverNames = map[string]string{
	TypeMySQL:    "mysql",
	TypeSQLite:   "sqlite",
	TypePostgres: "pgx",
}

// SQLStore persists records in a relational database.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// OpenSQLStore connects to dsn and, if requested, applies the embedded
// schema migrations for the dialect.
func OpenSQLStore(ctx context.Context, dialect, dsn string, runMigrations bool) (*SQLStore, error) {
	driver, ok := driverNames[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported SQL dialect %q", dialect)
	}
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required for %s", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	if dialect == TypeSQLite {
		// A single writer avoids SQLITE_BUSY on concurrent Put.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewSQLStore(db, dialect)
	if runMigrations {
		if err := store.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
	}

	return store, nil
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, dialect string) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Migrate applies the embedded migrations for the store's dialect.
func (s *SQLStore) Migrate() error {
	source, err := iofs.New(migrations, "migrations/"+s.dialect)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	var m *migrate.Migrate
	switch s.dialect {
	case TypeMySQL:
		driver, derr := migratemysql.WithInstance(s.db, &migratemysql.Config{})
		if derr != nil {
			return fmt.Errorf("failed to create migration driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", source, "mysql", driver)
	case TypeSQLite:
		driver, derr := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
		if derr != nil {
			return fmt.Errorf("failed to create migration driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", source, "sqlite", driver)
	case TypePostgres:
		driver, derr := postgres.WithInstance(s.db, &postgres.Config{})
		if derr != nil {
			return fmt.Errorf("failed to create migration driver: %w", derr)
		}
		m, err = migrate.NewWithInstance("iofs", source, "postgres", driver)
	default:
		return fmt.Errorf("unsupported SQL dialect %q", s.dialect)
	}
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, uid string) (Record, error) {
	var password, otpSecret sql.NullString

	err := s.db.QueryRowContext(ctx,
		s.bind("SELECT password, otpsecret FROM "+TableUserCredentials+" WHERE uid = ?"), uid,
	).Scan(&password, &otpSecret)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("select credentials for %s: %w", uid, err)
	}

	return Record{Password: fromNull(password), OTPSecret: fromNull(otpSecret)}, nil
}

// Put selects the current row and then updates or inserts it inside one
// transaction.
func (s *SQLStore) Put(ctx context.Context, uid string, update Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := s.upsert(ctx, tx, uid, update); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}

	return tx.Commit()
}

func (s *SQLStore) upsert(ctx context.Context, tx *sql.Tx, uid string, update Record) error {
	var password, otpSecret sql.NullString

	err := tx.QueryRowContext(ctx,
		s.bind("SELECT password, otpsecret FROM "+TableUserCredentials+" WHERE uid = ?"), uid,
	).Scan(&password, &otpSecret)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			s.bind("INSERT INTO "+TableUserCredentials+" (uid, password, otpsecret) VALUES (?, ?, ?)"),
			uid, toNull(update.Password), toNull(update.OTPSecret))
		if err != nil {
			return fmt.Errorf("insert credentials for %s: %w", uid, err)
		}
		return nil

	case err != nil:
		return fmt.Errorf("select credentials for %s: %w", uid, err)
	}

	merged := Record{Password: fromNull(password), OTPSecret: fromNull(otpSecret)}.Merge(update)
	_, err = tx.ExecContext(ctx,
		s.bind("UPDATE "+TableUserCredentials+" SET password = ?, otpsecret = ? WHERE uid = ?"),
		toNull(merged.Password), toNull(merged.OTPSecret), uid)
	if err != nil {
		return fmt.Errorf("update credentials for %s: %w", uid, err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// bind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) bind(query string) string {
	if s.dialect != TypePostgres {
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

func fromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func toNull(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
