package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// goose keeps its base FS and dialect in package globals
var migrateMu sync.Mutex

var (
	// ErrConflict means a conditional update found the row in an unexpected state.
	ErrConflict = errors.New("state changed concurrently")
	// ErrDuplicate means a uniqueness constraint rejected the write.
	ErrDuplicate = errors.New("duplicate record")
)

// Config configures the SQLite store.
type Config struct {
	Path   string
	Logger *slog.Logger
	Clock  clockwork.Clock
}

func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("database path is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Store is the SQLite-backed pool store, proposal store and settlement status ledger.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock clockwork.Clock
}

// Open opens the database with WAL mode and applies pending migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dsn := cfg.Path
	if dsn != ":memory:" {
		absPath, err := filepath.Abs(dsn)
		if err != nil {
			return nil, err
		}
		dsn = absPath
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := migrate(ctx, cfg.Logger, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, log: cfg.Logger, clock: cfg.Clock}, nil
}

// slogGooseLogger adapts slog.Logger to the goose.Logger interface
type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func migrate(ctx context.Context, log *slog.Logger, db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetLogger(&slogGooseLogger{log: log})
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// DB returns the underlying connection
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) now() time.Time {
	return s.clock.Now().UTC()
}

func newID() string {
	return uuid.NewString()
}

func toMicros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// CreateUser registers a user. A zero telegramID creates a user without a Telegram identity.
func (s *Store) CreateUser(ctx context.Context, telegramID int64, username, firstName string) (*User, error) {
	user := &User{
		ID:         newID(),
		TelegramID: telegramID,
		Username:   username,
		FirstName:  firstName,
		CreatedAt:  s.now(),
	}
	var tg any
	if telegramID != 0 {
		tg = telegramID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, telegram_id, username, first_name, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID, tg, username, firstName, toMicros(user.CreatedAt))
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("failed to insert user: %w", ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

// EnsureUser returns the user with the given Telegram ID, creating it on first sight.
func (s *Store) EnsureUser(ctx context.Context, telegramID int64, username, firstName string) (*User, error) {
	user, err := s.GetUserByTelegramID(ctx, telegramID)
	if err != nil || user != nil {
		return user, err
	}
	user, err = s.CreateUser(ctx, telegramID, username, firstName)
	if errors.Is(err, ErrDuplicate) {
		return s.GetUserByTelegramID(ctx, telegramID)
	}
	return user, err
}

const userColumns = `id, COALESCE(telegram_id, 0), username, first_name, address, created_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var user User
	var created int64
	if err := row.Scan(&user.ID, &user.TelegramID, &user.Username, &user.FirstName, &user.Address, &created); err != nil {
		return nil, err
	}
	user.CreatedAt = fromMicros(created)
	return &user, nil
}

// GetUserByTelegramID retrieves a user by their Telegram ID
func (s *Store) GetUserByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE telegram_id = ?`, telegramID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by telegram_id: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by their internal ID
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return user, nil
}

// SetUserAddress links a wallet address to the user
func (s *Store) SetUserAddress(ctx context.Context, id, address string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET address = ? WHERE id = ?`, address, id)
	if err != nil {
		return fmt.Errorf("failed to set user address: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to set user address: %w", sql.ErrNoRows)
	}
	return nil
}
