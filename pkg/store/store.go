// Package store reads recording sessions from a SQL database and keeps the local
// annotation state: a status book and CSV peak files.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrUnsupportedDSN = errors.New("unsupported database dsn")
)

// Store gives access to the sessions table.
type Store struct {
	db      *gorm.DB
	dialect string
	log     *zap.Logger
}

// Dialect picks the driver for dsn: postgres:// or postgresql:// URLs and
// key=value strings go to Postgres, mysql:// to MySQL, and file paths, file: URIs,
// sqlite:// and :memory: to SQLite.
func Dialect(dsn string) (string, string, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		return "postgres", dsn, nil
	case strings.HasPrefix(dsn, "mysql://"):
		return "mysql", strings.TrimPrefix(dsn, "mysql://"), nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite://"), nil
	case dsn == ":memory:", strings.HasPrefix(dsn, "file:"),
		strings.HasSuffix(dsn, ".db"), strings.HasSuffix(dsn, ".sqlite"), strings.HasSuffix(dsn, ".sqlite3"):
		return "sqlite", dsn, nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnsupportedDSN, redact(dsn))
}

// Open connects to the database. SQLite databases are migrated so that a local
// file can hold sessions recorded by the acquisition tools; remote databases are
// used as they are.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dialect, conn, err := Dialect(dsn)
	if err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch dialect {
	case "postgres":
		dialector = postgres.Open(conn)
	case "mysql":
		dialector = mysql.Open(conn)
	default:
		dialector = sqlite.Open(conn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(log, logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}

	s := &Store{db: db, dialect: dialect, log: log}
	if dialect == "sqlite" {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
		if err := s.Migrate(); err != nil {
			return nil, err
		}
	}
	log.Info("Session store opened", zap.String("dialect", dialect))
	return s, nil
}

func (s *Store) Dialect() string { return s.dialect }

// Migrate creates or updates the sessions table.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&Session{}); err != nil {
		return fmt.Errorf("failed to migrate sessions: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// List returns all sessions, newest first.
func (s *Store) List(ctx context.Context) ([]Session, error) {
	var out []Session
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return out, nil
}

// Get returns one session by id.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	var out Session
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	return &out, nil
}

// Create inserts a session, assigning an id and creation time when missing.
func (s *Store) Create(ctx context.Context, session *Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// redact hides the password of URL style DSNs.
func redact(dsn string) string {
	at := strings.Index(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || scheme > at {
		return dsn
	}
	userinfo := dsn[scheme+3 : at]
	if colon := strings.Index(userinfo, ":"); colon >= 0 {
		return dsn[:scheme+3] + userinfo[:colon] + ":***" + dsn[at:]
	}
	return dsn
}
