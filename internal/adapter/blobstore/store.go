package blobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"pixelchat/internal/domain"
	"pixelchat/internal/infra/config"
)

var _ domain.BlobStore = (*Store)(nil)

// Store implements domain.BlobStore on an in-memory SQLite database. Blobs
// expire after the configured TTL, and the total payload is capped: storing
// past the cap evicts the oldest blobs first.
type Store struct {
	db       *sql.DB
	maxBytes int64
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger

	// mu serializes insert-then-evict so the cap holds between statements.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New opens an empty in-memory store.
func New(cfg config.BlobConfig, logger *slog.Logger, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open blob db: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate blob db: %w", err)
	}

	s := &Store{
		db:       db,
		maxBytes: cfg.MaxBytes,
		ttl:      cfg.TTL,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS blobs (
			locator      TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			content_type TEXT NOT NULL,
			size         INTEGER NOT NULL,
			data         BLOB NOT NULL,
			created_at   INTEGER NOT NULL
		)
	`); err != nil {
		return err
	}
	_, err := db.Exec("CREATE INDEX IF NOT EXISTS blobs_created_at ON blobs (created_at)")
	return err
}

// Close closes the underlying database. All blobs are lost.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores the file bytes and returns a fresh "blob:" locator.
func (s *Store) Put(ctx context.Context, file domain.ImageFile) (string, error) {
	if len(file.Data) == 0 {
		return "", domain.NewDomainError("BlobStore.Put", domain.ErrInvalidFileKind, "empty file "+file.Name)
	}
	size := int64(len(file.Data))
	if s.maxBytes > 0 && size > s.maxBytes {
		return "", domain.NewDomainError("BlobStore.Put", domain.ErrBlobTooLarge,
			fmt.Sprintf("%s is %d bytes, cap is %d", file.Name, size, s.maxBytes))
	}

	locator := domain.BlobLocatorPrefix + uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO blobs (locator, name, content_type, size, data, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		locator, file.Name, file.ContentType, size, file.Data, s.now().UnixNano(),
	); err != nil {
		return "", domain.WrapOp("BlobStore.Put", err)
	}

	if err := s.evictLocked(ctx, locator); err != nil {
		s.logger.Warn("blob eviction failed", "error", err)
	}
	return locator, nil
}

// evictLocked drops the oldest blobs, never keep, until the total fits.
func (s *Store) evictLocked(ctx context.Context, keep string) error {
	if s.maxBytes <= 0 {
		return nil
	}
	total, err := s.totalBytes(ctx)
	if err != nil {
		return err
	}
	if total <= s.maxBytes {
		return nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT locator, size FROM blobs WHERE locator != ? ORDER BY created_at, rowid", keep)
	if err != nil {
		return err
	}
	var victims []string
	for rows.Next() && total > s.maxBytes {
		var (
			loc  string
			size int64
		)
		if err := rows.Scan(&loc, &size); err != nil {
			rows.Close()
			return err
		}
		victims = append(victims, loc)
		total -= size
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, loc := range victims {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM blobs WHERE locator = ?", loc); err != nil {
			return err
		}
	}
	if len(victims) > 0 {
		s.logger.Debug("blobs evicted for space", "count", len(victims))
	}
	return nil
}

// Get returns the stored file. Expired blobs are removed and reported as
// domain.ErrBlobNotFound.
func (s *Store) Get(ctx context.Context, locator string) (*domain.ImageFile, error) {
	var (
		f       domain.ImageFile
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT name, content_type, size, data, created_at FROM blobs WHERE locator = ?", locator,
	).Scan(&f.Name, &f.ContentType, &f.Size, &f.Data, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBlobNotFound
	}
	if err != nil {
		return nil, domain.WrapOp("BlobStore.Get", err)
	}

	if s.expired(created) {
		if err := s.Release(ctx, locator); err != nil {
			s.logger.Warn("expired blob release failed", "locator", locator, "error", err)
		}
		return nil, domain.ErrBlobNotFound
	}
	f.Locator = locator
	return &f, nil
}

// Release deletes the blob. Releasing an unknown locator is a no-op.
func (s *Store) Release(ctx context.Context, locator string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM blobs WHERE locator = ?", locator); err != nil {
		return domain.WrapOp("BlobStore.Release", err)
	}
	return nil
}

// Sweep removes every expired blob and returns how many were removed.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.ttl).UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, "DELETE FROM blobs WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, domain.WrapOp("BlobStore.Sweep", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Size returns the total stored payload in bytes, or 0 if it cannot be read.
func (s *Store) Size() int64 {
	total, err := s.totalBytes(context.Background())
	if err != nil {
		return 0
	}
	return total
}

// Count returns the number of stored blobs.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM blobs").Scan(&n)
	return n, err
}

func (s *Store) totalBytes(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT SUM(size) FROM blobs").Scan(&total); err != nil {
		return 0, err
	}
	return total.Int64, nil
}

func (s *Store) expired(createdNano int64) bool {
	if s.ttl <= 0 {
		return false
	}
	return s.now().Sub(time.Unix(0, createdNano)) > s.ttl
}
