package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"controlroom/internal/snapshot"
)

const defaultSnapshotTable = "control_room_snapshots"

// PostgresStore reads producer-written rows from a snapshot table:
//
//	CREATE TABLE control_room_snapshots (
//	    key        TEXT PRIMARY KEY,
//	    body       BYTEA NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//
// The control room owns neither the table nor its rows and issues SELECTs only.
// The filter glob applies to the base name of key.
type PostgresStore struct {
	db     *sql.DB
	table  string
	filter Filter
}

func NewPostgresStore(db *sql.DB, table string, filter Filter) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		table = defaultSnapshotTable
	}
	if !validIdentifier(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db, table: table, filter: filter.withDefaults()}, nil
}

// OpenPostgresStore connects with the pgx stdlib driver.
func OpenPostgresStore(ctx context.Context, dsn, table string, filter Filter) (*PostgresStore, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	ps, err := NewPostgresStore(db, table, filter)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return ps, nil
}

func (s *PostgresStore) Name() string {
	if s == nil {
		return "postgres"
	}
	return "postgres:" + s.table
}

func (s *PostgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *PostgresStore) List(ctx context.Context) ([]Handle, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store is nil")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT key, octet_length(body), updated_at, md5(body) FROM `+s.table)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.table, err)
	}
	defer rows.Close()

	handles := make([]Handle, 0, 32)
	for rows.Next() {
		var (
			h       Handle
			updated time.Time
		)
		if err := rows.Scan(&h.Key, &h.Size, &updated, &h.Version); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.table, err)
		}
		if !s.filter.Match(h.Key) {
			continue
		}
		h.ModTime = updated.UTC()
		handles = append(handles, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", s.table, err)
	}
	return handles, nil
}

func (s *PostgresStore) Read(ctx context.Context, h Handle) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("store is nil")
	}
	key := strings.TrimSpace(h.Key)
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}
	if err := s.filter.tooLarge(h.Size); err != nil {
		return nil, err
	}
	var (
		body []byte
		size int64
	)
	// The body is only shipped when it fits under the cap.
	err := s.db.QueryRowContext(ctx,
		`SELECT CASE WHEN octet_length(body) <= $2 THEN body END, octet_length(body) FROM `+s.table+` WHERE key=$1`,
		key, s.filter.MaxBytes,
	).Scan(&body, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, snapshot.Unavailable(key, ErrNotFound)
	}
	if err != nil {
		return nil, snapshot.Unavailable(key, err)
	}
	if err := s.filter.tooLarge(size); err != nil {
		return nil, err
	}
	return body, nil
}

func validIdentifier(name string) bool {
	for _, part := range strings.Split(name, ".") {
		if part == "" {
			return false
		}
		for i, r := range part {
			switch {
			case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			case r >= '0' && r <= '9' && i > 0:
			default:
				return false
			}
		}
	}
	return true
}
