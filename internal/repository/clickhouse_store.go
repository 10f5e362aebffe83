package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	drepo "SignalFeed/internal/domain/repository"
	pkgch "SignalFeed/pkg/clickhouse"
	applogger "SignalFeed/pkg/logger"
)

// batchRows caps the rows of one multi-row INSERT.
const batchRows = 2000

// CHStore implements DurableStore as a ClickHouse key/value table. The
// ReplacingMergeTree keeps the newest row per key and reads use FINAL.
type CHStore struct {
	ch    *pkgch.Client
	db    *sql.DB
	table string
	l     *applogger.Logger
	now   func() time.Time
}

var _ drepo.DurableStore = (*CHStore)(nil)

// NewCHStore creates a store on table.
func NewCHStore(ch *pkgch.Client, table string, l *applogger.Logger) *CHStore {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHStore{ch: ch, db: ch.DB(), table: table, l: l, now: time.Now}
}

// Schema returns the DDL for the store table.
func (s *CHStore) Schema() []string {
	return []string{schemaSQL(s.table)}
}

// Init creates the table if needed.
func (s *CHStore) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, s.Schema())
}

func (s *CHStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	q := fmt.Sprintf("SELECT value FROM %s FINAL WHERE key = ? ORDER BY updated_at DESC LIMIT 1", s.table)
	var value string
	if err := s.db.QueryRowContext(ctx, q, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		s.l.Error("clickhouse store get error",
			applogger.String("table", s.table),
			applogger.String("key", key),
			applogger.Error(err),
		)
		return nil, false, fmt.Errorf("clickhouse get %s: %w", key, err)
	}
	return []byte(value), true, nil
}

func (s *CHStore) Put(ctx context.Context, key string, value []byte) error {
	return s.BatchPut(ctx, map[string][]byte{key: value})
}

// BatchPut inserts entries with multi-row VALUES statements.
func (s *CHStore) BatchPut(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}
	start := time.Now()
	ts := s.now().UTC()

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for lo := 0; lo < len(keys); lo += batchRows {
		hi := lo + batchRows
		if hi > len(keys) {
			hi = len(keys)
		}
		args := make([]interface{}, 0, (hi-lo)*3)
		for _, k := range keys[lo:hi] {
			args = append(args, k, string(entries[k]), ts)
		}
		if _, err := s.db.ExecContext(ctx, insertSQL(s.table, hi-lo), args...); err != nil {
			s.l.Error("clickhouse store insert error",
				applogger.String("table", s.table),
				applogger.Int("rows", hi-lo),
				applogger.Error(err),
			)
			return fmt.Errorf("clickhouse batch put: %w", err)
		}
	}
	s.l.Debug("clickhouse store batch put ok",
		applogger.String("table", s.table),
		applogger.Int("rows", len(keys)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return nil
}

func (s *CHStore) Close() error {
	return s.ch.Close()
}

func schemaSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    key String,
    value String,
    updated_at DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY key`, table)
}

func insertSQL(table string, rows int) string {
	values := make([]string, rows)
	for i := range values {
		values[i] = "(?, ?, ?)"
	}
	return fmt.Sprintf("INSERT INTO %s (key, value, updated_at) VALUES %s", table, strings.Join(values, ","))
}
