// ingestd - Personal-use Cryptocurrency Market-Data Ingestion Daemon
// Copyright 2026 feedcore
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedcore/ingestd

// Package cachestore implements the Persistent Cache Store (spec §4.C): a
// durable key->entry map backed by a single embedded DuckDB file, with
// secondary indexes on (data_type, provider, symbol, content_hash,
// expires_at, last_accessed_at).
//
// Grounded in the teacher's internal/database/database.go connection setup
// (extension preloading ahead of WAL replay, tuned connection string,
// checkpoint-before-close) and internal/database/database_schema.go's
// table/index creation pattern, generalized from media-playback analytics
// tables to a single cache_entries table.
package cachestore

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/feedcore/ingestd/internal/clock"
	"github.com/feedcore/ingestd/internal/coreerr"
	"github.com/feedcore/ingestd/internal/dbutil"
	"github.com/feedcore/ingestd/internal/logging"
	"github.com/feedcore/ingestd/internal/metrics"
)

// compressionSentinel is the fixed 4-byte prefix marking a gzip-compressed
// blob, resolving the spec's §9 open question ("compression sentinel
// format is not defined by the source; pick one, e.g. a fixed 4-byte
// prefix, and document it"). A blob with any other (or no) prefix is read
// back as raw/uncompressed, so upgrades from earlier uncompressed runs
// still work.
var compressionSentinel = [4]byte{'C', 'Z', '0', '1'}

const compressThresholdBytes = 100 * 1024 // 100 KiB, per spec §4.C

// Entry mirrors the spec's Cache Entry data model (§3).
type Entry struct {
	Key            string
	Blob           []byte
	DataType       string
	Provider       string
	Symbol         string
	CachedAt       time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
	IsPermanent    bool
	AccessCount    int64
	SizeBytes      int64
	ContentHash    string
}

// PolicyChecker is the seam the Cache Policy Engine (§4.D) satisfies;
// Put calls it before inserting so enforcement stays outside this package.
type PolicyChecker interface {
	// Enforce returns nil if an entry of dataType, sizeBytes, isPermanent
	// is acceptable, or a *coreerr.CoreError(KindPolicyViolation) otherwise.
	Enforce(dataType string, sizeBytes int, isPermanent bool) error
	// ShouldCompress reports whether blobs of this data type should be
	// transparently compressed once they exceed the size threshold.
	ShouldCompress(dataType string) bool
}

// Config configures the embedded DuckDB-backed store.
type Config struct {
	Path    string
	Threads int
	MaxMemory string
}

// Store is the Persistent Cache Store.
type Store struct {
	conn   *sql.DB
	policy PolicyChecker
	clock  clock.Clock
}

// New opens (or creates) the DuckDB file at cfg.Path and ensures the schema
// exists.
func New(cfg Config, policy PolicyChecker, clk clock.Clock) (*Store, error) {
	if cfg.Path == "" {
		return nil, coreerr.New(coreerr.KindInvalidConfig, fmt.Errorf("cachestore: db_path is empty"))
	}
	if clk == nil {
		clk = clock.NewReal()
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, coreerr.New(coreerr.KindInvalidConfig, fmt.Errorf("cachestore: create db directory %s: %w", dir, err))
		}
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "1GB"
	}

	// access_mode=read_write with autoinstall/autoload disabled: the store
	// needs no extensions beyond core DuckDB, so there is nothing to
	// preload and no WAL-replay extension hazard to work around here.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, threads, maxMemory)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("cachestore: open duckdb: %w", err)
	}

	s := &Store{conn: conn, policy: policy, clock: clk}
	if err := s.createSchema(context.Background()); err != nil {
		dbutil.CloseQuietly(conn)
		return nil, fmt.Errorf("cachestore: create schema: %w", err)
	}
	return s, nil
}

// Conn exposes the underlying *sql.DB for components that need direct
// access (e.g. the quota-snapshot / loading-progress / configuration
// tables described in spec §6's persisted state layout).
func (s *Store) Conn() *sql.DB {
	return s.conn
}

func (s *Store) createSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key               VARCHAR PRIMARY KEY,
	blob              BLOB NOT NULL,
	data_type         VARCHAR NOT NULL,
	provider          VARCHAR NOT NULL,
	symbol            VARCHAR NOT NULL DEFAULT '',
	cached_at         TIMESTAMP NOT NULL,
	expires_at        TIMESTAMP NOT NULL,
	last_accessed_at  TIMESTAMP NOT NULL,
	is_permanent      BOOLEAN NOT NULL DEFAULT false,
	access_count      BIGINT NOT NULL DEFAULT 0,
	size_bytes        BIGINT NOT NULL,
	content_hash      VARCHAR NOT NULL
);
`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return err
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_cache_data_type ON cache_entries(data_type)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_provider ON cache_entries(provider)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_symbol ON cache_entries(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_content_hash ON cache_entries(content_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_expires_at ON cache_entries(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_last_accessed ON cache_entries(last_accessed_at)`,
	}
	for _, idx := range indexes {
		if _, err := s.conn.ExecContext(ctx, idx); err != nil {
			return err
		}
	}
	return nil
}

// Close checkpoints the database (forcing the WAL into the main file) then
// closes the connection, matching the teacher's shutdown sequence.
func (s *Store) Close() error {
	if _, err := s.conn.Exec("CHECKPOINT"); err != nil {
		logging.Warn().Err(err).Msg("checkpoint before close failed")
	}
	return s.conn.Close()
}

// contentHash computes H(blob) over the uncompressed bytes, per spec §3's
// invariant that content_hash is deterministic over the uncompressed blob.
func contentHash(blob []byte) string {
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

func maybeCompress(dataType string, blob []byte, policy PolicyChecker) ([]byte, error) {
	if policy == nil || !policy.ShouldCompress(dataType) || len(blob) <= compressThresholdBytes {
		return blob, nil
	}
	var buf bytes.Buffer
	buf.Write(compressionSentinel[:])
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(blob); err != nil {
		return nil, fmt.Errorf("compress blob: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("compress blob: %w", err)
	}
	return buf.Bytes(), nil
}

func maybeDecompress(stored []byte) ([]byte, error) {
	if len(stored) < 4 || !bytes.Equal(stored[:4], compressionSentinel[:]) {
		return stored, nil
	}
	gr, err := gzip.NewReader(bytes.NewReader(stored[4:]))
	if err != nil {
		return nil, fmt.Errorf("decompress blob: %w", err)
	}
	defer dbutil.CloseQuietly(gr)
	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("decompress blob: %w", err)
	}
	return out, nil
}

// Put inserts or replaces an entry, enforcing policy pre-insert.
func (s *Store) Put(ctx context.Context, e Entry) error {
	if e.Key == "" {
		return coreerr.New(coreerr.KindPolicyViolation, fmt.Errorf("cachestore: empty key"))
	}
	if s.policy != nil {
		if err := s.policy.Enforce(e.DataType, len(e.Blob), e.IsPermanent); err != nil {
			return err
		}
	}

	now := s.clock.Now()
	if e.CachedAt.IsZero() {
		e.CachedAt = now
	}
	if e.LastAccessedAt.IsZero() {
		e.LastAccessedAt = now
	}
	e.ContentHash = contentHash(e.Blob)
	e.SizeBytes = int64(len(e.Blob))

	stored, err := maybeCompress(e.DataType, e.Blob, s.policy)
	if err != nil {
		return err
	}

	expiresAt := e.ExpiresAt
	if e.IsPermanent {
		// Stored as far-future rather than a nullable column, so every
		// comparison against "now" stays a plain timestamp comparison.
		expiresAt = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cachestore: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO cache_entries
			(key, blob, data_type, provider, symbol, cached_at, expires_at, last_accessed_at, is_permanent, access_count, size_bytes, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	`, e.Key, stored, e.DataType, e.Provider, e.Symbol, e.CachedAt, expiresAt, e.LastAccessedAt, e.IsPermanent, e.SizeBytes, e.ContentHash)
	if err != nil {
		return fmt.Errorf("cachestore: put: %w", err)
	}
	return tx.Commit()
}

// TypeStats is a per-data_type cache footprint snapshot for the stats()
// surface (spec §6).
type TypeStats struct {
	DataType       string
	EntryCount     int64
	TotalSizeBytes int64
}

// Stats returns a footprint snapshot grouped by data_type.
func (s *Store) Stats(ctx context.Context) ([]TypeStats, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT data_type, COUNT(*), COALESCE(SUM(size_bytes), 0)
		FROM cache_entries
		GROUP BY data_type
		ORDER BY data_type
	`)
	if err != nil {
		return nil, err
	}
	defer dbutil.CloseQuietly(rows)

	var out []TypeStats
	for rows.Next() {
		var ts TypeStats
		if err := rows.Scan(&ts.DataType, &ts.EntryCount, &ts.TotalSizeBytes); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, ts := range out {
		metrics.CacheEntries.WithLabelValues(ts.DataType).Set(float64(ts.EntryCount))
		metrics.CacheSizeBytes.WithLabelValues(ts.DataType).Set(float64(ts.TotalSizeBytes))
	}
	return out, nil
}

// Get selects a row by key. If the row is expired and not permanent, it
// returns a miss and schedules async eviction of the row rather than
// deleting inline, keeping reads cheap (spec §4.C).
func (s *Store) Get(ctx context.Context, key string) (*Entry, bool, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT blob, data_type, provider, symbol, cached_at, expires_at, last_accessed_at, is_permanent, access_count, size_bytes, content_hash
		FROM cache_entries WHERE key = ?
	`, key)

	var e Entry
	var stored []byte
	e.Key = key
	err := row.Scan(&stored, &e.DataType, &e.Provider, &e.Symbol, &e.CachedAt, &e.ExpiresAt, &e.LastAccessedAt, &e.IsPermanent, &e.AccessCount, &e.SizeBytes, &e.ContentHash)
	if err == sql.ErrNoRows {
		metrics.CacheMisses.WithLabelValues("unknown").Inc()
		return nil, false, nil
	}
	if err != nil {
		// Corrupted row: log, delete, and advance as a miss (spec §7).
		logging.Warn().Err(err).Str("key", key).Msg("cache row scan failed, treating as miss")
		go func() {
			_, _ = s.conn.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
		}()
		metrics.CacheMisses.WithLabelValues("unknown").Inc()
		return nil, false, nil
	}

	now := s.clock.Now()
	if !e.IsPermanent && now.After(e.ExpiresAt) {
		go s.evictAsync(key)
		metrics.CacheMisses.WithLabelValues(e.DataType).Inc()
		return nil, false, nil
	}

	blob, err := maybeDecompress(stored)
	if err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("cache blob decompress failed, treating as miss")
		go func() {
			_, _ = s.conn.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
		}()
		metrics.CacheMisses.WithLabelValues(e.DataType).Inc()
		return nil, false, nil
	}
	e.Blob = blob
	metrics.CacheHits.WithLabelValues(e.DataType).Inc()
	return &e, true, nil
}

func (s *Store) evictAsync(key string) {
	if _, err := s.conn.Exec(`DELETE FROM cache_entries WHERE key = ? AND is_permanent = false`, key); err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("async eviction of expired row failed")
	}
}

// UpdateAccess sets last_accessed_at := now and increments access_count.
func (s *Store) UpdateAccess(ctx context.Context, key string) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE cache_entries SET last_accessed_at = ?, access_count = access_count + 1 WHERE key = ?
	`, s.clock.Now(), key)
	return err
}

// FindByHash returns every key whose content_hash matches, for
// deduplication (spec §8 scenario S6).
func (s *Store) FindByHash(ctx context.Context, hash string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT key FROM cache_entries WHERE content_hash = ?`, hash)
	if err != nil {
		return nil, err
	}
	defer dbutil.CloseQuietly(rows)

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// CountByTypeAndSymbol counts live (non-expired or permanent) entries for a
// data_type/symbol pair, used by the Request Governor as a proxy for "enough
// cached neighbors to interpolate from" (spec §4.E.4).
func (s *Store) CountByTypeAndSymbol(ctx context.Context, dataType, symbol string) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM cache_entries
		WHERE data_type = ? AND symbol = ? AND (is_permanent = true OR expires_at >= ?)
	`, dataType, symbol, s.clock.Now()).Scan(&count)
	return count, err
}

// CleanupExpired deletes every non-permanent entry past its expires_at.
// Run on initialization and on a coarse timer.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM cache_entries WHERE is_permanent = false AND expires_at < ?`, s.clock.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// EvictLRU deletes the oldest-by-last_accessed_at non-permanent entries of
// dataType until count(dataType) is at most targetCount. Permanent entries
// are never selected.
func (s *Store) EvictLRU(ctx context.Context, dataType string, targetCount int) (int64, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries WHERE data_type = ?`, dataType).Scan(&count); err != nil {
		return 0, err
	}
	if count <= targetCount {
		return 0, nil
	}
	toEvict := count - targetCount

	res, err := s.conn.ExecContext(ctx, `
		DELETE FROM cache_entries
		WHERE key IN (
			SELECT key FROM cache_entries
			WHERE data_type = ? AND is_permanent = false
			ORDER BY last_accessed_at ASC
			LIMIT ?
		)
	`, dataType, toEvict)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// historicalKey computes the canonical historical key, per spec §4.C:
// "hist:{provider}:{symbol}:{timeframe}:{start_epoch}:{end_epoch}".
func historicalKey(provider, symbol, timeframe string, start, end time.Time) string {
	return fmt.Sprintf("hist:%s:%s:%s:%d:%d", provider, symbol, timeframe, start.Unix(), end.Unix())
}

// PutHistorical is a convenience wrapper over Put that always marks the
// entry permanent and uses the canonical historical key.
func (s *Store) PutHistorical(ctx context.Context, symbol, provider, timeframe string, blob []byte, start, end time.Time) error {
	return s.Put(ctx, Entry{
		Key:         historicalKey(provider, symbol, timeframe, start, end),
		Blob:        blob,
		DataType:    "historical",
		Provider:    provider,
		Symbol:      symbol,
		IsPermanent: true,
	})
}

// GetHistorical is a convenience wrapper over Get using the canonical
// historical key.
func (s *Store) GetHistorical(ctx context.Context, symbol, provider, timeframe string, start, end time.Time) ([]byte, bool, error) {
	e, ok, err := s.Get(ctx, historicalKey(provider, symbol, timeframe, start, end))
	if err != nil || !ok {
		return nil, ok, err
	}
	return e.Blob, true, nil
}

// HasHistorical reports whether a historical entry exists for the exact
// range, without paying for a blob copy.
func (s *Store) HasHistorical(ctx context.Context, symbol, provider, timeframe string, start, end time.Time) (bool, error) {
	var exists bool
	err := s.conn.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM cache_entries WHERE key = ?)`,
		historicalKey(provider, symbol, timeframe, start, end)).Scan(&exists)
	return exists, err
}
