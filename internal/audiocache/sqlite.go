package audiocache

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// SQLStore keeps entries in a SQLite table shaped like the shared audio
// cache: text_hash → (voice_id, base64 audio_data, audio_format).
type SQLStore struct {
	db *sql.DB

	hits   atomic.Int64
	misses atomic.Int64
}

// NewSQLStore opens the database at dbPath, creating its parent directory
// and the audio_cache table when needed.
func NewSQLStore(dbPath string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer at a time; concurrent upserts otherwise fail with SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS audio_cache (
		text_hash TEXT PRIMARY KEY,
		voice_id TEXT NOT NULL,
		audio_data TEXT NOT NULL,
		audio_format TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audio_cache_voice_id ON audio_cache(voice_id);
	`)
	return err
}

// Lookup fetches an entry by key.
func (s *SQLStore) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	var (
		voiceID, data, format, created string
	)
	err := s.db.QueryRowContext(ctx, `
	SELECT voice_id, audio_data, audio_format, created_at
	FROM audio_cache
	WHERE text_hash = ?
	`, key).Scan(&voiceID, &data, &format, &created)
	if errors.Is(err, sql.ErrNoRows) {
		s.misses.Add(1)
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("query audio: %w", err)
	}

	audio, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return Entry{}, false, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	createdAt, _ := time.Parse(time.RFC3339Nano, created)

	s.hits.Add(1)
	return Entry{
		Key:       key,
		VoiceID:   voiceID,
		Audio:     audio,
		Format:    format,
		CreatedAt: createdAt,
	}, true, nil
}

// Upsert inserts an entry or replaces the existing row for its key.
func (s *SQLStore) Upsert(ctx context.Context, e Entry) error {
	e = normalize(e)
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO audio_cache (text_hash, voice_id, audio_data, audio_format, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(text_hash) DO UPDATE SET
		voice_id = excluded.voice_id,
		audio_data = excluded.audio_data,
		audio_format = excluded.audio_format
	`,
		e.Key,
		e.VoiceID,
		base64.StdEncoding.EncodeToString(e.Audio),
		e.Format,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert audio: %w", err)
	}
	return nil
}

// Stats returns row count and stored bytes along with lookup counters.
func (s *SQLStore) Stats() Stats {
	st := Stats{
		Backend: "sqlite",
		Hits:    s.hits.Load(),
		Misses:  s.misses.Load(),
	}
	// audio_data is base64; report decoded bytes
	_ = s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(LENGTH(audio_data)), 0) * 3 / 4 FROM audio_cache`).
		Scan(&st.ItemCount, &st.Size)
	st.computeHitRate()
	return st
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
