package audiocache

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	indexFile = "cache.index"

	// payloads below this size are stored raw
	minCompressSize = 1024
)

// DiskStore persists audio under a directory, one file per entry, with an
// optional zstd layer. A gob index keeps the metadata of every entry.
type DiskStore struct {
	basePath string
	capacity int64
	size     int64

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	index map[string]*diskEntry

	mu    sync.Mutex
	stats Stats
}

type diskEntry struct {
	Key          string
	VoiceID      string
	Format       string
	FileName     string
	Size         int64 // on disk
	OriginalSize int64
	CreatedAt    time.Time
	LastAccess   time.Time
	Compressed   bool
}

// NewDiskStore opens (or creates) a disk store. A compressionLevel of 0
// disables compression.
func NewDiskStore(basePath string, capacity int64, compressionLevel int) (*DiskStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	d := &DiskStore{
		basePath: basePath,
		capacity: capacity,
		index:    make(map[string]*diskEntry),
		stats:    Stats{Backend: "disk", Capacity: capacity},
	}

	if compressionLevel > 0 {
		var err error
		d.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		d.decoder, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
	}

	if err := d.loadIndex(); err != nil {
		// unreadable index: start over, the files are re-synthesized on demand
		d.index = make(map[string]*diskEntry)
	}
	for _, e := range d.index {
		d.size += e.Size
	}

	return d, nil
}

// Lookup reads an entry from disk. A missing file is a miss; a payload that
// no longer decodes is dropped and reported as ErrCorrupted.
func (d *DiskStore) Lookup(_ context.Context, key string) (Entry, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.index[key]
	if !ok {
		d.stats.Misses++
		return Entry{}, false, nil
	}

	data, err := os.ReadFile(filepath.Join(d.basePath, e.FileName))
	if errors.Is(err, os.ErrNotExist) {
		d.drop(key)
		d.stats.Misses++
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	if e.Compressed {
		if d.decoder == nil {
			d.drop(key)
			return Entry{}, false, fmt.Errorf("%w: compressed entry but compression is disabled", ErrCorrupted)
		}
		data, err = d.decoder.DecodeAll(data, nil)
		if err != nil {
			d.drop(key)
			return Entry{}, false, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
	}

	e.LastAccess = time.Now()
	d.stats.Hits++

	return Entry{
		Key:       e.Key,
		VoiceID:   e.VoiceID,
		Audio:     data,
		Format:    e.Format,
		CreatedAt: e.CreatedAt,
	}, true, nil
}

// Upsert writes an entry to disk and persists the index.
func (d *DiskStore) Upsert(_ context.Context, entry Entry) error {
	entry = normalize(entry)
	payload := entry.Audio
	compressed := false

	if d.encoder != nil && len(payload) > minCompressSize {
		if c := d.encoder.EncodeAll(payload, nil); len(c) < len(payload) {
			payload = c
			compressed = true
		}
	}
	n := int64(len(payload))

	d.mu.Lock()
	defer d.mu.Unlock()

	if n > d.capacity {
		return ErrItemTooLarge
	}
	if _, ok := d.index[entry.Key]; ok {
		d.drop(entry.Key)
	}
	for d.size+n > d.capacity && len(d.index) > 0 {
		d.evictOldest()
	}

	name := entry.Key + ".audio"
	if err := writeFileAtomic(filepath.Join(d.basePath, name), payload); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	now := time.Now()
	d.index[entry.Key] = &diskEntry{
		Key:          entry.Key,
		VoiceID:      entry.VoiceID,
		Format:       entry.Format,
		FileName:     name,
		Size:         n,
		OriginalSize: int64(len(entry.Audio)),
		CreatedAt:    entry.CreatedAt,
		LastAccess:   now,
		Compressed:   compressed,
	}
	d.size += n

	return d.saveIndex()
}

// Stats returns usage counters.
func (d *DiskStore) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.stats
	s.Size = d.size
	s.ItemCount = int64(len(d.index))
	s.computeHitRate()
	return s
}

// Close persists the index and releases the codecs.
func (d *DiskStore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.decoder != nil {
		d.decoder.Close()
	}
	if d.encoder != nil {
		_ = d.encoder.Close()
	}
	return d.saveIndex()
}

// must be called with the lock held
func (d *DiskStore) drop(key string) {
	e, ok := d.index[key]
	if !ok {
		return
	}
	_ = os.Remove(filepath.Join(d.basePath, e.FileName))
	d.size -= e.Size
	delete(d.index, key)
}

// must be called with the lock held
func (d *DiskStore) evictOldest() {
	var oldest *diskEntry
	for _, e := range d.index {
		if oldest == nil || e.LastAccess.Before(oldest.LastAccess) {
			oldest = e
		}
	}
	if oldest != nil {
		d.drop(oldest.Key)
		d.stats.Evictions++
	}
}

func (d *DiskStore) loadIndex() error {
	f, err := os.Open(filepath.Join(d.basePath, indexFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	return gob.NewDecoder(f).Decode(&d.index)
}

func (d *DiskStore) saveIndex() error {
	path := filepath.Join(d.basePath, indexFile)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	err = gob.NewEncoder(f).Encode(d.index)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// writeFileAtomic writes to a temp file first, then renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
