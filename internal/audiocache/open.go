package audiocache

import (
	"fmt"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendDisk   = "disk"
	BackendSQLite = "sqlite"
	BackendREST   = "rest"
)

// Options describes the store to open.
type Options struct {
	Backend string

	// Dir holds the sqlite database or the disk store's files.
	Dir string

	MemoryCapacity   int64
	DiskCapacity     int64
	CompressionLevel int

	URL   string
	Token string
}

// Open builds the configured store. Persistent backends get an in-memory
// tier in front of them when MemoryCapacity is positive.
func Open(o Options) (Store, error) {
	var slow Store

	switch o.Backend {
	case BackendMemory, "":
		return NewMemoryStore(o.MemoryCapacity), nil
	case BackendDisk:
		d, err := NewDiskStore(o.Dir, o.DiskCapacity, o.CompressionLevel)
		if err != nil {
			return nil, err
		}
		slow = d
	case BackendSQLite:
		s, err := NewSQLStore(filepath.Join(o.Dir, "audio.db"))
		if err != nil {
			return nil, err
		}
		slow = s
	case BackendREST:
		if o.URL == "" {
			return nil, fmt.Errorf("rest cache backend requires a url")
		}
		slow = NewRESTStore(o.URL, WithToken(o.Token))
	default:
		return nil, fmt.Errorf("unknown cache backend %q", o.Backend)
	}

	if o.MemoryCapacity <= 0 {
		return slow, nil
	}
	return NewTiered(NewMemoryStore(o.MemoryCapacity), slow), nil
}
