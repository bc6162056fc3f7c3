package media

import (
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// GopCache persists built keyframe indexes across restarts, keyed by source
// path and validated against the file's identity (mtime + size) on read.
type GopCache struct {
	db     *badger.DB
	logger zerolog.Logger
}

type cachedGopIndex struct {
	MTimeUnixNano int64    `json:"mtime"`
	SizeBytes     int64    `json:"size"`
	Index         GopIndex `json:"index"`
}

// OpenGopCache opens (or creates) the cache database under dir.
func OpenGopCache(dir string, logger zerolog.Logger) (*GopCache, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open gop cache: %w", err)
	}
	return &GopCache{db: db, logger: logger}, nil
}

func (c *GopCache) key(path string) []byte {
	return []byte("gop:" + path)
}

// Get returns the cached index for path if the file identity still matches.
func (c *GopCache) Get(path string, mtimeNano, size int64) (*GopIndex, bool) {
	var cached cachedGopIndex
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.key(path))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cached)
		})
	})
	if err != nil {
		if err != badger.ErrKeyNotFound {
			c.logger.Warn().Err(err).Str("path", path).Msg("gop cache read failed")
		}
		return nil, false
	}
	if cached.MTimeUnixNano != mtimeNano || cached.SizeBytes != size {
		// stale entry for a rewritten file
		c.Delete(path)
		return nil, false
	}
	idx := cached.Index
	return &idx, true
}

// Set stores the index for path under the file's current identity.
func (c *GopCache) Set(path string, mtimeNano, size int64, idx *GopIndex) {
	data, err := json.Marshal(cachedGopIndex{
		MTimeUnixNano: mtimeNano,
		SizeBytes:     size,
		Index:         *idx,
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("gop cache marshal failed")
		return
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(c.key(path), data)
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("gop cache write failed")
	}
}

// Delete removes the cached index for path.
func (c *GopCache) Delete(path string) {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(c.key(path))
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("path", path).Msg("gop cache delete failed")
	}
}

// Close flushes and closes the underlying database.
func (c *GopCache) Close() error {
	return c.db.Close()
}
