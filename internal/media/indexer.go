package media

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Indexer builds GoP indexes lazily, deduplicates concurrent builds for the
// same source, caches results, and invalidates cache entries when the source
// file changes on disk.
type Indexer struct {
	bin    string
	cache  *GopCache // optional
	logger zerolog.Logger

	group   singleflight.Group
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	watched map[string]struct{}
	done    chan struct{}
}

// NewIndexer creates an Indexer. cache may be nil to disable persistence.
func NewIndexer(ffprobeBin string, cache *GopCache, logger zerolog.Logger) (*Indexer, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	ix := &Indexer{
		bin:     ffprobeBin,
		cache:   cache,
		logger:  logger,
		watcher: watcher,
		watched: make(map[string]struct{}),
		done:    make(chan struct{}),
	}
	go ix.watchLoop()
	return ix, nil
}

// Index returns the keyframe index for path, building it on first use.
func (ix *Indexer) Index(ctx context.Context, path string) (*GopIndex, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	mtime := info.ModTime().UnixNano()
	size := info.Size()

	if ix.cache != nil {
		if idx, ok := ix.cache.Get(path, mtime, size); ok {
			return idx, nil
		}
	}

	v, err, _ := ix.group.Do(path, func() (any, error) {
		idx, err := buildGopIndex(ctx, ix.bin, path)
		if err != nil {
			return nil, err
		}
		if ix.cache != nil {
			ix.cache.Set(path, mtime, size, idx)
		}
		ix.watch(path)
		ix.logger.Debug().
			Str("path", path).
			Int("keyframes", len(idx.Groups)).
			Msg("gop index built")
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*GopIndex), nil
}

func (ix *Indexer) watch(path string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.watched[path]; ok {
		return
	}
	if err := ix.watcher.Add(path); err != nil {
		ix.logger.Warn().Err(err).Str("path", path).Msg("gop watch failed")
		return
	}
	ix.watched[path] = struct{}{}
}

func (ix *Indexer) watchLoop() {
	for {
		select {
		case <-ix.done:
			return
		case ev, ok := <-ix.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			ix.logger.Debug().Str("path", ev.Name).Str("op", ev.Op.String()).Msg("source changed, dropping gop index")
			if ix.cache != nil {
				ix.cache.Delete(ev.Name)
			}
			ix.mu.Lock()
			delete(ix.watched, ev.Name)
			ix.mu.Unlock()
			_ = ix.watcher.Remove(ev.Name)
		case err, ok := <-ix.watcher.Errors:
			if !ok {
				return
			}
			ix.logger.Warn().Err(err).Msg("gop watcher error")
		}
	}
}

// Close stops the watch loop and releases the watcher.
func (ix *Indexer) Close() error {
	close(ix.done)
	return ix.watcher.Close()
}
