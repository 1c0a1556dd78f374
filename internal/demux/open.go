package demux

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// IndexCache persists scan results so a file is only walked once.
type IndexCache interface {
	Get(key string) (*Index, bool, error)
	Put(key string, idx *Index) error
}

// FileKey identifies a file's content by path, size and modification time.
func FileKey(path string, info os.FileInfo) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	h := sha256.New()
	h.Write([]byte(abs))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(info.Size(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(info.ModTime().UnixNano(), 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// Open indexes the transport stream at path, consulting cache first when it
// is non-nil, and returns a demuxer over it.
func Open(ctx context.Context, path string, cache IndexCache, log *slog.Logger) (*FileDemuxer, error) {
	if log == nil {
		log = slog.Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("demux: %w", err)
	}
	idx, err := loadIndex(ctx, f, path, cache, log)
	if err != nil {
		f.Close()
		return nil, err
	}
	return NewFileDemuxer(f, idx, log.With("path", path)), nil
}

// Prescan indexes every path into cache, at most parallel files at a time.
func Prescan(ctx context.Context, paths []string, cache IndexCache, parallel int, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for _, path := range paths {
		g.Go(func() error {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("demux: %w", err)
			}
			defer f.Close()
			_, err = loadIndex(ctx, f, path, cache, log)
			return err
		})
	}
	return g.Wait()
}

func loadIndex(ctx context.Context, f *os.File, path string, cache IndexCache, log *slog.Logger) (*Index, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("demux: %w", err)
	}
	key := FileKey(path, info)

	if cache != nil {
		idx, ok, err := cache.Get(key)
		switch {
		case err != nil:
			log.Warn("index cache read failed", "path", path, "error", err)
		case ok && idx.Size == info.Size():
			log.Debug("index cache hit", "path", path, "frames", idx.Len())
			return idx, nil
		}
	}

	idx, err := Scan(ctx, f, log.With("path", path))
	if err != nil {
		return nil, fmt.Errorf("demux: %s: %w", path, err)
	}
	if cache != nil {
		if err := cache.Put(key, idx); err != nil {
			log.Warn("index cache write failed", "path", path, "error", err)
		}
	}
	return idx, nil
}
