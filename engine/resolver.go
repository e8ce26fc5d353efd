package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/franksops/ftpxfer/naming"
	"github.com/franksops/ftpxfer/provider"
)

// Resolver turns a SourceSpec into the list of files of a batch.
type Resolver struct {
	Source provider.Provider
}

// NewResolver creates a Resolver listing src.
func NewResolver(src provider.Provider) *Resolver {
	return &Resolver{Source: src}
}

// Resolve returns the files of dir that match spec. Explicit file paths are
// returned as given, without listing or filtering. Directories and links are
// never returned.
func (r *Resolver) Resolve(ctx context.Context, dir string, spec SourceSpec) ([]FileEntry, error) {
	if len(spec.FilePaths) > 0 {
		return explicitEntries(dir, spec.FilePaths), nil
	}

	re, err := naming.MaskToRegexp(spec.FileNameMask)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	stat, err := r.Source.Stat(ctx, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: source directory %q", ErrDirectoryNotFound, dir)
		}
		return nil, fmt.Errorf("failed to stat source directory %s: %w", dir, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("%w: source %q is not a directory", ErrDirectoryNotFound, dir)
	}

	infos, err := r.Source.List(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory %s: %w", dir, err)
	}

	var entries []FileEntry
	for _, info := range infos {
		if info.IsDir() || info.IsLink() || !re.MatchString(info.Name()) {
			continue
		}
		entries = append(entries, FileEntry{
			Name:         info.Name(),
			FullPath:     naming.Join(dir, info.Name()),
			LastModified: info.ModTime(),
			Size:         info.Size(),
		})
	}
	return entries, nil
}

func explicitEntries(dir string, paths []string) []FileEntry {
	entries := make([]FileEntry, 0, len(paths))
	for _, p := range paths {
		full := naming.Join(dir, p)
		entries = append(entries, FileEntry{
			Name:     naming.Base(full),
			FullPath: full,
		})
	}
	return entries
}
