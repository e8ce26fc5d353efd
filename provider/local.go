package provider

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

type localFileInfo struct {
	name    string
	size    int64
	isDir   bool
	isLink  bool
	modTime time.Time
}

func (l *localFileInfo) Name() string       { return l.name }
func (l *localFileInfo) Size() int64        { return l.size }
func (l *localFileInfo) IsDir() bool        { return l.isDir }
func (l *localFileInfo) IsLink() bool       { return l.isLink }
func (l *localFileInfo) ModTime() time.Time { return l.modTime }

func wrapOSFileInfo(info fs.FileInfo) *localFileInfo {
	return &localFileInfo{
		name:    info.Name(),
		size:    info.Size(),
		isDir:   info.IsDir(),
		isLink:  info.Mode()&fs.ModeSymlink != 0,
		modTime: info.ModTime(),
	}
}

var _ Provider = (*LocalProvider)(nil)

// LocalProvider implements the Provider interface for posix-compliant local filesystems.
type LocalProvider struct {
	basePath string
}

// NewLocalProvider creates a new LocalProvider rooted at basePath.
// If basePath is empty, it acts upon absolute or relative paths directly.
func NewLocalProvider(basePath string) *LocalProvider {
	return &LocalProvider{
		basePath: basePath,
	}
}

func (p *LocalProvider) resolve(path string) string {
	if p.basePath == "" {
		return filepath.FromSlash(path)
	}
	// To prevent traversing outside base, we could add checks here later
	return filepath.Join(p.basePath, filepath.Clean(filepath.FromSlash(path)))
}

func (p *LocalProvider) Stat(ctx context.Context, path string) (FileInfo, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	info, err := os.Stat(p.resolve(path))
	if err != nil {
		return nil, err
	}
	return wrapOSFileInfo(info), nil
}

func (p *LocalProvider) List(ctx context.Context, path string) ([]FileInfo, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(p.resolve(path))
	if err != nil {
		return nil, err
	}

	var infos []FileInfo
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue // skip files that disappeared between ReadDir and Info
		}
		infos = append(infos, wrapOSFileInfo(info))
	}
	return infos, nil
}

func (p *LocalProvider) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	return os.Open(p.resolve(path))
}

func (p *LocalProvider) OpenWrite(ctx context.Context, path string) (io.WriteCloser, error) {
	return p.openFile(ctx, path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
}

func (p *LocalProvider) OpenAppend(ctx context.Context, path string) (io.WriteCloser, error) {
	return p.openFile(ctx, path, os.O_CREATE|os.O_WRONLY|os.O_APPEND)
}

func (p *LocalProvider) openFile(ctx context.Context, path string, flag int) (io.WriteCloser, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	fullPath := p.resolve(path)

	// Create parent directories if they don't exist
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(fullPath, flag, 0644)
}

func (p *LocalProvider) Remove(ctx context.Context, path string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	return os.Remove(p.resolve(path))
}

func (p *LocalProvider) Rename(ctx context.Context, from, to string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	return os.Rename(p.resolve(from), p.resolve(to))
}

func (p *LocalProvider) MkdirAll(ctx context.Context, path string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	return os.MkdirAll(p.resolve(path), 0755)
}

func (p *LocalProvider) Chtimes(ctx context.Context, path string, modTime time.Time) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	return os.Chtimes(p.resolve(path), time.Now(), modTime)
}
