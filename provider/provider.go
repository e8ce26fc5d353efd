package provider

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"
)

var (
	// ErrNotSupported is returned for operations a backend cannot perform.
	ErrNotSupported = errors.New("operation not supported by provider")

	// ErrNotConnected is returned when a session is used before Connect.
	ErrNotConnected = errors.New("provider session is not connected")
)

// FileInfo represents the standard metadata for a file or a directory
// across different storage abstractions.
type FileInfo interface {
	Name() string
	Size() int64
	IsDir() bool
	IsLink() bool
	ModTime() time.Time
}

// Provider represents a storage backend abstraction.
// A typical Provider might be local storage, S3, FTP, etc.
//
// Paths that do not exist are reported with errors matching fs.ErrNotExist.
type Provider interface {
	// Stat returns the FileInfo for the given path.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// List returns the contents of the given directory.
	List(ctx context.Context, path string) ([]FileInfo, error)

	// OpenRead opens a file for streaming reads.
	OpenRead(ctx context.Context, path string) (io.ReadCloser, error)

	// OpenWrite opens a file for streaming writes, replacing any existing content.
	OpenWrite(ctx context.Context, path string) (io.WriteCloser, error)

	// OpenAppend opens a file for streaming writes after its existing content.
	OpenAppend(ctx context.Context, path string) (io.WriteCloser, error)

	// Remove deletes a file.
	Remove(ctx context.Context, path string) error

	// Rename moves a file to a new path.
	Rename(ctx context.Context, from, to string) error

	// MkdirAll creates a directory and any missing parents.
	MkdirAll(ctx context.Context, path string) error

	// Chtimes sets the modification time of a file.
	Chtimes(ctx context.Context, path string, modTime time.Time) error
}

// Session is a Provider backed by a connection that has to be opened, kept
// alive and closed. A Session is not safe for concurrent use.
type Session interface {
	Provider

	// Connect opens the connection, replacing any previous one.
	Connect(ctx context.Context) error

	// Connected reports whether the connection is still usable.
	Connected(ctx context.Context) bool

	// ChangeDir sets the working directory of the connection. Relative
	// paths passed to the session resolve against it.
	ChangeDir(ctx context.Context, dir string) error

	// CurrentDir returns the absolute working directory of the connection.
	CurrentDir(ctx context.Context) (string, error)

	// Disconnect closes the connection. It is safe to call more than once.
	Disconnect() error
}

// NopSession lifts a connectionless Provider into a Session whose lifecycle
// methods do nothing. It keeps a working directory against which relative
// paths are resolved before they reach p.
func NopSession(p Provider) Session {
	return &nopSession{Provider: p, cwd: "/"}
}

type nopSession struct {
	Provider
	cwd string
}

func (*nopSession) Connect(context.Context) error  { return nil }
func (*nopSession) Connected(context.Context) bool { return true }
func (*nopSession) Disconnect() error              { return nil }

func (s *nopSession) ChangeDir(_ context.Context, dir string) error {
	s.cwd = s.abs(dir)
	return nil
}

func (s *nopSession) CurrentDir(context.Context) (string, error) {
	return s.cwd, nil
}

func (s *nopSession) abs(p string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	return path.Join(s.cwd, p)
}

func (s *nopSession) Stat(ctx context.Context, p string) (FileInfo, error) {
	return s.Provider.Stat(ctx, s.abs(p))
}

func (s *nopSession) List(ctx context.Context, p string) ([]FileInfo, error) {
	return s.Provider.List(ctx, s.abs(p))
}

func (s *nopSession) OpenRead(ctx context.Context, p string) (io.ReadCloser, error) {
	return s.Provider.OpenRead(ctx, s.abs(p))
}

func (s *nopSession) OpenWrite(ctx context.Context, p string) (io.WriteCloser, error) {
	return s.Provider.OpenWrite(ctx, s.abs(p))
}

func (s *nopSession) OpenAppend(ctx context.Context, p string) (io.WriteCloser, error) {
	return s.Provider.OpenAppend(ctx, s.abs(p))
}

func (s *nopSession) Remove(ctx context.Context, p string) error {
	return s.Provider.Remove(ctx, s.abs(p))
}

func (s *nopSession) Rename(ctx context.Context, from, to string) error {
	return s.Provider.Rename(ctx, s.abs(from), s.abs(to))
}

func (s *nopSession) MkdirAll(ctx context.Context, p string) error {
	return s.Provider.MkdirAll(ctx, s.abs(p))
}

func (s *nopSession) Chtimes(ctx context.Context, p string, modTime time.Time) error {
	return s.Provider.Chtimes(ctx, s.abs(p), modTime)
}

// Exists reports whether path exists on p.
func Exists(ctx context.Context, p Provider, path string) (bool, error) {
	_, err := p.Stat(ctx, path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// asyncWriter adapts a reader-consuming upload call into an io.WriteCloser.
// The upload runs in its own goroutine, fed through a pipe.
type asyncWriter struct {
	pw      *io.PipeWriter
	errChan <-chan error
}

func newAsyncWriter(upload func(r io.Reader) error) *asyncWriter {
	pr, pw := io.Pipe()
	errChan := make(chan error, 1)

	go func() {
		err := upload(pr)
		pr.CloseWithError(err)
		errChan <- err
	}()

	return &asyncWriter{
		pw:      pw,
		errChan: errChan,
	}
}

func (w *asyncWriter) Write(p []byte) (n int, err error) {
	return w.pw.Write(p)
}

// Close finishes the stream and waits for the upload to complete.
func (w *asyncWriter) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	return <-w.errChan
}

// CloseWithError aborts the stream so the upload fails with err, and waits
// for it to return.
func (w *asyncWriter) CloseWithError(err error) error {
	_ = w.pw.CloseWithError(err)
	return <-w.errChan
}
