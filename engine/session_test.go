package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/franksops/ftpxfer/naming"
	"github.com/franksops/ftpxfer/provider"
)

// fakeSession is a Session over a local directory that tracks its
// connection state, can drop it on demand and fails selected operations.
type fakeSession struct {
	provider.Provider

	mu          sync.Mutex
	connected   bool
	connects    int
	disconnects int
	connectErrs []error
	chdirs      []string
	cwd         string
	failOn      map[string]error

	// after is called once an operation has succeeded.
	after func(op, path string)
	// onConnected is called at the start of every Connected check.
	onConnected func()
}

func newFakeSession(root string) *fakeSession {
	return &fakeSession{
		Provider: provider.NewLocalProvider(root),
		cwd:      "/",
		failOn:   map[string]error{},
	}
}

func (s *fakeSession) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects++
	if len(s.connectErrs) > 0 {
		err := s.connectErrs[0]
		s.connectErrs = s.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	s.connected = true
	s.cwd = "/"
	return nil
}

func (s *fakeSession) Connected(ctx context.Context) bool {
	if s.onConnected != nil {
		s.onConnected()
	}
	if ctx.Err() != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSession) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects++
	s.connected = false
	return nil
}

func (s *fakeSession) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

func (s *fakeSession) fail(op, path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn[op+" "+path] = err
}

func (s *fakeSession) connectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

func (s *fakeSession) check(op, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return provider.ErrNotConnected
	}
	if err, ok := s.failOn[op+" "+path]; ok {
		return err
	}
	if err, ok := s.failOn[op+" *"]; ok {
		return err
	}
	return nil
}

func (s *fakeSession) done(op, path string, err error) {
	if err == nil && s.after != nil {
		s.after(op, path)
	}
}

// abs resolves p against the working directory, like a server does.
func (s *fakeSession) abs(p string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if naming.IsAbs(p) {
		return naming.Canonicalize(p)
	}
	return naming.Join(s.cwd, p)
}

func (s *fakeSession) ChangeDir(ctx context.Context, dir string) error {
	if err := s.check("ChangeDir", dir); err != nil {
		return err
	}
	target := s.abs(dir)
	info, err := s.Provider.Stat(ctx, target)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("cwd %q: not a directory", dir)
	}
	s.mu.Lock()
	s.chdirs = append(s.chdirs, dir)
	s.cwd = target
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) CurrentDir(ctx context.Context) (string, error) {
	if err := s.check("CurrentDir", ""); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd, nil
}

func (s *fakeSession) Stat(ctx context.Context, path string) (provider.FileInfo, error) {
	path = s.abs(path)
	if err := s.check("Stat", path); err != nil {
		return nil, err
	}
	info, err := s.Provider.Stat(ctx, path)
	s.done("Stat", path, err)
	return info, err
}

func (s *fakeSession) List(ctx context.Context, path string) ([]provider.FileInfo, error) {
	path = s.abs(path)
	if err := s.check("List", path); err != nil {
		return nil, err
	}
	infos, err := s.Provider.List(ctx, path)
	s.done("List", path, err)
	return infos, err
}

func (s *fakeSession) OpenRead(ctx context.Context, path string) (io.ReadCloser, error) {
	path = s.abs(path)
	if err := s.check("OpenRead", path); err != nil {
		return nil, err
	}
	r, err := s.Provider.OpenRead(ctx, path)
	s.done("OpenRead", path, err)
	return r, err
}

func (s *fakeSession) OpenWrite(ctx context.Context, path string) (io.WriteCloser, error) {
	path = s.abs(path)
	if err := s.check("OpenWrite", path); err != nil {
		return nil, err
	}
	w, err := s.Provider.OpenWrite(ctx, path)
	s.done("OpenWrite", path, err)
	return w, err
}

func (s *fakeSession) OpenAppend(ctx context.Context, path string) (io.WriteCloser, error) {
	path = s.abs(path)
	if err := s.check("OpenAppend", path); err != nil {
		return nil, err
	}
	w, err := s.Provider.OpenAppend(ctx, path)
	s.done("OpenAppend", path, err)
	return w, err
}

func (s *fakeSession) Remove(ctx context.Context, path string) error {
	path = s.abs(path)
	if err := s.check("Remove", path); err != nil {
		return err
	}
	err := s.Provider.Remove(ctx, path)
	s.done("Remove", path, err)
	return err
}

func (s *fakeSession) Rename(ctx context.Context, from, to string) error {
	from, to = s.abs(from), s.abs(to)
	if err := s.check("Rename", from); err != nil {
		return err
	}
	err := s.Provider.Rename(ctx, from, to)
	s.done("Rename", from, err)
	return err
}

func (s *fakeSession) MkdirAll(ctx context.Context, path string) error {
	path = s.abs(path)
	if err := s.check("MkdirAll", path); err != nil {
		return err
	}
	err := s.Provider.MkdirAll(ctx, path)
	s.done("MkdirAll", path, err)
	return err
}

func (s *fakeSession) Chtimes(ctx context.Context, path string, modTime time.Time) error {
	path = s.abs(path)
	if err := s.check("Chtimes", path); err != nil {
		return err
	}
	err := s.Provider.Chtimes(ctx, path, modTime)
	s.done("Chtimes", path, err)
	return err
}

// fixture is a source and a destination session sharing one temp root, with
// /in and /out created.
type fixture struct {
	root string
	src  *fakeSession
	dst  *fakeSession
	tr   *Transporter
}

var fixtureNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{"in", "out"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			t.Fatal(err)
		}
	}
	f := &fixture{
		root: root,
		src:  newFakeSession(root),
		dst:  newFakeSession(root),
	}
	f.tr = NewTransporter(func(*TransferRequest) (provider.Session, provider.Session, error) {
		return f.src, f.dst, nil
	}, nil).WithClock(func() time.Time { return fixtureNow })
	return f
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(f.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("reading %s: %v", rel, err)
	}
	return string(data)
}

func (f *fixture) names(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(f.root, filepath.FromSlash(dir)))
	if err != nil {
		t.Fatalf("listing %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func baseRequest() *TransferRequest {
	return &TransferRequest{
		Direction: Upload,
		Source: SourceSpec{
			Directory:    "/in",
			FileNameMask: "*",
		},
		Destination: DestinationSpec{
			Directory: "/out",
			Action:    ExistsOverwrite,
		},
		TransferName: "test",
	}
}
