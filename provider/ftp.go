package provider

import (
	"context"
	"crypto/tls"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/textproto"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/errors"
)

// TLSMode selects how an FTP connection is secured.
type TLSMode int

const (
	// TLSNone uses plain FTP.
	TLSNone TLSMode = iota
	// TLSExplicit upgrades the control connection with AUTH TLS.
	TLSExplicit
	// TLSImplicit speaks TLS from the first byte, usually on port 990.
	TLSImplicit
)

func (m TLSMode) String() string {
	switch m {
	case TLSExplicit:
		return "explicit"
	case TLSImplicit:
		return "implicit"
	default:
		return "none"
	}
}

// ParseTLSMode parses "none", "explicit" or "implicit". An empty string is none.
func ParseTLSMode(s string) (TLSMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "ftp":
		return TLSNone, nil
	case "explicit", "ftpes":
		return TLSExplicit, nil
	case "implicit", "ftps":
		return TLSImplicit, nil
	}
	return TLSNone, errors.Errorf("unknown TLS mode %q", s)
}

const defaultFTPTimeout = 30 * time.Second

// FTPConfig holds the connection parameters of an FTP or FTPS server.
type FTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	TLS                TLSMode
	InsecureSkipVerify bool

	// Timeout bounds dialing and each control exchange. Zero means 30s.
	Timeout time.Duration

	DisableEPSV bool
	DisableMLSD bool
}

// Addr returns host:port, defaulting the port to 21, or 990 for implicit TLS.
func (c FTPConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 21
		if c.TLS == TLSImplicit {
			port = 990
		}
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c FTPConfig) credentials() (string, string) {
	if c.Username == "" {
		return "anonymous", "anonymous"
	}
	return c.Username, c.Password
}

func (c FTPConfig) dialOptions(ctx context.Context) []ftp.DialOption {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultFTPTimeout
	}
	opts := []ftp.DialOption{
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(timeout),
	}

	tlsConfig := &tls.Config{
		ServerName:         c.Host,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
	switch c.TLS {
	case TLSExplicit:
		opts = append(opts, ftp.DialWithExplicitTLS(tlsConfig))
	case TLSImplicit:
		opts = append(opts, ftp.DialWithTLS(tlsConfig))
	}
	if c.DisableEPSV {
		opts = append(opts, ftp.DialWithDisabledEPSV(true))
	}
	if c.DisableMLSD {
		opts = append(opts, ftp.DialWithDisabledMLSD(true))
	}
	return opts
}

type ftpFileInfo struct {
	name    string
	size    int64
	isDir   bool
	isLink  bool
	modTime time.Time
}

func (f *ftpFileInfo) Name() string       { return f.name }
func (f *ftpFileInfo) Size() int64        { return f.size }
func (f *ftpFileInfo) IsDir() bool        { return f.isDir }
func (f *ftpFileInfo) IsLink() bool       { return f.isLink }
func (f *ftpFileInfo) ModTime() time.Time { return f.modTime }

func entryToFileInfo(e *ftp.Entry) *ftpFileInfo {
	return &ftpFileInfo{
		name:    e.Name,
		size:    int64(e.Size),
		isDir:   e.Type == ftp.EntryTypeFolder,
		isLink:  e.Type == ftp.EntryTypeLink,
		modTime: e.Time,
	}
}

var _ Session = (*FTPProvider)(nil)

// FTPProvider is a Session over a single FTP control connection.
type FTPProvider struct {
	cfg    FTPConfig
	logger *slog.Logger
	conn   *ftp.ServerConn
}

// NewFTPProvider creates an unconnected FTPProvider. A nil logger discards output.
func NewFTPProvider(cfg FTPConfig, logger *slog.Logger) *FTPProvider {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FTPProvider{
		cfg:    cfg,
		logger: logger.With("ftp_addr", cfg.Addr()),
	}
}

// Connect dials and logs in, dropping any previous connection.
func (p *FTPProvider) Connect(ctx context.Context) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if p.conn != nil {
		_ = p.conn.Quit()
		p.conn = nil
	}

	addr := p.cfg.Addr()
	p.logger.Debug("connecting to ftp server", "tls_mode", p.cfg.TLS.String())

	c, err := ftp.Dial(addr, p.cfg.dialOptions(ctx)...)
	if err != nil {
		return errors.Wrapf(err, "failed to make FTP connection to %q", addr)
	}
	user, pass := p.cfg.credentials()
	if err := c.Login(user, pass); err != nil {
		_ = c.Quit()
		return errors.Wrapf(err, "failed to log in to %q as %q", addr, user)
	}

	p.conn = c
	p.logger.Debug("ftp session established", "user", user)
	return nil
}

// Connected checks the link with a NOOP.
func (p *FTPProvider) Connected(ctx context.Context) bool {
	if p.conn == nil || checkContext(ctx) != nil {
		return false
	}
	if err := p.conn.NoOp(); err != nil {
		p.logger.Debug("ftp connection check failed", "error", err)
		return false
	}
	return true
}

// Disconnect sends QUIT and forgets the connection.
func (p *FTPProvider) Disconnect() error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.Quit()
	p.conn = nil
	return err
}

func (p *FTPProvider) client(ctx context.Context) (*ftp.ServerConn, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	if p.conn == nil {
		return nil, ErrNotConnected
	}
	return p.conn, nil
}

func (p *FTPProvider) ChangeDir(ctx context.Context, dir string) error {
	c, err := p.client(ctx)
	if err != nil {
		return err
	}
	return translateError(c.ChangeDir(dir), "cwd", dir)
}

// CurrentDir returns the server's working directory (PWD).
func (p *FTPProvider) CurrentDir(ctx context.Context) (string, error) {
	c, err := p.client(ctx)
	if err != nil {
		return "", err
	}
	dir, err := c.CurrentDir()
	if err != nil {
		return "", errors.Wrap(err, "pwd")
	}
	return dir, nil
}

// Stat finds path in the listing of its parent directory, which works on
// servers without MLST support.
func (p *FTPProvider) Stat(ctx context.Context, pth string) (FileInfo, error) {
	clean := path.Clean(pth)
	if clean == "/" || clean == "." {
		// if root, assume exists and synthesize an entry
		return &ftpFileInfo{name: clean, isDir: true, modTime: time.Now()}, nil
	}

	entries, err := p.List(ctx, path.Dir(clean))
	if err != nil {
		return nil, err
	}
	base := path.Base(clean)
	for _, e := range entries {
		if e.Name() == base {
			return e, nil
		}
	}
	return nil, &fs.PathError{Op: "stat", Path: pth, Err: fs.ErrNotExist}
}

func (p *FTPProvider) List(ctx context.Context, dir string) ([]FileInfo, error) {
	c, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := c.List(dir)
	if err != nil {
		return nil, translateError(err, "list", dir)
	}

	infos := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		infos = append(infos, entryToFileInfo(e))
	}
	return infos, nil
}

// OpenRead starts a RETR. The reader must be closed before the session is
// used again.
func (p *FTPProvider) OpenRead(ctx context.Context, pth string) (io.ReadCloser, error) {
	c, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	r, err := c.Retr(pth)
	if err != nil {
		return nil, translateError(err, "retr", pth)
	}
	return r, nil
}

func (p *FTPProvider) OpenWrite(ctx context.Context, pth string) (io.WriteCloser, error) {
	c, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	return newAsyncWriter(func(r io.Reader) error {
		return errors.Wrapf(c.Stor(pth, r), "stor %q", pth)
	}), nil
}

func (p *FTPProvider) OpenAppend(ctx context.Context, pth string) (io.WriteCloser, error) {
	c, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	return newAsyncWriter(func(r io.Reader) error {
		return errors.Wrapf(c.Append(pth, r), "appe %q", pth)
	}), nil
}

func (p *FTPProvider) Remove(ctx context.Context, pth string) error {
	c, err := p.client(ctx)
	if err != nil {
		return err
	}
	return translateError(c.Delete(pth), "dele", pth)
}

func (p *FTPProvider) Rename(ctx context.Context, from, to string) error {
	c, err := p.client(ctx)
	if err != nil {
		return err
	}
	return translateError(c.Rename(from, to), "rename", from+" -> "+to)
}

// MkdirAll creates dir and its parents, walking up until an existing
// directory is found.
func (p *FTPProvider) MkdirAll(ctx context.Context, dir string) error {
	dir = path.Clean(dir)
	if dir == "." || dir == "/" {
		return nil
	}
	info, err := p.Stat(ctx, dir)
	if err == nil {
		if info.IsDir() {
			return nil
		}
		return errors.Errorf("mkdir %q: exists and is not a directory", dir)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "mkdir %q failed", dir)
	}

	if err := p.MkdirAll(ctx, path.Dir(dir)); err != nil {
		return err
	}
	c, err := p.client(ctx)
	if err != nil {
		return err
	}
	err = c.MakeDir(dir)
	if tpErr, ok := errors.Cause(err).(*textproto.Error); ok {
		switch tpErr.Code {
		case ftp.StatusFileUnavailable, 521:
			// Servers answer both for "already exists" and "not allowed".
			if info, statErr := p.Stat(ctx, dir); statErr == nil && info.IsDir() {
				return nil
			}
		}
	}
	return errors.Wrapf(err, "mkdir %q", dir)
}

// Chtimes sets the modification time with MFMT.
func (p *FTPProvider) Chtimes(ctx context.Context, pth string, modTime time.Time) error {
	c, err := p.client(ctx)
	if err != nil {
		return err
	}
	if !c.IsSetTimeSupported() {
		return errors.Wrapf(ErrNotSupported, "set modification time of %q", pth)
	}
	return errors.Wrapf(c.SetTime(pth, modTime), "set modification time of %q", pth)
}

// translateError maps "file unavailable" replies to fs.ErrNotExist.
func translateError(err error, op, pth string) error {
	if err == nil {
		return nil
	}
	if tpErr, ok := errors.Cause(err).(*textproto.Error); ok {
		switch tpErr.Code {
		case ftp.StatusFileUnavailable, ftp.StatusFileActionIgnored:
			return &fs.PathError{Op: op, Path: pth, Err: errors.Wrap(fs.ErrNotExist, tpErr.Msg)}
		}
	}
	return errors.Wrapf(err, "%s %q", op, pth)
}

// IsTransportError reports whether err comes from the network link rather
// than from the server refusing a command. Such errors mean the session has
// to be re-established.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code == ftp.StatusNotAvailable
	}
	return false
}
