// Package config loads batch definitions and turns them into transfer
// requests.
//
// A batch file holds shared connection defaults and a list of batches:
//
//	connection:
//	  host: ftp.example.com
//	  username: feeds
//	  tls: explicit
//	local_root: /srv/exchange
//	batches:
//	  - name: nightly-orders
//	    direction: upload
//	    source:
//	      directory: /outgoing
//	      mask: "*.csv"
//	      operation: move
//	      move_to: /archive/%Date%
//	    destination:
//	      directory: /in
//	      action: overwrite
//
// Connection values and top-level settings can be overridden from the
// environment with the FTPXFER_ prefix, for example FTPXFER_CONNECTION_PASSWORD.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/franksops/ftpxfer/engine"
	"github.com/franksops/ftpxfer/provider"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FTPXFER"

// File is a parsed batch file.
type File struct {
	Connection Connection
	LocalRoot  string
	StateDir   string
	Parallel   int
	Batches    []Batch
}

// Connection holds FTP connection settings. In a batch, unset fields inherit
// the file-level values.
type Connection struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	TLS                string        `mapstructure:"tls"`
	InsecureSkipVerify *bool         `mapstructure:"insecure_skip_verify"`
	Timeout            time.Duration `mapstructure:"timeout"`
	DisableEPSV        *bool         `mapstructure:"disable_epsv"`
	DisableMLSD        *bool         `mapstructure:"disable_mlsd"`
}

// Batch is one batch definition.
type Batch struct {
	Name        string      `mapstructure:"name"`
	Direction   string      `mapstructure:"direction"`
	LocalRoot   string      `mapstructure:"local_root"`
	Connection  Connection  `mapstructure:"connection"`
	Source      Source      `mapstructure:"source"`
	Destination Destination `mapstructure:"destination"`
	Options     Options     `mapstructure:"options"`
}

type Source struct {
	Directory string `mapstructure:"directory"`
	Mask      string `mapstructure:"mask"`

	// FilePaths is checked by hand so that a scalar or a list with
	// non-string entries is rejected instead of coerced.
	FilePaths any `mapstructure:"file_paths"`

	NotFound  string `mapstructure:"not_found"`
	Operation string `mapstructure:"operation"`
	RenameTo  string `mapstructure:"rename_to"`
	MoveTo    string `mapstructure:"move_to"`
}

type Destination struct {
	Directory string `mapstructure:"directory"`
	FileName  string `mapstructure:"file_name"`
	Action    string `mapstructure:"action"`
}

type Options struct {
	CreateDestinationDirectories        bool   `mapstructure:"create_destination_directories"`
	RenameSourceFileBeforeTransfer      bool   `mapstructure:"rename_source_before_transfer"`
	RenameDestinationFileDuringTransfer bool   `mapstructure:"rename_destination_during_transfer"`
	PreserveLastModified                bool   `mapstructure:"preserve_last_modified"`
	ThrowErrorOnFail                    bool   `mapstructure:"throw_on_fail"`
	OperationLog                        bool   `mapstructure:"operation_log"`
	SourceWorkDirectory                 string `mapstructure:"source_work_directory"`
}

// Job is a batch ready to run.
type Job struct {
	Name string

	// LocalRoot is the local directory or s3://bucket/prefix the non-FTP
	// side of the transfer is rooted at.
	LocalRoot string

	Request *engine.TransferRequest
}

// LoadEnv loads FTP credentials and overrides from a .env file. A missing
// file is not an error.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load reads a batch file. The format follows the file extension: yaml, yml,
// json or toml.
func Load(path string) (*File, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", engine.ErrConfiguration, filepath.Base(path), err)
	}
	return decode(v)
}

// Parse reads a batch file of the given format from r.
func Parse(r io.Reader, format string) (*File, error) {
	v := newViper()
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("%w: failed to parse batch file: %w", engine.ErrConfiguration, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("state_dir", "./.ftpxfer-state")
	v.SetDefault("parallel", 1)
	v.SetDefault("connection.timeout", 30*time.Second)
	return v
}

func decode(v *viper.Viper) (*File, error) {
	f := &File{
		Connection: Connection{
			Host:     v.GetString("connection.host"),
			Port:     v.GetInt("connection.port"),
			Username: v.GetString("connection.username"),
			Password: v.GetString("connection.password"),
			TLS:      v.GetString("connection.tls"),
			Timeout:  v.GetDuration("connection.timeout"),
		},
		LocalRoot: v.GetString("local_root"),
		StateDir:  v.GetString("state_dir"),
		Parallel:  v.GetInt("parallel"),
	}
	for key, dst := range map[string]**bool{
		"connection.insecure_skip_verify": &f.Connection.InsecureSkipVerify,
		"connection.disable_epsv":         &f.Connection.DisableEPSV,
		"connection.disable_mlsd":         &f.Connection.DisableMLSD,
	} {
		if v.IsSet(key) {
			b := v.GetBool(key)
			*dst = &b
		}
	}

	if err := v.UnmarshalKey("batches", &f.Batches); err != nil {
		return nil, fmt.Errorf("%w: invalid batches: %w", engine.ErrConfiguration, err)
	}
	if f.Parallel < 1 {
		f.Parallel = 1
	}
	return f, nil
}

// Jobs converts every batch into a Job. Names must be unique.
func (f *File) Jobs() ([]Job, error) {
	seen := make(map[string]bool, len(f.Batches))
	jobs := make([]Job, 0, len(f.Batches))
	for i, b := range f.Batches {
		if b.Name == "" {
			b.Name = fmt.Sprintf("batch-%d", i+1)
		}
		if seen[b.Name] {
			return nil, fmt.Errorf("%w: duplicate batch name %q", engine.ErrConfiguration, b.Name)
		}
		seen[b.Name] = true

		job, err := f.job(b)
		if err != nil {
			return nil, fmt.Errorf("batch %q: %w", b.Name, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Job returns the batch called name.
func (f *File) Job(name string) (Job, error) {
	jobs, err := f.Jobs()
	if err != nil {
		return Job{}, err
	}
	for _, j := range jobs {
		if j.Name == name {
			return j, nil
		}
	}
	return Job{}, fmt.Errorf("%w: no batch named %q", engine.ErrConfiguration, name)
}

func (f *File) job(b Batch) (Job, error) {
	direction, err := engine.ParseDirection(b.Direction)
	if err != nil {
		return Job{}, err
	}
	notFound, err := engine.ParseNotFoundAction(b.Source.NotFound)
	if err != nil {
		return Job{}, err
	}
	operation, err := engine.ParseSourceOperation(b.Source.Operation)
	if err != nil {
		return Job{}, err
	}
	action, err := engine.ParseExistsAction(b.Destination.Action)
	if err != nil {
		return Job{}, err
	}
	paths, err := filePaths(b.Source.FilePaths)
	if err != nil {
		return Job{}, err
	}
	conn, err := f.Connection.merge(b.Connection).ftpConfig()
	if err != nil {
		return Job{}, err
	}

	root := b.LocalRoot
	if root == "" {
		root = f.LocalRoot
	}
	if root == "" {
		return Job{}, fmt.Errorf("%w: local_root must be set", engine.ErrConfiguration)
	}
	if strings.HasPrefix(root, "s3://") {
		if _, _, ok := provider.ParseS3URL(root); !ok {
			return Job{}, fmt.Errorf("%w: invalid S3 root %q", engine.ErrConfiguration, root)
		}
	}

	req := &engine.TransferRequest{
		Direction: direction,
		Source: engine.SourceSpec{
			Directory:       b.Source.Directory,
			FileNameMask:    b.Source.Mask,
			FilePaths:       paths,
			NotFoundAction:  notFound,
			Operation:       operation,
			RenameTo:        b.Source.RenameTo,
			MoveToDirectory: b.Source.MoveTo,
		},
		Destination: engine.DestinationSpec{
			Directory: b.Destination.Directory,
			FileName:  b.Destination.FileName,
			Action:    action,
		},
		Connection: conn,
		Options: engine.OptionsSpec{
			CreateDestinationDirectories:        b.Options.CreateDestinationDirectories,
			RenameSourceFileBeforeTransfer:      b.Options.RenameSourceFileBeforeTransfer,
			RenameDestinationFileDuringTransfer: b.Options.RenameDestinationFileDuringTransfer,
			PreserveLastModified:                b.Options.PreserveLastModified,
			ThrowErrorOnFail:                    b.Options.ThrowErrorOnFail,
			OperationLog:                        b.Options.OperationLog,
			SourceWorkDirectory:                 b.Options.SourceWorkDirectory,
		},
		TransferName: b.Name,
	}
	if err := req.Validate(); err != nil {
		return Job{}, err
	}
	return Job{Name: b.Name, LocalRoot: root, Request: req}, nil
}

// filePaths accepts nothing, or a list of strings.
func filePaths(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case []any:
		paths := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: file_paths[%d] must be a string, got %T", engine.ErrConfiguration, i, item)
			}
			paths = append(paths, s)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("%w: file_paths must be a list of strings, got %T", engine.ErrConfiguration, raw)
	}
}

func (c Connection) merge(o Connection) Connection {
	if o.Host != "" {
		c.Host = o.Host
	}
	if o.Port != 0 {
		c.Port = o.Port
	}
	if o.Username != "" {
		c.Username = o.Username
	}
	if o.Password != "" {
		c.Password = o.Password
	}
	if o.TLS != "" {
		c.TLS = o.TLS
	}
	if o.InsecureSkipVerify != nil {
		c.InsecureSkipVerify = o.InsecureSkipVerify
	}
	if o.Timeout != 0 {
		c.Timeout = o.Timeout
	}
	if o.DisableEPSV != nil {
		c.DisableEPSV = o.DisableEPSV
	}
	if o.DisableMLSD != nil {
		c.DisableMLSD = o.DisableMLSD
	}
	return c
}

func (c Connection) ftpConfig() (provider.FTPConfig, error) {
	if c.Host == "" {
		return provider.FTPConfig{}, fmt.Errorf("%w: connection host must be set", engine.ErrConfiguration)
	}
	if c.Port < 0 || c.Port > 65535 {
		return provider.FTPConfig{}, fmt.Errorf("%w: invalid port %d", engine.ErrConfiguration, c.Port)
	}
	mode, err := provider.ParseTLSMode(c.TLS)
	if err != nil {
		return provider.FTPConfig{}, fmt.Errorf("%w: %w", engine.ErrConfiguration, err)
	}
	return provider.FTPConfig{
		Host:               c.Host,
		Port:               c.Port,
		Username:           c.Username,
		Password:           c.Password,
		TLS:                mode,
		InsecureSkipVerify: deref(c.InsecureSkipVerify),
		Timeout:            c.Timeout,
		DisableEPSV:        deref(c.DisableEPSV),
		DisableMLSD:        deref(c.DisableMLSD),
	}, nil
}

func deref(b *bool) bool {
	return b != nil && *b
}

// EnsureStateDir creates the directory for the transfer state database and
// returns it.
func (f *File) EnsureStateDir() (string, error) {
	if err := os.MkdirAll(f.StateDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create state directory: %w", err)
	}
	return f.StateDir, nil
}
