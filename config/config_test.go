package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/franksops/ftpxfer/engine"
	"github.com/franksops/ftpxfer/provider"
)

const sampleYAML = `
connection:
  host: ftp.example.com
  username: feeds
  password: secret
  tls: explicit
  disable_epsv: true
local_root: /srv/exchange
parallel: 4
batches:
  - name: nightly-orders
    direction: upload
    source:
      directory: /outgoing/%Date%
      mask: "*.csv"
      not_found: info
      operation: move
      move_to: /archive/%Date%
    destination:
      directory: /in
      file_name: "orders_*.csv"
      action: overwrite
    options:
      create_destination_directories: true
      preserve_last_modified: true
      throw_on_fail: true
  - name: invoices
    direction: download
    local_root: s3://bucket/invoices
    connection:
      host: sftp-gw.example.com
      port: 2121
      tls: implicit
      disable_epsv: false
      timeout: 10s
    source:
      directory: /out
      file_paths: [a.pdf, /out/b.pdf]
    destination:
      directory: /incoming
`

func parse(t *testing.T, doc string) *File {
	t.Helper()
	f, err := Parse(strings.NewReader(doc), "yaml")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return f
}

func TestParse_Jobs(t *testing.T) {
	f := parse(t, sampleYAML)

	if f.Parallel != 4 || f.LocalRoot != "/srv/exchange" {
		t.Errorf("unexpected top-level settings %+v", f)
	}

	jobs, err := f.Jobs()
	if err != nil {
		t.Fatalf("Jobs failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}

	orders := jobs[0]
	if orders.Name != "nightly-orders" || orders.LocalRoot != "/srv/exchange" {
		t.Errorf("unexpected job %+v", orders)
	}
	req := orders.Request
	if req.Direction != engine.Upload || req.TransferName != "nightly-orders" {
		t.Errorf("unexpected request header %+v", req)
	}
	if req.Source.Directory != "/outgoing/%Date%" || req.Source.FileNameMask != "*.csv" {
		t.Errorf("unexpected source %+v", req.Source)
	}
	if req.Source.NotFoundAction != engine.NotFoundInfo || req.Source.Operation != engine.OperationMove || req.Source.MoveToDirectory != "/archive/%Date%" {
		t.Errorf("unexpected source policy %+v", req.Source)
	}
	if req.Destination.FileName != "orders_*.csv" || req.Destination.Action != engine.ExistsOverwrite {
		t.Errorf("unexpected destination %+v", req.Destination)
	}
	if !req.Options.CreateDestinationDirectories || !req.Options.PreserveLastModified || !req.Options.ThrowErrorOnFail || req.Options.RenameSourceFileBeforeTransfer {
		t.Errorf("unexpected options %+v", req.Options)
	}
	wantConn := provider.FTPConfig{
		Host:        "ftp.example.com",
		Username:    "feeds",
		Password:    "secret",
		TLS:         provider.TLSExplicit,
		Timeout:     30 * time.Second,
		DisableEPSV: true,
	}
	if req.Connection != wantConn {
		t.Errorf("expected connection %+v, got %+v", wantConn, req.Connection)
	}

	invoices := jobs[1]
	if invoices.LocalRoot != "s3://bucket/invoices" || invoices.Request.Direction != engine.Download {
		t.Errorf("unexpected job %+v", invoices)
	}
	wantConn = provider.FTPConfig{
		Host:     "sftp-gw.example.com",
		Port:     2121,
		Username: "feeds",
		Password: "secret",
		TLS:      provider.TLSImplicit,
		Timeout:  10 * time.Second,
	}
	if invoices.Request.Connection != wantConn {
		t.Errorf("expected connection %+v, got %+v", wantConn, invoices.Request.Connection)
	}
	paths := invoices.Request.Source.FilePaths
	if len(paths) != 2 || paths[0] != "a.pdf" || paths[1] != "/out/b.pdf" {
		t.Errorf("unexpected file paths %v", paths)
	}
	if invoices.Request.Destination.Action != engine.ExistsError {
		t.Errorf("expected the default exists action to be error")
	}
}

func TestFile_Job(t *testing.T) {
	f := parse(t, sampleYAML)

	j, err := f.Job("invoices")
	if err != nil {
		t.Fatalf("Job failed: %v", err)
	}
	if j.Request.TransferName != "invoices" {
		t.Errorf("unexpected job %q", j.Request.TransferName)
	}

	if _, err := f.Job("nope"); !errors.Is(err, engine.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestJobs_Errors(t *testing.T) {
	header := "connection:\n  host: ftp.example.com\nlocal_root: /data\nbatches:\n"

	tests := []struct {
		name  string
		batch string
		want  string
	}{
		{
			name:  "file_paths scalar",
			batch: "  - {name: a, source: {directory: /in, file_paths: a.txt}, destination: {directory: /out}}\n",
			want:  "file_paths must be a list",
		},
		{
			name:  "file_paths non-string entry",
			batch: "  - {name: a, source: {directory: /in, file_paths: [a.txt, 42]}, destination: {directory: /out}}\n",
			want:  "file_paths[1]",
		},
		{
			name:  "unknown direction",
			batch: "  - {name: a, direction: sideways, source: {directory: /in}, destination: {directory: /out}}\n",
			want:  "unknown direction",
		},
		{
			name:  "unknown operation",
			batch: "  - {name: a, source: {directory: /in, operation: shred}, destination: {directory: /out}}\n",
			want:  "shred",
		},
		{
			name:  "unknown exists action",
			batch: "  - {name: a, source: {directory: /in}, destination: {directory: /out, action: merge}}\n",
			want:  "merge",
		},
		{
			name:  "unknown tls mode",
			batch: "  - {name: a, connection: {tls: quantum}, source: {directory: /in}, destination: {directory: /out}}\n",
			want:  "quantum",
		},
		{
			name:  "rename without target",
			batch: "  - {name: a, source: {directory: /in, operation: rename}, destination: {directory: /out}}\n",
			want:  "rename",
		},
		{
			name:  "invalid s3 root",
			batch: "  - {name: a, local_root: 's3://', source: {directory: /in}, destination: {directory: /out}}\n",
			want:  "invalid S3 root",
		},
		{
			name: "duplicate names",
			batch: "  - {name: a, source: {directory: /in}, destination: {directory: /out}}\n" +
				"  - {name: a, source: {directory: /in}, destination: {directory: /out}}\n",
			want: "duplicate batch name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := parse(t, header+tt.batch)
			_, err := f.Jobs()
			if !errors.Is(err, engine.ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected %q in %q", tt.want, err.Error())
			}
		})
	}
}

func TestJobs_MissingSettings(t *testing.T) {
	noHost := parse(t, "local_root: /data\nbatches:\n  - {name: a, source: {directory: /in}, destination: {directory: /out}}\n")
	if _, err := noHost.Jobs(); !errors.Is(err, engine.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration without a host, got %v", err)
	}

	noRoot := parse(t, "connection: {host: h}\nbatches:\n  - {name: a, source: {directory: /in}, destination: {directory: /out}}\n")
	if _, err := noRoot.Jobs(); !errors.Is(err, engine.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration without a local root, got %v", err)
	}
}

func TestJobs_DefaultName(t *testing.T) {
	f := parse(t, "connection: {host: h}\nlocal_root: /data\nbatches:\n  - {source: {directory: /in}, destination: {directory: /out}}\n")
	jobs, err := f.Jobs()
	if err != nil {
		t.Fatalf("Jobs failed: %v", err)
	}
	if jobs[0].Name != "batch-1" {
		t.Errorf("expected a generated name, got %q", jobs[0].Name)
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("FTPXFER_CONNECTION_PASSWORD", "from-env")
	t.Setenv("FTPXFER_PARALLEL", "8")

	f := parse(t, sampleYAML)
	if f.Connection.Password != "from-env" {
		t.Errorf("expected the password from the environment, got %q", f.Connection.Password)
	}
	if f.Parallel != 8 {
		t.Errorf("expected parallel 8, got %d", f.Parallel)
	}

	jobs, err := f.Jobs()
	if err != nil {
		t.Fatalf("Jobs failed: %v", err)
	}
	if jobs[0].Request.Connection.Password != "from-env" {
		t.Errorf("expected the override to reach the request")
	}
}

func TestParse_Defaults(t *testing.T) {
	f := parse(t, "batches: []\n")
	if f.Parallel != 1 || f.StateDir != "./.ftpxfer-state" || f.Connection.Timeout != 30*time.Second {
		t.Errorf("unexpected defaults %+v", f)
	}
}

func TestLoadEnv(t *testing.T) {
	if err := LoadEnv(""); err != nil {
		t.Errorf("expected no error for an empty path, got %v", err)
	}
	if err := LoadEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("expected no error for a missing file, got %v", err)
	}

	t.Setenv("FTPXFER_CONNECTION_USERNAME", "")
	os.Unsetenv("FTPXFER_CONNECTION_USERNAME")

	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("FTPXFER_CONNECTION_USERNAME=dotenv-user\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := LoadEnv(envFile); err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}

	f := parse(t, sampleYAML)
	if f.Connection.Username != "dotenv-user" {
		t.Errorf("expected the username from .env, got %q", f.Connection.Username)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batches.json")
	doc := `{
  "connection": {"host": "ftp.example.com"},
  "local_root": "/data",
  "state_dir": "` + filepath.ToSlash(filepath.Join(dir, "state")) + `",
  "batches": [
    {"name": "json", "source": {"directory": "/in"}, "destination": {"directory": "/out"}}
  ]
}`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	jobs, err := f.Jobs()
	if err != nil || len(jobs) != 1 || jobs[0].Name != "json" {
		t.Fatalf("unexpected jobs %v, %v", jobs, err)
	}

	stateDir, err := f.EnsureStateDir()
	if err != nil {
		t.Fatalf("EnsureStateDir failed: %v", err)
	}
	if info, err := os.Stat(stateDir); err != nil || !info.IsDir() {
		t.Errorf("expected state dir to exist: %v", err)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); !errors.Is(err, engine.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for a missing file, got %v", err)
	}
}
