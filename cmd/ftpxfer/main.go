package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/franksops/ftpxfer/config"
	"github.com/franksops/ftpxfer/engine"
	"github.com/franksops/ftpxfer/metrics"
	"github.com/franksops/ftpxfer/provider"
	"github.com/franksops/ftpxfer/store"
	"github.com/franksops/ftpxfer/ui"
)

func main() {
	os.Exit(run())
}

func run() int {
	// CLI flags
	var (
		configPath  string
		batchName   string
		envPath     string
		parallel    int
		stateDir    string
		metricsAddr string
		tuiEnabled  bool
		logJSON     bool
		status      string
	)

	flag.StringVar(&configPath, "config", "", "Batch file (yaml, json or toml)")
	flag.StringVar(&batchName, "batch", "", "Run only the named batch")
	flag.StringVar(&envPath, "env", ".env", "Env file with credentials and FTPXFER_ overrides")
	flag.IntVar(&parallel, "parallel", 0, "Number of batches run concurrently (default from batch file)")
	flag.StringVar(&stateDir, "state-dir", "", "Directory to store transfer records (default from batch file)")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	flag.BoolVar(&tuiEnabled, "tui", false, "Show interactive progress")
	flag.BoolVar(&logJSON, "log-json", false, "Log in JSON instead of text")
	flag.StringVar(&status, "status", "", "Print the stored file records of a transfer id and exit")
	flag.Parse()

	if configPath == "" {
		fmt.Println("Usage: ftpxfer -config <batches.yaml> [options]")
		fmt.Println("\nOptions:")
		flag.PrintDefaults()
		fmt.Println("\nExamples:")
		fmt.Println("  ftpxfer -config batches.yaml -parallel 4")
		fmt.Println("  ftpxfer -config batches.yaml -batch nightly-orders -tui")
		fmt.Println("  ftpxfer -config batches.yaml -status 6f1c...")
		return 1
	}

	if err := config.LoadEnv(envPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	file, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if stateDir != "" {
		file.StateDir = stateDir
	}
	if parallel > 0 {
		file.Parallel = parallel
	}

	// Create state directory
	dir, err := file.EnsureStateDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger, closeLog, err := newLogger(dir, tuiEnabled, logJSON)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closeLog()

	// Initialize state store
	stateStore, err := store.NewBoltStore(filepath.Join(dir, "state.db"))
	if err != nil {
		logger.Error("failed to initialize state store", "error", err)
		return 1
	}
	defer stateStore.Close()

	jobTracker := engine.NewJobTracker(stateStore, engine.DefaultCheckpointConfig)

	if status != "" {
		return printStatus(os.Stdout, jobTracker, status)
	}

	var jobs []config.Job
	if batchName != "" {
		job, err := file.Job(batchName)
		if err != nil {
			logger.Error("invalid batch", "error", err)
			return 1
		}
		jobs = []config.Job{job}
	} else if jobs, err = file.Jobs(); err != nil {
		logger.Error("invalid batch file", "error", err)
		return 1
	}
	if len(jobs) == 0 {
		logger.Warn("no batches defined", "config", configPath)
		return 0
	}

	// Handle signals for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	maxWorkers := max(file.Parallel, len(jobs))
	progress := ui.NewProgress(file.Parallel, maxWorkers)

	collector := metrics.New(true)
	if metricsAddr != "" {
		srv := serveMetrics(metricsAddr, collector, logger)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			srv.Shutdown(shutdownCtx)
		}()
	}

	roots := make(map[string]string, len(jobs))
	for _, j := range jobs {
		roots[j.Name] = j.LocalRoot
	}

	transporter := engine.NewTransporter(newSessionFactory(ctx, roots, logger), logger).
		WithTracker(jobTracker).
		WithMetrics(metrics.Multi(collector, progress))

	// Job channel for batch distribution
	jobChan := make(engine.JobChannel, len(jobs))

	runBatch := engine.TransporterHandler(transporter)
	workerPool := engine.NewWorkerPool(ctx, jobChan, func(ctx context.Context, job engine.BatchJob) error {
		progress.Start(job.Request.TransferName)
		return runBatch(ctx, job)
	})
	workerPool.SetWorkerCount(file.Parallel)

	var teaProgram *tea.Program
	tuiDone := make(chan struct{})
	if tuiEnabled {
		resize := func(delta int) {
			n := min(max(workerPool.WorkerCount()+delta, 1), maxWorkers)
			workerPool.SetWorkerCount(n)
			progress.SetWorkers(n, maxWorkers)
		}
		teaProgram = tea.NewProgram(ui.NewTUIModel(progress.Snapshot(), resize), tea.WithAltScreen())

		go func() {
			defer close(tuiDone)
			if _, err := teaProgram.Run(); err != nil {
				logger.Error("tui failed", "error", err)
			}
			// Quitting the TUI stops the run.
			cancel()
		}()

		// Start TUI update loop
		go func() {
			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-tuiDone:
					return
				case <-ticker.C:
					teaProgram.Send(ui.TUIUpdateMsg{State: progress.Snapshot()})
				}
			}
		}()
	}

	var failed atomic.Int32
	for _, j := range jobs {
		req := *j.Request
		req.TransferID = uuid.New()
		progress.Queue(j.Name, req.Direction.String())

		jobChan <- engine.BatchJob{
			Request: &req,
			Done: func(result *engine.BatchResult, err error) {
				progress.Finish(req.TransferName, result, err)
				if err != nil || !result.Success {
					failed.Add(1)
				}
				if !tuiEnabled {
					printResult(os.Stdout, &req, result, err)
				}
			},
		}
	}
	close(jobChan)

	// Wait for batches to complete
	workerPool.Wait()
	progress.SetDone()

	if tuiEnabled {
		teaProgram.Send(ui.TUIUpdateMsg{State: progress.Snapshot()})
		select {
		case <-tuiDone:
		case <-ctx.Done():
		}
		teaProgram.Quit()
		<-tuiDone
		for _, b := range progress.Snapshot().Batches {
			fmt.Printf("%-20s %-8s %s\n", b.Name, b.Phase, b.Message)
		}
	}

	if n := failed.Load(); n > 0 {
		logger.Error("batches failed", "failed", n, "total", len(jobs))
		return 1
	}
	return 0
}

// newLogger logs to stderr, or to a file in the state directory while the
// TUI owns the terminal.
func newLogger(stateDir string, tuiEnabled, logJSON bool) (*slog.Logger, func(), error) {
	var w io.Writer = os.Stderr
	closeFn := func() {}
	if tuiEnabled {
		f, err := os.OpenFile(filepath.Join(stateDir, "ftpxfer.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = f
		closeFn = func() { f.Close() }
	}

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if logJSON {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h), closeFn, nil
}

// newSessionFactory pairs the local or S3 side of a batch with its FTP
// server. Upload reads locally and writes over FTP, download the reverse.
func newSessionFactory(ctx context.Context, roots map[string]string, logger *slog.Logger) engine.SessionFactory {
	return func(req *engine.TransferRequest) (provider.Session, provider.Session, error) {
		local, err := localProvider(ctx, roots[req.TransferName])
		if err != nil {
			return nil, nil, err
		}
		remote := provider.NewFTPProvider(req.Connection, logger.With(
			"transfer_name", req.TransferName,
			"server", req.Connection.Addr(),
		))
		if req.Direction == engine.Download {
			return remote, provider.NopSession(local), nil
		}
		return provider.NopSession(local), remote, nil
	}
}

func localProvider(ctx context.Context, root string) (provider.Provider, error) {
	if bucket, prefix, ok := provider.ParseS3URL(root); ok {
		return provider.NewS3Provider(ctx, bucket, prefix)
	}
	return provider.NewLocalProvider(root), nil
}

func serveMetrics(addr string, collector *metrics.Collector, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

func printResult(w io.Writer, req *engine.TransferRequest, result *engine.BatchResult, err error) {
	state := "OK"
	switch {
	case result.Cancelled:
		state = "CANCELLED"
	case err != nil || !result.Success:
		state = "FAILED"
	case result.ActionSkipped:
		state = "SKIPPED"
	}
	fmt.Fprintf(w, "[%s] %s (%s) %d transferred, %d failed, id %s\n",
		state, req.TransferName, req.Direction, result.SuccessfulTransferCount, result.FailedTransferCount, req.TransferID)
	fmt.Fprintln(w, result.UserResultMessage)
	if err != nil {
		fmt.Fprintln(w, err)
	}
}

func printStatus(w io.Writer, tracker *engine.JobTracker, transferID string) int {
	id, err := uuid.Parse(transferID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid transfer id %q: %v\n", transferID, err)
		return 1
	}
	records, err := tracker.Records(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read records: %v\n", err)
		return 1
	}
	if len(records) == 0 {
		fmt.Fprintf(w, "no records for transfer %s\n", id)
		return 1
	}
	for _, r := range records {
		line := fmt.Sprintf("%-10s %10d  %s -> %s", r.State, r.BytesTransferred, r.SourcePath, r.DestinationPath)
		if r.Error != "" {
			line += "  " + r.Error
		}
		fmt.Fprintln(w, line)
	}
	return 0
}
