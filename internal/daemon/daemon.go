package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/msageha/autosteer/internal/backend"
	"github.com/msageha/autosteer/internal/events"
	"github.com/msageha/autosteer/internal/execution"
	"github.com/msageha/autosteer/internal/live"
	"github.com/msageha/autosteer/internal/lock"
	"github.com/msageha/autosteer/internal/model"
	"github.com/msageha/autosteer/internal/notify"
	"github.com/msageha/autosteer/internal/profile"
	"github.com/msageha/autosteer/internal/reconcile"
	"github.com/msageha/autosteer/internal/uds"
)

// Daemon is the long-running dashboard core: it keeps the live channel open,
// reconciles cached backend state and serves operator commands on the control
// socket.
type Daemon struct {
	workspaceDir string
	config       model.Config
	logLevel     model.LogLevel
	logger       *log.Logger
	logFile      io.Closer
	startedAt    time.Time

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher

	bus        *events.Bus
	audit      *events.AuditLogger
	client     backend.Client
	cache      *reconcile.Cache
	poller     *reconcile.Poller
	reconciler *reconcile.Reconciler
	channel    *live.Channel
	controller *execution.Controller
	board      *reconcile.Board
	notes      *reconcile.NotesEditor
	editor     *profile.Editor
	drafts     *draftWatch
	notifier   *notify.Notifier
	lockMap    *lock.MutexMap

	stops    []func()
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
	done     chan struct{}
}

// New creates a Daemon for the workspace at workspaceDir, logging to
// logs/daemon.log and talking to the backend named in cfg.
func New(workspaceDir string, cfg model.Config) (*Daemon, error) {
	logPath := filepath.Join(workspaceDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return newDaemon(workspaceDir, cfg, logFile, logFile, nil, nil)
}

// newDaemon is the internal constructor for testing. A nil client or dialer
// selects the socket-backed default.
func newDaemon(workspaceDir string, cfg model.Config, w io.Writer, closer io.Closer, client backend.Client, dial live.Dialer) (*Daemon, error) {
	cfg.ApplyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	logLevel := model.ParseLogLevel(cfg.Logging.Level)
	logger := log.New(w, "", 0)

	timeout := time.Duration(cfg.Backend.TimeoutSec) * time.Second
	if client == nil {
		client = backend.NewUDSClient(resolvePath(workspaceDir, cfg.Backend.SocketPath), timeout)
	}
	if dial == nil {
		ec := uds.NewClient(resolvePath(workspaceDir, cfg.Backend.EventSocketPath))
		ec.SetTimeout(timeout)
		ec.SetHint("")
		dial = live.StreamDialer(ec)
	}

	bus := events.NewBus(256)
	lockMap := lock.NewMutexMap()
	cache := reconcile.NewCache(reconcile.BackendFetcher(client), cfg.Poll, logger, logLevel)
	notifier := notify.NewNotifier(cfg.Notify, logger, logLevel)
	store := profile.NewStore(workspaceDir)

	d := &Daemon{
		workspaceDir: workspaceDir,
		config:       cfg,
		logLevel:     logLevel,
		logger:       logger,
		logFile:      closer,
		fileLock:     lock.NewFileLock(lock.DaemonLockPath(workspaceDir)),
		server:       uds.NewServer(filepath.Join(workspaceDir, uds.DefaultSocketName)),
		bus:          bus,
		client:       client,
		cache:        cache,
		poller:       reconcile.NewPoller(cache, time.Duration(cfg.Poll.FastIntervalSec)*time.Second, logger, logLevel),
		reconciler:   reconcile.NewReconciler(cache, bus, logger, logLevel),
		channel:      live.New(live.ConfigFrom(cfg.Channel), dial, bus, logger, logLevel),
		controller:   execution.NewController(client, cache, lockMap, bus, notifier, logger, logLevel),
		board:        reconcile.NewBoard(cache, client, lockMap, logger, logLevel),
		notes:        reconcile.NewNotesEditor(cache, client),
		editor:       profile.NewEditor(client, cache, store, bus, logger, logLevel),
		drafts:       newDraftWatch(store, logger, logLevel),
		notifier:     notifier,
		lockMap:      lockMap,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	return d, nil
}

func resolvePath(workspaceDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspaceDir, p)
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	if err := d.start(); err != nil {
		return err
	}
	d.waitSignals()
	<-d.done
	return nil
}

func (d *Daemon) start() error {
	d.startedAt = time.Now()

	// Step 1: Acquire file lock
	if err := os.MkdirAll(filepath.Dir(d.fileLock.Path()), 0755); err != nil {
		return fmt.Errorf("create locks dir: %w", err)
	}
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(model.LogLevelInfo, "daemon starting pid=%d", os.Getpid())

	// Step 2: Event journal
	journal := filepath.Join(d.workspaceDir, "logs", "events.jsonl")
	if report, err := events.VerifyJournal(journal); err == nil && !report.OK() {
		d.log(model.LogLevelWarn, "event journal chain broken at line %d after %d entries", report.BrokenAt, report.Entries)
	}
	audit, err := events.NewAuditLogger(journal, 0)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("open event journal: %w", err)
	}
	d.audit = audit
	d.stops = append(d.stops, audit.Attach(d.bus))

	// Step 3: Watch local drafts
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.cleanup()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher
	draftsDir := d.drafts.store.Dir()
	if err := os.MkdirAll(draftsDir, 0755); err != nil {
		d.cleanup()
		return fmt.Errorf("ensure dir %s: %w", draftsDir, err)
	}
	if err := watcher.Add(draftsDir); err != nil {
		d.cleanup()
		return fmt.Errorf("watch %s: %w", draftsDir, err)
	}
	d.drafts.scan()

	// Step 4: Control socket
	d.registerHandlers()
	d.server.SetLogger(d.logger)
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.log(model.LogLevelInfo, "UDS server listening on %s", d.server.SocketPath())

	// Step 5: Reconciliation and the live channel
	d.stops = append(d.stops, d.reconciler.Start(d.ctx), d.notes.Attach())
	d.channel.Start(d.ctx)

	d.wg.Add(2)
	go d.fsnotifyLoop()
	go func() {
		defer d.wg.Done()
		d.poller.Run(d.ctx)
	}()

	d.log(model.LogLevelInfo, "daemon ready")
	return nil
}

// fsnotifyLoop re-validates drafts as they change on disk.
func (d *Daemon) fsnotifyLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.log(model.LogLevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
			d.drafts.handle(event)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log(model.LogLevelError, "fsnotify error=%v", err)
		}
	}
}

// waitSignals blocks until a shutdown signal arrives or shutdown is requested
// over the control socket.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		d.log(model.LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)
	case <-d.ctx.Done():
		return
	}

	// Second signal → force exit
	go func() {
		select {
		case <-sigCh:
			d.log(model.LogLevelWarn, "received second signal, forcing exit")
			os.Exit(1)
		case <-d.done:
		}
	}()

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		defer close(d.done)
		d.log(model.LogLevelInfo, "shutdown started")

		// 1. Cancel context (stops polling and reconnects)
		d.cancel()

		// 2. Stop producers
		if d.watcher != nil {
			_ = d.watcher.Close()
		}
		if d.server != nil {
			_ = d.server.Stop()
		}
		d.channel.Stop()

		// 3. Drain in-flight with timeout
		timeout := d.config.Daemon.ShutdownTimeoutSec
		if timeout <= 0 {
			timeout = 30
		}

		drained := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(drained)
		}()

		select {
		case <-drained:
			d.log(model.LogLevelInfo, "all goroutines drained")
		case <-time.After(time.Duration(timeout) * time.Second):
			d.log(model.LogLevelWarn, "shutdown timeout after %ds, some operations may be incomplete", timeout)
		}

		// 4. Cleanup
		if n := d.bus.Dropped(); n > 0 {
			d.log(model.LogLevelWarn, "event bus dropped %d deliveries to slow subscribers", n)
		}
		d.cleanup()
		d.log(model.LogLevelInfo, "daemon stopped")
	})
}

// cleanup releases resources.
func (d *Daemon) cleanup() {
	for i := len(d.stops) - 1; i >= 0; i-- {
		d.stops[i]()
	}
	d.stops = nil
	d.bus.Close()
	if d.audit != nil {
		_ = d.audit.Close()
		d.audit = nil
	}
	_ = os.Remove(filepath.Join(d.workspaceDir, uds.DefaultSocketName))
	_ = d.fileLock.Unlock()
	if d.logFile != nil {
		_ = d.logFile.Close()
		d.logFile = nil
	}
}

func (d *Daemon) log(level model.LogLevel, format string, args ...any) {
	if level < d.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), level, msg)
}
