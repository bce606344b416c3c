package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"zesty-backup/internal/backup"
	"zesty-backup/internal/errors"
	"zesty-backup/internal/logging"
)

// DefaultCycleTimeout bounds a single cycle
const DefaultCycleTimeout = 2 * time.Hour

// CycleType names a kind of cycle
type CycleType string

const (
	CycleBackup CycleType = "backup"
	CycleUpload CycleType = "upload"
)

// State is what a cycle type is currently doing
type State string

const (
	StateIdle             State = "idle"
	StateBackupInProgress State = "backup_in_progress"
	StateUploadInProgress State = "upload_in_progress"
)

// ScheduleState is re-derived from the archive directory at startup and
// kept in memory only
type ScheduleState struct {
	LastBackup time.Time `json:"last_backup"`
	LastUpload time.Time `json:"last_upload"`
	NextBackup time.Time `json:"next_backup"`
	NextUpload time.Time `json:"next_upload"`
}

// Status is a point-in-time view of the daemon
type Status struct {
	Schedule      ScheduleState `json:"schedule"`
	Backup        State         `json:"backup"`
	Upload        State         `json:"upload"`
	BackupPending bool          `json:"backup_pending"`
	UploadPending bool          `json:"upload_pending"`
}

// Config holds the daemon timing and files
type Config struct {
	BackupInterval time.Duration
	UploadInterval time.Duration
	CycleTimeout   time.Duration
	LocalDir       string
	// PIDFile is skipped when empty
	PIDFile string
}

// Validate checks the intervals a ticker can run with
func (c Config) Validate() error {
	if c.BackupInterval <= 0 || c.UploadInterval <= 0 {
		return errors.NewConfigError("backup and upload intervals must be positive", nil)
	}
	if c.LocalDir == "" {
		return errors.NewConfigError("local backup directory is required", nil)
	}
	return nil
}

type cycle struct {
	running bool
	pending bool
	state   State
}

// Daemon runs backup and upload cycles on two tickers. At most one cycle of
// each type runs at a time; a tick that arrives while its type is running
// is remembered and runs right after. Backup and upload cycles share one
// mutex, so their work never overlaps.
type Daemon struct {
	cfg     Config
	jobs    map[CycleType]Job
	catalog backup.Catalog
	logger  *logging.Logger

	// cycleMu serializes the critical section of every cycle
	cycleMu sync.Mutex

	mu       sync.Mutex
	cycles   map[CycleType]*cycle
	schedule ScheduleState
	stopping bool
	wg       sync.WaitGroup

	now       func() time.Time
	newTicker func(d time.Duration) (<-chan time.Time, func())
}

// NewDaemon creates a daemon. catalog is the local archive listing used to
// derive the schedule state.
func NewDaemon(cfg Config, backupJob, uploadJob Job, catalog backup.Catalog, logger *logging.Logger) *Daemon {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = DefaultCycleTimeout
	}
	return &Daemon{
		cfg:     cfg,
		jobs:    map[CycleType]Job{CycleBackup: backupJob, CycleUpload: uploadJob},
		catalog: catalog,
		logger:  logger,
		cycles: map[CycleType]*cycle{
			CycleBackup: {state: StateIdle},
			CycleUpload: {state: StateIdle},
		},
		now:       time.Now,
		newTicker: realTicker,
	}
}

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Run starts the loop and blocks until ctx is canceled and the running
// cycles have finished. Canceling ctx never cancels a running cycle; only
// the cycle timeout does.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.cfg.LocalDir, 0o755); err != nil {
		return errors.NewArchiveBuildError(fmt.Sprintf("failed to create backup directory %s", d.cfg.LocalDir), err)
	}
	if d.cfg.PIDFile != "" {
		if err := WritePIDFile(d.cfg.PIDFile); err != nil {
			return err
		}
		defer func() {
			if err := RemovePIDFile(d.cfg.PIDFile); err != nil {
				d.logger.WithField("pid_file", d.cfg.PIDFile).WithField("error", err.Error()).Warn("Failed to remove PID file")
			}
		}()
	}

	schedule := DeriveSchedule(ctx, d.catalog, d.now(), d.cfg.UploadInterval, d.logger)
	d.mu.Lock()
	d.schedule = schedule
	d.stopping = false
	d.mu.Unlock()

	d.logger.WithFields(map[string]interface{}{
		"pid":             os.Getpid(),
		"backup_interval": d.cfg.BackupInterval.String(),
		"upload_interval": d.cfg.UploadInterval.String(),
		"cycle_timeout":   d.cfg.CycleTimeout.String(),
		"last_backup":     formatTime(schedule.LastBackup),
	}).Info("Daemon started")

	backupTicks, stopBackup := d.newTicker(d.cfg.BackupInterval)
	defer stopBackup()
	uploadTicks, stopUpload := d.newTicker(d.cfg.UploadInterval)
	defer stopUpload()

	d.Trigger(CycleBackup)

	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.stopping = true
			d.mu.Unlock()

			d.logger.Info("Shutdown requested, waiting for running cycles")
			d.wg.Wait()
			d.logger.Info("Daemon stopped")
			return nil
		case <-backupTicks:
			d.Trigger(CycleBackup)
		case <-uploadTicks:
			d.Trigger(CycleUpload)
		}
	}
}

// Trigger requests a cycle. If one of the same type is running, the request
// is coalesced into a single follow-up run.
func (d *Daemon) Trigger(t CycleType) {
	d.mu.Lock()
	c := d.cycles[t]
	if d.stopping {
		d.mu.Unlock()
		return
	}
	d.setNextLocked(t)
	if c.running {
		c.pending = true
		d.mu.Unlock()
		d.logger.WithField("cycle", string(t)).Debug("Cycle already running, deferring tick")
		return
	}
	c.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go d.loop(t)
}

// Wait blocks until no cycle is running
func (d *Daemon) Wait() {
	d.wg.Wait()
}

// Status returns a snapshot of the schedule and cycle states
func (d *Daemon) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Schedule:      d.schedule,
		Backup:        d.cycles[CycleBackup].state,
		Upload:        d.cycles[CycleUpload].state,
		BackupPending: d.cycles[CycleBackup].pending,
		UploadPending: d.cycles[CycleUpload].pending,
	}
}

func (d *Daemon) loop(t CycleType) {
	defer d.wg.Done()
	c := d.cycles[t]

	for {
		d.runCycle(t)

		d.mu.Lock()
		if c.pending && !d.stopping {
			c.pending = false
			d.mu.Unlock()
			continue
		}
		c.pending = false
		c.running = false
		d.mu.Unlock()
		return
	}
}

func (d *Daemon) runCycle(t CycleType) {
	d.cycleMu.Lock()
	defer d.cycleMu.Unlock()

	// a cycle that queued behind another one does not start once shutdown
	// has begun
	d.mu.Lock()
	stopping := d.stopping
	d.mu.Unlock()
	if stopping {
		d.logger.WithField("cycle", string(t)).Info("Shutdown in progress, skipping queued cycle")
		return
	}

	d.setState(t, inProgress(t))
	defer d.setState(t, StateIdle)

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.CycleTimeout)
	defer cancel()
	ctx = logging.ContextWithCycleID(ctx, uuid.New().String())

	start := d.now()
	err := d.execute(ctx, t)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		err = errors.NewAppError(errors.ErrorTypeTimeout,
			fmt.Sprintf("%s cycle exceeded %s", t, d.cfg.CycleTimeout), err)
	}
	d.logger.LogCycle(ctx, string(t), time.Since(start), err)

	if err == nil {
		d.mu.Lock()
		switch t {
		case CycleBackup:
			d.schedule.LastBackup = start
		case CycleUpload:
			d.schedule.LastUpload = start
		}
		d.mu.Unlock()
	}
}

// execute runs the job and turns a panic into a failed cycle
func (d *Daemon) execute(ctx context.Context, t CycleType) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s cycle panicked: %v", t, r)
		}
	}()

	job := d.jobs[t]
	if job == nil {
		return nil
	}
	return job.Run(ctx)
}

func (d *Daemon) setState(t CycleType, s State) {
	d.mu.Lock()
	d.cycles[t].state = s
	d.mu.Unlock()
}

func (d *Daemon) setNextLocked(t CycleType) {
	now := d.now()
	switch t {
	case CycleBackup:
		d.schedule.NextBackup = now.Add(d.cfg.BackupInterval)
	case CycleUpload:
		d.schedule.NextUpload = now.Add(d.cfg.UploadInterval)
	}
}

func inProgress(t CycleType) State {
	if t == CycleUpload {
		return StateUploadInProgress
	}
	return StateBackupInProgress
}

// DeriveSchedule rebuilds the schedule state from the archive catalog: the
// last backup is the newest entry, or the zero time when there is none. The
// first backup is due immediately.
func DeriveSchedule(ctx context.Context, catalog backup.Catalog, now time.Time, uploadInterval time.Duration, logger *logging.Logger) ScheduleState {
	state := ScheduleState{
		NextBackup: now,
		NextUpload: now.Add(uploadInterval),
	}
	if catalog == nil {
		return state
	}

	entries, err := catalog.List(ctx)
	if err != nil {
		if logger != nil {
			logger.WithContext(ctx).WithField("error", err.Error()).Warn("Failed to read archive directory, starting with an empty schedule")
		}
		return state
	}
	if latest := backup.Latest(entries); latest != nil {
		state.LastBackup = latest.CreatedAt
	}
	return state
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format(time.RFC3339)
}
