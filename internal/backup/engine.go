package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"zesty-backup/internal/database"
	"zesty-backup/internal/errors"
	"zesty-backup/internal/logging"
)

// EngineConfig holds the backup settings the engine needs
type EngineConfig struct {
	ProjectPath     string
	AdditionalPaths []string
	Exclude         []string
	LocalDir        string
	Format          CompressionType
	Level           int
	RetentionDays   int
	// FullEveryDays forces a new full archive once the newest full is this
	// old. Zero means a chain only restarts when no full exists.
	FullEveryDays int
	// Database is nil when no dump is configured
	Database *database.Descriptor
}

// EngineDeps are the collaborators of an Engine. Nil members get defaults.
type EngineDeps struct {
	Snapshots *SnapshotCollector
	Dumper    database.Dumper
	InFlight  *InFlight
	Logger    *logging.Logger
}

// BackupOptions tune a single CreateBackup call
type BackupOptions struct {
	ForceFull     bool
	SkipRetention bool
}

// BackupOutcome is what one backup cycle produced
type BackupOutcome struct {
	Entry     *ManifestEntry
	Build     *BuildResult
	Retention *RetentionResult
}

// Plan is the decision of which kind of archive to build next
type Plan struct {
	Mode  ScanMode
	Base  *ManifestEntry
	Since time.Time
}

// Engine runs the backup pipeline: plan, scan, build, write the sidecar,
// then apply local retention.
type Engine struct {
	cfg       EngineConfig
	builder   *ArchiveBuilder
	snapshots *SnapshotCollector
	dumper    database.Dumper
	catalog   *LocalCatalog
	retention RetentionManager
	logger    *logging.Logger
	now       func() time.Time
}

// NewEngine creates a backup engine
func NewEngine(cfg EngineConfig, deps EngineDeps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	snapshots := deps.Snapshots
	if snapshots == nil {
		snapshots = NewSnapshotCollector(SnapshotConfig{}, nil, logger)
	}
	dumper := deps.Dumper
	if dumper == nil && cfg.Database != nil {
		dumper = database.NewDumper(*cfg.Database, nil, logger)
	}
	if cfg.Format == "" {
		cfg.Format = CompressionTypeZstd
	}

	return &Engine{
		cfg:       cfg,
		builder:   NewArchiveBuilder(logger),
		snapshots: snapshots,
		dumper:    dumper,
		catalog:   NewLocalCatalog(cfg.LocalDir, logger),
		retention: NewRetentionManager(NewRetentionPolicy(cfg.RetentionDays), deps.InFlight, logger),
		logger:    logger,
		now:       time.Now,
	}
}

// Catalog returns the local archive catalog
func (e *Engine) Catalog() *LocalCatalog {
	return e.catalog
}

// PlanBackup decides between a full and an incremental archive. An
// incremental archive is based on the newest entry and selects files
// modified after that entry was created.
func PlanBackup(entries []*ManifestEntry, now time.Time, fullEveryDays int, forceFull bool) Plan {
	latestFull := LatestFull(entries)
	if forceFull || latestFull == nil {
		return Plan{Mode: ScanModeFull}
	}
	if fullEveryDays > 0 && now.Sub(latestFull.CreatedAt) >= time.Duration(fullEveryDays)*24*time.Hour {
		return Plan{Mode: ScanModeFull}
	}

	base := Latest(entries)
	return Plan{Mode: ScanModeIncremental, Base: base, Since: base.CreatedAt}
}

// CreateBackup builds one archive into the local directory
func (e *Engine) CreateBackup(ctx context.Context, opts BackupOptions) (*BackupOutcome, error) {
	if err := os.MkdirAll(e.cfg.LocalDir, 0o755); err != nil {
		return nil, errors.NewArchiveBuildError(fmt.Sprintf("failed to create backup directory %s", e.cfg.LocalDir), err)
	}

	entries, err := e.catalog.List(ctx)
	if err != nil {
		return nil, errors.NewArchiveBuildError("failed to list local archives", err)
	}

	ts := nextTimestamp(e.now(), Latest(entries))
	plan := PlanBackup(entries, ts, e.cfg.FullEveryDays, opts.ForceFull)
	kind := KindFull
	if plan.Mode == ScanModeIncremental {
		kind = KindIncremental
	}

	log := e.logger.WithContext(ctx)
	fields := map[string]interface{}{"kind": kind}
	if plan.Base != nil {
		fields["base"] = plan.Base.Name
	}
	log.WithFields(fields).Info("Starting backup")

	exclude := NewExclusionSet(e.cfg.Exclude)
	sources, warnings := e.sources(exclude, plan)

	extras, cleanup := e.databaseExtras(ctx)
	defer cleanup()
	extras = append(extras, e.snapshots.Extras(ctx)...)

	result, err := e.builder.Build(ctx, BuildRequest{
		Dest:      e.cfg.LocalDir,
		Timestamp: ts,
		Sources:   sources,
		Extras:    extras,
		Format:    e.cfg.Format,
		Level:     e.cfg.Level,
	})
	if err != nil {
		return nil, err
	}
	result.Warnings = append(warnings, result.Warnings...)

	entry := &ManifestEntry{
		Name:        result.Name,
		Kind:        kind,
		CreatedAt:   ts,
		Size:        result.Size,
		Sources:     e.sourcePaths(),
		Digest:      result.Digest,
		FileCount:   result.FileCount,
		Warnings:    len(result.Warnings),
		Format:      result.Format,
		Files:       presentFiles(sources),
		HasManifest: true,
	}
	if plan.Base != nil {
		entry.Base = plan.Base.Name
	}

	// without its sidecar an incremental archive would be read back as a
	// full one, so the archive goes too
	if err := WriteManifest(e.cfg.LocalDir, entry); err != nil {
		os.Remove(result.Path)
		return nil, errors.NewArchiveBuildError(fmt.Sprintf("failed to write manifest for %s", result.Name), err)
	}

	e.logger.LogArchiveCreated(ctx, entry.Name, string(entry.Kind), entry.FileCount, entry.Size, result.Duration)
	for _, w := range result.Warnings {
		log.WithField("path", w.Path).WithField("error", w.Err.Error()).Warn("Skipped unreadable path")
	}

	outcome := &BackupOutcome{Entry: entry, Build: result}
	if opts.SkipRetention {
		return outcome, nil
	}

	outcome.Retention, err = e.retention.ApplyRetentionPolicy(ctx, e.catalog, false)
	if err != nil {
		return outcome, errors.NewRetentionError("local retention failed", err)
	}
	return outcome, nil
}

// ApplyRetention runs local retention on its own
func (e *Engine) ApplyRetention(ctx context.Context, dryRun bool) (*RetentionResult, error) {
	result, err := e.retention.ApplyRetentionPolicy(ctx, e.catalog, dryRun)
	if err != nil {
		return nil, errors.NewRetentionError("local retention failed", err)
	}
	return result, nil
}

// sources builds the project tree, additional paths and preset
// directories. Missing additional paths become warnings.
func (e *Engine) sources(exclude *ExclusionSet, plan Plan) ([]SourceTree, []ScanWarning) {
	var (
		trees    []SourceTree
		warnings []ScanWarning
	)

	trees = append(trees, SourceTree{
		Prefix:  "project",
		Scanner: NewScanner(e.cfg.ProjectPath, exclude, plan.Mode, plan.Since).Skip(e.cfg.LocalDir),
	})

	for _, p := range e.cfg.AdditionalPaths {
		info, err := os.Stat(p)
		if err != nil {
			warnings = append(warnings, ScanWarning{Path: p, Err: err})
			continue
		}
		prefix := "system"
		if info.IsDir() {
			prefix = "system/" + filepath.Base(filepath.Clean(p))
		}
		trees = append(trees, SourceTree{
			Prefix:  prefix,
			Scanner: NewScanner(p, exclude, plan.Mode, plan.Since).Skip(e.cfg.LocalDir),
		})
	}

	trees = append(trees, e.snapshots.Sources(exclude, plan.Mode, plan.Since)...)

	// a base without a file list (sidecar-less or older archive) leaves
	// selection to mtime alone
	if plan.Base != nil && len(plan.Base.Files) > 0 {
		for _, t := range trees {
			t.Scanner.Known(knownUnder(plan.Base.Files, t.Prefix))
		}
	}
	return trees, warnings
}

// knownUnder returns the base file list entries stored below prefix,
// relative to it
func knownUnder(files []string, prefix string) map[string]bool {
	known := make(map[string]bool)
	for _, f := range files {
		if rel, ok := strings.CutPrefix(f, prefix+"/"); ok {
			known[rel] = true
		}
	}
	return known
}

// presentFiles lists the in-archive path of every file the scanners saw
func presentFiles(trees []SourceTree) []string {
	var files []string
	for _, t := range trees {
		for _, rel := range t.Scanner.Present() {
			files = append(files, path.Join(t.Prefix, rel))
		}
	}
	sort.Strings(files)
	return files
}

// nextTimestamp keeps archive names strictly increasing. Names have
// one-second resolution, so a run within the same second as the newest
// archive moves to the following second.
func nextTimestamp(now time.Time, latest *ManifestEntry) time.Time {
	if latest == nil {
		return now
	}
	last, ok := ParseArchiveName(latest.Name)
	if !ok {
		last = latest.CreatedAt
	}
	last = last.Truncate(time.Second)
	if now.Truncate(time.Second).After(last) {
		return now
	}
	return last.Add(time.Second)
}

func (e *Engine) sourcePaths() []string {
	paths := []string{e.cfg.ProjectPath}
	return append(paths, e.cfg.AdditionalPaths...)
}

// databaseExtras dumps the database into a scratch directory. A failed dump
// becomes an entry whose Open reports the failure.
func (e *Engine) databaseExtras(ctx context.Context) ([]ExtraEntry, func()) {
	noop := func() {}
	if e.cfg.Database == nil || e.dumper == nil {
		return nil, noop
	}
	desc := *e.cfg.Database
	name := desc.ArchiveName()

	scratch, err := os.MkdirTemp("", "zesty-dump-*")
	if err != nil {
		return []ExtraEntry{failedEntry(name, err)}, noop
	}
	cleanup := func() { os.RemoveAll(scratch) }

	dumpPath := filepath.Join(scratch, filepath.Base(name))
	if err := e.dumper.Dump(ctx, desc, dumpPath); err != nil {
		e.logger.WithContext(ctx).WithField("database", desc.String()).WithField("error", err.Error()).
			Warn("Database dump failed, continuing without it")
		return []ExtraEntry{failedEntry(name, err)}, cleanup
	}
	return []ExtraEntry{fileEntry(name, dumpPath)}, cleanup
}

func failedEntry(name string, err error) ExtraEntry {
	return ExtraEntry{
		Name: name,
		Open: func() (io.ReadCloser, int64, error) { return nil, 0, err },
	}
}
