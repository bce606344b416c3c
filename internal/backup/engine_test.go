package backup

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zesty-backup/internal/database"
	"zesty-backup/internal/errors"
	"zesty-backup/internal/execution"
)

// dumperFunc adapts a function to database.Dumper
type dumperFunc func(ctx context.Context, desc database.Descriptor, path string) error

func (f dumperFunc) Dump(ctx context.Context, desc database.Descriptor, path string) error {
	return f(ctx, desc, path)
}

func archiveNames(contents map[string]string) []string {
	names := make([]string, 0, len(contents))
	for name := range contents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func TestPlanBackup(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.Local)
	full := &ManifestEntry{Name: "backup-20240113-120000.tar.zst", Kind: KindFull, CreatedAt: now.Add(-48 * time.Hour)}
	incr := &ManifestEntry{Name: "backup-20240114-120000.tar.zst", Kind: KindIncremental, CreatedAt: now.Add(-24 * time.Hour), Base: full.Name}

	tests := []struct {
		name          string
		entries       []*ManifestEntry
		fullEveryDays int
		force         bool
		wantMode      ScanMode
		wantBase      *ManifestEntry
	}{
		{"empty directory", nil, 0, false, ScanModeFull, nil},
		{"forced", []*ManifestEntry{full, incr}, 0, true, ScanModeFull, nil},
		{"chain continues", []*ManifestEntry{full, incr}, 0, false, ScanModeIncremental, incr},
		{"within window", []*ManifestEntry{full}, 7, false, ScanModeIncremental, full},
		{"window expired", []*ManifestEntry{full, incr}, 2, false, ScanModeFull, nil},
		{"only incrementals", []*ManifestEntry{incr}, 0, false, ScanModeFull, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanBackup(tt.entries, now, tt.fullEveryDays, tt.force)
			assert.Equal(t, tt.wantMode, plan.Mode)
			assert.Equal(t, tt.wantBase, plan.Base)
			if tt.wantBase != nil {
				assert.Equal(t, tt.wantBase.CreatedAt, plan.Since)
			}
		})
	}
}

func TestEngine_FullThenIncremental(t *testing.T) {
	project := t.TempDir()
	localDir := filepath.Join(project, "backups")
	t0 := time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local)
	writeTree(t, project, map[string]string{
		"a.txt":         "alpha",
		"src/b.go":      "package b",
		"logs/app.log":  "noise",
		"tmp/cache.bin": "cache",
	}, t0.Add(-time.Hour))

	engine := NewEngine(EngineConfig{
		ProjectPath: project,
		Exclude:     []string{"*.log", "tmp"},
		LocalDir:    localDir,
		Format:      CompressionTypeGzip,
		Level:       6,
	}, EngineDeps{})
	engine.now = func() time.Time { return t0 }

	first, err := engine.CreateBackup(context.Background(), BackupOptions{})
	require.NoError(t, err)
	assert.Equal(t, KindFull, first.Entry.Kind)
	assert.Equal(t, "backup-20240115-100000.tar.gz", first.Entry.Name)
	assert.Equal(t, []string{"project/a.txt", "project/src/b.go"},
		archiveNames(readArchive(t, filepath.Join(localDir, first.Entry.Name))))

	sidecar, err := ReadManifest(localDir, first.Entry.Name)
	require.NoError(t, err)
	assert.Equal(t, first.Build.Digest, sidecar.Digest)
	assert.Equal(t, 2, sidecar.FileCount)
	assert.Equal(t, []string{project}, sidecar.Sources)

	// one file changes after the first archive
	writeTree(t, project, map[string]string{"src/b.go": "package b // v2"}, t0.Add(30*time.Minute))
	engine.now = func() time.Time { return t0.Add(time.Hour) }

	second, err := engine.CreateBackup(context.Background(), BackupOptions{})
	require.NoError(t, err)
	assert.Equal(t, KindIncremental, second.Entry.Kind)
	assert.Equal(t, first.Entry.Name, second.Entry.Base)

	contents := readArchive(t, filepath.Join(localDir, second.Entry.Name))
	assert.Equal(t, map[string]string{"project/src/b.go": "package b // v2"}, contents)

	// nothing changed since the second archive
	engine.now = func() time.Time { return t0.Add(2 * time.Hour) }
	third, err := engine.CreateBackup(context.Background(), BackupOptions{})
	require.NoError(t, err)
	assert.Equal(t, second.Entry.Name, third.Entry.Base)
	assert.Equal(t, 0, third.Entry.FileCount)

	// an archive for this second already exists, so the name moves on
	forced, err := engine.CreateBackup(context.Background(), BackupOptions{ForceFull: true})
	require.NoError(t, err)
	assert.Equal(t, KindFull, forced.Entry.Kind)
	assert.Empty(t, forced.Entry.Base)
	assert.Equal(t, "backup-20240115-120001.tar.gz", forced.Entry.Name)
	assert.Equal(t, []string{"project/a.txt", "project/src/b.go"}, forced.Entry.Files)
}

func TestEngine_SameSecondBackupsGetDistinctNames(t *testing.T) {
	project := t.TempDir()
	writeTree(t, project, map[string]string{"a.txt": "alpha"}, time.Now().Add(-time.Hour))
	t0 := time.Date(2024, 3, 1, 8, 30, 0, 0, time.Local)

	engine := NewEngine(EngineConfig{
		ProjectPath: project,
		LocalDir:    filepath.Join(project, "backups"),
		Format:      CompressionTypeGzip,
		Level:       6,
	}, EngineDeps{})
	engine.now = func() time.Time { return t0 }

	first, err := engine.CreateBackup(context.Background(), BackupOptions{})
	require.NoError(t, err)

	engine.now = func() time.Time { return t0.Add(300 * time.Millisecond) }
	second, err := engine.CreateBackup(context.Background(), BackupOptions{})
	require.NoError(t, err)

	assert.Equal(t, "backup-20240301-083000.tar.gz", first.Entry.Name)
	assert.Equal(t, "backup-20240301-083001.tar.gz", second.Entry.Name)
	assert.Equal(t, first.Entry.Name, second.Entry.Base)

	entries, err := engine.Catalog().List(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestEngine_IncrementalPicksUpFilesMissingFromBase(t *testing.T) {
	project := t.TempDir()
	localDir := filepath.Join(project, "backups")
	t0 := time.Date(2024, 1, 15, 10, 0, 0, 0, time.Local)
	writeTree(t, project, map[string]string{"a.txt": "alpha"}, t0.Add(-time.Hour))

	engine := NewEngine(EngineConfig{
		ProjectPath: project,
		LocalDir:    localDir,
		Format:      CompressionTypeGzip,
		Level:       6,
	}, EngineDeps{})
	engine.now = func() time.Time { return t0 }

	first, err := engine.CreateBackup(context.Background(), BackupOptions{})
	require.NoError(t, err)

	sidecar, err := ReadManifest(localDir, first.Entry.Name)
	require.NoError(t, err)
	assert.Equal(t, []string{"project/a.txt"}, sidecar.Files)

	// moved into the tree after the marker, keeping an old mtime
	writeTree(t, project, map[string]string{"moved/report.csv": "1,2"}, t0.Add(-48*time.Hour))

	engine.now = func() time.Time { return t0.Add(time.Hour) }
	second, err := engine.CreateBackup(context.Background(), BackupOptions{})
	require.NoError(t, err)
	assert.Equal(t, KindIncremental, second.Entry.Kind)
	assert.Equal(t, map[string]string{"project/moved/report.csv": "1,2"},
		readArchive(t, filepath.Join(localDir, second.Entry.Name)))
	assert.Equal(t, []string{"project/a.txt", "project/moved/report.csv"}, second.Entry.Files)

	// recorded by the second archive, so the third leaves it out
	engine.now = func() time.Time { return t0.Add(2 * time.Hour) }
	third, err := engine.CreateBackup(context.Background(), BackupOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, third.Entry.FileCount)
}

func TestEngine_ExtrasAndAdditionalPaths(t *testing.T) {
	project := t.TempDir()
	writeTree(t, project, map[string]string{"index.html": "<html>"}, time.Now().Add(-time.Hour))

	extra := t.TempDir()
	writeTree(t, extra, map[string]string{"conf/site.conf": "server {}", "hosts": "127.0.0.1"}, time.Now().Add(-time.Hour))
	missing := filepath.Join(extra, "does-not-exist")

	runner := execution.NewFakeRunner().
		On("uname -a", execution.FakeResponse{Stdout: "Linux web1"}).
		On("false", execution.FakeResponse{ExitCode: 1})
	snapshots := NewSnapshotCollector(SnapshotConfig{
		Commands: []CommandOutput{
			{Command: "uname", Args: []string{"-a"}, OutputFile: "uname.txt"},
			{Command: "false", OutputFile: "false.txt"},
		},
	}, runner, nil)

	var dumped string
	desc := &database.Descriptor{Type: database.TypePostgres, Name: "app"}
	dumper := dumperFunc(func(ctx context.Context, d database.Descriptor, path string) error {
		dumped = path
		return os.WriteFile(path, []byte("CREATE TABLE t();"), 0o600)
	})

	localDir := t.TempDir()
	engine := NewEngine(EngineConfig{
		ProjectPath:     project,
		AdditionalPaths: []string{filepath.Join(extra, "conf"), filepath.Join(extra, "hosts"), missing},
		LocalDir:        localDir,
		Format:          CompressionTypeZstd,
		Level:           3,
		Database:        desc,
	}, EngineDeps{Snapshots: snapshots, Dumper: dumper})

	outcome, err := engine.CreateBackup(context.Background(), BackupOptions{SkipRetention: true})
	require.NoError(t, err)

	contents := readArchive(t, filepath.Join(localDir, outcome.Entry.Name))
	assert.Equal(t, []string{
		"commands/uname.txt",
		"database/app.sql",
		"project/index.html",
		"system/conf/site.conf",
		"system/hosts",
	}, archiveNames(contents))
	assert.Equal(t, "CREATE TABLE t();", contents["database/app.sql"])

	require.Len(t, outcome.Build.ExtraFailures, 1)
	assert.Equal(t, "commands/false.txt", outcome.Build.ExtraFailures[0].Name)
	require.Len(t, outcome.Build.Warnings, 1)
	assert.Equal(t, missing, outcome.Build.Warnings[0].Path)
	assert.Equal(t, 1, outcome.Entry.Warnings)

	// the scratch dump is gone
	_, err = os.Stat(dumped)
	assert.True(t, os.IsNotExist(err))
}

func TestEngine_FailedDumpDoesNotAbort(t *testing.T) {
	project := t.TempDir()
	writeTree(t, project, map[string]string{"a.txt": "a"}, time.Now().Add(-time.Hour))

	dumper := dumperFunc(func(context.Context, database.Descriptor, string) error {
		return errors.NewAppError(errors.ErrorTypeNotFound, "pg_dump is not installed", nil)
	})
	localDir := t.TempDir()
	engine := NewEngine(EngineConfig{
		ProjectPath: project,
		LocalDir:    localDir,
		Level:       3,
		Database:    &database.Descriptor{Type: database.TypePostgres, Name: "app"},
	}, EngineDeps{Dumper: dumper})

	outcome, err := engine.CreateBackup(context.Background(), BackupOptions{SkipRetention: true})
	require.NoError(t, err)
	require.Len(t, outcome.Build.ExtraFailures, 1)
	assert.Equal(t, "database/app.sql", outcome.Build.ExtraFailures[0].Name)
	assert.Equal(t, CompressionTypeZstd, outcome.Entry.Format)
	assert.Contains(t, readArchive(t, filepath.Join(localDir, outcome.Entry.Name)), "project/a.txt")
}

func TestEngine_MissingProjectIsScanError(t *testing.T) {
	localDir := t.TempDir()
	engine := NewEngine(EngineConfig{
		ProjectPath: filepath.Join(localDir, "missing"),
		LocalDir:    localDir,
	}, EngineDeps{})

	_, err := engine.CreateBackup(context.Background(), BackupOptions{})
	require.Error(t, err)
	assert.Equal(t, errors.ExitScan, errors.ExitCode(err))

	entries, listErr := engine.Catalog().List(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, entries)
}

func TestEngine_RetentionRunsAfterBackup(t *testing.T) {
	project := t.TempDir()
	writeTree(t, project, map[string]string{"a.txt": "a"}, time.Now().Add(-time.Hour))
	localDir := t.TempDir()

	old := "backup-20200101-000000.tar.zst"
	require.NoError(t, os.WriteFile(filepath.Join(localDir, old), []byte("old"), 0o644))

	engine := NewEngine(EngineConfig{
		ProjectPath:   project,
		LocalDir:      localDir,
		RetentionDays: 7,
		FullEveryDays: 30,
	}, EngineDeps{})

	outcome, err := engine.CreateBackup(context.Background(), BackupOptions{})
	require.NoError(t, err)
	assert.Equal(t, KindFull, outcome.Entry.Kind)
	require.NotNil(t, outcome.Retention)
	assert.Equal(t, []string{old}, outcome.Retention.Deleted)
	assert.Equal(t, []string{outcome.Entry.Name}, outcome.Retention.Kept)

	_, err = os.Stat(filepath.Join(localDir, old))
	assert.True(t, os.IsNotExist(err))
}
