package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/user"
	"path"
	"path/filepath"
	"strings"
	"time"

	"zesty-backup/internal/execution"
	"zesty-backup/internal/logging"
)

// DefaultUnitDir is where systemd unit files are read from
const DefaultUnitDir = "/etc/systemd/system"

// CommandOutput is a command whose stdout is stored in the archive
type CommandOutput struct {
	Command    string
	Args       []string
	OutputFile string
}

// PresetFile is a single file copied into the archive under Dest
type PresetFile struct {
	Source string
	Dest   string
}

// PresetDir is a directory archived under Prefix
type PresetDir struct {
	Source string
	Prefix string
}

// SnapshotConfig lists the system state captured alongside the project
type SnapshotConfig struct {
	Commands []CommandOutput
	Services []string
	Timers   []string
	// UnitDir defaults to DefaultUnitDir
	UnitDir     string
	Crontab     bool
	CrontabUser string
	Files       []PresetFile
	Dirs        []PresetDir
}

// SnapshotCollector turns a SnapshotConfig into archive extras. Every
// entry is produced lazily while the archive is written; a failing command
// or missing unit only fails its own entry.
type SnapshotCollector struct {
	cfg         SnapshotConfig
	runner      execution.CommandRunner
	logger      *logging.Logger
	currentUser func() string
}

// NewSnapshotCollector creates a collector. runner defaults to os/exec.
func NewSnapshotCollector(cfg SnapshotConfig, runner execution.CommandRunner, logger *logging.Logger) *SnapshotCollector {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if runner == nil {
		runner = execution.NewExecRunner(logger)
	}
	if cfg.UnitDir == "" {
		cfg.UnitDir = DefaultUnitDir
	}
	return &SnapshotCollector{
		cfg:         cfg,
		runner:      runner,
		logger:      logger,
		currentUser: currentUsername,
	}
}

func currentUsername() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// Extras returns one ExtraEntry per configured snapshot item
func (c *SnapshotCollector) Extras(ctx context.Context) []ExtraEntry {
	var extras []ExtraEntry

	for _, cmd := range c.cfg.Commands {
		extras = append(extras, c.commandEntry(ctx, cmd))
	}
	for _, unit := range c.cfg.Services {
		extras = append(extras, fileEntry(path.Join("systemd/services", unit), filepath.Join(c.cfg.UnitDir, unit)))
	}
	for _, unit := range c.cfg.Timers {
		extras = append(extras, fileEntry(path.Join("systemd/timers", unit), filepath.Join(c.cfg.UnitDir, unit)))
	}
	if c.cfg.Crontab {
		extras = append(extras, c.crontabEntry(ctx))
	}
	for _, f := range c.cfg.Files {
		extras = append(extras, fileEntry(f.Dest, f.Source))
	}
	return extras
}

// Sources returns the preset directories as source trees scanned with the
// same mode as the project tree
func (c *SnapshotCollector) Sources(exclude *ExclusionSet, mode ScanMode, since time.Time) []SourceTree {
	var trees []SourceTree
	for _, d := range c.cfg.Dirs {
		if _, err := os.Stat(d.Source); err != nil {
			c.logger.WithField("path", d.Source).Debug("Skipping missing preset directory")
			continue
		}
		trees = append(trees, SourceTree{
			Prefix:  d.Prefix,
			Scanner: NewScanner(d.Source, exclude, mode, since),
		})
	}
	return trees
}

func (c *SnapshotCollector) commandEntry(ctx context.Context, out CommandOutput) ExtraEntry {
	name := out.OutputFile
	if name == "" {
		name = path.Base(out.Command) + ".txt"
	}
	return ExtraEntry{
		Name: path.Join("commands", name),
		Open: func() (io.ReadCloser, int64, error) {
			return c.capture(ctx, execution.Command{Name: out.Command, Args: out.Args})
		},
	}
}

func (c *SnapshotCollector) crontabEntry(ctx context.Context) ExtraEntry {
	current := c.currentUser()
	owner := c.cfg.CrontabUser
	if owner == "" {
		owner = current
	}

	args := []string{"-l"}
	if owner != current {
		args = []string{"-u", owner, "-l"}
	}
	return ExtraEntry{
		Name: fmt.Sprintf("system/crontab-%s.txt", owner),
		Open: func() (io.ReadCloser, int64, error) {
			return c.capture(ctx, execution.Command{Name: "crontab", Args: args})
		},
	}
}

// capture runs cmd and returns its stdout
func (c *SnapshotCollector) capture(ctx context.Context, cmd execution.Command) (io.ReadCloser, int64, error) {
	res, err := c.runner.Run(ctx, cmd)
	if err != nil {
		c.logger.WithContext(ctx).WithField("command", cmd.String()).WithField("error", err.Error()).
			Warn("Snapshot command failed")
		return nil, 0, err
	}
	out := res.Stdout
	if !bytes.HasSuffix(out, []byte("\n")) && len(out) > 0 {
		out = append(out, '\n')
	}
	return io.NopCloser(bytes.NewReader(out)), int64(len(out)), nil
}

func fileEntry(name, src string) ExtraEntry {
	return ExtraEntry{
		Name: strings.TrimPrefix(name, "/"),
		Open: func() (io.ReadCloser, int64, error) {
			f, err := os.Open(src)
			if err != nil {
				return nil, 0, err
			}
			info, err := f.Stat()
			if err != nil {
				f.Close()
				return nil, 0, err
			}
			if info.IsDir() {
				f.Close()
				return nil, 0, fmt.Errorf("%s is a directory", src)
			}
			return f, info.Size(), nil
		},
	}
}
