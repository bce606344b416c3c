package config

import (
	"fmt"
	"os"
	"path/filepath"

	"zesty-backup/internal/database"
	"zesty-backup/internal/errors"
	"zesty-backup/internal/execution"
	"zesty-backup/internal/logging"
)

// Initializer prepares the host for backups: it creates the local archive
// directory and checks that every path and tool the configuration names
// is usable
type Initializer struct {
	config *Config
	runner execution.CommandRunner
	logger *logging.Logger
}

// NewInitializer creates an initializer. runner defaults to os/exec.
func NewInitializer(config *Config, runner execution.CommandRunner, logger *logging.Logger) *Initializer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if runner == nil {
		runner = execution.NewExecRunner(logger)
	}
	return &Initializer{config: config, runner: runner, logger: logger}
}

// InitializationResult is the outcome of Initialize
type InitializationResult struct {
	Success          bool
	LocalDirReady    bool
	ConfigValid      bool
	ProjectReadable  bool
	ToolsAvailable   bool
	Warnings         []string
	Errors           []string
	RecommendedFixes []string
}

// Initialize runs every check. Only a failure to prepare the local archive
// directory or an invalid configuration marks the result unsuccessful;
// everything else is a warning.
func (in *Initializer) Initialize() *InitializationResult {
	result := &InitializationResult{
		Success:         true,
		LocalDirReady:   true,
		ConfigValid:     true,
		ProjectReadable: true,
		ToolsAvailable:  true,
	}

	in.logger.Debug("Running preflight checks")

	if err := in.config.Validate(); err != nil {
		result.Success = false
		result.ConfigValid = false
		result.Errors = append(result.Errors, errors.FormatUserError(err))
		result.RecommendedFixes = append(result.RecommendedFixes, "Run `zesty-backup config generate` for a documented example")
	}

	if err := in.prepareLocalDir(); err != nil {
		result.Success = false
		result.LocalDirReady = false
		result.Errors = append(result.Errors, err.Error())
		result.RecommendedFixes = append(result.RecommendedFixes,
			fmt.Sprintf("Make %s writable or point backup.local_backup_dir elsewhere", in.config.Backup.LocalBackupDir))
	}

	if err := in.checkProject(result); err != nil {
		result.ProjectReadable = false
		result.Warnings = append(result.Warnings, err.Error())
	}

	in.checkTools(result)
	in.checkDirectories(result)

	in.logger.WithFields(map[string]interface{}{
		"success":  result.Success,
		"warnings": len(result.Warnings),
		"errors":   len(result.Errors),
	}).Debug("Preflight checks finished")
	return result
}

// PrepareLocalDir creates the local archive directory and proves it is
// writable. The daemon treats a failure here as fatal.
func (in *Initializer) PrepareLocalDir() error {
	if err := in.prepareLocalDir(); err != nil {
		return errors.NewArchiveBuildError("failed to prepare local backup directory", err)
	}
	return nil
}

func (in *Initializer) prepareLocalDir() error {
	dir := in.config.Backup.LocalBackupDir
	if dir == "" {
		return fmt.Errorf("backup.local_backup_dir is not set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory %s: %w", dir, err)
	}

	probe := filepath.Join(dir, ".zesty-write-test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("backup directory %s is not writable: %w", dir, err)
	}
	os.Remove(probe)
	return nil
}

func (in *Initializer) checkProject(result *InitializationResult) error {
	path := in.config.Backup.ProjectPath
	info, err := os.Stat(path)
	if err != nil {
		result.RecommendedFixes = append(result.RecommendedFixes,
			fmt.Sprintf("Check that backup.project_path %s exists", path))
		return fmt.Errorf("project path %s is not readable: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("project path %s is not a directory", path)
	}
	if _, err := os.ReadDir(path); err != nil {
		return fmt.Errorf("project path %s cannot be listed: %w", path, err)
	}

	for _, p := range in.config.Backup.AdditionalPaths {
		if _, err := os.Stat(p); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("additional path %s will be skipped: %v", p, err))
		}
	}
	return nil
}

// checkTools looks up the external programs the configuration depends on
func (in *Initializer) checkTools(result *InitializationResult) {
	var tools []string

	db := in.config.Database
	if db.Enabled && db.Method != database.MethodNative {
		switch db.Type {
		case database.TypePostgres:
			tools = append(tools, "pg_dump")
		case database.TypeMySQL, database.TypeMariaDB:
			tools = append(tools, "mysqldump")
		case database.TypeMongoDB:
			tools = append(tools, "mongodump")
		case database.TypeCassandra, database.TypeScylla:
			tools = append(tools, "cqlsh")
		case database.TypeRedis:
			tools = append(tools, "redis-cli")
		}
	}
	if in.config.Storage.Provider == "mega" {
		tools = append(tools, "mega-put")
	}
	if in.config.System.Presets.CrontabEnabled {
		tools = append(tools, "crontab")
	}
	for _, out := range in.config.System.CommandOutputs {
		if out.IsEnabled() {
			tools = append(tools, out.Command)
		}
	}

	for _, tool := range tools {
		if _, err := in.runner.LookPath(tool); err != nil {
			result.ToolsAvailable = false
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s is not installed or not in PATH", tool))
			result.RecommendedFixes = append(result.RecommendedFixes, fmt.Sprintf("Install %s", tool))
		}
	}
}

// checkDirectories warns about log and PID directories that cannot be created
func (in *Initializer) checkDirectories(result *InitializationResult) {
	if dir := in.config.Logging.LogDir; dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("log directory %s cannot be created: %v", dir, err))
		}
	}
	if pid := in.config.Daemon.PIDFile; pid != "" {
		if _, err := os.Stat(filepath.Dir(pid)); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("PID file directory %s does not exist", filepath.Dir(pid)))
		}
	}
}
