package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"zesty-backup/internal/backup"
	"zesty-backup/internal/database"
	"zesty-backup/internal/errors"
	"zesty-backup/internal/logging"
	"zesty-backup/internal/storage"
)

// Defaults applied by SetDefaults
const (
	DefaultCompressionFormat   = "zstd"
	DefaultCompressionLevel    = 3
	DefaultLocalBackupDir      = "./backups"
	DefaultRetentionDays       = 7
	DefaultFullEveryDays       = 7
	DefaultBackupIntervalHours = 6
	DefaultUploadIntervalHours = 24
	DefaultCycleTimeout        = 2 * time.Hour
	DefaultPIDFile             = "/var/run/zesty-backup.pid"
)

// Config is the complete zesty-backup configuration
type Config struct {
	Storage  storage.Config      `mapstructure:"storage" yaml:"storage"`
	Backup   BackupConfig        `mapstructure:"backup" yaml:"backup"`
	Daemon   DaemonConfig        `mapstructure:"daemon" yaml:"daemon"`
	Database database.Descriptor `mapstructure:"database" yaml:"database"`
	System   SystemConfig        `mapstructure:"system" yaml:"system"`
	Logging  LoggingConfig       `mapstructure:"logging" yaml:"logging"`
	Retry    RetryConfig         `mapstructure:"retry" yaml:"retry"`
}

// BackupConfig controls what is archived and how much history is kept
type BackupConfig struct {
	ProjectPath       string   `mapstructure:"project_path" yaml:"project_path"`
	AdditionalPaths   []string `mapstructure:"additional_paths" yaml:"additional_paths,omitempty"`
	Exclude           []string `mapstructure:"exclude" yaml:"exclude,omitempty"`
	CompressionFormat string   `mapstructure:"compression_format" yaml:"compression_format"`
	// CompressionLevel is a pointer because 0 (store-only) is a valid choice
	CompressionLevel *int   `mapstructure:"compression_level" yaml:"compression_level,omitempty"`
	LocalBackupDir   string `mapstructure:"local_backup_dir" yaml:"local_backup_dir"`
	RetentionDays    int    `mapstructure:"retention_days" yaml:"retention_days"`
	FullEveryDays    int    `mapstructure:"full_every_days" yaml:"full_every_days"`
}

// DaemonConfig controls the scheduling loop
type DaemonConfig struct {
	BackupIntervalHours int           `mapstructure:"backup_interval_hours" yaml:"backup_interval_hours"`
	UploadIntervalHours int           `mapstructure:"upload_interval_hours" yaml:"upload_interval_hours"`
	CycleTimeout        time.Duration `mapstructure:"cycle_timeout" yaml:"cycle_timeout"`
	UploadWorkers       int           `mapstructure:"upload_workers" yaml:"upload_workers"`
	RemoteRetention     bool          `mapstructure:"remote_retention" yaml:"remote_retention"`
	PIDFile             string        `mapstructure:"pid_file" yaml:"pid_file"`
}

// CommandOutputConfig is a command whose stdout is captured into the archive
type CommandOutputConfig struct {
	Command    string   `mapstructure:"command" yaml:"command"`
	Args       []string `mapstructure:"args" yaml:"args,omitempty"`
	OutputFile string   `mapstructure:"output_file" yaml:"output_file"`
	// Enabled defaults to true when omitted
	Enabled *bool `mapstructure:"enabled" yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the command should run
func (c CommandOutputConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// SystemConfig lists the system state captured alongside the project
type SystemConfig struct {
	CommandOutputs  []CommandOutputConfig `mapstructure:"command_outputs" yaml:"command_outputs,omitempty"`
	SystemdServices []string              `mapstructure:"systemd_services" yaml:"systemd_services,omitempty"`
	SystemdTimers   []string              `mapstructure:"systemd_timers" yaml:"systemd_timers,omitempty"`
	UnitDir         string                `mapstructure:"unit_dir" yaml:"unit_dir,omitempty"`
	Presets         PresetsConfig         `mapstructure:"presets" yaml:"presets"`
}

// LoggingConfig controls log verbosity, format and the optional log file
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	LogDir string `mapstructure:"log_dir" yaml:"log_dir,omitempty"`
}

// RetryConfig controls provider retries
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
}

// ValidationErrors collects every problem found by Validate
type ValidationErrors []error

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, err := range v {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills every unset field
func (c *Config) SetDefaults() {
	c.Backup.SetDefaults()
	c.Daemon.SetDefaults()
	c.Logging.SetDefaults()
	c.Retry.SetDefaults()
	if c.Database.Enabled {
		c.Database.SetDefaults()
	}
	if c.System.UnitDir == "" {
		c.System.UnitDir = backup.DefaultUnitDir
	}
}

// SetDefaults sets default values for backup configuration
func (b *BackupConfig) SetDefaults() {
	if b.CompressionFormat == "" {
		b.CompressionFormat = DefaultCompressionFormat
	}
	if b.CompressionLevel == nil {
		level := DefaultCompressionLevel
		b.CompressionLevel = &level
	}
	if b.LocalBackupDir == "" {
		b.LocalBackupDir = DefaultLocalBackupDir
	}
	if b.RetentionDays == 0 {
		b.RetentionDays = DefaultRetentionDays
	}
	if b.FullEveryDays == 0 {
		b.FullEveryDays = DefaultFullEveryDays
	}
}

// Level returns the compression level, or the default when unset
func (b *BackupConfig) Level() int {
	if b.CompressionLevel == nil {
		return DefaultCompressionLevel
	}
	return *b.CompressionLevel
}

// SetDefaults sets default values for daemon configuration
func (d *DaemonConfig) SetDefaults() {
	if d.BackupIntervalHours == 0 {
		d.BackupIntervalHours = DefaultBackupIntervalHours
	}
	if d.UploadIntervalHours == 0 {
		d.UploadIntervalHours = DefaultUploadIntervalHours
	}
	if d.CycleTimeout == 0 {
		d.CycleTimeout = DefaultCycleTimeout
	}
	if d.UploadWorkers == 0 {
		d.UploadWorkers = backup.DefaultUploadWorkers
	}
	if d.PIDFile == "" {
		d.PIDFile = DefaultPIDFile
	}
}

// SetDefaults sets default values for logging configuration
func (l *LoggingConfig) SetDefaults() {
	if l.Level == "" {
		l.Level = string(logging.LogLevelNormal)
	}
	if l.Format == "" {
		l.Format = "text"
	}
}

// SetDefaults sets default values for retry configuration
func (r *RetryConfig) SetDefaults() {
	def := errors.DefaultRetryConfig()
	if r.MaxAttempts == 0 {
		r.MaxAttempts = def.MaxAttempts
	}
	if r.BaseDelay == 0 {
		r.BaseDelay = def.BaseDelay
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = def.MaxDelay
	}
}

// Validate checks the whole configuration and reports every problem at once.
// Storage is only validated when a provider is set; commands that need
// remote storage call ValidateStorage.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if err := c.Backup.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Daemon.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Storage.Provider != "" {
		if err := c.Storage.Validate(); err != nil {
			errs = append(errs, unwrapMessage(err))
		}
	}
	if c.Database.Enabled {
		if err := c.Database.Validate(); err != nil {
			errs = append(errs, unwrapMessage(err))
		}
	}
	if err := c.System.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be at least 1"))
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, fmt.Errorf("retry.max_delay must not be shorter than retry.base_delay"))
	}

	if len(errs) > 0 {
		return errors.NewConfigError("configuration validation failed", errs)
	}
	return nil
}

// ValidateStorage requires a usable storage section
func (c *Config) ValidateStorage() error {
	if c.Storage.Provider == "" {
		return errors.NewConfigError("storage.provider is required for remote operations", nil)
	}
	return c.Storage.Validate()
}

// unwrapMessage strips the AppError prefix so nested messages read cleanly
func unwrapMessage(err error) error {
	if appErr, ok := err.(*errors.AppError); ok {
		return fmt.Errorf("%s", appErr.Message)
	}
	return err
}

// Validate validates backup configuration
func (b *BackupConfig) Validate() error {
	var problems []string

	if b.ProjectPath == "" {
		problems = append(problems, "backup.project_path is required")
	}
	if b.LocalBackupDir == "" {
		problems = append(problems, "backup.local_backup_dir is required")
	}
	if codec, err := backup.GetCodec(backup.CompressionType(b.CompressionFormat)); err != nil {
		problems = append(problems, fmt.Sprintf("backup.compression_format %q is not supported", b.CompressionFormat))
	} else if err := backup.ValidateLevel(codec, b.Level()); err != nil {
		problems = append(problems, fmt.Sprintf("backup.compression_level %d is out of range [0, %d] for %s",
			b.Level(), codec.MaxLevel(), codec.Format()))
	}
	if b.RetentionDays < 0 {
		problems = append(problems, "backup.retention_days cannot be negative")
	}
	if b.FullEveryDays < 0 {
		problems = append(problems, "backup.full_every_days cannot be negative")
	}
	for _, pattern := range b.Exclude {
		if strings.TrimSpace(pattern) == "" {
			problems = append(problems, "backup.exclude contains an empty pattern")
			break
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// Validate validates daemon configuration
func (d *DaemonConfig) Validate() error {
	var problems []string

	if d.BackupIntervalHours < 1 {
		problems = append(problems, "daemon.backup_interval_hours must be at least 1")
	}
	if d.UploadIntervalHours < 1 {
		problems = append(problems, "daemon.upload_interval_hours must be at least 1")
	}
	if d.CycleTimeout < time.Minute {
		problems = append(problems, "daemon.cycle_timeout must be at least 1m")
	}
	if d.UploadWorkers < 1 {
		problems = append(problems, "daemon.upload_workers must be at least 1")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// Validate validates system snapshot configuration
func (s *SystemConfig) Validate() error {
	var problems []string

	outputs := make(map[string]bool)
	for i, c := range s.CommandOutputs {
		if c.Command == "" {
			problems = append(problems, fmt.Sprintf("system.command_outputs[%d].command is required", i))
			continue
		}
		if strings.ContainsAny(c.OutputFile, `/\`) {
			problems = append(problems, fmt.Sprintf("system.command_outputs[%d].output_file must be a plain file name", i))
		}
		name := c.OutputFile
		if name == "" {
			name = filepath.Base(c.Command) + ".txt"
		}
		if outputs[name] {
			problems = append(problems, fmt.Sprintf("system.command_outputs[%d].output_file %q is used twice", i, name))
		}
		outputs[name] = true
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "quiet", "normal", "verbose", "debug", "error", "warn", "info", "trace":
	default:
		return fmt.Errorf("logging.level %q must be one of quiet, normal, verbose, debug", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", l.Format)
	}
	return nil
}

// EngineConfig converts the backup section for backup.NewEngine
func (c *Config) EngineConfig() backup.EngineConfig {
	ec := backup.EngineConfig{
		ProjectPath:     c.Backup.ProjectPath,
		AdditionalPaths: c.Backup.AdditionalPaths,
		Exclude:         c.Backup.Exclude,
		LocalDir:        c.Backup.LocalBackupDir,
		Format:          backup.CompressionType(c.Backup.CompressionFormat),
		Level:           c.Backup.Level(),
		RetentionDays:   c.Backup.RetentionDays,
		FullEveryDays:   c.Backup.FullEveryDays,
	}
	if c.Database.Enabled {
		desc := c.Database
		ec.Database = &desc
	}
	return ec
}

// SnapshotConfig converts the system section, presets included
func (c *Config) SnapshotConfig() backup.SnapshotConfig {
	sc := backup.SnapshotConfig{
		Services: c.System.SystemdServices,
		Timers:   c.System.SystemdTimers,
		UnitDir:  c.System.UnitDir,
	}
	for _, out := range c.System.CommandOutputs {
		if !out.IsEnabled() {
			continue
		}
		sc.Commands = append(sc.Commands, backup.CommandOutput{
			Command:    out.Command,
			Args:       out.Args,
			OutputFile: out.OutputFile,
		})
	}

	expanded := c.ExpandPresets()
	sc.Files = expanded.Files
	sc.Dirs = expanded.Dirs
	sc.Crontab = expanded.Crontab
	sc.CrontabUser = expanded.CrontabUser
	return sc
}

// LoggerConfig converts the logging section
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:  logging.ParseLevel(c.Logging.Level),
		Format: c.Logging.Format,
		LogDir: c.Logging.LogDir,
	}
}

// RetryConfig converts the retry section for the storage gateway
func (c *Config) RetryConfig() errors.RetryConfig {
	rc := errors.DefaultRetryConfig()
	if c.Retry.MaxAttempts > 0 {
		rc.MaxAttempts = c.Retry.MaxAttempts
	}
	if c.Retry.BaseDelay > 0 {
		rc.BaseDelay = c.Retry.BaseDelay
	}
	if c.Retry.MaxDelay > 0 {
		rc.MaxDelay = c.Retry.MaxDelay
	}
	return rc
}
