package scheduler

import (
	"context"

	"zesty-backup/internal/backup"
	"zesty-backup/internal/errors"
	"zesty-backup/internal/logging"
)

// Job is one kind of cycle the daemon runs
type Job interface {
	Run(ctx context.Context) error
}

// JobFunc adapts a function to Job
type JobFunc func(ctx context.Context) error

// Run implements Job
func (f JobFunc) Run(ctx context.Context) error { return f(ctx) }

// BackupJob creates one archive and applies local retention
type BackupJob struct {
	Engine *backup.Engine
}

// Run implements Job
func (j *BackupJob) Run(ctx context.Context) error {
	_, err := j.Engine.CreateBackup(ctx, backup.BackupOptions{})
	return err
}

// UploadJob uploads pending archives and, when Retention is set, prunes the
// remote catalog afterwards
type UploadJob struct {
	Uploader  *backup.Uploader
	Remote    backup.Catalog
	Retention backup.RetentionManager
	Logger    *logging.Logger
}

// Run implements Job. Remote retention runs even when some uploads failed.
func (j *UploadJob) Run(ctx context.Context) error {
	_, uploadErr := j.Uploader.UploadPending(ctx)

	if j.Retention == nil || j.Remote == nil || ctx.Err() != nil {
		return uploadErr
	}

	if _, err := j.Retention.ApplyRetentionPolicy(ctx, j.Remote, false); err != nil {
		err = errors.NewRetentionError("remote retention failed", err)
		if uploadErr != nil {
			j.logger().WithContext(ctx).WithField("error", err.Error()).Error("Remote retention failed")
			return uploadErr
		}
		return err
	}
	return uploadErr
}

func (j *UploadJob) logger() *logging.Logger {
	if j.Logger == nil {
		return logging.NewNopLogger()
	}
	return j.Logger
}
