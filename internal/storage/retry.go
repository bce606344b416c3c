package storage

import (
	"context"
	"io"

	"zesty-backup/internal/errors"
	"zesty-backup/internal/logging"
)

// Retrying wraps a Gateway with exponential backoff. Transient provider
// errors are retried up to the configured attempt ceiling; permanent ones
// are returned after the first attempt.
type Retrying struct {
	inner  Gateway
	config errors.RetryConfig
	logger *logging.Logger
	// onAttempt observes every failed attempt, used by tests
	onAttempt func(op string, attempt int, err error)
}

// NewRetrying decorates inner
func NewRetrying(inner Gateway, config errors.RetryConfig, logger *logging.Logger) *Retrying {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Retrying{inner: inner, config: config, logger: logger}
}

// Unwrap returns the decorated gateway
func (r *Retrying) Unwrap() Gateway {
	return r.inner
}

// Name implements Gateway
func (r *Retrying) Name() string {
	return r.inner.Name()
}

func (r *Retrying) handler(ctx context.Context, op, name string) *errors.RetryHandler {
	return errors.NewRetryHandler(r.config).OnAttempt(func(attempt int, err error) {
		if r.onAttempt != nil {
			r.onAttempt(op, attempt, err)
		}
		if errors.IsRecoverableError(err) && attempt < r.config.MaxAttempts {
			r.logger.WithContext(ctx).WithFields(map[string]interface{}{
				"provider": r.inner.Name(),
				"op":       op,
				"object":   name,
				"attempt":  attempt,
				"error":    err.Error(),
			}).Warn("Transient storage error, retrying")
		}
	})
}

// Put rewinds body before every attempt
func (r *Retrying) Put(ctx context.Context, name string, body io.ReadSeeker, size int64) (string, error) {
	var id string
	err := r.handler(ctx, "put", name).Retry(ctx, func() error {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return errors.NewPermanentProviderError("failed to rewind upload body", err)
		}
		var err error
		id, err = r.inner.Put(ctx, name, body, size)
		return err
	})
	return id, err
}

// Get retries opening the stream; reads from the returned body are not retried
func (r *Retrying) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	var rc io.ReadCloser
	err := r.handler(ctx, "get", name).Retry(ctx, func() error {
		var err error
		rc, err = r.inner.Get(ctx, name)
		return err
	})
	return rc, err
}

// List implements Gateway
func (r *Retrying) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	err := r.handler(ctx, "list", prefix).Retry(ctx, func() error {
		var err error
		objects, err = r.inner.List(ctx, prefix)
		return err
	})
	return objects, err
}

// Delete implements Gateway
func (r *Retrying) Delete(ctx context.Context, name string) error {
	return r.handler(ctx, "delete", name).Retry(ctx, func() error {
		return r.inner.Delete(ctx, name)
	})
}
