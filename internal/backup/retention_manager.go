package backup

import (
	"context"
	"fmt"
	"time"

	"zesty-backup/internal/errors"
	"zesty-backup/internal/logging"
)

// Catalog is a listing of archives that retention can prune
type Catalog interface {
	// Scope names the catalog in logs, e.g. "local" or "remote"
	Scope() string
	List(ctx context.Context) ([]*ManifestEntry, error)
	Delete(ctx context.Context, entry *ManifestEntry) error
}

// RetentionManager applies the age based retention policy to a catalog
type RetentionManager interface {
	// ApplyRetentionPolicy deletes expired archives. With dryRun set the
	// selection runs but nothing is deleted.
	ApplyRetentionPolicy(ctx context.Context, catalog Catalog, dryRun bool) (*RetentionResult, error)

	// GetRetentionCandidates returns the entries that would be kept and deleted
	GetRetentionCandidates(ctx context.Context, catalog Catalog) (keep, remove []*ManifestEntry, err error)
}

type retentionManager struct {
	policy   RetentionPolicy
	inFlight *InFlight
	logger   *logging.Logger
}

// NewRetentionManager creates a retention manager. inFlight may be nil.
func NewRetentionManager(policy RetentionPolicy, inFlight *InFlight, logger *logging.Logger) RetentionManager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &retentionManager{
		policy:   policy,
		inFlight: inFlight,
		logger:   logger,
	}
}

// ApplyRetentionPolicy deletes every selected entry. Deletion is best effort:
// each failure is recorded and the remaining entries are still processed.
func (rm *retentionManager) ApplyRetentionPolicy(ctx context.Context, catalog Catalog, dryRun bool) (*RetentionResult, error) {
	start := time.Now()

	keep, remove, err := rm.GetRetentionCandidates(ctx, catalog)
	if err != nil {
		return nil, err
	}

	result := &RetentionResult{
		Processed: len(keep) + len(remove),
		DryRun:    dryRun,
	}
	for _, e := range keep {
		result.Kept = append(result.Kept, e.Name)
	}

	// Oldest first, so an interrupted pass never leaves a newer entry
	// without its base.
	for i := len(remove) - 1; i >= 0; i-- {
		entry := remove[i]
		if dryRun {
			result.Deleted = append(result.Deleted, entry.Name)
			continue
		}
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, EntryError{Name: entry.Name, Err: err})
			continue
		}
		if err := catalog.Delete(ctx, entry); err != nil {
			result.Errors = append(result.Errors, EntryError{
				Name: entry.Name,
				Err:  errors.NewRetentionError(fmt.Sprintf("failed to delete %s", entry.Name), err).WithContext("scope", catalog.Scope()),
			})
			continue
		}
		result.Deleted = append(result.Deleted, entry.Name)
		rm.logger.WithContext(ctx).WithField("archive", entry.Name).WithField("scope", catalog.Scope()).Info("Deleted expired archive")
	}

	result.Duration = time.Since(start)
	rm.logger.LogRetention(ctx, catalog.Scope(), result.Processed, len(result.Deleted), len(result.Kept), len(result.Errors), dryRun)

	return result, nil
}

// GetRetentionCandidates lists the catalog and splits it into entries to
// keep and entries to delete, both newest first.
func (rm *retentionManager) GetRetentionCandidates(ctx context.Context, catalog Catalog) ([]*ManifestEntry, []*ManifestEntry, error) {
	entries, err := catalog.List(ctx)
	if err != nil {
		return nil, nil, errors.NewRetentionError(fmt.Sprintf("failed to list %s archives", catalog.Scope()), err)
	}
	keep, remove := SelectForDeletion(entries, rm.policy, rm.inFlight)
	return keep, remove, nil
}

// SelectForDeletion is the retention rule. An entry is kept when any of
// these hold:
//   - it is younger than the policy's max age
//   - it is the newest full archive
//   - it is in flight
//   - a kept entry names it as its base, transitively
//
// Everything else is deleted. A max age of zero keeps everything.
func SelectForDeletion(entries []*ManifestEntry, policy RetentionPolicy, inFlight *InFlight) (keep, remove []*ManifestEntry) {
	sorted := append([]*ManifestEntry(nil), entries...)
	SortNewestFirst(sorted)

	if policy.MaxAge <= 0 {
		return sorted, nil
	}

	cutoff := policy.now().Add(-policy.MaxAge)
	byName := make(map[string]*ManifestEntry, len(sorted))
	kept := make(map[string]bool, len(sorted))

	for _, e := range sorted {
		byName[e.Name] = e
		if !e.CreatedAt.Before(cutoff) || inFlight.Contains(e.Name) {
			kept[e.Name] = true
		}
	}
	if latest := LatestFull(sorted); latest != nil {
		kept[latest.Name] = true
	}

	// A kept base may itself be incremental, repeat until nothing changes
	for changed := true; changed; {
		changed = false
		for name := range kept {
			base := byName[name].Base
			if base == "" || kept[base] {
				continue
			}
			if _, ok := byName[base]; ok {
				kept[base] = true
				changed = true
			}
		}
	}

	for _, e := range sorted {
		if kept[e.Name] {
			keep = append(keep, e)
		} else {
			remove = append(remove, e)
		}
	}
	return keep, remove
}
