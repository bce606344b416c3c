package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"zesty-backup/internal/errors"
)

const (
	// ArchivePrefix starts every archive file name
	ArchivePrefix = "backup-"
	// ManifestSuffix is appended to an archive name to form its sidecar name
	ManifestSuffix = ".manifest.json"
	// PartialSuffix marks an archive that is still being written
	PartialSuffix = ".partial"

	timestampLayout = "20060102-150405"
)

// ArchiveName returns backup-YYYYMMDD-HHMMSS.<ext> for t in local time
func ArchiveName(t time.Time, codec Codec) string {
	return ArchivePrefix + t.Local().Format(timestampLayout) + "." + codec.Extension()
}

// ParseArchiveName extracts the creation time from an archive name
func ParseArchiveName(name string) (time.Time, bool) {
	name = filepath.Base(name)
	if !strings.HasPrefix(name, ArchivePrefix) {
		return time.Time{}, false
	}
	rest := strings.TrimPrefix(name, ArchivePrefix)
	if len(rest) < len(timestampLayout)+1 || rest[len(timestampLayout)] != '.' {
		return time.Time{}, false
	}

	ts, err := time.ParseInLocation(timestampLayout, rest[:len(timestampLayout)], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	if _, err := CodecForName(name); err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// IsArchiveName reports whether name is a finalized archive file name
func IsArchiveName(name string) bool {
	_, ok := ParseArchiveName(name)
	return ok
}

// IsManifestName reports whether name is an archive sidecar
func IsManifestName(name string) bool {
	return strings.HasSuffix(name, ManifestSuffix) && IsArchiveName(strings.TrimSuffix(name, ManifestSuffix))
}

// ManifestName returns the sidecar name for an archive
func ManifestName(archive string) string {
	return archive + ManifestSuffix
}

// Validate checks the chain invariants of a manifest entry
func (e *ManifestEntry) Validate() error {
	if !IsArchiveName(e.Name) {
		return errors.NewConfigError(fmt.Sprintf("invalid archive name %q", e.Name), nil)
	}

	switch e.Kind {
	case KindFull:
		if e.Base != "" {
			return errors.NewConfigError(fmt.Sprintf("full archive %s must not reference a base", e.Name), nil)
		}
	case KindIncremental:
		if e.Base == "" {
			return errors.NewConfigError(fmt.Sprintf("incremental archive %s has no base", e.Name), nil)
		}
		if e.Base >= e.Name {
			return errors.NewConfigError(fmt.Sprintf("incremental archive %s references a newer base %s", e.Name, e.Base), nil)
		}
	default:
		return errors.NewConfigError(fmt.Sprintf("unknown archive kind %q", e.Kind), nil)
	}
	return nil
}

// ToJSON serializes the entry for its sidecar
func (e *ManifestEntry) ToJSON() ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}

// ParseManifest decodes and validates sidecar content
func ParseManifest(data []byte) (*ManifestEntry, error) {
	var entry ManifestEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	entry.HasManifest = true
	return &entry, nil
}

// StandaloneEntry describes an archive that has no sidecar. It is treated
// as a full archive created at the time embedded in its name.
func StandaloneEntry(name string, size int64) *ManifestEntry {
	created, _ := ParseArchiveName(name)
	entry := &ManifestEntry{
		Name:      name,
		Kind:      KindFull,
		CreatedAt: created,
		Size:      size,
	}
	if codec, err := CodecForName(name); err == nil {
		entry.Format = codec.Format()
	}
	return entry
}

// WriteManifest atomically writes the sidecar for entry into dir
func WriteManifest(dir string, entry *ManifestEntry) error {
	data, err := entry.ToJSON()
	if err != nil {
		return err
	}

	path := filepath.Join(dir, ManifestName(entry.Name))
	tmp := path + PartialSuffix
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// ReadManifest loads the sidecar for archive from dir
func ReadManifest(dir, archive string) (*ManifestEntry, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestName(archive)))
	if err != nil {
		return nil, err
	}
	return ParseManifest(data)
}

// SortNewestFirst orders entries by name, newest first
func SortNewestFirst(entries []*ManifestEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name > entries[j].Name
	})
}

// LatestFull returns the newest full entry, or nil
func LatestFull(entries []*ManifestEntry) *ManifestEntry {
	var latest *ManifestEntry
	for _, e := range entries {
		if e.Kind == KindFull && (latest == nil || e.Name > latest.Name) {
			latest = e
		}
	}
	return latest
}

// Latest returns the newest entry, or nil
func Latest(entries []*ManifestEntry) *ManifestEntry {
	var latest *ManifestEntry
	for _, e := range entries {
		if latest == nil || e.Name > latest.Name {
			latest = e
		}
	}
	return latest
}
