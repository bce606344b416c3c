package backup

import (
	"io"
	"os"
	"time"
)

// Kind distinguishes full archives from incremental ones
type Kind string

const (
	KindFull        Kind = "full"
	KindIncremental Kind = "incremental"
)

// ManifestEntry is the metadata of one archive, persisted as a JSON sidecar
// next to the archive file.
type ManifestEntry struct {
	Name      string          `json:"name" yaml:"name"`
	Kind      Kind            `json:"kind" yaml:"kind"`
	CreatedAt time.Time       `json:"created_at" yaml:"created_at"`
	Size      int64           `json:"size" yaml:"size"`
	Sources   []string        `json:"sources,omitempty" yaml:"sources,omitempty"`
	Base      string          `json:"base,omitempty" yaml:"base,omitempty"`
	Digest    string          `json:"digest,omitempty" yaml:"digest,omitempty"`
	FileCount int             `json:"file_count" yaml:"file_count"`
	Warnings  int             `json:"warnings" yaml:"warnings"`
	Format    CompressionType `json:"format" yaml:"format"`

	// Files lists every scanned path present when the archive was taken,
	// including unchanged files an incremental archive left out
	Files []string `json:"files,omitempty" yaml:"-"`

	// HasManifest is false for archives found without a sidecar
	HasManifest bool `json:"-" yaml:"-"`
}

// ScanMode selects between full and incremental scanning
type ScanMode int

const (
	ScanModeFull ScanMode = iota
	ScanModeIncremental
)

func (m ScanMode) String() string {
	if m == ScanModeIncremental {
		return string(KindIncremental)
	}
	return string(KindFull)
}

// ScannedFile is one file selected by the scanner
type ScannedFile struct {
	Path    string // absolute path, symlinks not resolved
	RelPath string // slash separated, relative to the scan root
	Size    int64
	ModTime time.Time
	Mode    os.FileMode
}

// ScanWarning records an unreadable path that was skipped
type ScanWarning struct {
	Path string
	Err  error
}

func (w ScanWarning) String() string {
	return w.Path + ": " + w.Err.Error()
}

// EntryError pairs an item name with the error it failed with
type EntryError struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
}

func (e EntryError) Error() string {
	return e.Name + ": " + e.Err.Error()
}

// ExtraEntry is a byte stream injected into an archive under Name
type ExtraEntry struct {
	Name string
	// Open returns the stream and its exact length
	Open func() (io.ReadCloser, int64, error)
}

// SourceTree is a scanned tree stored under Prefix inside the archive
type SourceTree struct {
	Prefix  string
	Scanner *Scanner
}

// BuildRequest describes one archive to build
type BuildRequest struct {
	Dest      string
	Timestamp time.Time
	Sources   []SourceTree
	Extras    []ExtraEntry
	Format    CompressionType
	Level     int
}

// BuildResult describes a finalized archive
type BuildResult struct {
	Name          string
	Path          string
	Format        CompressionType
	Size          int64
	BytesIn       int64
	Digest        string
	FileCount     int
	Warnings      []ScanWarning
	ExtraFailures []EntryError
	Duration      time.Duration
}

// CompressionRatio returns compressed size over tar size
func (r *BuildResult) CompressionRatio() float64 {
	return CalculateCompressionRatio(r.BytesIn, r.Size)
}

// RetentionPolicy selects archives eligible for deletion by age
type RetentionPolicy struct {
	MaxAge time.Duration
	Now    func() time.Time
}

// NewRetentionPolicy returns a policy keeping days worth of archives
func NewRetentionPolicy(days int) RetentionPolicy {
	return RetentionPolicy{
		MaxAge: time.Duration(days) * 24 * time.Hour,
		Now:    time.Now,
	}
}

func (p RetentionPolicy) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

// RetentionResult summarizes one retention pass
type RetentionResult struct {
	Processed int           `json:"processed"`
	Deleted   []string      `json:"deleted"`
	Kept      []string      `json:"kept"`
	Errors    []EntryError  `json:"errors,omitempty"`
	DryRun    bool          `json:"dry_run"`
	Duration  time.Duration `json:"duration"`
}

// RestoreRequest names the archive to restore and where to put it
type RestoreRequest struct {
	Archive string
	Target  string
}

// RestoreReport lists per-entry outcomes of an extraction
type RestoreReport struct {
	Archive   string        `json:"archive"`
	Target    string        `json:"target"`
	Extracted []string      `json:"extracted"`
	Failed    []EntryError  `json:"failed,omitempty"`
	Rejected  []string      `json:"rejected,omitempty"`
	Verified  bool          `json:"verified"`
	Duration  time.Duration `json:"duration"`
}

// UploadReport summarizes one upload cycle
type UploadReport struct {
	Uploaded []string     `json:"uploaded"`
	Skipped  []string     `json:"skipped"`
	Failed   []EntryError `json:"failed,omitempty"`
	Bytes    int64        `json:"bytes"`
}
