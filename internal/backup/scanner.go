package backup

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"zesty-backup/internal/errors"
)

// Scanner walks a source tree and yields the files that belong in the next
// archive. Every call to Scan walks the tree anew.
type Scanner struct {
	root    string
	exclude *ExclusionSet
	mode    ScanMode
	since   time.Time
	skip    map[string]bool
	known   map[string]bool

	mu       sync.Mutex
	warnings []ScanWarning
	present  []string
}

// NewScanner creates a scanner. since is ignored in full mode.
func NewScanner(root string, exclude *ExclusionSet, mode ScanMode, since time.Time) *Scanner {
	return &Scanner{
		root:    root,
		exclude: exclude,
		mode:    mode,
		since:   since,
	}
}

// Skip prunes the given directories, typically the local archive directory
// when it lives inside the source tree.
func (s *Scanner) Skip(dirs ...string) *Scanner {
	if s.skip == nil {
		s.skip = make(map[string]bool)
	}
	for _, dir := range dirs {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			s.skip[resolved] = true
		} else if abs, err := filepath.Abs(dir); err == nil {
			s.skip[abs] = true
		}
	}
	return s
}

// Known sets the relative paths recorded by the base archive. In
// incremental mode a file missing from this set is selected even when its
// modification time predates the marker. A nil set selects by mtime only.
func (s *Scanner) Known(paths map[string]bool) *Scanner {
	s.known = paths
	return s
}

// Present returns the relative path of every regular file the last Scan
// saw, selected or not
func (s *Scanner) Present() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.present...)
}

// Root returns the configured root path
func (s *Scanner) Root() string {
	return s.root
}

// Mode returns the scan mode
func (s *Scanner) Mode() ScanMode {
	return s.mode
}

// Warnings returns the unreadable paths skipped by the last Scan
func (s *Scanner) Warnings() []ScanWarning {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ScanWarning(nil), s.warnings...)
}

func (s *Scanner) warn(p string, err error) {
	s.mu.Lock()
	s.warnings = append(s.warnings, ScanWarning{Path: p, Err: err})
	s.mu.Unlock()
}

// selected applies the incremental marker and the base file list
func (s *Scanner) selected(rel string, modTime time.Time) bool {
	s.mu.Lock()
	s.present = append(s.present, rel)
	s.mu.Unlock()

	if s.mode == ScanModeFull {
		return true
	}
	if modTime.After(s.since) {
		return true
	}
	return s.known != nil && !s.known[rel]
}

// Scan calls fn for every selected file. An error returned by fn stops the
// walk and is returned as is. An unreadable root is a fatal scan error;
// unreadable children become warnings.
func (s *Scanner) Scan(ctx context.Context, fn func(ScannedFile) error) error {
	s.mu.Lock()
	s.warnings = nil
	s.present = nil
	s.mu.Unlock()

	root, err := filepath.Abs(s.root)
	if err != nil {
		return errors.NewScanError(fmt.Sprintf("invalid source root %s", s.root), err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return errors.NewScanError(fmt.Sprintf("source root %s is unreadable", root), err).
			WithContext("root", root)
	}

	if !info.IsDir() {
		rel := filepath.Base(root)
		if s.selected(rel, info.ModTime()) {
			return fn(ScannedFile{
				Path:    root,
				RelPath: rel,
				Size:    info.Size(),
				ModTime: info.ModTime(),
				Mode:    info.Mode(),
			})
		}
		return nil
	}

	if _, err := os.ReadDir(root); err != nil {
		return errors.NewScanError(fmt.Sprintf("source root %s is unreadable", root), err).
			WithContext("root", root)
	}

	canonical, err := filepath.EvalSymlinks(root)
	if err != nil {
		return errors.NewScanError(fmt.Sprintf("failed to resolve source root %s", root), err)
	}

	visited := map[string]bool{canonical: true}
	return s.walk(ctx, canonical, "", visited, fn)
}

// Collect runs Scan and returns every selected file
func (s *Scanner) Collect(ctx context.Context) ([]ScannedFile, error) {
	var files []ScannedFile
	err := s.Scan(ctx, func(f ScannedFile) error {
		files = append(files, f)
		return nil
	})
	return files, err
}

func (s *Scanner) walk(ctx context.Context, dir, relBase string, visited map[string]bool, fn func(ScannedFile) error) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			s.warn(p, err)
			return nil
		}
		rel = path.Join(relBase, filepath.ToSlash(rel))
		if rel == "." {
			rel = ""
		}

		if walkErr != nil {
			s.warn(p, walkErr)
			return nil
		}
		if p == dir {
			return nil
		}

		if s.exclude.Excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		switch {
		case d.IsDir():
			canonical, err := filepath.EvalSymlinks(p)
			if err != nil {
				s.warn(p, err)
				return filepath.SkipDir
			}
			if visited[canonical] || s.skip[canonical] {
				return filepath.SkipDir
			}
			visited[canonical] = true
			return nil

		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Stat(p)
			if err != nil {
				s.warn(p, err)
				return nil
			}
			if !target.IsDir() {
				return s.emit(p, rel, target, fn)
			}

			canonical, err := filepath.EvalSymlinks(p)
			if err != nil {
				s.warn(p, err)
				return nil
			}
			if visited[canonical] || s.skip[canonical] {
				return nil
			}
			visited[canonical] = true
			return s.walk(ctx, canonical, rel, visited, fn)

		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				s.warn(p, err)
				return nil
			}
			return s.emit(p, rel, info, fn)
		}

		// sockets, devices and pipes are never archived
		return nil
	})
}

func (s *Scanner) emit(p, rel string, info os.FileInfo, fn func(ScannedFile) error) error {
	if !info.Mode().IsRegular() || !s.selected(rel, info.ModTime()) {
		return nil
	}
	return fn(ScannedFile{
		Path:    p,
		RelPath: rel,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Mode:    info.Mode(),
	})
}
