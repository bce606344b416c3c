package display

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"zesty-backup/internal/backup"
)

// ArchiveRow is the listing view of one archive
type ArchiveRow struct {
	Name      string    `json:"name" yaml:"name"`
	Kind      string    `json:"kind" yaml:"kind"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	Size      int64     `json:"size" yaml:"size"`
	Base      string    `json:"base,omitempty" yaml:"base,omitempty"`
	Files     int       `json:"file_count,omitempty" yaml:"file_count,omitempty"`
}

// ArchiveListing is what list prints
type ArchiveListing struct {
	Scope    string       `json:"scope" yaml:"scope"`
	Archives []ArchiveRow `json:"archives" yaml:"archives"`
	Total    int64        `json:"total_size" yaml:"total_size"`
}

// NewArchiveListing converts catalog entries, keeping their order
func NewArchiveListing(scope string, entries []*backup.ManifestEntry) ArchiveListing {
	listing := ArchiveListing{Scope: scope, Archives: make([]ArchiveRow, 0, len(entries))}
	for _, e := range entries {
		listing.Archives = append(listing.Archives, ArchiveRow{
			Name:      e.Name,
			Kind:      string(e.Kind),
			CreatedAt: e.CreatedAt,
			Size:      e.Size,
			Base:      e.Base,
			Files:     e.FileCount,
		})
		listing.Total += e.Size
	}
	return listing
}

// RenderArchives prints a catalog listing
func (p *Printer) RenderArchives(scope string, entries []*backup.ManifestEntry) error {
	listing := NewArchiveListing(scope, entries)
	return p.Print(listing, func() {
		if len(listing.Archives) == 0 {
			p.Info("No %s archives found", scope)
			return
		}
		t := p.NewTable("NAME", "KIND", "CREATED", "SIZE", "BASE")
		t.SetAlignment(3, AlignRight)
		for _, a := range listing.Archives {
			t.AddRow(a.Name, a.Kind, FormatTime(a.CreatedAt), FormatBytes(a.Size), a.Base)
		}
		t.RenderTo(p.config.Writer)
		fmt.Fprintf(p.config.Writer, "\n%d archives, %s\n", len(listing.Archives), FormatBytes(listing.Total))
	})
}

// RenderBackup prints the outcome of one backup run
func (p *Printer) RenderBackup(outcome *backup.BackupOutcome) error {
	return p.Print(outcome.Entry, func() {
		e := outcome.Entry
		p.Success("Created %s archive %s", e.Kind, e.Name)
		pairs := [][2]string{
			{"Size", FormatBytes(e.Size)},
			{"Files", strconv.Itoa(e.FileCount)},
			{"Format", string(e.Format)},
		}
		if e.Base != "" {
			pairs = append(pairs, [2]string{"Base", e.Base})
		}
		if outcome.Build != nil {
			pairs = append(pairs, [2]string{"Duration", FormatDuration(outcome.Build.Duration)})
			if n := len(outcome.Build.Warnings); n > 0 {
				pairs = append(pairs, [2]string{"Warnings", strconv.Itoa(n)})
			}
			for _, f := range outcome.Build.ExtraFailures {
				p.Warning("Not captured: %s", f.Error())
			}
		}
		p.KeyValues(pairs)
		if outcome.Retention != nil {
			p.renderRetentionSummary("local", outcome.Retention)
		}
	})
}

// RenderUpload prints an upload report
func (p *Printer) RenderUpload(report *backup.UploadReport) error {
	return p.Print(report, func() {
		for _, name := range report.Uploaded {
			p.Success("Uploaded %s", name)
		}
		for _, f := range report.Failed {
			p.Error("Failed to upload %s", f.Error())
		}
		fmt.Fprintf(p.config.Writer, "%d uploaded, %d already remote, %d failed (%s)\n",
			len(report.Uploaded), len(report.Skipped), len(report.Failed), FormatBytes(report.Bytes))
	})
}

// RenderRetention prints what a retention pass deleted or would delete
func (p *Printer) RenderRetention(scope string, result *backup.RetentionResult) error {
	return p.Print(result, func() {
		verb := "Deleted"
		if result.DryRun {
			verb = "Would delete"
		}
		for _, name := range result.Deleted {
			fmt.Fprintf(p.config.Writer, "%s %s\n", verb, name)
		}
		p.renderRetentionSummary(scope, result)
	})
}

func (p *Printer) renderRetentionSummary(scope string, result *backup.RetentionResult) {
	for _, e := range result.Errors {
		p.Error("%s", e.Error())
	}
	msg := fmt.Sprintf("%s retention: %d kept, %d deleted", capitalize(scope), len(result.Kept), len(result.Deleted))
	if result.DryRun {
		msg += " (dry run)"
	}
	if len(result.Errors) > 0 {
		p.Warning("%s, %d failed", msg, len(result.Errors))
		return
	}
	p.Info("%s", msg)
}

// RenderRestore prints a restore report
func (p *Printer) RenderRestore(report *backup.RestoreReport) error {
	return p.Print(report, func() {
		for _, name := range report.Rejected {
			p.Warning("Rejected unsafe entry %s", name)
		}
		for _, f := range report.Failed {
			p.Error("%s", f.Error())
		}
		if report.Verified {
			p.Success("Digest verified")
		}
		p.Success("Restored %d entries from %s into %s", len(report.Extracted), report.Archive, report.Target)
	})
}

// StatusView is what the status command prints
type StatusView struct {
	DaemonRunning bool      `json:"daemon_running" yaml:"daemon_running"`
	PID           int       `json:"pid,omitempty" yaml:"pid,omitempty"`
	ConfigFile    string    `json:"config_file,omitempty" yaml:"config_file,omitempty"`
	Provider      string    `json:"provider,omitempty" yaml:"provider,omitempty"`
	LocalDir      string    `json:"local_dir" yaml:"local_dir"`
	Archives      int       `json:"archives" yaml:"archives"`
	LocalSize     int64     `json:"local_size" yaml:"local_size"`
	LastBackup    time.Time `json:"last_backup" yaml:"last_backup"`
	NextBackup    time.Time `json:"next_backup" yaml:"next_backup"`
	NextUpload    time.Time `json:"next_upload" yaml:"next_upload"`
	Warnings      []string  `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Errors        []string  `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// RenderStatus prints daemon and archive directory health
func (p *Printer) RenderStatus(v StatusView) error {
	return p.Print(v, func() {
		daemon := p.colors.Colorize("stopped", p.theme.Warning)
		if v.DaemonRunning {
			daemon = p.colors.Colorize(fmt.Sprintf("running (PID %d)", v.PID), p.theme.Success)
		}
		provider := v.Provider
		if provider == "" {
			provider = "not configured"
		}
		p.Header("zesty-backup status")
		p.KeyValues([][2]string{
			{"Daemon", daemon},
			{"Config", v.ConfigFile},
			{"Storage", provider},
			{"Local dir", v.LocalDir},
			{"Archives", fmt.Sprintf("%d (%s)", v.Archives, FormatBytes(v.LocalSize))},
			{"Last backup", FormatTime(v.LastBackup)},
			{"Next backup", FormatTime(v.NextBackup)},
			{"Next upload", FormatTime(v.NextUpload)},
		})
		for _, w := range v.Warnings {
			p.Warning("%s", w)
		}
		for _, e := range v.Errors {
			p.Error("%s", e)
		}
	})
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
