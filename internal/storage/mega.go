package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"zesty-backup/internal/errors"
	"zesty-backup/internal/execution"
)

// megaTimeLayouts covers the ISO6601_WITH_TIME output of mega-cmd versions
var megaTimeLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04:05Z07:00", "2006-01-02 15:04:05"}

// MegaGateway drives mega-cmd; encryption and transport stay inside MEGA's
// own client.
type MegaGateway struct {
	runner   execution.CommandRunner
	binary   string
	email    string
	password string
	folder   string

	mu       sync.Mutex
	loggedIn bool
}

// NewMegaGateway uses storage.account_name as the login email,
// storage.account_key as the password and storage.bucket_id as the remote
// folder, /backups when empty.
func NewMegaGateway(cfg Config, runner execution.CommandRunner) (*MegaGateway, error) {
	if cfg.AccountName == "" || cfg.AccountKey == "" {
		return nil, errors.NewConfigError("mega requires storage.account_name (email) and storage.account_key (password)", nil)
	}
	folder := "/" + strings.Trim(cfg.BucketID, "/")
	if folder == "/" {
		folder = "/backups"
	}

	binary := "mega-cmd"
	for _, candidate := range []string{"mega-cmd", "megacmd"} {
		if _, err := runner.LookPath(candidate); err == nil {
			binary = candidate
			break
		}
	}

	return &MegaGateway{
		runner:   runner,
		binary:   binary,
		email:    cfg.AccountName,
		password: cfg.AccountKey,
		folder:   folder,
	}, nil
}

// Name implements Gateway
func (g *MegaGateway) Name() string { return "mega" }

func (g *MegaGateway) remote(name string) string {
	return path.Join(g.folder, BaseName(name))
}

func (g *MegaGateway) run(ctx context.Context, sensitive bool, args ...string) (*execution.Result, error) {
	return g.runner.Run(ctx, execution.Command{Name: g.binary, Args: args, Sensitive: sensitive})
}

// login checks the session with whoami and logs in only when needed
func (g *MegaGateway) login(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.loggedIn {
		return nil
	}
	if _, err := g.run(ctx, false, "whoami"); err == nil {
		g.loggedIn = true
		return nil
	}
	if _, err := g.run(ctx, true, "login", g.email, g.password); err != nil {
		return providerError(g.Name(), "login", g.email, err)
	}
	g.loggedIn = true
	return nil
}

// Put uploads under a temporary name and moves it over the final name once
// the transfer is complete, so a failed upload never costs the previous
// copy. mega-cmd keeps both files on a name clash, hence the rm before mv.
func (g *MegaGateway) Put(ctx context.Context, name string, body io.ReadSeeker, size int64) (string, error) {
	if err := g.login(ctx); err != nil {
		return "", err
	}

	local, cleanup, err := spoolToFile(body, BaseName(name))
	if err != nil {
		return "", providerError(g.Name(), "put", name, err)
	}
	defer cleanup()

	if _, err := g.run(ctx, false, "mkdir", "-p", g.folder); err != nil && !megaExists(err) {
		return "", providerError(g.Name(), "put", name, err)
	}
	remote := g.remote(name)
	staging := path.Join(g.folder, uploadTempPrefix+BaseName(name))

	// leftover of an interrupted upload
	if _, err := g.run(ctx, false, "rm", "-f", staging); err != nil && !megaMissing(err) {
		return "", providerError(g.Name(), "put", name, err)
	}
	if _, err := g.run(ctx, false, "put", "-c", local, staging); err != nil {
		return "", providerError(g.Name(), "put", name, err)
	}
	if _, err := g.run(ctx, false, "rm", "-f", remote); err != nil && !megaMissing(err) {
		return "", providerError(g.Name(), "put", name, err)
	}
	if _, err := g.run(ctx, false, "mv", staging, remote); err != nil {
		return "", providerError(g.Name(), "put", name, err)
	}
	return remote, nil
}

// Get downloads into a temporary directory removed when the body is closed
func (g *MegaGateway) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := g.login(ctx); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "zesty-mega-*")
	if err != nil {
		return nil, providerError(g.Name(), "get", name, err)
	}
	local := filepath.Join(dir, BaseName(name))
	if _, err := g.run(ctx, false, "get", g.remote(name), local); err != nil {
		os.RemoveAll(dir)
		if megaMissing(err) {
			return nil, notFound(g.Name(), name)
		}
		return nil, providerError(g.Name(), "get", name, err)
	}

	f, err := os.Open(local)
	if err != nil {
		os.RemoveAll(dir)
		return nil, providerError(g.Name(), "get", name, err)
	}
	return &tempFile{File: f, dir: dir}, nil
}

// List parses the long listing of the folder. Lines that are neither the
// header, a folder nor a well formed file entry fail the whole listing.
func (g *MegaGateway) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := g.login(ctx); err != nil {
		return nil, err
	}
	result, err := g.run(ctx, false, "ls", "-l", "--time-format=ISO6601_WITH_TIME", g.folder)
	if err != nil {
		if megaMissing(err) {
			return nil, nil
		}
		return nil, providerError(g.Name(), "list", prefix, err)
	}

	objects, err := ParseMegaListing(string(result.Stdout))
	if err != nil {
		return nil, errors.NewPermanentProviderError("unparsable mega-cmd listing", err).WithContext("provider", g.Name())
	}
	var filtered []ObjectInfo
	for _, obj := range objects {
		if strings.HasPrefix(BaseName(obj.Name), uploadTempPrefix) {
			continue
		}
		if strings.HasPrefix(obj.Name, prefix) {
			filtered = append(filtered, obj)
		}
	}
	return filtered, nil
}

// ParseMegaListing reads `ls -l` output: FLAGS VERS SIZE DATE NAME
func ParseMegaListing(output string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	for i, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || fields[0] == "FLAGS" {
			continue
		}
		if strings.HasPrefix(fields[0], "d") {
			continue
		}
		if len(fields) < 5 {
			return nil, fmt.Errorf("line %d: expected 5 columns, got %q", i+1, line)
		}

		size, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid size %q", i+1, fields[2])
		}
		modified, err := parseMegaTime(fields[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		objects = append(objects, ObjectInfo{
			Name:    Key(strings.Join(fields[4:], " ")),
			Size:    size,
			ModTime: modified,
		})
	}
	return objects, nil
}

func parseMegaTime(value string) (time.Time, error) {
	for _, layout := range megaTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", value)
}

// Delete implements Gateway
func (g *MegaGateway) Delete(ctx context.Context, name string) error {
	if err := g.login(ctx); err != nil {
		return err
	}
	if _, err := g.run(ctx, false, "rm", "-f", g.remote(name)); err != nil {
		if megaMissing(err) {
			return notFound(g.Name(), name)
		}
		return providerError(g.Name(), "delete", name, err)
	}
	return nil
}

func megaMissing(err error) bool {
	var exitErr *execution.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	msg := strings.ToLower(exitErr.Stderr)
	return strings.Contains(msg, "couldn't find") || strings.Contains(msg, "not found") || strings.Contains(msg, "no such")
}

func megaExists(err error) bool {
	var exitErr *execution.ExitError
	return errors.As(err, &exitErr) && strings.Contains(strings.ToLower(exitErr.Stderr), "already exists")
}

// spoolToFile returns a local path with body's content, writing a temporary
// copy unless body already is a file
func spoolToFile(body io.ReadSeeker, name string) (string, func(), error) {
	if f, ok := body.(*os.File); ok {
		return f.Name(), func() {}, nil
	}
	dir, err := os.MkdirTemp("", "zesty-mega-*")
	if err != nil {
		return "", nil, err
	}
	cleanup := func() { os.RemoveAll(dir) }

	local := filepath.Join(dir, name)
	f, err := os.Create(local)
	if err != nil {
		cleanup()
		return "", nil, err
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		cleanup()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, err
	}
	return local, cleanup, nil
}

// tempFile removes its directory on Close
type tempFile struct {
	*os.File
	dir string
}

func (t *tempFile) Close() error {
	err := t.File.Close()
	os.RemoveAll(t.dir)
	return err
}
