package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"zesty-backup/internal/errors"
)

const (
	driveFolderMime = "application/vnd.google-apps.folder"
	// DefaultDriveFolder is created in the drive root when no folder id is set
	DefaultDriveFolder = "zesty-backup"
)

// DriveGateway stores objects in one Google Drive folder
type DriveGateway struct {
	service  *drive.Service
	folderID string
}

// NewDriveGateway authenticates with the access token in storage.access_key
// and resolves the folder: the id in storage.bucket_id, or a folder named
// DefaultDriveFolder in the drive root, created when missing.
func NewDriveGateway(ctx context.Context, cfg Config, opts ...option.ClientOption) (*DriveGateway, error) {
	if cfg.AccessKey == "" {
		return nil, errors.NewConfigError("gdrive requires an access token in storage.access_key", nil)
	}
	opts = append(opts, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessKey})))
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.NewConfigError("failed to create drive client", err)
	}
	g := &DriveGateway{service: service, folderID: cfg.BucketID}

	if g.folderID == "" {
		id, err := g.ensureFolder(ctx, "root", DefaultDriveFolder)
		if err != nil {
			return nil, g.wrap("resolve folder", DefaultDriveFolder, err)
		}
		g.folderID = id
	}
	return g, nil
}

// Name implements Gateway
func (g *DriveGateway) Name() string { return "gdrive" }

func (g *DriveGateway) ensureFolder(ctx context.Context, parent, name string) (string, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
		driveQuote(name), driveQuote(parent), driveFolderMime)
	list, err := g.service.Files.List().Q(q).Fields("files(id)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, nil
	}

	folder, err := g.service.Files.Create(&drive.File{
		Name:     name,
		MimeType: driveFolderMime,
		Parents:  []string{parent},
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return folder.Id, nil
}

// fileID finds the named file in the folder
func (g *DriveGateway) fileID(ctx context.Context, name string) (string, error) {
	q := fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", driveQuote(BaseName(name)), driveQuote(g.folderID))
	list, err := g.service.Files.List().Q(q).Fields("files(id)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	if len(list.Files) == 0 {
		return "", errors.NewAppError(errors.ErrorTypeNotFound, fmt.Sprintf("%s not found", BaseName(name)), nil)
	}
	return list.Files[0].Id, nil
}

// Put updates the existing file in place instead of creating a duplicate,
// since Drive allows several files with the same name.
func (g *DriveGateway) Put(ctx context.Context, name string, body io.ReadSeeker, size int64) (string, error) {
	media := googleapi.ContentType("application/octet-stream")

	id, err := g.fileID(ctx, name)
	switch {
	case err == nil:
		file, err := g.service.Files.Update(id, &drive.File{}).Media(body, media).Fields("id").Context(ctx).Do()
		if err != nil {
			return "", g.wrap("put", name, err)
		}
		return file.Id, nil
	case errors.IsType(err, errors.ErrorTypeNotFound):
		file, err := g.service.Files.Create(&drive.File{
			Name:    BaseName(name),
			Parents: []string{g.folderID},
		}).Media(body, media).Fields("id").Context(ctx).Do()
		if err != nil {
			return "", g.wrap("put", name, err)
		}
		return file.Id, nil
	default:
		return "", g.wrap("put", name, err)
	}
}

// Get implements Gateway
func (g *DriveGateway) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	id, err := g.fileID(ctx, name)
	if err != nil {
		return nil, g.wrap("get", name, err)
	}
	resp, err := g.service.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, g.wrap("get", name, err)
	}
	return resp.Body, nil
}

// List follows nextPageToken until the folder is exhausted
func (g *DriveGateway) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	q := fmt.Sprintf("'%s' in parents and mimeType != '%s' and trashed = false", driveQuote(g.folderID), driveFolderMime)
	err := g.service.Files.List().
		Q(q).
		Fields("nextPageToken, files(id, name, size, modifiedTime)").
		PageSize(1000).
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				key := Key(f.Name)
				if strings.HasPrefix(key, prefix) {
					objects = append(objects, ObjectInfo{Name: key, Size: f.Size, ModTime: parseTime(f.ModifiedTime)})
				}
			}
			return nil
		})
	if err != nil {
		return nil, g.wrap("list", prefix, err)
	}
	return objects, nil
}

// Delete implements Gateway
func (g *DriveGateway) Delete(ctx context.Context, name string) error {
	id, err := g.fileID(ctx, name)
	if err != nil {
		return g.wrap("delete", name, err)
	}
	if err := g.service.Files.Delete(id).Context(ctx).Do(); err != nil {
		return g.wrap("delete", name, err)
	}
	return nil
}

func (g *DriveGateway) wrap(op, name string, err error) error {
	return providerError(g.Name(), op, name, classifyGoogleError(err))
}

// driveQuote escapes a value for a Drive query string literal
func driveQuote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
