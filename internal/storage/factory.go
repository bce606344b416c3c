package storage

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"zesty-backup/internal/errors"
	"zesty-backup/internal/execution"
	"zesty-backup/internal/logging"
)

// providerFamilies maps every accepted provider name to its adapter family
var providerFamilies = map[string]string{
	"s3":           "s3",
	"aws":          "s3",
	"contabo":      "s3",
	"digitalocean": "s3",
	"wasabi":       "s3",
	"minio":        "s3",
	"r2":           "s3",
	"b2":           "s3",
	"backblaze":    "s3",
	"gcs":          "gcs",
	"azure":        "azure",
	"local":        "local",
	"gdrive":       "gdrive",
	"google":       "gdrive",
	"googledrive":  "gdrive",
	"onedrive":     "onedrive",
	"dropbox":      "dropbox",
	"box":          "box",
	"pcloud":       "pcloud",
	"mega":         "mega",
}

// SupportedProviders returns the accepted provider names, sorted
func SupportedProviders() []string {
	names := make([]string, 0, len(providerFamilies))
	for name := range providerFamilies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that the fields the provider needs are present. It does
// not contact the provider.
func (c Config) Validate() error {
	provider := strings.ToLower(c.Provider)
	family, ok := providerFamilies[provider]
	if !ok {
		return errors.NewConfigError(fmt.Sprintf("unsupported storage provider %q (supported: %s)",
			c.Provider, strings.Join(SupportedProviders(), ", ")), nil)
	}

	var missing []string
	require := func(value, key string) {
		if value == "" {
			missing = append(missing, key)
		}
	}

	switch family {
	case "s3":
		if _, _, err := S3Endpoint(c); err != nil {
			return err
		}
		access, secret := s3Credentials(c)
		require(c.Bucket, "storage.bucket")
		require(access, "storage.access_key")
		require(secret, "storage.secret_key")
	case "gcs":
		require(c.Bucket, "storage.bucket")
	case "azure":
		require(c.AccountName, "storage.account_name")
		require(c.AccountKey, "storage.account_key")
		require(c.Bucket, "storage.bucket")
	case "local":
		require(c.Path, "storage.path")
	case "mega":
		require(c.AccountName, "storage.account_name")
		require(c.AccountKey, "storage.account_key")
	default:
		require(c.AccessKey, "storage.access_key")
	}

	if len(missing) > 0 {
		return errors.NewConfigError(fmt.Sprintf("%s storage requires %s", provider, strings.Join(missing, ", ")), nil).
			WithContext("provider", provider)
	}
	return nil
}

// Dependencies are the collaborators some adapters need
type Dependencies struct {
	// HTTPClient is used by the REST adapters, http.DefaultClient settings when nil
	HTTPClient *http.Client
	// Runner executes mega-cmd
	Runner execution.CommandRunner
	Logger *logging.Logger
	Retry  errors.RetryConfig
}

// NewGateway validates cfg, builds the provider adapter and wraps it with
// retries. Folder adapters resolve their folder here, so construction may
// contact the provider.
func NewGateway(ctx context.Context, cfg Config, deps Dependencies) (Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	if deps.Retry.MaxAttempts <= 0 {
		deps.Retry = errors.DefaultRetryConfig()
	}

	inner, err := newAdapter(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}

	deps.Logger.WithFields(map[string]interface{}{
		"provider": inner.Name(),
		"attempts": deps.Retry.MaxAttempts,
	}).Debug("Storage gateway ready")
	return NewRetrying(inner, deps.Retry, deps.Logger), nil
}

func newAdapter(ctx context.Context, cfg Config, deps Dependencies) (Gateway, error) {
	provider := strings.ToLower(cfg.Provider)
	cfg.Provider = provider

	switch providerFamilies[provider] {
	case "s3":
		return NewS3Gateway(cfg)
	case "gcs":
		return NewGCSGateway(ctx, cfg)
	case "azure":
		return NewAzureGateway(cfg)
	case "local":
		return NewLocalGateway(cfg.Path)
	case "gdrive":
		return NewDriveGateway(ctx, cfg)
	case "onedrive":
		return NewOneDriveGateway(ctx, cfg, deps.HTTPClient)
	case "dropbox":
		return NewDropboxGateway(cfg, deps.HTTPClient)
	case "box":
		return NewBoxGateway(cfg, deps.HTTPClient)
	case "pcloud":
		return NewPCloudGateway(cfg, deps.HTTPClient)
	case "mega":
		runner := deps.Runner
		if runner == nil {
			runner = execution.NewExecRunner(deps.Logger)
		}
		return NewMegaGateway(cfg, runner)
	default:
		return nil, errors.NewConfigError(fmt.Sprintf("unsupported storage provider %q", cfg.Provider), nil)
	}
}
