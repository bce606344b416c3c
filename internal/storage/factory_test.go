package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zesty-backup/internal/errors"
)

func TestKeyAndBaseName(t *testing.T) {
	assert.Equal(t, "backups/backup-20240101-120000.tar.zst", Key("backup-20240101-120000.tar.zst"))
	assert.Equal(t, "backups/backup-20240101-120000.tar.zst", Key("/var/backups/backup-20240101-120000.tar.zst"))
	assert.Equal(t, "backups/a.tar", Key("backups/a.tar"))
	assert.Equal(t, "a.tar", BaseName("backups/a.tar"))
	assert.Equal(t, "a.tar", BaseName("a.tar"))
}

func TestConfig_StringRedactsSecrets(t *testing.T) {
	cfg := Config{
		Provider:       "s3",
		Bucket:         "bucket",
		AccessKey:      "AKIAEXAMPLE",
		SecretKey:      "super-secret",
		AccountKey:     "account-secret",
		ApplicationKey: "app-secret",
	}
	s := cfg.String()
	assert.Contains(t, s, "bucket=bucket")
	for _, secret := range []string{"AKIAEXAMPLE", "super-secret", "account-secret", "app-secret"} {
		assert.NotContains(t, s, secret)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "s3 complete",
			cfg:  Config{Provider: "s3", Bucket: "b", AccessKey: "a", SecretKey: "s", Region: "eu-west-1"},
		},
		{
			name:    "s3 missing keys",
			cfg:     Config{Provider: "s3", Bucket: "b"},
			wantErr: "storage.access_key, storage.secret_key",
		},
		{
			name: "b2 uses account id and application key",
			cfg:  Config{Provider: "b2", Bucket: "b", AccountID: "id", ApplicationKey: "key", Region: "us-west-004"},
		},
		{
			name:    "b2 without region",
			cfg:     Config{Provider: "b2", Bucket: "b", AccountID: "id", ApplicationKey: "key"},
			wantErr: "storage.region",
		},
		{
			name:    "r2 without account",
			cfg:     Config{Provider: "r2", Bucket: "b", AccessKey: "a", SecretKey: "s"},
			wantErr: "account_id",
		},
		{
			name:    "minio without endpoint",
			cfg:     Config{Provider: "minio", Bucket: "b", AccessKey: "a", SecretKey: "s"},
			wantErr: "storage.endpoint",
		},
		{
			name:    "azure missing account",
			cfg:     Config{Provider: "azure", Bucket: "c"},
			wantErr: "storage.account_name, storage.account_key",
		},
		{
			name: "gcs",
			cfg:  Config{Provider: "GCS", Bucket: "b"},
		},
		{
			name:    "local without path",
			cfg:     Config{Provider: "local"},
			wantErr: "storage.path",
		},
		{
			name: "dropbox",
			cfg:  Config{Provider: "dropbox", AccessKey: "token"},
		},
		{
			name:    "onedrive without token",
			cfg:     Config{Provider: "onedrive"},
			wantErr: "storage.access_key",
		},
		{
			name: "mega",
			cfg:  Config{Provider: "mega", AccountName: "me@example.com", AccountKey: "pw"},
		},
		{
			name:    "unknown provider",
			cfg:     Config{Provider: "floppy"},
			wantErr: "unsupported storage provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, errors.ErrorTypeConfig, errors.GetErrorType(err))
		})
	}
}

func TestS3Endpoint(t *testing.T) {
	tests := []struct {
		cfg        Config
		wantURL    string
		wantRegion string
	}{
		{Config{Provider: "aws", Region: "eu-central-1"}, "https://s3.eu-central-1.amazonaws.com", "eu-central-1"},
		{Config{Provider: "s3"}, "https://s3.us-east-1.amazonaws.com", "us-east-1"},
		{Config{Provider: "digitalocean", Region: "fra1"}, "https://fra1.digitaloceanspaces.com", "fra1"},
		{Config{Provider: "wasabi", Region: "eu-central-2"}, "https://s3.eu-central-2.wasabisys.com", "eu-central-2"},
		{Config{Provider: "r2", AccountID: "abc123"}, "https://abc123.r2.cloudflarestorage.com", "auto"},
		{Config{Provider: "backblaze", Region: "us-west-004"}, "https://s3.us-west-004.backblazeb2.com", "us-west-004"},
		{Config{Provider: "contabo"}, "https://eu2.contabostorage.com", "us-east-1"},
		{Config{Provider: "minio", Endpoint: "http://localhost:9000"}, "http://localhost:9000", "us-east-1"},
	}

	for _, tt := range tests {
		t.Run(tt.cfg.Provider, func(t *testing.T) {
			endpoint, region, err := S3Endpoint(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, endpoint)
			assert.Equal(t, tt.wantRegion, region)
		})
	}
}

func TestSupportedProviders(t *testing.T) {
	providers := SupportedProviders()
	assert.Contains(t, providers, "mega")
	assert.Contains(t, providers, "b2")
	assert.True(t, sortedStrings(providers))
}

func sortedStrings(values []string) bool {
	for i := 1; i < len(values); i++ {
		if strings.Compare(values[i-1], values[i]) > 0 {
			return false
		}
	}
	return true
}

func TestNewGateway_LocalIsRetrying(t *testing.T) {
	dir := t.TempDir()
	gw, err := NewGateway(context.Background(), Config{Provider: "local", Path: dir}, Dependencies{})
	require.NoError(t, err)

	retrying, ok := gw.(*Retrying)
	require.True(t, ok)
	assert.Equal(t, "local", retrying.Name())
	assert.IsType(t, &LocalGateway{}, retrying.Unwrap())
	assert.Equal(t, errors.DefaultRetryConfig().MaxAttempts, retrying.config.MaxAttempts)
}

func TestNewGateway_DriveAliases(t *testing.T) {
	for _, provider := range []string{"gdrive", "google", "googledrive", "GoogleDrive"} {
		t.Run(provider, func(t *testing.T) {
			cfg := Config{Provider: provider, AccessKey: "token", BucketID: "folder-id"}
			require.NoError(t, cfg.Validate())

			gw, err := NewGateway(context.Background(), cfg, Dependencies{})
			require.NoError(t, err)
			assert.Equal(t, "gdrive", gw.Name())
			assert.IsType(t, &DriveGateway{}, gw.(*Retrying).Unwrap())
		})
	}

	err := Config{Provider: "google"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.access_key")
}

func TestNewGateway_InvalidConfig(t *testing.T) {
	_, err := NewGateway(context.Background(), Config{Provider: "local"}, Dependencies{})
	require.Error(t, err)
	assert.Equal(t, errors.ExitConfig, errors.ExitCode(err))
}
