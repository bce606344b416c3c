// Package storage moves archive files to and from remote object storage.
// Every provider is reached through the same Gateway interface; NewGateway
// picks the adapter from configuration.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// KeyPrefix is prepended to every remote object name
const KeyPrefix = "backups/"

// ObjectInfo describes one remote object
type ObjectInfo struct {
	Name    string    `json:"name" yaml:"name"`
	Size    int64     `json:"size" yaml:"size"`
	ModTime time.Time `json:"modified" yaml:"modified"`
}

// Gateway is the transport contract every provider adapter implements.
// Put must overwrite an existing object of the same name and List must
// return the complete listing regardless of provider pagination.
type Gateway interface {
	// Put uploads body under name and returns the provider's identifier
	Put(ctx context.Context, name string, body io.ReadSeeker, size int64) (string, error)
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, name string) error
	// Name identifies the provider in logs
	Name() string
}

// Key returns the remote key for a local file name
func Key(name string) string {
	if strings.HasPrefix(name, KeyPrefix) {
		return name
	}
	return KeyPrefix + path.Base(name)
}

// BaseName strips the key prefix from a remote name
func BaseName(key string) string {
	return path.Base(strings.TrimPrefix(key, KeyPrefix))
}

// Config carries the provider identity and its resolved credentials. Which
// fields are required depends on the provider; see Validate.
type Config struct {
	Provider        string `mapstructure:"provider" yaml:"provider"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Region          string `mapstructure:"region" yaml:"region,omitempty"`
	Bucket          string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	AccessKey       string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey       string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
	AccountID       string `mapstructure:"account_id" yaml:"account_id,omitempty"`
	AccountName     string `mapstructure:"account_name" yaml:"account_name,omitempty"`
	AccountKey      string `mapstructure:"account_key" yaml:"account_key,omitempty"`
	ApplicationKey  string `mapstructure:"application_key" yaml:"application_key,omitempty"`
	BucketID        string `mapstructure:"bucket_id" yaml:"bucket_id,omitempty"`
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path,omitempty"`
	TenantID        string `mapstructure:"tenant_id" yaml:"tenant_id,omitempty"`
	// Path is the target directory of the local provider
	Path string `mapstructure:"path" yaml:"path,omitempty"`
}

// String never includes secrets
func (c Config) String() string {
	return fmt.Sprintf("storage{provider=%s bucket=%s region=%s endpoint=%s access_key=%s secret_key=%s account_key=%s application_key=%s}",
		c.Provider, c.Bucket, c.Region, c.Endpoint,
		redact(c.AccessKey), redact(c.SecretKey), redact(c.AccountKey), redact(c.ApplicationKey))
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}
