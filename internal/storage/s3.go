package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	awsrequest "github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"zesty-backup/internal/errors"
)

const (
	defaultRegion = "us-east-1"
	s3PartSize    = 16 * 1024 * 1024
)

// S3Gateway talks to AWS S3 and every S3-compatible service
type S3Gateway struct {
	provider string
	bucket   string
	client   *s3.S3
	uploader *s3manager.Uploader
}

// S3Endpoint derives the endpoint and signing region for an S3-family
// provider. An empty endpoint means the SDK default.
func S3Endpoint(cfg Config) (endpoint, region string, err error) {
	region = cfg.Region
	if region == "" {
		region = defaultRegion
	}

	switch strings.ToLower(cfg.Provider) {
	case "s3", "aws":
		if cfg.Endpoint != "" {
			return cfg.Endpoint, region, nil
		}
		return fmt.Sprintf("https://s3.%s.amazonaws.com", region), region, nil
	case "digitalocean":
		return fmt.Sprintf("https://%s.digitaloceanspaces.com", region), region, nil
	case "wasabi":
		return fmt.Sprintf("https://s3.%s.wasabisys.com", region), region, nil
	case "r2":
		if cfg.AccountID == "" {
			return "", "", errors.NewConfigError("r2 requires storage.account_id", nil)
		}
		return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID), "auto", nil
	case "b2", "backblaze":
		if cfg.Endpoint != "" {
			return cfg.Endpoint, region, nil
		}
		if cfg.Region == "" {
			return "", "", errors.NewConfigError("b2 requires storage.region, e.g. us-west-004", nil)
		}
		return fmt.Sprintf("https://s3.%s.backblazeb2.com", region), region, nil
	case "contabo":
		if cfg.Endpoint != "" {
			return cfg.Endpoint, region, nil
		}
		return "https://eu2.contabostorage.com", region, nil
	case "minio":
		if cfg.Endpoint == "" {
			return "", "", errors.NewConfigError("minio requires storage.endpoint", nil)
		}
		return cfg.Endpoint, region, nil
	default:
		return "", "", errors.NewConfigError(fmt.Sprintf("%s is not an S3-compatible provider", cfg.Provider), nil)
	}
}

// s3Credentials picks the key pair; B2 calls them key id and application key
func s3Credentials(cfg Config) (string, string) {
	access, secret := cfg.AccessKey, cfg.SecretKey
	if access == "" {
		access = cfg.AccountID
	}
	if secret == "" {
		secret = cfg.ApplicationKey
	}
	return access, secret
}

// NewS3Gateway creates a session for the configured S3-family provider
func NewS3Gateway(cfg Config) (*S3Gateway, error) {
	endpoint, region, err := S3Endpoint(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Bucket == "" {
		return nil, errors.NewConfigError(fmt.Sprintf("%s requires storage.bucket", cfg.Provider), nil)
	}

	access, secret := s3Credentials(cfg)
	awsCfg := &aws.Config{
		Region:      aws.String(region),
		Credentials: credentials.NewStaticCredentials(access, secret, ""),
		// The gateway retries on its own
		MaxRetries: aws.Int(0),
	}
	if endpoint != "" {
		awsCfg.Endpoint = aws.String(endpoint)
	}
	if isCustomS3(cfg.Provider) {
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, errors.NewConfigError("failed to create S3 session", err)
	}
	client := s3.New(sess)

	return &S3Gateway{
		provider: strings.ToLower(cfg.Provider),
		bucket:   cfg.Bucket,
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client, func(u *s3manager.Uploader) {
			u.PartSize = s3PartSize
			u.Concurrency = 4
		}),
	}, nil
}

func isCustomS3(provider string) bool {
	switch strings.ToLower(provider) {
	case "minio", "contabo", "b2", "backblaze":
		return true
	}
	return false
}

// Name implements Gateway
func (g *S3Gateway) Name() string { return g.provider }

// Put streams body through the multipart uploader. Objects are replaced in
// place, so a repeated upload is idempotent.
func (g *S3Gateway) Put(ctx context.Context, name string, body io.ReadSeeker, size int64) (string, error) {
	key := Key(name)
	_, err := g.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return "", g.wrap("put", key, err)
	}
	return key, nil
}

// Get implements Gateway
func (g *S3Gateway) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	key := Key(name)
	out, err := g.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, g.wrap("get", key, err)
	}
	return out.Body, nil
}

// List follows continuation tokens until the listing is exhausted
func (g *S3Gateway) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	err := g.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(g.bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			objects = append(objects, ObjectInfo{
				Name:    aws.StringValue(obj.Key),
				Size:    aws.Int64Value(obj.Size),
				ModTime: aws.TimeValue(obj.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, g.wrap("list", prefix, err)
	}
	return objects, nil
}

// Delete checks existence first; S3 reports success for missing keys
func (g *S3Gateway) Delete(ctx context.Context, name string) error {
	key := Key(name)
	if _, err := g.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return g.wrap("delete", key, err)
	}
	_, err := g.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return g.wrap("delete", key, err)
	}
	return nil
}

// wrap maps SDK failures onto provider errors
func (g *S3Gateway) wrap(op, key string, err error) error {
	return providerError(g.provider, op, key, classifyAWSError(err))
}

// classifyAWSError rewrites SDK errors into shapes the error classifier
// understands: HTTP failures become *errors.HTTPStatusError and retryable
// SDK codes become recoverable connection errors.
func classifyAWSError(err error) error {
	var reqFailure awserr.RequestFailure
	if errors.As(err, &reqFailure) && reqFailure.StatusCode() > 0 {
		switch reqFailure.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return errors.NewAppError(errors.ErrorTypeNotFound, reqFailure.Message(), err)
		case "SlowDown", "Throttling", "ThrottlingException", "RequestTimeout":
			return errors.NewRecoverableError(errors.ErrorTypeConnection, "S3 request throttled", err)
		}
		return &errors.HTTPStatusError{
			StatusCode: reqFailure.StatusCode(),
			Status:     http.StatusText(reqFailure.StatusCode()),
			Body:       reqFailure.Code() + ": " + reqFailure.Message(),
		}
	}

	var awsErr awserr.Error
	if errors.As(err, &awsErr) {
		switch awsErr.Code() {
		case awsrequest.CanceledErrorCode:
			return context.Canceled
		case awsrequest.ErrCodeRequestError, awsrequest.ErrCodeResponseTimeout, "ReadError", "SerializationError":
			return errors.NewRecoverableError(errors.ErrorTypeConnection, "S3 request failed", err)
		}
	}
	return err
}
