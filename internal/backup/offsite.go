package backup

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// OffsiteConfig holds the S3-compatible mirror target (AWS S3 or MinIO).
type OffsiteConfig struct {
	Bucket    string
	Region    string
	Endpoint  string // optional custom endpoint, e.g. MinIO
	Prefix    string // key prefix inside the bucket
	AccessKey string // empty falls back to the default credentials chain
	SecretKey string
	PathStyle bool
}

// OffsiteStore mirrors snapshots and their sidecars into one bucket. It is
// strictly best effort; the local backup is the source of truth.
type OffsiteStore struct {
	client *s3.Client
	bucket string
	prefix string
	logger *logrus.Logger
}

// NewOffsiteStore builds the mirror client.
func NewOffsiteStore(ctx context.Context, cfg OffsiteConfig, logger *logrus.Logger) (*OffsiteStore, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("offsite bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &OffsiteStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}, nil
}

// Upload mirrors one snapshot and its sidecar.
func (o *OffsiteStore) Upload(ctx context.Context, snapshotPath, metaPath string) error {
	if err := o.putFile(ctx, snapshotPath, "application/vnd.sqlite3"); err != nil {
		return err
	}
	return o.putFile(ctx, metaPath, "application/json")
}

func (o *OffsiteStore) putFile(ctx context.Context, filePath, contentType string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	key := path.Join(o.prefix, filepath.Base(filePath))
	if _, err := o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &o.bucket,
		Key:         &key,
		Body:        f,
		ContentType: &contentType,
	}); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	o.logger.WithField("key", key).Debug("offsite object uploaded")
	return nil
}
