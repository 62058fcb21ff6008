package output

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// MirrorConfig configures the object storage copy of output documents.
type MirrorConfig struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Mirror uploads output documents to an S3-compatible bucket.
type Mirror struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMirror creates an object storage mirror. It does not contact the server.
func NewMirror(cfg MirrorConfig) (*Mirror, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("object storage bucket is not configured")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("object storage credentials are not configured")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("object storage endpoint is not configured")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	if !cfg.UseSSL {
		log.Warn().Str("endpoint", endpoint).Msg("Object storage mirror is not using TLS")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey), ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	return &Mirror{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (m *Mirror) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %q: %w", m.bucket, err)
	}
	log.Info().Str("bucket", m.bucket).Msg("Created object storage bucket")
	return nil
}

// ObjectKey returns the object key used for a document relative path.
func (m *Mirror) ObjectKey(rel string) string {
	if m.prefix == "" {
		return rel
	}
	return path.Join(m.prefix, rel)
}

// Upload copies the file at localPath to the object for key.
func (m *Mirror) Upload(ctx context.Context, key, localPath string) error {
	_, err := m.client.FPutObject(ctx, m.bucket, m.ObjectKey(key), localPath, minio.PutObjectOptions{
		ContentType: "application/xml",
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
