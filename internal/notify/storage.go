package notify

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const presignExpiry = 7 * 24 * time.Hour

// MinioUploader stores evidence images in an S3-compatible bucket and
// hands back a presigned link for the notification message.
type MinioUploader struct {
	client *minio.Client
	bucket string
}

func NewMinioUploader(endpoint, accessKey, secretKey, bucket string, secure bool) (*MinioUploader, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return &MinioUploader{client: client, bucket: bucket}, nil
}

// EnsureBucket creates the bucket if it does not exist yet.
func (u *MinioUploader) EnsureBucket(ctx context.Context) error {
	exists, err := u.client.BucketExists(ctx, u.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", u.bucket, err)
	}
	if exists {
		return nil
	}
	if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", u.bucket, err)
	}
	return nil
}

func (u *MinioUploader) Upload(ctx context.Context, artifactPath string) (string, error) {
	object := filepath.Base(artifactPath)
	_, err := u.client.FPutObject(ctx, u.bucket, object, artifactPath, minio.PutObjectOptions{
		ContentType: "image/jpeg",
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", artifactPath, err)
	}

	link, err := u.client.PresignedGetObject(ctx, u.bucket, object, presignExpiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presigning %s: %w", object, err)
	}
	return link.String(), nil
}
