// Package archive copies document snapshots to S3-compatible object storage
// before they are removed from the cache.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const contentType = "application/octet-stream"

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// objectStore is the part of *minio.Client the archive uses.
type objectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type MinioArchive struct {
	client objectStore
	bucket string
	now    func() time.Time
}

// NewMinioArchive connects to the endpoint and creates the bucket if missing.
func NewMinioArchive(ctx context.Context, opts Options) (*MinioArchive, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return newArchive(ctx, client, opts.Bucket)
}

func newArchive(ctx context.Context, client objectStore, bucket string) (*MinioArchive, error) {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return &MinioArchive{client: client, bucket: bucket, now: time.Now}, nil
}

// ObjectKey is <escaped name>/<UTC timestamp>.crdt.
func ObjectKey(documentName string, at time.Time) string {
	return url.PathEscape(documentName) + "/" + at.UTC().Format("20060102T150405.000000000Z") + ".crdt"
}

// ArchiveSnapshot stores state and returns the object key.
func (a *MinioArchive) ArchiveSnapshot(ctx context.Context, documentName string, state []byte) (string, error) {
	key := ObjectKey(documentName, a.now())
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(state), int64(len(state)), minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"document-name": documentName,
		},
	})
	if err != nil {
		return "", fmt.Errorf("archive snapshot %s: %w", documentName, err)
	}
	return key, nil
}
