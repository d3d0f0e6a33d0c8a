// Package media stores article images in S3-compatible object storage.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"newspaper/api/internal/logging"
	"newspaper/api/internal/util"
)

// MaxImageBytes caps a single upload.
const MaxImageBytes = 10 << 20

var (
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrTooLarge        = errors.New("image too large")
)

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// objectClient is the subset of *minio.Client used here.
type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
}

type ImageStore struct {
	client    objectClient
	bucket    string
	publicURL string
}

// NewImageStore connects to the object store and makes sure the bucket exists.
func NewImageStore(ctx context.Context, opts Options) (*ImageStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	publicURL := opts.PublicURL
	if publicURL == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		publicURL = scheme + "://" + opts.Endpoint
	}

	s := newImageStore(client, opts.Bucket, publicURL)
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newImageStore(client objectClient, bucket, publicURL string) *ImageStore {
	return &ImageStore{client: client, bucket: bucket, publicURL: strings.TrimRight(publicURL, "/")}
}

func (s *ImageStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	logging.Info().Str("bucket", s.bucket).Msg("created image bucket")
	return nil
}

// Upload stores the image and returns the URL it can be fetched from. size
// must be the exact body length.
func (s *ImageStore) Upload(ctx context.Context, name, contentType string, size int64, body io.Reader) (string, error) {
	contentType = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	ext, ok := allowedTypes[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	if size <= 0 || size > MaxImageBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}
	if given := strings.ToLower(filepath.Ext(name)); ext == ".jpg" && given == ".jpeg" {
		ext = given
	}

	object := util.NewID("img") + ext
	if _, err := s.client.PutObject(ctx, s.bucket, object, body, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("put object %s: %w", object, err)
	}
	return s.publicURL + "/" + s.bucket + "/" + object, nil
}
