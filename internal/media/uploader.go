// Uploader is the dual local/S3 blob destination for resized post
// images, grounded on the teacher's worker/image_handler.go
// (localUploader/s3Uploader/newS3Client), generalized from a
// destination-per-job-payload choice to a single configured backend
// picked once at executor construction time.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader stores a blob under key and returns a reference to it
// (a filesystem path for LocalUploader, an s3:// URI for S3Uploader).
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// LocalUploader writes blobs under a base directory on disk. It is the
// default when no S3 bucket is configured.
type LocalUploader struct {
	BaseDir string
}

func (l *LocalUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.BaseDir, sanitizeKey(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// S3Uploader stores blobs in a single configured S3 bucket.
type S3Uploader struct {
	Client *s3.Client
	Bucket string
}

// NewS3Uploader loads AWS config from the environment/instance profile
// and builds an S3 client, optionally pointed at a custom endpoint for
// S3-compatible object stores (minio, R2, etc).
func NewS3Uploader(ctx context.Context, bucket, region, endpoint string) (*S3Uploader, error) {
	pathStyle := endpoint != ""
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, _ string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               endpoint,
					HostnameImmutable: pathStyle,
					SigningRegion:     region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = pathStyle
	})
	return &S3Uploader{Client: client, Bucket: bucket}, nil
}

func (s *S3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	key = sanitizeKey(key)
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.Bucket, key), nil
}

// sanitizeKey collapses ".." segments by treating key as rooted before
// cleaning, so an object key can never resolve outside its uploader's
// base directory or bucket prefix.
func sanitizeKey(key string) string {
	rooted := filepath.Clean("/" + key)
	return strings.TrimPrefix(rooted, "/")
}

// NewUploader picks S3Uploader when a bucket is configured, otherwise
// LocalUploader rooted at baseDir, mirroring image_handler.go's
// NewImageHandler bucket-presence check.
func NewUploader(ctx context.Context, bucket, region, endpoint, baseDir string) (Uploader, error) {
	if bucket != "" {
		return NewS3Uploader(ctx, bucket, region, endpoint)
	}
	if baseDir == "" {
		baseDir = "./blobs"
	}
	return &LocalUploader{BaseDir: baseDir}, nil
}
