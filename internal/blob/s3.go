package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"shareit/internal/config"
	"shareit/internal/shareit"
)

// s3Client is the subset of *s3.Client used by S3Store.
type s3Client interface {
	manager.UploadAPIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Store keeps transfer content as objects in an S3 bucket under
// "<prefix><fileID>_<fileName>". Large uploads go through the multipart
// upload manager.
type S3Store struct {
	client   s3Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3Store creates an S3 store from the blob config. Credentials come from
// the config when both key fields are set, otherwise from the default AWS
// chain. A custom endpoint switches to path-style addressing.
func NewS3Store(ctx context.Context, cfg config.BlobConfig) (*S3Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, cfg.S3Bucket, cfg.S3Prefix), nil
}

func newS3Store(client s3Client, bucket, prefix string) *S3Store {
	return &S3Store{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   prefix,
	}
}

func (s *S3Store) key(fileID, fileName string) string {
	return s.prefix + ObjectName(fileID, fileName)
}

// Write uploads exactly size bytes from r. The upload fails, and no object
// is left behind, if r ends early.
func (s *S3Store) Write(ctx context.Context, fileID, fileName string, size int64, r io.Reader) (int64, error) {
	body := &exactReader{r: r, remaining: size}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(fileID, fileName)),
		Body:   body,
	})
	written := size - body.remaining
	if body.err != nil {
		return written, body.err
	}
	if err != nil {
		return written, fmt.Errorf("failed to upload blob: %w", err)
	}
	return written, nil
}

// Read streams the object. A missing key maps to shareit.ErrNotFound.
func (s *S3Store) Read(ctx context.Context, fileID, fileName string) (io.ReadCloser, int64, error) {
	key := s.key(fileID, fileName)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, 0, fmt.Errorf("blob %s: %w", key, shareit.ErrNotFound)
		}
		return nil, 0, fmt.Errorf("failed to get blob: %w", err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

// Delete removes the object. S3 treats deleting a missing key as success.
func (s *S3Store) Delete(ctx context.Context, fileID, fileName string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(fileID, fileName)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// ValidateSetup verifies that the bucket exists and is reachable.
func (s *S3Store) ValidateSetup() error {
	_, err := s.client.HeadBucket(context.Background(), &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", s.bucket, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// exactReader yields exactly remaining bytes from r and records a short
// read so Write can report shareit.ErrShortBody instead of an upload error.
type exactReader struct {
	r         io.Reader
	remaining int64
	err       error
}

func (e *exactReader) Read(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	if e.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > e.remaining {
		p = p[:e.remaining]
	}
	n, err := e.r.Read(p)
	e.remaining -= int64(n)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF) && e.remaining == 0:
		err = io.EOF
	case errors.Is(err, io.EOF):
		e.err = fmt.Errorf("%d bytes missing: %w", e.remaining, shareit.ErrShortBody)
		err = e.err
	default:
		e.err = fmt.Errorf("reading content: %w", errors.Join(shareit.ErrShortBody, err))
		err = e.err
	}
	return n, err
}

// Compile-time check that S3Store implements shareit.BlobStore interface
var _ shareit.BlobStore = (*S3Store)(nil)
