package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
)

// S3API is the subset of *s3.Client the store uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store is a Store backed by Amazon S3.
type S3Store struct {
	client S3API
}

var _ Store = (*S3Store)(nil)

// NewS3Store wraps an S3 client (normally *s3.Client).
func NewS3Store(client S3API) *S3Store {
	return &S3Store{client: client}
}

// Download streams an S3 object to localPath.
func (s *S3Store) Download(ctx context.Context, bucket, key, versionID, localPath string) (int64, error) {
	log.Debug().Str("bucket", bucket).Str("key", key).Str("versionId", versionID).Str("localPath", localPath).Msg("Downloading from S3")

	input := &s3.GetObjectInput{Bucket: &bucket, Key: &key}
	if versionID != "" {
		input.VersionId = aws.String(versionID)
	}

	result, err := s.client.GetObject(ctx, input)
	if err != nil {
		return 0, fromS3Error("S3 GetObject", err)
	}
	defer result.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, result.Body)
	if err != nil {
		return n, fromS3Error("download", err)
	}
	return n, nil
}

// Upload puts the file at localPath to bucket/key.
func (s *S3Store) Upload(ctx context.Context, localPath, bucket, key string, opts PutOptions) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}

	input := &s3.PutObjectInput{
		Bucket:        &bucket,
		Key:           &key,
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(opts.ACL)
	}
	if opts.Tagging != "" {
		input.Tagging = aws.String(opts.Tagging)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fromS3Error("S3 PutObject", err)
	}

	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int64("size", info.Size()).
		Str("contentType", opts.ContentType).
		Msg("Uploaded to S3")
	return nil
}

// Delete removes bucket/key. S3 answers a delete of a missing key with
// success, so no special casing is needed.
func (s *S3Store) Delete(ctx context.Context, bucket, key string) error {
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &bucket, Key: &key}); err != nil {
		return fromS3Error("S3 DeleteObject", err)
	}
	return nil
}

// fromS3Error turns a smithy API error into *Error. Errors without a service
// error code are wrapped with op and returned as-is.
func fromS3Error(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &Error{
			Code:    apiErr.ErrorCode(),
			Message: apiErr.ErrorMessage(),
			Err:     fmt.Errorf("%s: %w", op, err),
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
