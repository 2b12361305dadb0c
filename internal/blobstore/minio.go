package blobstore

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// MinioAPI is the subset of *minio.Client the store uses.
type MinioAPI interface {
	FGetObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.GetObjectOptions) error
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

// MinioConfig addresses an S3-compatible endpoint (MinIO, Ceph RGW, ...).
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// MinioStore is a Store backed by an S3-compatible server through minio-go.
type MinioStore struct {
	client MinioAPI
}

var _ Store = (*MinioStore)(nil)

// NewMinioStore connects to the endpoint in cfg.
func NewMinioStore(cfg MinioConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return NewMinioStoreWithClient(client), nil
}

// NewMinioStoreWithClient wraps an existing client.
func NewMinioStoreWithClient(client MinioAPI) *MinioStore {
	return &MinioStore{client: client}
}

func (s *MinioStore) Download(ctx context.Context, bucket, key, versionID, localPath string) (int64, error) {
	log.Debug().Str("bucket", bucket).Str("key", key).Str("versionId", versionID).Str("localPath", localPath).Msg("Downloading from MinIO")

	err := s.client.FGetObject(ctx, bucket, key, localPath, minio.GetObjectOptions{VersionID: versionID})
	if err != nil {
		return 0, fromMinioError("FGetObject", err)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", localPath, err)
	}
	return info.Size(), nil
}

func (s *MinioStore) Upload(ctx context.Context, localPath, bucket, key string, opts PutOptions) error {
	putOpts := minio.PutObjectOptions{ContentType: opts.ContentType}
	if opts.ACL != "" {
		// minio-go forwards x-amz-* metadata keys as request headers.
		putOpts.UserMetadata = map[string]string{"x-amz-acl": opts.ACL}
	}
	if opts.Tagging != "" {
		tags, err := parseTagging(opts.Tagging)
		if err != nil {
			return err
		}
		putOpts.UserTags = tags
	}

	info, err := s.client.FPutObject(ctx, bucket, key, localPath, putOpts)
	if err != nil {
		return fromMinioError("FPutObject", err)
	}

	log.Debug().Str("bucket", bucket).Str("key", key).Int64("size", info.Size).Msg("Uploaded to MinIO")
	return nil
}

func (s *MinioStore) Delete(ctx context.Context, bucket, key string) error {
	err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil
		}
		return fromMinioError("RemoveObject", err)
	}
	return nil
}

func fromMinioError(op string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "" {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &Error{
		Code:    resp.Code,
		Message: resp.Message,
		Err:     fmt.Errorf("%s: %w", op, err),
	}
}

func parseTagging(tagging string) (map[string]string, error) {
	values, err := url.ParseQuery(tagging)
	if err != nil {
		return nil, fmt.Errorf("parse tagging %q: %w", tagging, err)
	}
	tags := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			tags[k] = v[0]
		}
	}
	return tags, nil
}
