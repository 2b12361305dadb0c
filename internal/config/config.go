// Package config reads the job's settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fpang/image-sizes/internal/resize"
)

// Storage backends.
const (
	BackendS3    = "s3"
	BackendMinio = "minio"
)

// Config is everything the Lambda and the CLI need at startup.
type Config struct {
	LogLevel   string
	ScratchDir string

	ThumbMaxDimension  int
	MediumMaxDimension int
	JPEGQuality        int

	ContentType     string
	ACL             string
	ObjectTagging   string
	RollbackPartial bool

	Backend             string
	MinioEndpoint       string
	MinioAccessKey      string
	MinioSecretKey      string
	MinioRegion         string
	MinioUseSSL         bool
	SSMMinioSecretParam string

	EventBusName     string
	MetricsNamespace string
}

// Load reads the environment, applies defaults and validates the result.
func Load() (Config, error) {
	var err error
	cfg := Config{
		LogLevel:            getenv("SIZES_LOG_LEVEL", "info"),
		ScratchDir:          getenv("SCRATCH_DIR", os.TempDir()),
		ContentType:         getenv("OUTPUT_CONTENT_TYPE", "image/jpeg"),
		ACL:                 getenv("OUTPUT_ACL", "public-read"),
		ObjectTagging:       getenv("OBJECT_TAGGING", ""),
		Backend:             strings.ToLower(getenv("BLOB_BACKEND", BackendS3)),
		MinioEndpoint:       getenv("MINIO_ENDPOINT", ""),
		MinioAccessKey:      getenv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:      getenv("MINIO_SECRET_KEY", ""),
		MinioRegion:         getenv("MINIO_REGION", ""),
		SSMMinioSecretParam: getenv("SSM_MINIO_SECRET_PARAM", ""),
		EventBusName:        getenv("EVENT_BUS_NAME", ""),
		MetricsNamespace:    getenv("METRICS_NAMESPACE", "ImageSizes"),
	}

	if cfg.ThumbMaxDimension, err = getenvInt("THUMB_MAX_DIMENSION", resize.DefaultThumbMaxDimension); err != nil {
		return Config{}, err
	}
	if cfg.MediumMaxDimension, err = getenvInt("MEDIUM_MAX_DIMENSION", resize.DefaultMediumMaxDimension); err != nil {
		return Config{}, err
	}
	if cfg.JPEGQuality, err = getenvInt("JPEG_QUALITY", resize.DefaultJPEGQuality); err != nil {
		return Config{}, err
	}
	if cfg.RollbackPartial, err = getenvBool("ROLLBACK_PARTIAL_UPLOADS", false); err != nil {
		return Config{}, err
	}
	if cfg.MinioUseSSL, err = getenvBool("MINIO_USE_SSL", true); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and backend requirements.
func (c Config) Validate() error {
	if c.ThumbMaxDimension <= 0 {
		return fmt.Errorf("THUMB_MAX_DIMENSION must be positive, got %d", c.ThumbMaxDimension)
	}
	if c.MediumMaxDimension <= 0 {
		return fmt.Errorf("MEDIUM_MAX_DIMENSION must be positive, got %d", c.MediumMaxDimension)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be between 1 and 100, got %d", c.JPEGQuality)
	}

	switch c.Backend {
	case BackendS3:
	case BackendMinio:
		if c.MinioEndpoint == "" || c.MinioAccessKey == "" {
			return fmt.Errorf("BLOB_BACKEND=minio requires MINIO_ENDPOINT and MINIO_ACCESS_KEY")
		}
		if c.MinioSecretKey == "" && c.SSMMinioSecretParam == "" {
			return fmt.Errorf("BLOB_BACKEND=minio requires MINIO_SECRET_KEY or SSM_MINIO_SECRET_PARAM")
		}
	default:
		return fmt.Errorf("unknown BLOB_BACKEND %q (want %s or %s)", c.Backend, BackendS3, BackendMinio)
	}
	return nil
}

// ResizeOptions returns the derivative sizes and encoder settings.
func (c Config) ResizeOptions() resize.Options {
	return resize.Options{
		ThumbMaxDimension:  c.ThumbMaxDimension,
		MediumMaxDimension: c.MediumMaxDimension,
		JPEGQuality:        c.JPEGQuality,
	}
}

func getenv(key, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultValue
}

func getenvInt(key string, defaultValue int) (int, error) {
	v := getenv(key, "")
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getenvBool(key string, defaultValue bool) (bool, error) {
	v := getenv(key, "")
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}
