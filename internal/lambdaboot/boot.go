// Package lambdaboot holds the cold-start wiring shared by the sizes Lambda
// and the local CLI: AWS config, the blob store backend, SSM secrets and the
// optional EventBridge notifier.
package lambdaboot

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-sizes/internal/blobstore"
	"github.com/fpang/image-sizes/internal/config"
	"github.com/fpang/image-sizes/internal/logging"
	"github.com/fpang/image-sizes/internal/notify"
	"github.com/fpang/image-sizes/internal/sizes"
)

// LoadAWS loads the default AWS config (environment, shared files, or the
// Lambda execution role).
func LoadAWS(ctx context.Context) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return cfg, nil
}

// ParameterAPI is the subset of *ssm.Client used to read secrets.
type ParameterAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadSecret reads a SecureString parameter.
func LoadSecret(ctx context.Context, client ParameterAPI, name string) (string, error) {
	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("SSM GetParameter %s: %w", name, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("SSM parameter %s has no value", name)
	}
	log.Debug().Str("param", name).Dur("elapsed", time.Since(start)).Msg("Secret loaded from SSM")
	return *result.Parameter.Value, nil
}

// NewStore builds the blob store selected by cfg.Backend. ssmClient is only
// consulted for a MinIO secret that is not set directly.
func NewStore(ctx context.Context, cfg config.Config, awsCfg aws.Config, ssmClient ParameterAPI) (blobstore.Store, error) {
	switch cfg.Backend {
	case config.BackendMinio:
		secret := cfg.MinioSecretKey
		if secret == "" {
			var err error
			if secret, err = LoadSecret(ctx, ssmClient, cfg.SSMMinioSecretParam); err != nil {
				return nil, err
			}
		}
		return blobstore.NewMinioStore(blobstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: secret,
			Region:    cfg.MinioRegion,
			UseSSL:    cfg.MinioUseSSL,
		})
	default:
		return blobstore.NewS3Store(s3.NewFromConfig(awsCfg)), nil
	}
}

// ProcessorConfig translates cfg into processor settings.
func ProcessorConfig(cfg config.Config) sizes.Config {
	return sizes.Config{
		ScratchDir: cfg.ScratchDir,
		Resize:     cfg.ResizeOptions(),
		Upload: blobstore.PutOptions{
			ContentType: cfg.ContentType,
			ACL:         cfg.ACL,
			Tagging:     cfg.ObjectTagging,
		},
		RollbackPartial:  cfg.RollbackPartial,
		MetricsNamespace: cfg.MetricsNamespace,
	}
}

// NewProcessor wires a complete processor from cfg: store backend, optional
// EventBridge notifier and processor settings.
func NewProcessor(ctx context.Context, cfg config.Config) (*sizes.Processor, error) {
	awsCfg, err := LoadAWS(ctx)
	if err != nil {
		return nil, err
	}

	store, err := NewStore(ctx, cfg, awsCfg, ssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, err
	}

	var opts []sizes.Option
	if cfg.EventBusName != "" {
		opts = append(opts, sizes.WithNotifier(notify.NewEventBridgeNotifier(eventbridge.NewFromConfig(awsCfg), cfg.EventBusName)))
	}
	return sizes.NewProcessor(store, ProcessorConfig(cfg), opts...), nil
}

// StartupLog describes cfg on a StartupLogger. Secrets are never included.
func StartupLog(name string, cfg config.Config, initStart time.Time) *logging.StartupLogger {
	s := logging.NewStartupLogger(name).
		InitDuration(time.Since(initStart)).
		Resource("backend", cfg.Backend).
		Feature("rollbackPartial", cfg.RollbackPartial).
		Feature("eventBridge", cfg.EventBusName != "").
		Config("thumbMaxDimension", fmt.Sprint(cfg.ThumbMaxDimension)).
		Config("mediumMaxDimension", fmt.Sprint(cfg.MediumMaxDimension)).
		Config("jpegQuality", fmt.Sprint(cfg.JPEGQuality)).
		Config("contentType", cfg.ContentType).
		Config("acl", cfg.ACL).
		Config("scratchDir", cfg.ScratchDir)
	if cfg.Backend == config.BackendMinio {
		s.Resource("minioEndpoint", cfg.MinioEndpoint)
	}
	if cfg.EventBusName != "" {
		s.Resource("eventBus", cfg.EventBusName)
	}
	return s
}
