// Package sizes runs the per-object pipeline of the image-sizes batch job:
// decide whether a key is a source image, download it, write a thumbnail
// and a medium-size copy, upload both next to the original, and turn the
// outcome into an S3 Batch Operations task result.
//
// Nothing escapes a task. Every failure becomes a TemporaryFailure (storage
// timeouts, which S3 Batch Operations retries) or a PermanentFailure.
package sizes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-sizes/internal/blobstore"
	"github.com/fpang/image-sizes/internal/keys"
	"github.com/fpang/image-sizes/internal/metrics"
	"github.com/fpang/image-sizes/internal/notify"
	"github.com/fpang/image-sizes/internal/resize"
)

// Notifier is told about every task that published both derivatives.
type Notifier interface {
	DerivativesCreated(ctx context.Context, event notify.DerivativesCreated) error
}

// Config holds the processor settings that do not change between tasks.
type Config struct {
	// ScratchDir receives the downloaded original and both derivatives.
	ScratchDir string
	Resize     resize.Options
	Upload     blobstore.PutOptions
	// RollbackPartial deletes an uploaded thumbnail when the medium upload
	// fails, so a failed task leaves nothing behind.
	RollbackPartial bool
	// MetricsNamespace enables one EMF document per task when non-empty.
	MetricsNamespace string
}

// DefaultConfig returns the published sizes, image/jpeg + public-read
// uploads and the system temp directory.
func DefaultConfig() Config {
	return Config{
		ScratchDir: os.TempDir(),
		Resize:     resize.DefaultOptions(),
		Upload: blobstore.PutOptions{
			ContentType: "image/jpeg",
			ACL:         "public-read",
		},
	}
}

// ResizeFunc writes the thumbnail and medium derivatives of srcPath.
type ResizeFunc func(srcPath, thumbPath, mediumPath string, opts resize.Options) (resize.Result, error)

// Processor turns tasks into results. It holds no per-task state and may be
// reused across invocations.
type Processor struct {
	store    blobstore.Store
	cfg      Config
	resize   ResizeFunc
	notifier Notifier
	newID    func() string
}

// Option customises a Processor.
type Option func(*Processor)

// WithNotifier announces successful tasks through n.
func WithNotifier(n Notifier) Option {
	return func(p *Processor) { p.notifier = n }
}

// WithResizer replaces the image transform.
func WithResizer(fn ResizeFunc) Option {
	return func(p *Processor) { p.resize = fn }
}

// NewProcessor builds a Processor that reads and writes through store.
func NewProcessor(store blobstore.Store, cfg Config, opts ...Option) *Processor {
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	p := &Processor{
		store:  store,
		cfg:    cfg,
		resize: resize.Derivatives,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleInvocation processes every task of an S3 Batch Operations
// invocation in order and returns the response envelope. The envelope
// always carries exactly one result per task.
func (p *Processor) HandleInvocation(ctx context.Context, event events.S3BatchJobEvent) events.S3BatchJobResponse {
	log.Info().
		Str("jobId", event.Job.ID).
		Str("invocationId", event.InvocationID).
		Str("schemaVersion", event.InvocationSchemaVersion).
		Int("tasks", len(event.Tasks)).
		Msg("Processing batch invocation")

	tasks := TasksFromEvent(event)
	results := make([]events.S3BatchJobResult, 0, len(tasks))
	for _, task := range tasks {
		results = append(results, p.Process(ctx, task))
	}

	return events.S3BatchJobResponse{
		InvocationSchemaVersion: event.InvocationSchemaVersion,
		TreatMissingKeysAs:      treatMissingKeys,
		InvocationID:            event.InvocationID,
		Results:                 results,
	}
}

// Process runs one task to completion and reports its outcome. Ineligible
// keys succeed without touching the store.
func (p *Processor) Process(ctx context.Context, task Task) events.S3BatchJobResult {
	start := time.Now()
	logger := log.With().
		Str("taskId", task.TaskID).
		Str("bucket", task.Bucket()).
		Str("key", task.SourceKey).
		Logger()

	result := events.S3BatchJobResult{TaskID: task.TaskID}
	var downloaded int64

	if !keys.IsPhotoValid(task.SourceKey) {
		logger.Debug().Msg("Key is not a source image, skipping")
		result.ResultCode, result.ResultString = ResultSucceeded, MsgSkipped
	} else {
		var err error
		downloaded, err = p.run(ctx, task, logger)
		if err != nil {
			result.ResultCode, result.ResultString = classify(err)
			logger.Error().Err(err).Str("resultCode", result.ResultCode).Msg("Task failed")
		} else {
			result.ResultCode, result.ResultString = ResultSucceeded, MsgCreated
		}
	}

	logger.Info().
		Str("resultCode", result.ResultCode).
		Str("resultString", result.ResultString).
		Dur("duration", time.Since(start)).
		Msg("Task complete")

	if p.cfg.MetricsNamespace != "" {
		metrics.New(p.cfg.MetricsNamespace).
			Dimension("ResultCode", result.ResultCode).
			Duration("TaskDurationMs", time.Since(start)).
			Metric("BytesDownloaded", float64(downloaded), metrics.UnitBytes).
			Count("TaskCount").
			Property("taskId", task.TaskID).
			Property("key", task.SourceKey).
			Flush()
	}

	return result
}

// run is the download -> resize -> upload pipeline. Scratch files are
// removed before it returns, whatever the outcome.
func (p *Processor) run(ctx context.Context, task Task, logger zerolog.Logger) (int64, error) {
	bucket := task.Bucket()
	sourceKey := keys.Decode(task.SourceKey)
	thumbKey := keys.ThumbKey(task.SourceKey)
	mediumKey := keys.MediumKey(task.SourceKey)

	files := newScratch(p.cfg.ScratchDir, p.newID(), sourceKey)
	defer files.remove(logger)

	n, err := p.store.Download(ctx, bucket, sourceKey, task.SourceVersionID, files.original)
	if err != nil {
		return 0, fmt.Errorf("download: %w", err)
	}
	logger.Debug().Int64("bytes", n).Msg("Original downloaded")

	res, err := p.resize(files.original, files.thumb, files.medium, p.cfg.Resize)
	if err != nil {
		return n, fmt.Errorf("resize: %w", err)
	}
	logger.Debug().
		Int("sourceWidth", res.SourceWidth).
		Int("sourceHeight", res.SourceHeight).
		Msg("Derivatives resized")

	if err := p.store.Upload(ctx, files.thumb, bucket, thumbKey, p.cfg.Upload); err != nil {
		return n, fmt.Errorf("upload thumbnail: %w", err)
	}
	if err := p.store.Upload(ctx, files.medium, bucket, mediumKey, p.cfg.Upload); err != nil {
		if p.cfg.RollbackPartial {
			p.rollback(ctx, bucket, thumbKey, logger)
		}
		return n, fmt.Errorf("upload medium: %w", err)
	}

	logger.Debug().Str("thumbKey", thumbKey).Str("mediumKey", mediumKey).Msg("Derivatives uploaded")

	if p.notifier != nil {
		err := p.notifier.DerivativesCreated(ctx, notify.DerivativesCreated{
			JobID:     task.JobID,
			TaskID:    task.TaskID,
			Bucket:    bucket,
			SourceKey: sourceKey,
			VersionID: task.SourceVersionID,
			ThumbKey:  thumbKey,
			MediumKey: mediumKey,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to announce derivatives (non-fatal)")
		}
	}
	return n, nil
}

// rollback removes an already published thumbnail. Its own failure is only
// logged; the task is reported with the upload error that caused it.
func (p *Processor) rollback(ctx context.Context, bucket, key string, logger zerolog.Logger) {
	if err := p.store.Delete(ctx, bucket, key); err != nil {
		logger.Warn().Err(err).Str("thumbKey", key).Msg("Failed to roll back thumbnail")
		return
	}
	logger.Info().Str("thumbKey", key).Msg("Rolled back thumbnail after medium upload failure")
}

// classify maps a pipeline error to a result code and result string.
func classify(err error) (string, string) {
	var blobErr *blobstore.Error
	if errors.As(err, &blobErr) {
		if blobErr.Temporary() {
			return ResultTemporaryFailure, MsgRetryTimeout
		}
		return ResultPermanentFailure, fmt.Sprintf("%s: %s", blobErr.Code, blobErr.Message)
	}
	return ResultPermanentFailure, exceptionPrefix + err.Error()
}
