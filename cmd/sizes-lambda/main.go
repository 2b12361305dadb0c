// Package main provides the Lambda entry point for S3 Batch Operations jobs
// that create image derivatives.
//
// Each invocation carries one or more tasks. For every eligible image key the
// Lambda downloads the source, writes a thumbnail (thumb_) and a medium
// rendition (m3m_) next to it, and reports a per-task result code back to
// S3 Batch Operations.
//
// Memory: 1024 MB
// Timeout: 5 minutes
package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/fpang/image-sizes/internal/config"
	"github.com/fpang/image-sizes/internal/lambdaboot"
	"github.com/fpang/image-sizes/internal/logging"
	"github.com/fpang/image-sizes/internal/sizes"
)

var processor *sizes.Processor

var coldStart = true

func init() {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	processor, err = lambdaboot.NewProcessor(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise processor")
	}

	lambdaboot.StartupLog("sizes-lambda", cfg, initStart).
		CommitHash(commitHash).
		Log()
}

func handler(ctx context.Context, event events.S3BatchJobEvent) (events.S3BatchJobResponse, error) {
	start := time.Now()
	if coldStart {
		coldStart = false
		log.Info().Str("function", "sizes-lambda").Msg("Cold start, first invocation")
	}

	// Task failures are reported through result codes; the invocation itself
	// always succeeds so S3 Batch Operations records every outcome.
	resp := processor.HandleInvocation(ctx, event)

	log.Info().
		Str("jobId", event.Job.ID).
		Str("invocationId", event.InvocationID).
		Int("results", len(resp.Results)).
		Dur("duration", time.Since(start)).
		Msg("Batch invocation complete")
	return resp, nil
}

func main() {
	lambda.Start(handler)
}
