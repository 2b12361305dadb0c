// Package main is a local driver for the image-sizes pipeline. It runs the
// same processor the Lambda uses against a real bucket, replays saved S3
// Batch Operations events, resizes local files, and shows how keys map to
// derivative names.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-lambda-go/events"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/image-sizes/internal/config"
	"github.com/fpang/image-sizes/internal/keys"
	"github.com/fpang/image-sizes/internal/lambdaboot"
	"github.com/fpang/image-sizes/internal/logging"
	"github.com/fpang/image-sizes/internal/resize"
	"github.com/fpang/image-sizes/internal/sizes"
)

var (
	bucketFlag    string
	keyFlag       string
	versionIDFlag string
	eventFlag     string
	outDirFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "sizes-cli",
	Short: "Create thumbnail and medium renditions of images",
	Long: `sizes-cli drives the image-sizes processor outside Lambda.

Configuration is read from the environment, and from a .env file in the
working directory when present.

Examples:
  sizes-cli run --bucket photos --key albums/2024/beach.jpg
  sizes-cli run --event testdata/batch-event.json
  sizes-cli resize ./beach.jpg --out-dir ./out
  sizes-cli keys "albums/My+Photo%281%29.jpg" thumb_a.jpg`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
		logging.Init()
	},
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process one object, or every task in a saved batch event",
	RunE:  runProcess,
}

var resizeCmd = &cobra.Command{
	Use:   "resize <image>",
	Short: "Write thumbnail and medium renditions of a local file",
	Args:  cobra.ExactArgs(1),
	RunE:  runResize,
}

var keysCmd = &cobra.Command{
	Use:   "keys <key>...",
	Short: "Show eligibility and derivative keys for object keys",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runKeys,
}

func init() {
	runCmd.Flags().StringVarP(&bucketFlag, "bucket", "b", "", "Source bucket")
	runCmd.Flags().StringVarP(&keyFlag, "key", "k", "", "Source object key (encoded as S3 Batch Operations delivers it)")
	runCmd.Flags().StringVar(&versionIDFlag, "version-id", "", "Source object version")
	runCmd.Flags().StringVarP(&eventFlag, "event", "e", "", "Path to a saved S3 Batch Operations event (JSON)")

	resizeCmd.Flags().StringVarP(&outDirFlag, "out-dir", "o", ".", "Directory for the renditions")

	rootCmd.AddCommand(runCmd, resizeCmd, keysCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runProcess(cmd *cobra.Command, args []string) error {
	event, err := loadEvent()
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	processor, err := lambdaboot.NewProcessor(ctx, cfg)
	if err != nil {
		return err
	}

	resp := processor.HandleInvocation(ctx, event)
	if err := printJSON(resp); err != nil {
		return err
	}

	failed := 0
	for _, r := range resp.Results {
		if r.ResultCode != sizes.ResultSucceeded {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", failed, len(resp.Results))
	}
	return nil
}

// loadEvent reads --event, or builds a single-task event from --bucket/--key.
func loadEvent() (events.S3BatchJobEvent, error) {
	var event events.S3BatchJobEvent
	if eventFlag != "" {
		data, err := os.ReadFile(eventFlag)
		if err != nil {
			return event, fmt.Errorf("read event: %w", err)
		}
		if err := json.Unmarshal(data, &event); err != nil {
			return event, fmt.Errorf("parse event %s: %w", eventFlag, err)
		}
		return event, nil
	}

	if bucketFlag == "" || keyFlag == "" {
		return event, fmt.Errorf("either --event or both --bucket and --key are required")
	}
	event = events.S3BatchJobEvent{
		InvocationSchemaVersion: "1.0",
		InvocationID:            "local",
		Job:                     events.S3BatchJob{ID: "local"},
		Tasks: []events.S3BatchJobTask{{
			TaskID:      "local-1",
			S3Key:       keyFlag,
			S3VersionID: versionIDFlag,
			S3BucketARN: "arn:aws:s3:::" + bucketFlag,
		}},
	}
	return event, nil
}

func runResize(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	src := args[0]
	name := filepath.Base(src)
	if err := os.MkdirAll(outDirFlag, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	res, err := resize.Derivatives(src,
		filepath.Join(outDirFlag, keys.ThumbPrefix+name),
		filepath.Join(outDirFlag, keys.MediumPrefix+name),
		cfg.ResizeOptions())
	if err != nil {
		return err
	}
	log.Info().
		Int("sourceWidth", res.SourceWidth).
		Int("sourceHeight", res.SourceHeight).
		Msg("Renditions written")
	return printJSON(res)
}

type keyReport struct {
	Key       string `json:"key"`
	Decoded   string `json:"decoded"`
	Eligible  bool   `json:"eligible"`
	ThumbKey  string `json:"thumbKey,omitempty"`
	MediumKey string `json:"mediumKey,omitempty"`
}

func runKeys(cmd *cobra.Command, args []string) error {
	reports := make([]keyReport, 0, len(args))
	for _, k := range args {
		r := keyReport{
			Key:      k,
			Decoded:  keys.Decode(k),
			Eligible: keys.IsPhotoValid(k),
		}
		if r.Eligible {
			r.ThumbKey = keys.ThumbKey(k)
			r.MediumKey = keys.MediumKey(k)
		}
		reports = append(reports, r)
	}
	return printJSON(reports)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
