package cmd

import (
	"fmt"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/foldops/msarchive/internal/observability"
	"github.com/foldops/msarchive/pkg/uploader"
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Mirror published archives and the master index to object storage",
	Long: `Mirror the archive output directory to an S3 bucket (or an
S3-compatible store when --endpoint is set). Archives are immutable, so
objects whose remote size already matches are skipped; the master index
is always re-uploaded.

Examples:
  msarchive upload --output /archive/msa --bucket site-archives --prefix msa
  msarchive upload --bucket site-archives --endpoint https://s3.internal --rate-limit 10`,
	Args: cobra.NoArgs,
	RunE: runUpload,
}

var (
	uploadBucket      string
	uploadPrefix      string
	uploadRegion      string
	uploadEndpoint    string
	uploadProfile     string
	uploadConcurrency int
	uploadRateLimit   float64
)

func init() {
	rootCmd.AddCommand(uploadCmd)

	uploadCmd.Flags().StringVar(&uploadBucket, "bucket", "", "Destination bucket")
	uploadCmd.Flags().StringVar(&uploadPrefix, "prefix", "", "Key prefix for uploaded objects")
	uploadCmd.Flags().StringVar(&uploadRegion, "region", "", "AWS region")
	uploadCmd.Flags().StringVar(&uploadEndpoint, "endpoint", "", "Custom endpoint for S3-compatible stores")
	uploadCmd.Flags().StringVar(&uploadProfile, "profile", "", "AWS shared-config profile")
	uploadCmd.Flags().IntVar(&uploadConcurrency, "concurrency", 0, "Parallel uploads (default from config)")
	uploadCmd.Flags().Float64Var(&uploadRateLimit, "rate-limit", 0, "Max store requests per second (0 = unlimited)")
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if appConfig.OutputDir == "" {
		return exitError(foundry.ExitInvalidArgument, "No output directory configured", fmt.Errorf("set --output or MSARCHIVE_OUTPUT_DIR"))
	}

	up := appConfig.Upload
	if uploadBucket != "" {
		up.Bucket = uploadBucket
	}
	if uploadPrefix != "" {
		up.Prefix = uploadPrefix
	}
	if uploadRegion != "" {
		up.Region = uploadRegion
	}
	if uploadEndpoint != "" {
		up.Endpoint = uploadEndpoint
	}
	if uploadProfile != "" {
		up.Profile = uploadProfile
	}
	if uploadConcurrency > 0 {
		up.Concurrency = uploadConcurrency
	}
	if uploadRateLimit > 0 {
		up.RateLimit = uploadRateLimit
	}
	if up.Bucket == "" {
		return exitError(foundry.ExitInvalidArgument, "No bucket configured", fmt.Errorf("set --bucket or MSARCHIVE_UPLOAD_BUCKET"))
	}

	store, err := uploader.NewS3Store(ctx, uploader.S3Config{
		Bucket:   up.Bucket,
		Region:   up.Region,
		Endpoint: up.Endpoint,
		Profile:  up.Profile,
		// S3-compatible services generally require path-style URLs.
		ForcePathStyle: up.Endpoint != "",
	})
	if err != nil {
		observability.CLILogger.Error("Failed to connect to object store", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to object store", err)
	}

	u, err := uploader.New(uploader.Config{
		Store:       store,
		SourceDir:   appConfig.OutputDir,
		Prefix:      up.Prefix,
		Concurrency: up.Concurrency,
		RateLimit:   up.RateLimit,
		Logger:      observability.CLILogger,
	})
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid upload configuration", err)
	}

	observability.CLILogger.Info("Starting mirror",
		zap.String("source", appConfig.OutputDir),
		zap.String("bucket", up.Bucket),
		zap.String("prefix", up.Prefix))

	sum, err := u.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return exitError(foundry.ExitSignalInt, "Mirror cancelled", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Mirror failed", err)
	}

	fmt.Println()
	fmt.Println("=== Upload Summary ===")
	fmt.Printf("Uploaded: %d (%s)\n", sum.Uploaded, bytefmt.ByteSize(uint64(sum.BytesUploaded)))
	fmt.Printf("Skipped:  %d\n", sum.Skipped)
	if sum.Errors > 0 {
		fmt.Printf("Errors:   %d\n", sum.Errors)
	}
	fmt.Printf("Duration: %s\n", sum.Duration.Round(time.Millisecond))

	if sum.Errors > 0 {
		return exitError(foundry.ExitExternalServiceUnavailable, "Mirror finished with errors",
			fmt.Errorf("%d uploads failed", sum.Errors))
	}
	return nil
}
