// Package reliability provides optional off-site backup of scenario
// artifacts to S3-compatible storage.
package reliability

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	appconfig "github.com/mkaravia/gridcast/internal/config"
)

// S3Backup uploads scenario artifact directories to an S3-compatible
// bucket. Works against AWS S3 and compatible stores via a custom
// endpoint.
type S3Backup struct {
	client *s3.Client
	bucket string
	log    zerolog.Logger
}

// NewS3Backup creates a backup client from the application configuration.
func NewS3Backup(ctx context.Context, cfg *appconfig.BackupConfig, log zerolog.Logger) (*S3Backup, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("backup is not configured")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load backup credentials: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	return &S3Backup{
		client: client,
		bucket: cfg.Bucket,
		log:    log.With().Str("component", "backup").Logger(),
	}, nil
}

// BackupScenario uploads every artifact file in the scenario directory
// under forecasts/<scenario>/. Existing objects are overwritten; artifact
// files are small and re-uploading is cheaper than diffing.
func (b *S3Backup) BackupScenario(ctx context.Context, scenario, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read scenario directory: %w", err)
	}

	uploaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open artifact %s: %w", entry.Name(), err)
		}

		key := fmt.Sprintf("forecasts/%s/%s", scenario, entry.Name())
		_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(b.bucket),
			Key:         aws.String(key),
			Body:        f,
			ContentType: aws.String("application/json"),
		})
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
		uploaded++
	}

	b.log.Info().
		Str("scenario", scenario).
		Int("files", uploaded).
		Msg("Scenario artifacts backed up")
	return nil
}
