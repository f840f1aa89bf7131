package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/icpmesh/meshwatch/pkg/log"
	"github.com/icpmesh/meshwatch/pkg/options"
)

// BackupUploader copies the snapshot file to S3-compatible storage on a
// fixed interval. Failures are logged; the local snapshot remains the
// source of truth.
type BackupUploader struct {
	client   *minio.Client
	bucket   string
	region   string
	snapshot *SnapshotStore
	interval time.Duration
}

// NewBackupUploader builds the uploader from S3 options.
func NewBackupUploader(opts *options.S3Options, snapshot *SnapshotStore) (*BackupUploader, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client: %w", err)
	}

	return &BackupUploader{
		client:   client,
		bucket:   opts.BucketName,
		region:   opts.Region,
		snapshot: snapshot,
		interval: opts.Interval,
	}, nil
}

// CheckBucket verifies the bucket exists, creating it if missing.
func (b *BackupUploader) CheckBucket(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		log.Info("Backup bucket does not exist, creating...", "bucket", b.bucket)
		if err := b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{Region: b.region}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}
	return nil
}

// UploadOnce copies the current snapshot file under a timestamped key.
func (b *BackupUploader) UploadOnce(ctx context.Context) error {
	key := fmt.Sprintf("snapshots/%s.json", time.Now().UTC().Format("20060102T150405Z"))
	_, err := b.client.FPutObject(ctx, b.bucket, key, b.snapshot.Path(), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot backup: %w", err)
	}
	log.Info("Snapshot backup uploaded", "bucket", b.bucket, "key", key)
	return nil
}

// Run uploads on each interval tick until ctx is canceled.
func (b *BackupUploader) Run(ctx context.Context) error {
	if err := b.CheckBucket(ctx); err != nil {
		// Backups are best-effort; keep trying on the schedule anyway.
		log.Warn("Backup bucket check failed", "err", err.Error())
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := b.UploadOnce(ctx); err != nil {
				log.Warn("Snapshot backup failed", "err", err.Error())
			}
		}
	}
}
