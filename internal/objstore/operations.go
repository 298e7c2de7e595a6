// Copyright (C) 2025-2026 ChronoLake, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package objstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

func s3ErrorIs404(err error) bool {
	var noKeyErr *types.NoSuchKey
	if errors.As(err, &noKeyErr) {
		return true
	}
	var notFoundErr *types.NotFound
	return errors.As(err, &notFoundErr)
}

// DownloadObject fetches an object into a temp file under dir. A missing
// object is reported through notFound, not the error.
func (c *Client) DownloadObject(ctx context.Context, dir, bucket, key string) (tmpfile string, size int64, notFound bool, err error) {
	downloader := manager.NewDownloader(c.s3client)

	// Keep the original filename in the temp name for easier debugging.
	filename := filepath.Base(key)
	f, err := os.CreateTemp(dir, "*-"+filename)
	if err != nil {
		return "", 0, false, fmt.Errorf("create temp file: %w", err)
	}

	ctx, span := c.tracer.Start(ctx, "objstore.DownloadObject",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("key", key),
		),
	)
	defer span.End()

	size, err = downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		if s3ErrorIs404(err) {
			downloadErrors.Add(ctx, 1, metric.WithAttributes(
				attribute.String("bucket", bucket),
				attribute.String("reason", "not_found"),
			))
			return "", 0, true, nil
		}
		downloadErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("reason", "unknown"),
		))
		return "", 0, false, fmt.Errorf("download %s/%s: %w", bucket, key, err)
	}

	downloadCount.Add(ctx, 1, metric.WithAttributes(attribute.String("bucket", bucket)))
	downloadBytes.Add(ctx, size, metric.WithAttributes(attribute.String("bucket", bucket)))

	// close on success; the SDK already flushed the bytes
	_ = f.Close()
	return f.Name(), size, false, nil
}

// UploadObject stores a local file under the given key.
func (c *Client) UploadObject(ctx context.Context, bucket, key, sourceFilename string) error {
	uploader := manager.NewUploader(c.s3client)
	file, err := os.Open(sourceFilename)
	if err != nil {
		return fmt.Errorf("open source file %s: %w", sourceFilename, err)
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat source file: %w", err)
	}

	var span trace.Span
	ctx, span = c.tracer.Start(ctx, "objstore.UploadObject",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("key", key),
		),
	)
	defer span.End()

	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/vnd.apache.parquet"),
		Metadata: map[string]string{
			"writer": "chronolake-compactor",
		},
	})
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}

	uploadCount.Add(ctx, 1, metric.WithAttributes(attribute.String("bucket", bucket)))
	uploadBytes.Add(ctx, stat.Size(), metric.WithAttributes(attribute.String("bucket", bucket)))

	return nil
}

// DeleteObjects removes keys in batches and returns the keys that could not
// be deleted. Missing objects count as deleted.
func (c *Client) DeleteObjects(ctx context.Context, bucket string, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	var span trace.Span
	ctx, span = c.tracer.Start(ctx, "objstore.DeleteObjects",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.Int("object_count", len(keys)),
		),
	)
	defer span.End()

	// S3 batch delete supports up to 1000 objects per request
	const maxBatchSize = 1000
	var failed []string

	for i := 0; i < len(keys); i += maxBatchSize {
		end := min(i+maxBatchSize, len(keys))
		batch := keys[i:end]

		objects := make([]types.ObjectIdentifier, len(batch))
		for j, key := range batch {
			objects[j] = types.ObjectIdentifier{Key: aws.String(key)}
		}

		result, err := c.s3client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(false),
			},
		})
		if err != nil {
			failed = append(failed, batch...)
			deleteErrors.Add(ctx, int64(len(batch)), metric.WithAttributes(
				attribute.String("bucket", bucket)))
			continue
		}

		for _, e := range result.Errors {
			if e.Key != nil && e.Code != nil && *e.Code != "NoSuchKey" {
				failed = append(failed, *e.Key)
			}
		}
		deleteCount.Add(ctx, int64(len(batch)-len(result.Errors)), metric.WithAttributes(
			attribute.String("bucket", bucket)))
	}

	if len(failed) > 0 {
		return failed, fmt.Errorf("failed to delete %d of %d objects", len(failed), len(keys))
	}
	return nil, nil
}
