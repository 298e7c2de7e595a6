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
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var (
	downloadErrors metric.Int64Counter
	downloadCount  metric.Int64Counter
	downloadBytes  metric.Int64Counter
	uploadCount    metric.Int64Counter
	uploadBytes    metric.Int64Counter
	deleteCount    metric.Int64Counter
	deleteErrors   metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/chronolake/compactor/internal/objstore")

	var err error
	downloadErrors, err = meter.Int64Counter(
		"chronolake.s3.download.errors",
		metric.WithDescription("Number of S3 download errors"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create download.errors counter: %w", err))
	}

	downloadCount, err = meter.Int64Counter(
		"chronolake.s3.download.count",
		metric.WithDescription("Number of S3 downloads"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create download.count counter: %w", err))
	}

	downloadBytes, err = meter.Int64Counter(
		"chronolake.s3.download.bytes",
		metric.WithDescription("Bytes downloaded from S3"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create download.bytes counter: %w", err))
	}

	uploadCount, err = meter.Int64Counter(
		"chronolake.s3.upload.count",
		metric.WithDescription("Number of S3 uploads"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.count counter: %w", err))
	}

	uploadBytes, err = meter.Int64Counter(
		"chronolake.s3.upload.bytes",
		metric.WithDescription("Bytes uploaded to S3"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create upload.bytes counter: %w", err))
	}

	deleteCount, err = meter.Int64Counter(
		"chronolake.s3.delete.count",
		metric.WithDescription("Number of S3 objects deleted"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create delete.count counter: %w", err))
	}

	deleteErrors, err = meter.Int64Counter(
		"chronolake.s3.delete.errors",
		metric.WithDescription("Number of S3 objects that failed to delete"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create delete.errors counter: %w", err))
	}
}
