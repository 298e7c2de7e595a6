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

// Package objstore holds the object storage client for parquet file bytes.
// The catalog is authoritative for which objects exist; this package only
// moves and deletes bytes.
package objstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Client wraps an S3 client with the operations the compactor needs.
type Client struct {
	s3client *s3.Client
	tracer   trace.Tracer
}

type clientConfig struct {
	region       string
	applyConfigs []func(*aws.Config)
	applyS3s     []func(*s3.Options)
}

// Option is a functional option for New.
type Option func(*clientConfig)

// WithRegion overrides the AWS region.
func WithRegion(region string) Option {
	return func(c *clientConfig) {
		c.region = region
	}
}

// WithEndpoint forces a custom S3 endpoint (eg MinIO, Ceph).
func WithEndpoint(url string) Option {
	return func(c *clientConfig) {
		c.applyS3s = append(c.applyS3s, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(url)
		})
	}
}

// WithPathStyle uses path-style addressing instead of virtual-host.
func WithPathStyle() Option {
	return func(c *clientConfig) {
		c.applyS3s = append(c.applyS3s, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
}

// WithStaticCredentials bypasses the default credential chain. Intended for
// local object stores in development and tests.
func WithStaticCredentials(accessKey, secretKey string) Option {
	return func(c *clientConfig) {
		c.applyConfigs = append(c.applyConfigs, func(cfg *aws.Config) {
			cfg.Credentials = credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
		})
	}
}

// WithInsecureTLS turns off cert verification (for self-signed or insecure).
func WithInsecureTLS() Option {
	return func(c *clientConfig) {
		c.applyConfigs = append(c.applyConfigs, func(cfg *aws.Config) {
			tr := http.DefaultTransport.(*http.Transport).Clone()
			tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
			cfg.HTTPClient = &http.Client{Transport: tr}
		})
	}
}

// New builds a Client from the default AWS config chain plus options.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	otelaws.AppendMiddlewares(&cfg.APIOptions)

	var cc clientConfig
	for _, o := range opts {
		o(&cc)
	}
	if cc.region != "" {
		cfg.Region = cc.region
	}
	for _, fn := range cc.applyConfigs {
		fn(&cfg)
	}

	return &Client{
		s3client: s3.NewFromConfig(cfg, cc.applyS3s...),
		tracer:   otel.Tracer("github.com/chronolake/compactor/internal/objstore"),
	}, nil
}
