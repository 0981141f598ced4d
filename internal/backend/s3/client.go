// Package s3 executes transfers between the local filesystem and
// S3-compatible object storage. It is the engine-side adapter over the AWS
// SDK; bucket browsing and provider detection live elsewhere in the
// application.
package s3

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig holds connection settings for one object storage endpoint.
// Endpoint is optional; when empty the stock AWS resolution applies.
// UsePathStyle is required by most non-AWS S3-compatible stores (MinIO,
// Ceph RGW).
type ClientConfig struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// NewClient builds an S3 client for the configured endpoint.
func NewClient(ctx context.Context, cc ClientConfig) (*s3.Client, error) {
	region := cc.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if cc.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cc.AccessKey, cc.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if cc.Endpoint != "" {
			o.BaseEndpoint = aws.String(cc.Endpoint)
		}
		o.UsePathStyle = cc.UsePathStyle
	})
	return client, nil
}

// ParseObjectURL splits an s3://bucket/key URL. ok is false for any other
// path shape, which callers treat as a local filesystem path.
func ParseObjectURL(raw string) (bucket, key string, ok bool) {
	const scheme = "s3://"
	if !strings.HasPrefix(raw, scheme) {
		return "", "", false
	}
	rest := strings.TrimPrefix(raw, scheme)
	bucket, key, found := strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
