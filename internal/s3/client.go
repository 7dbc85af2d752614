// Package s3 builds S3 clients for output locations.
package s3

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Environment variables holding static credentials for S3-compatible
// services that are not covered by the default AWS credential chain.
const (
	envAccessKey = "ESGFSEARCH_S3_ACCESS_KEY"
	envSecretKey = "ESGFSEARCH_S3_SECRET_KEY"
)

// ClientConfig holds the connection settings of an S3 client.
type ClientConfig struct {
	// Region is the bucket region. Empty defers to the AWS environment.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible services such as
	// MinIO or LocalStack.
	Endpoint string

	// UsePathStyle selects path-style addressing.
	UsePathStyle bool

	// Credentials overrides the credential chain when set.
	Credentials aws.CredentialsProvider
}

// NewClient creates an S3 client.
//
// Credentials come from cfg.Credentials, then from ESGFSEARCH_S3_ACCESS_KEY
// and ESGFSEARCH_S3_SECRET_KEY, then from the default AWS chain.
func NewClient(ctx context.Context, cfg ClientConfig) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if creds := credentialsFor(cfg); creds != nil {
		opts = append(opts, config.WithCredentialsProvider(creds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

func credentialsFor(cfg ClientConfig) aws.CredentialsProvider {
	if cfg.Credentials != nil {
		return cfg.Credentials
	}
	key, secret := os.Getenv(envAccessKey), os.Getenv(envSecretKey)
	if key == "" || secret == "" {
		return nil
	}
	return credentials.NewStaticCredentialsProvider(key, secret, "")
}
