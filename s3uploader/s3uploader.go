package s3uploader

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader pushes stored artifacts to a remote bucket. A nil Uploader means
// no mirror is configured.
type Uploader interface {
	Upload(ctx context.Context, bucketName, key string, body io.Reader) error
}

// S3Uploader implements Uploader against AWS S3.
type S3Uploader struct {
	client *s3.Client
}

// NewS3Uploader builds an uploader. Empty access keys fall back to the
// default AWS credential chain.
func NewS3Uploader(accessKey, secretKey, region string) (*S3Uploader, error) {
	opts := []func(*config.LoadOptions) error{}

	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	if accessKey != "" && secretKey != "" {
		provider := credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")
		opts = append(opts, config.WithCredentialsProvider(provider))
	}

	cfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &S3Uploader{
		client: s3.NewFromConfig(cfg),
	}, nil
}

func (u *S3Uploader) Upload(ctx context.Context, bucketName, key string, body io.Reader) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucketName),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to s3://%s: %w", key, bucketName, err)
	}

	return nil
}
