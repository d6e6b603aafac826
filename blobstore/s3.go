package blobstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 uploads blobs to a bucket and returns their public object URL.
type S3 struct {
	client putObjectAPI
	bucket string
	region string
	prefix string
}

// NewS3 loads the default AWS configuration for region.
func NewS3(ctx context.Context, bucket, region, prefix string) (*S3, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &S3{client: s3.NewFromConfig(cfg), bucket: bucket, region: region, prefix: strings.Trim(prefix, "/")}, nil
}

func (s *S3) Put(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	if err := CheckImage(contentType); err != nil {
		return "", err
	}
	key := path.Join(s.prefix, objectName(filename))
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key), nil
}
