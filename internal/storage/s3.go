package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type S3Params struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
}

// ObjectStore reads page dumps, image manifests and page images from S3.
type ObjectStore struct {
	client *s3.Client
	bucket string
}

func NewS3Client(ctx context.Context, params S3Params) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(params.Region),
	}
	if params.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(params.Endpoint))
	}
	if params.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			params.AccessKey,
			params.SecretKey,
			"",
		)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	return client, nil
}

func NewObjectStore(ctx context.Context, params S3Params) (*ObjectStore, error) {
	client, err := NewS3Client(ctx, params)
	if err != nil {
		return nil, err
	}
	return &ObjectStore{client: client, bucket: params.Bucket}, nil
}

// GetObject downloads bucket/key. An empty bucket means the configured one.
func (o *ObjectStore) GetObject(ctx context.Context, bucket string, key string) ([]byte, error) {
	if bucket == "" {
		bucket = o.bucket
	}
	if bucket == "" {
		return nil, fmt.Errorf("no bucket given for %s", key)
	}

	result, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get file from S3: %w", err)
	}
	defer result.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, result.Body); err != nil {
		return nil, fmt.Errorf("failed to read file contents: %w", err)
	}

	return buf.Bytes(), nil
}

// GetFile downloads key from the configured bucket.
func (o *ObjectStore) GetFile(ctx context.Context, key string) ([]byte, error) {
	return o.GetObject(ctx, "", key)
}
