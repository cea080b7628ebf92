package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/singleflight"

	"github.com/OFFIS-RIT/kinlink/backend/pkg/loader"
)

// ObjectClient is the subset of the S3 API the loader needs.
type ObjectClient interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3TableFileLoader is a TableFileLoader implementation that loads file
// contents from an S3 bucket. It uses the AWS SDK v2 for Go.
//
// This loader is useful when the record and evidence exports are dropped
// into object storage instead of the local filesystem.
type S3TableFileLoader struct {
	bucket string
	client ObjectClient
	group  singleflight.Group
}

// NewS3TableFileLoaderWithClient creates a new S3TableFileLoader using an
// existing client.
func NewS3TableFileLoaderWithClient(bucket string, client ObjectClient) *S3TableFileLoader {
	return &S3TableFileLoader{
		bucket: bucket,
		client: client,
	}
}

// NewS3TableFileLoaderParams defines the configuration parameters for
// creating a new S3TableFileLoader.
//
// Endpoint allows overriding the S3 endpoint (useful for S3-compatible
// storage like MinIO).
type NewS3TableFileLoaderParams struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3TableFileLoader creates a new S3TableFileLoader with static
// credentials and path-style addressing.
func NewS3TableFileLoader(ctx context.Context, params NewS3TableFileLoaderParams) (*S3TableFileLoader, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(params.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			params.AccessKey,
			params.SecretKey,
			"",
		)),
	}
	if params.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(params.Endpoint))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return NewS3TableFileLoaderWithClient(params.Bucket, client), nil
}

// GetFileBytes retrieves the object named by file.FilePath. Concurrent
// requests for the same object share one download.
func (l *S3TableFileLoader) GetFileBytes(ctx context.Context, file loader.TableFile) ([]byte, error) {
	result, err, _ := l.group.Do(loader.CacheKey(file), func() (any, error) {
		out, err := l.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(l.bucket),
			Key:    aws.String(file.FilePath),
		})
		if err != nil {
			return nil, fmt.Errorf("get s3://%s/%s: %w", l.bucket, file.FilePath, err)
		}
		defer out.Body.Close()

		buf := new(bytes.Buffer)
		if _, err := io.Copy(buf, out.Body); err != nil {
			return nil, fmt.Errorf("read s3://%s/%s: %w", l.bucket, file.FilePath, err)
		}

		return buf.Bytes(), nil
	})
	if err != nil {
		return nil, err
	}

	return result.([]byte), nil
}

// PutFileBytes uploads content under key with a content type derived from
// the key's extension.
func (l *S3TableFileLoader) PutFileBytes(ctx context.Context, key string, content []byte) error {
	mimeType := mime.TypeByExtension(filepath.Ext(key))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	_, err := l.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(l.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", l.bucket, key, err)
	}
	return nil
}
