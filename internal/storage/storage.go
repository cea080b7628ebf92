package storage

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/kinlink/backend/internal/job"
	"github.com/OFFIS-RIT/kinlink/backend/internal/util"
	loaderio "github.com/OFFIS-RIT/kinlink/backend/pkg/loader/io"
	"github.com/OFFIS-RIT/kinlink/backend/pkg/loader/s3"
)

// NewStorage builds the job storage selected by STORAGE_BACKEND: "local"
// (default) reads and writes below DATA_DIR, "s3" uses the AWS_* settings.
func NewStorage(ctx context.Context) (job.Storage, error) {
	backend := util.GetEnvString("STORAGE_BACKEND", "local")
	switch backend {
	case "local":
		return loaderio.NewIOTableFileLoader(util.GetEnvString("DATA_DIR", "data")), nil
	case "s3":
		return NewS3Storage(ctx)
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", backend)
	}
}

// NewS3Storage builds an S3 table loader from the AWS_* environment.
func NewS3Storage(ctx context.Context) (*s3.S3TableFileLoader, error) {
	return s3.NewS3TableFileLoader(ctx, s3.NewS3TableFileLoaderParams{
		Bucket:    util.GetEnvString("AWS_BUCKET", "kinlink"),
		Endpoint:  util.GetEnv("AWS_ENDPOINT"),
		Region:    util.GetEnvString("AWS_REGION", "us-east-1"),
		AccessKey: util.GetEnv("AWS_ACCESS_KEY"),
		SecretKey: util.GetEnv("AWS_SECRET_KEY"),
	})
}
