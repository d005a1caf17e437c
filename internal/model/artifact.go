package model

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tjfontaine/modelserver/internal/config"
)

const (
	s3Scheme          = "s3://"
	defaultS3Endpoint = "s3.amazonaws.com"
)

// OpenArtifact opens a model artifact from a local path or an s3://bucket/key
// location. Artifacts ending in .gz or .zst are decompressed transparently.
func OpenArtifact(ctx context.Context, location string, s3cfg config.S3Config) (io.ReadCloser, error) {
	var (
		rc  io.ReadCloser
		err error
	)
	if strings.HasPrefix(location, s3Scheme) {
		rc, err = openS3(ctx, location, s3cfg)
	} else {
		rc, err = os.Open(location)
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", location, err)
	}

	switch {
	case strings.HasSuffix(location, ".gz"):
		zr, err := gzip.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("open gzip artifact %s: %w", location, err)
		}
		return &stackedReader{Reader: zr, closers: []func() error{zr.Close, rc.Close}}, nil
	case strings.HasSuffix(location, ".zst"):
		zr, err := zstd.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("open zstd artifact %s: %w", location, err)
		}
		return &stackedReader{Reader: zr, closers: []func() error{
			func() error { zr.Close(); return nil },
			rc.Close,
		}}, nil
	}
	return rc, nil
}

func openS3(ctx context.Context, location string, cfg config.S3Config) (io.ReadCloser, error) {
	bucket, key, ok := strings.Cut(strings.TrimPrefix(location, s3Scheme), "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("s3 location must be s3://bucket/key")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultS3Endpoint
	}

	creds := credentials.NewEnvAWS()
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	if _, err := client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return nil, os.ErrNotExist
		}
		return nil, err
	}

	obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// stackedReader closes a decompressor and the stream beneath it.
type stackedReader struct {
	io.Reader
	closers []func() error
}

func (s *stackedReader) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
