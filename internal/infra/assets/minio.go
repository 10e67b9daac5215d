// Package assets provides the MinIO-backed shell asset origin.
package assets

import (
	"bytes"
	"context"
	"io"
	"mime"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/newtonslens/labsync/internal/domain/analysis"
)

type Store struct {
	client *minio.Client
	bucket string
	region string
}

// New connects to MinIO and makes sure the asset bucket exists.
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, err
		}
	}

	return &Store{client: cli, bucket: bucket, region: region}, nil
}

// Fetch downloads one asset. A missing key maps to ErrNotFound so the asset
// cache can tell "object gone" apart from "origin unreachable".
func (s *Store) Fetch(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, analysis.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Publish uploads a shell asset, guessing the content type from the
// extension. Used by deploy tooling to push a new shell generation.
func (s *Store) Publish(ctx context.Context, key string, data []byte) error {
	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	return err
}
