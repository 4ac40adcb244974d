package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	domain "github.com/bryanwahyu/xray-analyzer/internal/domain/uploads"
)

const DefaultPreviewTTL = 15 * time.Minute

// Store keeps previews as objects and hands out presigned GET URLs.
type Store struct {
	client     *minio.Client
	bucketName string
	region     string
	ttl        time.Duration
}

// New buat koneksi MinIO
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool, ttl time.Duration) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, err
	}

	// pastikan bucket ada
	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, err
		}
	}

	if ttl <= 0 {
		ttl = DefaultPreviewTTL
	}
	return &Store{client: cli, bucketName: bucket, region: region, ttl: ttl}, nil
}

// Create implementasi PreviewStore: upload bytes, return presigned URL
func (s *Store) Create(ctx context.Context, session domain.SessionID, f domain.File) (domain.Preview, error) {
	key := path.Join("previews", string(session), uuid.New().String()+extension(f))

	_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(f.Data), f.Size(), minio.PutObjectOptions{
		ContentType: contentType(f),
	})
	if err != nil {
		return domain.Preview{}, fmt.Errorf("put preview object: %w", err)
	}

	u, err := s.client.PresignedGetObject(ctx, s.bucketName, key, s.ttl, nil)
	if err != nil {
		// jangan tinggalkan object tanpa URL
		_ = s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{})
		return domain.Preview{}, fmt.Errorf("presign preview: %w", err)
	}
	return domain.Preview{Key: key, URL: u.String()}, nil
}

// Release hapus object preview
func (s *Store) Release(ctx context.Context, p domain.Preview) error {
	return s.client.RemoveObject(ctx, s.bucketName, p.Key, minio.RemoveObjectOptions{})
}

// Check implements the health checker used by /health.
func (s *Store) Check(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s missing", s.bucketName)
	}
	return nil
}
