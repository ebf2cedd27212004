package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bryanwahyu/contract-risk/internal/domain/risk"
)

var _ risk.TextStore = (*Store)(nil)

const textPrefix = "documents/"

// Store keeps extracted contract text as objects in one bucket.
type Store struct {
	client     *minio.Client
	bucketName string
	region     string
}

// New buat koneksi MinIO
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool) (*Store, error) {
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

	return &Store{client: cli, bucketName: bucket, region: region}, nil
}

// ObjectKey is where the text of a document lives in the bucket.
func ObjectKey(documentID string) string {
	return textPrefix + documentID + ".txt"
}

// PutText overwrites the stored text of a document.
func (s *Store) PutText(ctx context.Context, documentID, text string) error {
	_, err := s.client.PutObject(ctx, s.bucketName, ObjectKey(documentID),
		strings.NewReader(text), int64(len(text)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		return fmt.Errorf("put text %s: %w", documentID, err)
	}
	return nil
}

func (s *Store) GetText(ctx context.Context, documentID string) (string, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, ObjectKey(documentID), minio.GetObjectOptions{})
	if err != nil {
		return "", mapError(documentID, err)
	}
	defer obj.Close()

	// GetObject is lazy, the missing-key error surfaces on read
	data, err := io.ReadAll(obj)
	if err != nil {
		return "", mapError(documentID, err)
	}
	return string(data), nil
}

// Ping checks that the bucket is reachable, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucketName)
	return err
}

func mapError(documentID string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return risk.ErrNotFound
	}
	return fmt.Errorf("get text %s: %w", documentID, err)
}
