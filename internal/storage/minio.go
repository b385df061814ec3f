// Package storage stores paper PDF attachments in MinIO.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/paperhub/paperhub/internal/config"
)

// AttachmentStore is a thin wrapper around the minio client keyed by paper id.
type AttachmentStore struct {
	client *minio.Client
	bucket string
}

func attachmentKey(paperID string) string {
	return "papers/" + paperID + ".pdf"
}

// NewAttachmentStore creates a MinIO client and ensures the bucket exists.
func NewAttachmentStore(cfg *config.MinIOConfig) (*AttachmentStore, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio config missing")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio new: %w", err)
	}
	s := &AttachmentStore{client: mc, bucket: cfg.Bucket}
	// ensure bucket exists (idempotent)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mc.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		exist, xerr := mc.BucketExists(ctx, s.bucket)
		if xerr != nil || !exist {
			return nil, fmt.Errorf("minio bucket ensure: %w", err)
		}
	}
	return s, nil
}

// Upload stores the attachment for the given paper.
func (s *AttachmentStore) Upload(ctx context.Context, paperID string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucket, attachmentKey(paperID), reader, size, minio.PutObjectOptions{ContentType: contentType})
	return err
}

// Fetch returns a ReadCloser for the stored attachment.
func (s *AttachmentStore) Fetch(ctx context.Context, paperID string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, attachmentKey(paperID), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// perform a stat to ensure object exists
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, err
	}
	return obj, nil
}

// Remove deletes the attachment. Satisfies service.AttachmentRemover; used by
// the paper delete cascade.
func (s *AttachmentStore) Remove(ctx context.Context, paperID string) error {
	return s.client.RemoveObject(ctx, s.bucket, attachmentKey(paperID), minio.RemoveObjectOptions{})
}

// PresignedURL returns a presigned GET URL valid for the given duration.
func (s *AttachmentStore) PresignedURL(ctx context.Context, paperID string, expires time.Duration) (string, error) {
	reqParams := make(url.Values)
	presigned, err := s.client.PresignedGetObject(ctx, s.bucket, attachmentKey(paperID), expires, reqParams)
	if err != nil {
		return "", err
	}
	return presigned.String(), nil
}
