// Package s3storage implements the content store on MinIO/S3. The digest and
// length of each payload travel as object user metadata.
package s3storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"

	"github.com/dharsanguruparan/LedgerDrop/internal/config"
	"github.com/dharsanguruparan/LedgerDrop/internal/storage"
)

const userMetaPrefix = "X-Amz-Meta-"

// Storage wraps MinIO interactions for raw uploads.
type Storage struct {
	client *minio.Client
	bucket string
	region string
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client: client,
		bucket: cfg.RawBucket,
		region: cfg.S3Region,
	}, nil
}

// EnsureBucket makes sure the raw bucket exists before use.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Put uploads the raw file with its digest and length in user metadata.
func (s *Storage) Put(ctx context.Context, name string, data []byte, meta map[string]string) (string, error) {
	sealed, err := storage.Seal(data, meta)
	if err != nil {
		return "", err
	}
	handle := storage.NewHandle(name)
	opts := minio.PutObjectOptions{
		ContentType:  http.DetectContentType(data),
		UserMetadata: sealed,
	}
	if _, err := s.client.PutObject(ctx, s.bucket, handle, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return "", fmt.Errorf("upload raw object: %w", err)
	}
	log.WithFields(log.Fields{"handle": handle, "bytes": len(data)}).Debug("raw object stored")
	return handle, nil
}

// Get downloads the object and verifies it against the recorded metadata.
func (s *Storage) Get(ctx context.Context, handle string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, handle, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get raw object: %w", err)
	}
	defer obj.Close()
	info, err := obj.Stat()
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", handle, storage.ErrContentNotFound)
		}
		return nil, fmt.Errorf("stat raw object: %w", err)
	}
	buf, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read raw object: %w", err)
	}
	if err := storage.Verify(handle, buf, userMetadata(info)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Storage) Exists(ctx context.Context, handle string) (bool, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, handle, minio.StatObjectOptions{}); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat raw object: %w", err)
	}
	return true, nil
}

func (s *Storage) Delete(ctx context.Context, handle string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, handle, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove raw object: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

// userMetadata lower-cases the user metadata keys MinIO returns as canonical
// headers so they line up with the keys written by storage.Seal.
func userMetadata(info minio.ObjectInfo) map[string]string {
	out := make(map[string]string)
	for k, v := range info.UserMetadata {
		out[strings.ToLower(k)] = v
	}
	for k, vals := range info.Metadata {
		if len(vals) == 0 || !strings.HasPrefix(http.CanonicalHeaderKey(k), userMetaPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(http.CanonicalHeaderKey(k), userMetaPrefix))
		if _, ok := out[key]; !ok {
			out[key] = vals[0]
		}
	}
	return out
}
