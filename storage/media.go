package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const maxAssetBytes int64 = 512 * 1024 * 1024

var ErrNotConfigured = errors.New("storage: media storage not configured")

// MediaStorage stores generated media and uploaded input assets in MinIO/S3
// and resolves them to publicly fetchable URLs.
type MediaStorage struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewMediaStorageFromEnv initialises MediaStorage using MINIO_* environment
// variables. All of endpoint, access key, secret key and bucket are required.
func NewMediaStorageFromEnv() (*MediaStorage, error) {
	endpoint := strings.TrimSpace(os.Getenv("MINIO_ENDPOINT"))
	accessKey := strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY"))
	bucket := strings.TrimSpace(os.Getenv("MINIO_BUCKET"))
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, errors.New("storage: MINIO_ENDPOINT, MINIO_ACCESS_KEY, MINIO_SECRET_KEY and MINIO_BUCKET are required")
	}

	useSSL := strings.EqualFold(strings.TrimSpace(os.Getenv("MINIO_USE_SSL")), "true")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: create bucket: %w", err)
		}
	}

	publicURL := strings.TrimSpace(os.Getenv("MINIO_PUBLIC_URL"))
	if publicURL == "" {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	return &MediaStorage{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// UploadBytes stores the blob under objectName and returns its durable URL.
// Callers qualify object names themselves (job ids, timestamps) to avoid
// collisions.
func (s *MediaStorage) UploadBytes(ctx context.Context, objectName string, data []byte, contentType string) (string, error) {
	if s == nil || s.client == nil {
		return "", ErrNotConfigured
	}

	objectName = strings.TrimPrefix(path.Clean(strings.TrimSpace(objectName)), "/")
	if objectName == "" || objectName == "." {
		return "", errors.New("storage: object name cannot be empty")
	}
	if int64(len(data)) > maxAssetBytes {
		return "", fmt.Errorf("storage: asset size exceeds %d bytes", maxAssetBytes)
	}

	if strings.TrimSpace(contentType) == "" {
		contentType = http.DetectContentType(data)
	}

	uploadCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(uploadCtx, s.bucket, objectName, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("storage: upload %s: %w", objectName, err)
	}

	return s.buildPublicURL(objectName), nil
}

// UploadFile stores a multipart upload under objectName and returns its URL.
func (s *MediaStorage) UploadFile(ctx context.Context, fileHeader *multipart.FileHeader, objectName string) (string, error) {
	if s == nil || s.client == nil {
		return "", ErrNotConfigured
	}
	if fileHeader == nil {
		return "", errors.New("storage: file not provided")
	}
	if fileHeader.Size > 0 && fileHeader.Size > maxAssetBytes {
		return "", fmt.Errorf("storage: asset size exceeds %d bytes", maxAssetBytes)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("storage: open upload: %w", err)
	}
	defer src.Close()

	var buffer bytes.Buffer
	limited := io.LimitReader(src, maxAssetBytes+1)
	written, err := io.Copy(&buffer, limited)
	if err != nil {
		return "", fmt.Errorf("storage: read upload: %w", err)
	}
	if written > maxAssetBytes {
		return "", fmt.Errorf("storage: asset size exceeds %d bytes", maxAssetBytes)
	}

	contentType := strings.TrimSpace(fileHeader.Header.Get("Content-Type"))
	return s.UploadBytes(ctx, objectName, buffer.Bytes(), contentType)
}

// Remove deletes the object pointed to by the provided URL or object path.
// Unknown URLs are ignored.
func (s *MediaStorage) Remove(ctx context.Context, assetURL string) error {
	if s == nil || s.client == nil {
		return nil
	}
	objectName, ok := s.objectNameFromURL(assetURL)
	if !ok {
		return nil
	}

	removeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.client.RemoveObject(removeCtx, s.bucket, objectName, minio.RemoveObjectOptions{})
}

// PresignedURL returns a temporary signed URL for the given stored asset.
func (s *MediaStorage) PresignedURL(ctx context.Context, raw string, expiry time.Duration) (string, error) {
	if s == nil || s.client == nil {
		return strings.TrimSpace(raw), nil
	}

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}

	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	objectName, ok := s.objectNameFromURL(trimmed)
	if !ok {
		if !strings.Contains(trimmed, "://") {
			objectName = strings.TrimPrefix(trimmed, "/")
			objectName = strings.TrimPrefix(objectName, s.bucket+"/")
		}
	}
	if objectName == "" {
		return trimmed, nil
	}

	presignCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	signed, err := s.client.PresignedGetObject(presignCtx, s.bucket, objectName, expiry, nil)
	if err != nil {
		return "", err
	}

	return signed.String(), nil
}

// Owns reports whether the given URL points into this media store.
func (s *MediaStorage) Owns(assetURL string) bool {
	if s == nil {
		return false
	}
	_, ok := s.objectNameFromURL(assetURL)
	return ok
}

func (s *MediaStorage) buildPublicURL(objectName string) string {
	base := strings.TrimSuffix(s.publicURL, "/")
	object := strings.TrimPrefix(objectName, "/")
	return fmt.Sprintf("%s/%s/%s", base, s.bucket, object)
}

func (s *MediaStorage) objectNameFromURL(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}

	base := strings.TrimSuffix(s.publicURL, "/")
	if base != "" && strings.HasPrefix(trimmed, base) {
		candidate := strings.TrimPrefix(trimmed, base)
		candidate = strings.TrimPrefix(candidate, "/")
		candidate = strings.TrimPrefix(candidate, s.bucket+"/")
		candidate = strings.TrimPrefix(candidate, "/")
		if candidate != "" {
			return candidate, true
		}
	}

	target, err := url.Parse(trimmed)
	if err != nil {
		return "", false
	}
	baseURL, err := url.Parse(base)
	if err == nil && baseURL.Host != "" && baseURL.Host == target.Host {
		candidate := strings.TrimPrefix(target.Path, "/")
		candidate = strings.TrimPrefix(candidate, s.bucket+"/")
		candidate = strings.TrimPrefix(candidate, "/")
		if candidate != "" {
			return candidate, true
		}
	}

	if !strings.Contains(trimmed, "://") {
		candidate := strings.TrimPrefix(trimmed, "/")
		candidate = strings.TrimPrefix(candidate, s.bucket+"/")
		candidate = strings.TrimPrefix(candidate, "/")
		if candidate != "" {
			return candidate, true
		}
	}

	return "", false
}
