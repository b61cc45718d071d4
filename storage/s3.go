package storage

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
)

var ErrNotConfigured = errors.New("S3 storage is not configured")

// StorageService uploads generated files (dispatch manifests) and hands out
// presigned download links. Objects stay private.
type StorageService struct {
	s3Client *s3.S3
	bucket   string
	now      func() time.Time
}

// NewStorageService creates a new storage service. Empty static credentials
// fall back to the default AWS chain.
func NewStorageService(region, accessKeyID, secretAccessKey, bucket string) (*StorageService, error) {
	if bucket == "" {
		return nil, ErrNotConfigured
	}
	cfg := &aws.Config{Region: aws.String(region)}
	if accessKeyID != "" && secretAccessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKeyID, secretAccessKey, "")
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %v", err)
	}

	return &StorageService{
		s3Client: s3.New(sess),
		bucket:   bucket,
		now:      time.Now,
	}, nil
}

// ObjectKey builds folder/YYYY/MM/DD/<random>-<name>.
func (s *StorageService) ObjectKey(folder, name string) string {
	now := s.now()
	randomID := uuid.New().String()[:8]
	return fmt.Sprintf("%s/%d/%02d/%02d/%s-%s",
		strings.Trim(folder, "/"),
		now.Year(),
		now.Month(),
		now.Day(),
		randomID,
		path.Base(name),
	)
}

// UploadBytes stores body under key.
func (s *StorageService) UploadBytes(key string, body []byte, contentType string) error {
	if s == nil || s.s3Client == nil {
		return ErrNotConfigured
	}
	_, err := s.s3Client.PutObject(&s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %v", err)
	}
	return nil
}

// PresignGet returns a time-limited download URL for key.
func (s *StorageService) PresignGet(key string, expires time.Duration) (string, error) {
	if s == nil || s.s3Client == nil {
		return "", ErrNotConfigured
	}
	if expires <= 0 {
		expires = time.Hour
	}
	req, _ := s.s3Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return req.Presign(expires)
}

// DeleteFile deletes an object from S3
func (s *StorageService) DeleteFile(key string) error {
	if s == nil || s.s3Client == nil {
		return ErrNotConfigured
	}
	_, err := s.s3Client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

// ContentType returns the MIME type for a file extension.
func ContentType(name string) string {
	switch strings.ToLower(strings.TrimPrefix(path.Ext(name), ".")) {
	case "xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "zip":
		return "application/zip"
	case "csv":
		return "text/csv"
	case "json":
		return "application/json"
	case "pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
