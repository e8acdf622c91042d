package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"job-lifecycle-service/internal/config"
	"job-lifecycle-service/internal/models"
)

// Storage keeps progress photo originals and thumbnails.
type Storage interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	URL(key string) string
}

// NewStorage picks S3 when a bucket is configured and a local directory otherwise.
func NewStorage(ctx context.Context, cfg config.Config) (Storage, error) {
	if cfg.MediaS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewS3Storage(client, cfg.MediaS3Bucket, cfg.MediaBaseURL), nil
	}
	return NewLocalStorage(cfg.MediaDir, cfg.MediaBaseURL), nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.MediaS3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.MediaS3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.MediaS3Endpoint)
		}
		o.UsePathStyle = cfg.MediaS3PathStyle
	}), nil
}

// LocalStorage writes objects under a base directory and serves them from baseURL.
type LocalStorage struct {
	baseDir string
	baseURL string
}

func NewLocalStorage(baseDir, baseURL string) *LocalStorage {
	if baseDir == "" {
		baseDir = "./media"
	}
	return &LocalStorage{baseDir: baseDir, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (l *LocalStorage) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	key, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	p := filepath.Join(l.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", models.Unavailable("media: create dirs", err)
	}
	if err := os.WriteFile(p, body, 0o644); err != nil {
		return "", models.Unavailable("media: write file", err)
	}
	return l.URL(key), nil
}

func (l *LocalStorage) URL(key string) string {
	key, _ = sanitizeKey(key)
	return l.baseURL + "/" + key
}

func (l *LocalStorage) Get(_ context.Context, key string) ([]byte, error) {
	key, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(l.baseDir, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("media %s: %w", key, models.ErrNotFound)
	}
	if err != nil {
		return nil, models.Unavailable("media: read file", err)
	}
	return data, nil
}

// S3Storage stores objects in a single bucket.
type S3Storage struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

func NewS3Storage(client *s3.Client, bucket, baseURL string) *S3Storage {
	return &S3Storage{client: client, bucket: bucket, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (s *S3Storage) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	key, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", models.Unavailable("media: put object", err)
	}
	return s.URL(key), nil
}

// URL uses the public base URL when one is configured and an s3:// address otherwise.
func (s *S3Storage) URL(key string) string {
	key, _ = sanitizeKey(key)
	if s.baseURL != "" && !strings.HasPrefix(s.baseURL, "/") {
		return s.baseURL + "/" + key
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

func (s *S3Storage) Get(ctx context.Context, key string) ([]byte, error) {
	key, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *s3types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("media %s: %w", key, models.ErrNotFound)
		}
		return nil, models.Unavailable("media: get object", err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, models.Unavailable("media: read object", err)
	}
	return data, nil
}

// OriginalKey is where an uploaded photo is kept before processing.
func OriginalKey(chatID, taskID, ext string) string {
	return path.Join("photos", chatID, taskID+"."+ext)
}

// ThumbnailKey is where the processed thumbnail of a task lands.
func ThumbnailKey(chatID, taskID, ext string) string {
	return path.Join("photos", chatID, "thumb_"+taskID+"."+ext)
}

func sanitizeKey(key string) (string, error) {
	key = path.Clean("/" + filepath.ToSlash(key))
	key = strings.TrimPrefix(key, "/")
	if key == "" || key == "." {
		return "", models.Invalid("empty media key")
	}
	return key, nil
}
