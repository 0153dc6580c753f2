package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/vidfriends/mediahub/internal/config"
	"github.com/vidfriends/mediahub/internal/ids"
	"github.com/vidfriends/mediahub/internal/logging"
	"github.com/vidfriends/mediahub/internal/models"
)

var (
	// ErrEmptyPath indicates an upload was requested without a local file.
	ErrEmptyPath = errors.New("media store: local path is required")
	// ErrEmptyRemoteID indicates a delete was requested without a remote identifier.
	ErrEmptyRemoteID = errors.New("media store: remote id is required")
	// ErrKindMismatch indicates the remote identifier does not belong to the requested kind.
	ErrKindMismatch = errors.New("media store: remote id does not match asset kind")
)

// Asset describes a file stored remotely by the media store.
type Asset struct {
	RemoteID        string
	URL             string
	DurationSeconds float64
	Size            int64
}

// Ref converts the asset into the reference persisted on entities.
func (a Asset) Ref() models.AssetRef {
	return models.AssetRef{RemoteID: a.RemoteID, URL: a.URL}
}

// DurationProber derives the playback length of a local media file.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type objectDeleter interface {
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3MediaStore uploads local files to an S3-compatible bucket and deletes them
// by remote identifier. Every call is bounded by the configured timeout.
type S3MediaStore struct {
	uploader objectUploader
	deleter  objectDeleter
	prober   DurationProber
	bucket   string
	baseURL  string
	timeout  time.Duration
}

// NewS3MediaStore configures a media store targeting the provided object store.
// prober may be nil, in which case uploaded videos report a zero duration.
func NewS3MediaStore(ctx context.Context, cfg config.ObjectStoreConfig, prober DurationProber) (*S3MediaStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 storage: bucket is required")
	}

	client, err := NewS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
		u.LeavePartsOnError = false
	})

	return newS3MediaStore(uploader, client, prober, cfg), nil
}

// NewS3Client builds the S3 client described by cfg.
func NewS3Client(ctx context.Context, cfg config.ObjectStoreConfig) (*s3.Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func newS3MediaStore(uploader objectUploader, deleter objectDeleter, prober DurationProber, cfg config.ObjectStoreConfig) *S3MediaStore {
	timeout := cfg.OperationTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &S3MediaStore{
		uploader: uploader,
		deleter:  deleter,
		prober:   prober,
		bucket:   cfg.Bucket,
		baseURL:  strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		timeout:  timeout,
	}
}

// Upload stores the file at localPath under a fresh key for kind. The local
// file is removed on every return path, whether or not the upload succeeded.
func (s *S3MediaStore) Upload(ctx context.Context, localPath string, kind models.AssetKind) (asset Asset, err error) {
	if strings.TrimSpace(localPath) == "" {
		return Asset{}, ErrEmptyPath
	}

	logger := logging.FromContext(ctx)
	defer func() {
		if rmErr := os.Remove(localPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			logger.Warn("remove staged upload", slog.String("path", localPath), slog.Any("error", rmErr))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	file, err := os.Open(localPath)
	if err != nil {
		return Asset{}, fmt.Errorf("open staged upload: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Asset{}, fmt.Errorf("stat staged upload: %w", err)
	}

	var duration float64
	if kind == models.AssetKindVideo && s.prober != nil {
		duration, err = s.prober.Duration(ctx, localPath)
		if err != nil {
			return Asset{}, fmt.Errorf("probe video duration: %w", err)
		}
	}

	ext := strings.ToLower(filepath.Ext(localPath))
	key := fmt.Sprintf("%s/%s%s", folder(kind), ids.New(), ext)

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   file,
		ACL:    s3types.ObjectCannedACLPublicRead,
	}
	if contentType := mime.TypeByExtension(ext); contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return Asset{}, fmt.Errorf("s3 storage upload %s: %w", key, err)
	}

	logger.Info("media uploaded", slog.String("key", key), slog.String("kind", string(kind)), slog.Int64("bytes", info.Size()))
	return Asset{
		RemoteID:        key,
		URL:             s.publicURL(key),
		DurationSeconds: duration,
		Size:            info.Size(),
	}, nil
}

// Delete removes the remote object identified by remoteID.
func (s *S3MediaStore) Delete(ctx context.Context, remoteID string, kind models.AssetKind) error {
	key := strings.TrimLeft(strings.TrimSpace(remoteID), "/")
	if key == "" {
		return ErrEmptyRemoteID
	}
	if !strings.HasPrefix(key, folder(kind)+"/") {
		return fmt.Errorf("%w: %s is not a %s", ErrKindMismatch, key, kind)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.deleter.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("s3 storage delete %s: %w", key, err)
	}

	logging.FromContext(ctx).Info("media deleted", slog.String("key", key), slog.String("kind", string(kind)))
	return nil
}

func (s *S3MediaStore) publicURL(key string) string {
	if s.baseURL == "" {
		return key
	}
	return fmt.Sprintf("%s/%s", s.baseURL, key)
}

func folder(kind models.AssetKind) string {
	if kind == models.AssetKindVideo {
		return "videos"
	}
	return "images"
}
