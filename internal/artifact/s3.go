package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"narrate/internal/config"
	"narrate/internal/logging"
)

// S3Store uploads videos to an S3 bucket.
type S3Store struct {
	client s3iface.S3API
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Store builds a store from the storage configuration. Credentials come
// from the default AWS chain.
func NewS3Store(cfg config.Storage, logger *slog.Logger) (*S3Store, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.S3Region)}
	if endpoint := strings.TrimSpace(cfg.S3Endpoint); endpoint != "" {
		awsCfg.Endpoint = aws.String(endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return NewS3StoreWithClient(s3.New(sess), cfg.S3Bucket, cfg.S3Prefix, logger), nil
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client s3iface.S3API, bucket, prefix string, logger *slog.Logger) *S3Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &S3Store{
		client: client,
		bucket: strings.TrimSpace(bucket),
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
		logger: logging.NewComponentLogger(logger, "artifact-s3"),
	}
}

func (s *S3Store) key(projectID int64, runID string) string {
	name := objectName(projectID, runID)
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Publish uploads source and returns its object key.
func (s *S3Store) Publish(ctx context.Context, projectID int64, runID, source string) (Location, error) {
	file, err := os.Open(source)
	if err != nil {
		return Location{}, fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	key := s.key(projectID, runID)
	started := time.Now()
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("video/mp4"),
	})
	if err != nil {
		return Location{}, fmt.Errorf("upload s3://%s/%s: %w", s.bucket, key, err)
	}
	logging.WithContext(ctx, s.logger).Info("artifact uploaded",
		logging.String(logging.FieldEventType, "artifact_uploaded"),
		logging.String("bucket", s.bucket),
		logging.String("key", key),
		logging.Duration("elapsed", time.Since(started)),
	)
	return Location{Key: key}, nil
}

// Remove deletes the object named by loc.Key.
func (s *S3Store) Remove(ctx context.Context, loc Location) error {
	key := strings.TrimSpace(loc.Key)
	if key == "" {
		return nil
	}
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// Presign returns a time-limited download URL for loc.
func (s *S3Store) Presign(loc Location, ttl time.Duration) (string, error) {
	key := strings.TrimSpace(loc.Key)
	if key == "" {
		return "", fmt.Errorf("artifact has no object key")
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(ttl)
	if err != nil {
		return "", fmt.Errorf("presign s3://%s/%s: %w", s.bucket, key, err)
	}
	return url, nil
}
