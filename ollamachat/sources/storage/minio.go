package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"ollamachat/ollamachat/config"
)

// ErrExportNotFound is returned when no archived export exists under a key.
var ErrExportNotFound = errors.New("archived export not found")

var exportNamePattern = regexp.MustCompile(`^chat_export_\d{8}_\d{6}\.json$`)

// ValidExportFilename reports whether name is one ExportFilename produces.
func ValidExportFilename(name string) bool {
	return exportNamePattern.MatchString(name)
}

// MinIOClient archives export bundles in an object store bucket.
type MinIOClient struct {
	client *minio.Client
	bucket string
}

func NewMinIOClient(ctx context.Context, cfg config.Config) (*MinIOClient, error) {
	client, err := minio.New(
		cfg.MinIOEndpoint,
		&minio.Options{
			Creds:  credentials.NewStaticV4(cfg.MinIOAccessKey, cfg.MinIOSecretKey, ""),
			Secure: cfg.MinIOSecure,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	// Create bucket if not exists
	exists, err := client.BucketExists(ctx, cfg.MinIOBucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinIOBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinIOClient{client: client, bucket: cfg.MinIOBucket}, nil
}

// ExportKey is the object key of an archived export. Reads go through the
// same key, so a session only reaches its own exports.
func ExportKey(sessionID, filename string) string {
	return path.Join("exports", sessionID, path.Base(filename))
}

func (m *MinIOClient) UploadExport(ctx context.Context, sessionID, filename string, data []byte) (string, error) {
	key := ExportKey(sessionID, filename)
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("upload export: %w", err)
	}
	return key, nil
}

// GetExport reads back an export archived for sessionID.
func (m *MinIOClient) GetExport(ctx context.Context, sessionID, filename string) ([]byte, error) {
	key := ExportKey(sessionID, filename)
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get export: %w", err)
	}
	defer obj.Close()
	if _, err := obj.Stat(); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrExportNotFound
		}
		return nil, fmt.Errorf("stat export: %w", err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	return data, nil
}
