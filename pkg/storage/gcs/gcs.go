package gcs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	blobstorage "github.com/Ingenimax/workflow-engine/pkg/storage"
)

func init() {
	blobstorage.NewGCSStorage = New
}

// Storage implements BlobStorage on Google Cloud Storage
type Storage struct {
	client              *storage.Client
	bucket              string
	prefix              string
	signedURLExpiration time.Duration
	useSignedURLs       bool
}

// New creates a GCS storage backend
func New(cfg blobstorage.GCSConfig) (blobstorage.BlobStorage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("GCS bucket name is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		//nolint:staticcheck // SA1019: programmatic credentials
		opts = append(opts, option.WithCredentialsJSON([]byte(parseCredentialsJSON(cfg.CredentialsJSON))))
	} else if cfg.CredentialsFile != "" {
		//nolint:staticcheck // SA1019: file based credentials
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client, e.g. one pointed at an emulator
func NewWithClient(client *storage.Client, cfg blobstorage.GCSConfig) *Storage {
	s := &Storage{
		client:              client,
		bucket:              cfg.Bucket,
		prefix:              strings.Trim(cfg.Prefix, "/"),
		signedURLExpiration: cfg.SignedURLExpiration,
		useSignedURLs:       cfg.UseSignedURLs,
	}
	if s.signedURLExpiration == 0 {
		s.signedURLExpiration = 24 * time.Hour
	}
	return s
}

// Name returns the storage backend name
func (s *Storage) Name() string {
	return "gcs"
}

// Store writes data to prefix/orgID/workflowID/name
func (s *Storage) Store(ctx context.Context, data []byte, metadata blobstorage.ObjectMetadata) (string, error) {
	if metadata.Name == "" {
		return "", fmt.Errorf("object name is required")
	}

	objectPath := blobstorage.ObjectPath(s.prefix, metadata)
	wc := s.client.Bucket(s.bucket).Object(objectPath).NewWriter(ctx)
	wc.ContentType = metadata.ContentType
	if wc.ContentType == "" {
		wc.ContentType = "application/json"
	}

	wc.Metadata = map[string]string{}
	for k, v := range metadata.Tags {
		wc.Metadata[k] = v
	}
	if metadata.OrgID != "" {
		wc.Metadata["org_id"] = metadata.OrgID
	}
	if metadata.WorkflowID != "" {
		wc.Metadata["workflow_id"] = metadata.WorkflowID
	}

	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer: %w", err)
	}

	if s.useSignedURLs {
		return s.signedURL(objectPath), nil
	}
	return s.publicURL(objectPath), nil
}

// Delete removes an object
func (s *Storage) Delete(ctx context.Context, location string) error {
	objectPath := s.objectPath(location)
	if objectPath == "" {
		return fmt.Errorf("invalid URL or object path")
	}

	err := s.client.Bucket(s.bucket).Object(objectPath).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete from GCS: %w", err)
	}
	return nil
}

// Get reads an object
func (s *Storage) Get(ctx context.Context, location string) ([]byte, error) {
	objectPath := s.objectPath(location)
	if objectPath == "" {
		return nil, fmt.Errorf("invalid URL or object path")
	}

	rc, err := s.client.Bucket(s.bucket).Object(objectPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, blobstorage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to read from GCS: %w", err)
	}
	defer func() {
		_ = rc.Close()
	}()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read object data: %w", err)
	}
	return data, nil
}

func (s *Storage) publicURL(objectPath string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, objectPath)
}

// signedURL falls back to the public URL when signing is not possible
func (s *Storage) signedURL(objectPath string) string {
	url, err := s.client.Bucket(s.bucket).SignedURL(objectPath, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(s.signedURLExpiration),
	})
	if err != nil {
		return s.publicURL(objectPath)
	}
	return url
}

// objectPath extracts the object path from a URL. Plain paths are relative
// to the configured prefix unless they already carry it.
func (s *Storage) objectPath(location string) string {
	if !strings.HasPrefix(location, "http") {
		if s.prefix != "" && !strings.HasPrefix(location, s.prefix+"/") {
			return blobstorage.JoinPath(s.prefix, location)
		}
		return location
	}

	marker := s.bucket + "/"
	idx := strings.Index(location, marker)
	if idx < 0 {
		return ""
	}
	path := location[idx+len(marker):]
	if q := strings.Index(path, "?"); q != -1 {
		path = path[:q]
	}
	return path
}

// parseCredentialsJSON accepts base64 encoded or raw JSON credentials
func parseCredentialsJSON(creds string) string {
	if decoded, err := base64.StdEncoding.DecodeString(creds); err == nil {
		if len(decoded) > 0 && decoded[0] == '{' {
			return string(decoded)
		}
	}
	return creds
}
