// Package storage holds blob backends used to archive finished runs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrObjectNotFound is returned by Get when the object does not exist
var ErrObjectNotFound = errors.New("object not found")

// BlobStorage stores opaque documents such as archived run records
type BlobStorage interface {
	// Store saves data and returns its location (a URL or path)
	Store(ctx context.Context, data []byte, metadata ObjectMetadata) (string, error)

	// Get retrieves data by location or object name
	Get(ctx context.Context, location string) ([]byte, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, location string) error

	// Name returns the storage backend name
	Name() string
}

// ObjectMetadata describes a stored object. OrgID and WorkflowID become path
// segments, Name the final object name.
type ObjectMetadata struct {
	OrgID       string
	WorkflowID  string
	Name        string
	ContentType string
	Tags        map[string]string
	CreatedAt   time.Time
}

// Config contains configuration for storage backends
type Config struct {
	// Type is the storage backend type ("local", "gcs")
	Type string

	Local LocalConfig
	GCS   GCSConfig
}

// LocalConfig contains configuration for local filesystem storage
type LocalConfig struct {
	// Path is the base directory for stored objects
	Path string

	// BaseURL is the URL prefix for stored objects (optional).
	// If empty, file paths are returned instead of URLs.
	BaseURL string
}

// GCSConfig contains configuration for Google Cloud Storage
type GCSConfig struct {
	Bucket string
	Prefix string

	// CredentialsFile is the path to a service account JSON file (optional).
	// If empty, Application Default Credentials are used.
	CredentialsFile string

	// CredentialsJSON is raw or base64 encoded service account JSON and
	// takes precedence over CredentialsFile
	CredentialsJSON string

	// SignedURLExpiration is the lifetime of signed URLs (default: 24h)
	SignedURLExpiration time.Duration
	UseSignedURLs       bool
}

// NewStorageFromConfig creates a storage backend from configuration. The
// backend package must be imported for its factory to be registered.
func NewStorageFromConfig(cfg Config) (BlobStorage, error) {
	switch cfg.Type {
	case "local", "":
		if NewLocalStorage == nil {
			return nil, fmt.Errorf("local storage backend is not linked")
		}
		return NewLocalStorage(cfg.Local)
	case "gcs":
		if NewGCSStorage == nil {
			return nil, fmt.Errorf("gcs storage backend is not linked")
		}
		return NewGCSStorage(cfg.GCS)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}

// NewLocalStorage is set by the local package
var NewLocalStorage func(cfg LocalConfig) (BlobStorage, error)

// NewGCSStorage is set by the gcs package
var NewGCSStorage func(cfg GCSConfig) (BlobStorage, error)

// ObjectPath joins the sanitized metadata segments with forward slashes
func ObjectPath(prefix string, metadata ObjectMetadata) string {
	p := prefix
	for _, seg := range []string{metadata.OrgID, metadata.WorkflowID, metadata.Name} {
		if seg != "" {
			p = JoinPath(p, SanitizePath(seg))
		}
	}
	return p
}

// SanitizePath removes potentially dangerous characters from a path component
func SanitizePath(s string) string {
	for _, bad := range []string{"..", "/", "\\", ":"} {
		s = strings.ReplaceAll(s, bad, "_")
	}
	return s
}

// JoinPath joins path components with forward slashes
func JoinPath(base, path string) string {
	if base == "" {
		return path
	}
	if path == "" {
		return base
	}
	return base + "/" + path
}
