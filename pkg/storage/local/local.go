package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Ingenimax/workflow-engine/pkg/storage"
)

func init() {
	storage.NewLocalStorage = New
}

// Storage implements BlobStorage on the local filesystem
type Storage struct {
	basePath string
	baseURL  string
}

// Option represents an option for configuring local storage
type Option func(*Storage)

// WithPath sets the base directory
func WithPath(path string) Option {
	return func(s *Storage) {
		s.basePath = path
	}
}

// WithBaseURL sets the URL prefix returned for stored objects
func WithBaseURL(url string) Option {
	return func(s *Storage) {
		s.baseURL = strings.TrimSuffix(url, "/")
	}
}

// New creates a local storage from configuration
func New(cfg storage.LocalConfig) (storage.BlobStorage, error) {
	return NewWithOptions(WithPath(cfg.Path), WithBaseURL(cfg.BaseURL))
}

// NewWithOptions creates a local storage with functional options
func NewWithOptions(options ...Option) (*Storage, error) {
	s := &Storage{}
	for _, opt := range options {
		opt(s)
	}
	if s.basePath == "" {
		s.basePath = filepath.Join(os.TempDir(), "workflow-runs")
	}

	if err := os.MkdirAll(s.basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return s, nil
}

// Name returns the storage backend name
func (s *Storage) Name() string {
	return "local"
}

// Store writes data under basePath/orgID/workflowID/name, replacing any
// previous object with the same name
func (s *Storage) Store(_ context.Context, data []byte, metadata storage.ObjectMetadata) (string, error) {
	if metadata.Name == "" {
		return "", fmt.Errorf("object name is required")
	}

	rel := storage.ObjectPath("", metadata)
	filePath := filepath.Join(s.basePath, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		return "", fmt.Errorf("failed to move object into place: %w", err)
	}

	if s.baseURL != "" {
		return s.baseURL + "/" + rel, nil
	}
	return filePath, nil
}

// Delete removes an object
func (s *Storage) Delete(_ context.Context, location string) error {
	filePath := s.resolve(location)
	if filePath == "" {
		return fmt.Errorf("invalid URL or file path")
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Get reads an object
func (s *Storage) Get(_ context.Context, location string) ([]byte, error) {
	filePath := s.resolve(location)
	if filePath == "" {
		return nil, fmt.Errorf("invalid URL or file path")
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// resolve maps a URL, absolute path or relative object path to a file path
// inside basePath
func (s *Storage) resolve(location string) string {
	if location == "" {
		return ""
	}
	if filepath.IsAbs(location) {
		return location
	}
	if s.baseURL != "" && strings.HasPrefix(location, s.baseURL) {
		location = strings.TrimPrefix(strings.TrimPrefix(location, s.baseURL), "/")
	}
	if strings.Contains(location, "..") {
		return ""
	}
	return filepath.Join(s.basePath, filepath.FromSlash(location))
}
