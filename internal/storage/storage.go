// Package storage keeps uploaded PDF bytes behind a URL-addressed file
// system: local disk, memory, or S3-compatible buckets.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	_ "github.com/viant/afsc/s3"

	"docuflow/internal/config"
	"docuflow/internal/models"
)

// Store implements ports.ObjectStore. References are relative object keys
// such as "<document_id>.pdf" resolved against the base URL.
type Store struct {
	fs      afs.Service
	baseURL string
	timeout time.Duration
}

func New(cfg config.StorageConfig) *Store {
	s := &Store{fs: afs.New(), baseURL: strings.TrimRight(cfg.BaseURL, "/"), timeout: cfg.Timeout}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	return s
}

// ObjectKey is the reference a document's bytes are stored under.
func ObjectKey(documentID string) string {
	return documentID + ".pdf"
}

// URL resolves ref against the base URL.
func (s *Store) URL(ref string) (string, error) {
	clean := path.Clean("/" + ref)
	if ref == "" || clean == "/" || strings.Contains(ref, "..") {
		return "", fmt.Errorf("bad object reference %q: %w", ref, models.ErrInvalidInput)
	}
	return url.Join(s.baseURL, strings.TrimPrefix(clean, "/")), nil
}

func (s *Store) Fetch(ctx context.Context, ref string) ([]byte, error) {
	URL, err := s.URL(ref)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	exists, err := s.fs.Exists(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrStorageUnavailable, URL, err)
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", URL, models.ErrNotFound)
	}
	data, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", models.ErrStorageUnavailable, URL, err)
	}
	return data, nil
}

func (s *Store) Put(ctx context.Context, ref string, data []byte) error {
	URL, err := s.URL(ref)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.fs.Upload(ctx, URL, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w: upload %s: %w", models.ErrStorageUnavailable, URL, err)
	}
	return nil
}

// Ping checks that the base location answers.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.fs.Exists(ctx, s.baseURL); err != nil {
		return fmt.Errorf("%w: %w", models.ErrStorageUnavailable, err)
	}
	return nil
}
