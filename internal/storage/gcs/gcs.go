// Package gcs stores blobs as objects in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	blobstore "neurogallery/internal/storage"
)

type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

// New connects to bucket. A non-empty endpoint points the client at an
// emulator without authentication.
func New(ctx context.Context, bucket, prefix, endpoint string) (*Store, error) {
	var opts []option.ClientOption
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}

	return &Store{
		client: client,
		bucket: client.Bucket(bucket),
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (s *Store) Save(ctx context.Context, key string, r io.Reader) error {
	if err := blobstore.ValidateKey(key); err != nil {
		return err
	}

	// Cancelling the writer's context aborts the upload; Close would
	// finalize whatever was written so far.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.bucket.Object(s.objectName(key)).NewWriter(ctx)
	w.ContentType = mime.TypeByExtension(filepath.Ext(key))

	if _, err := io.Copy(w, r); err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", key, err)
	}
	return nil
}

func (s *Store) Open(ctx context.Context, key string) (*blobstore.Object, error) {
	if err := blobstore.ValidateKey(key); err != nil {
		return nil, err
	}

	r, err := s.bucket.Object(s.objectName(key)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, blobstore.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	return &blobstore.Object{
		Body:        r,
		Size:        r.Attrs.Size,
		ContentType: r.Attrs.ContentType,
	}, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := blobstore.ValidateKey(key); err != nil {
		return err
	}
	err := s.bucket.Object(s.objectName(key)).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) objectName(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}
