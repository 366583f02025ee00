// Package storage persists uploaded image blobs by key.
package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"
)

var (
	ErrNotFound   = errors.New("storage: object not found")
	ErrInvalidKey = errors.New("storage: invalid key")
)

var keyPattern = regexp.MustCompile(`^[0-9a-f]{32}(_thumb)?(\.[a-z0-9]{1,10})?$`)

// Object is an opened blob. The caller closes Body.
type Object struct {
	Body        io.ReadCloser
	Size        int64
	ContentType string
}

// Store saves and serves blobs. Saving an existing key overwrites it.
type Store interface {
	Save(ctx context.Context, key string, r io.Reader) error
	Open(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
	Close() error
}

// KeyFor derives the storage key for an upload: a BLAKE2b content hash plus
// the normalized extension of the client file name.
func KeyFor(data []byte, filename string) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:16]) + normalizeExt(filename)
}

// ThumbKey is the key of the WebP thumbnail for key.
func ThumbKey(key string) string {
	base := strings.TrimSuffix(key, filepath.Ext(key))
	return base + "_thumb.webp"
}

// ValidateKey rejects anything that is not a key produced by KeyFor or ThumbKey.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return ErrInvalidKey
	}
	return nil
}

// imageExts are the extensions a key may carry. Anything else is stored
// without one and served as application/octet-stream.
var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".bmp": true, ".tif": true, ".tiff": true, ".avif": true, ".heic": true,
}

func normalizeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return ""
	}
	var b strings.Builder
	b.WriteByte('.')
	for _, r := range ext[1:] {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if !imageExts[out] {
		return ""
	}
	return out
}
