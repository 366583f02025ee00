// Package registry holds the in-memory photo log for the lifetime of the process.
package registry

import (
	"sync"

	"neurogallery/internal/models"
)

// Registry is an append-only, insertion-ordered list of photos.
type Registry struct {
	mu     sync.RWMutex
	photos []models.Photo
}

func New() *Registry {
	return &Registry{}
}

// Append adds a photo and returns the new size.
func (r *Registry) Append(p models.Photo) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.photos = append(r.photos, p)
	return len(r.photos)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.photos)
}

// Snapshot returns a copy of all photos in insertion order.
func (r *Registry) Snapshot() []models.Photo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Photo, len(r.photos))
	copy(out, r.photos)
	return out
}

// Filter returns the photos matching keep, in insertion order.
func (r *Registry) Filter(keep func(models.Photo) bool) []models.Photo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Photo, 0, len(r.photos))
	for _, p := range r.photos {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out
}

// References reports whether any photo uses key as its blob or thumbnail.
func (r *Registry) References(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.photos {
		if p.Key == key || p.ThumbKey == key {
			return true
		}
	}
	return false
}
