package services

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"neurogallery/internal/classifier"
	"neurogallery/internal/logger"
	"neurogallery/internal/models"
	"neurogallery/internal/registry"
	"neurogallery/internal/storage"
	"neurogallery/internal/vision"
)

const DefaultTitle = "Untitled"

// Publisher receives every photo appended to the gallery.
type Publisher interface {
	Publish(photo models.Photo)
}

type ThumbnailOptions struct {
	Width   int
	Height  int
	Quality int
}

type GalleryOptions struct {
	// Classifier is nil when classification happens in the browser.
	Classifier      classifier.Classifier
	ClassifyTimeout time.Duration
	Thumbnails      ThumbnailOptions
	Publisher       Publisher
}

type GalleryService struct {
	store      storage.Store
	registry   *registry.Registry
	classifier classifier.Classifier
	timeout    time.Duration
	thumbs     ThumbnailOptions
	publisher  Publisher
	now        func() time.Time

	// inflight counts uploads per key between Save and Append.
	mu       sync.Mutex
	inflight map[string]int
}

func NewGalleryService(store storage.Store, reg *registry.Registry, opts GalleryOptions) *GalleryService {
	if opts.ClassifyTimeout <= 0 {
		opts.ClassifyTimeout = time.Minute
	}
	if opts.Thumbnails.Width <= 0 || opts.Thumbnails.Height <= 0 {
		opts.Thumbnails.Width, opts.Thumbnails.Height = 560, 400
	}
	if opts.Thumbnails.Quality <= 0 {
		opts.Thumbnails.Quality = 80
	}
	return &GalleryService{
		store:      store,
		registry:   reg,
		classifier: opts.Classifier,
		timeout:    opts.ClassifyTimeout,
		thumbs:     opts.Thumbnails,
		publisher:  opts.Publisher,
		now:        time.Now,
		inflight:   make(map[string]int),
	}
}

// ServerSide reports whether uploads are classified by this process.
func (s *GalleryService) ServerSide() bool {
	return s.classifier != nil
}

// Upload stores, classifies and records one photo. It returns (nil, nil)
// when the request carries no file name or no data.
func (s *GalleryService) Upload(ctx context.Context, req models.UploadRequest) (*models.Photo, error) {
	if req.Filename == "" || len(req.Data) == 0 {
		logger.Debug(ctx, "upload ignored: no photo")
		return nil, nil
	}

	key := storage.KeyFor(req.Data, req.Filename)
	s.acquire(key)
	if err := s.store.Save(ctx, key, bytes.NewReader(req.Data)); err != nil {
		s.release(ctx, key, true)
		return nil, fmt.Errorf("failed to store photo: %w", err)
	}

	pred, verified, err := s.classify(ctx, req)
	if err != nil {
		s.release(ctx, key, true)
		return nil, fmt.Errorf("failed to classify photo: %w", err)
	}

	photo := models.Photo{
		ID:         uuid.New().String(),
		Title:      titleOrDefault(req.Title),
		Filename:   req.Filename,
		Key:        key,
		ThumbKey:   s.thumbnail(ctx, key, req.Data),
		Tag:        pred.Label,
		Confidence: pred.Confidence,
		Verified:   verified,
		CreatedAt:  s.now().UTC(),
	}

	size := s.registry.Append(photo)
	s.release(ctx, key, false)
	logger.Info(ctx, "photo added", logger.Fields{
		"id":         photo.ID,
		"key":        photo.Key,
		"tag":        photo.Tag,
		"confidence": photo.Confidence,
		"verified":   photo.Verified,
		"gallery":    size,
	})

	if s.publisher != nil {
		s.publisher.Publish(photo)
	}
	return &photo, nil
}

func (s *GalleryService) classify(ctx context.Context, req models.UploadRequest) (*models.Prediction, bool, error) {
	if s.classifier == nil {
		return SanitizeHint(req.Hint), false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pred, err := s.classifier.Classify(ctx, req.Data)
	if err != nil {
		return nil, false, err
	}

	if req.Hint != nil && req.Hint.Tag != "" && !strings.EqualFold(strings.TrimSpace(req.Hint.Tag), pred.Label) {
		logger.Info(ctx, "browser hint ignored", logger.Fields{
			"hint":       req.Hint.Tag,
			"classified": pred.Label,
			"classifier": s.classifier.Name(),
		})
	}
	return pred, true, nil
}

func (s *GalleryService) acquire(key string) {
	s.mu.Lock()
	s.inflight[key]++
	s.mu.Unlock()
}

// release ends one upload of key. A failed upload removes the blob when no
// other upload of the same content is in flight and no photo points at it.
// The delete runs under the lock so a new upload of that key cannot Save
// before it completes.
func (s *GalleryService) release(ctx context.Context, key string, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inflight[key]--
	if s.inflight[key] > 0 {
		return
	}
	delete(s.inflight, key)
	if !failed || s.registry.References(key) {
		return
	}
	if err := s.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		logger.Error(ctx, "failed to remove orphaned upload", err, logger.Fields{"key": key})
	}
}

// thumbnail stores a WebP preview and returns its key, or "" when the
// image cannot be decoded or stored.
func (s *GalleryService) thumbnail(ctx context.Context, key string, data []byte) string {
	img, err := vision.Decode(data)
	if err != nil {
		logger.Warn(ctx, "thumbnail skipped", logger.Fields{"key": key, "reason": err.Error()})
		return ""
	}

	var buf bytes.Buffer
	thumb := vision.Thumbnail(img, s.thumbs.Width, s.thumbs.Height)
	if err := vision.EncodeWebP(&buf, thumb, s.thumbs.Quality); err != nil {
		logger.Error(ctx, "failed to encode thumbnail", err, logger.Fields{"key": key})
		return ""
	}

	thumbKey := storage.ThumbKey(key)
	if err := s.store.Save(ctx, thumbKey, &buf); err != nil {
		logger.Error(ctx, "failed to store thumbnail", err, logger.Fields{"key": thumbKey})
		return ""
	}
	return thumbKey
}

// Search returns photos whose tag or title contains query, ignoring case,
// in insertion order. An empty query matches everything.
func (s *GalleryService) Search(query string) []models.Photo {
	q := strings.ToLower(query)
	return s.registry.Filter(func(p models.Photo) bool {
		return strings.Contains(strings.ToLower(p.Tag), q) ||
			strings.Contains(strings.ToLower(p.Title), q)
	})
}

// Gallery returns the photos to render, newest first, optionally filtered.
func (s *GalleryService) Gallery(query string) []models.Photo {
	var photos []models.Photo
	if query == "" {
		photos = s.registry.Snapshot()
	} else {
		photos = s.Search(query)
	}
	return NewestFirst(photos)
}

func (s *GalleryService) Count() int {
	return s.registry.Len()
}

// NewestFirst reverses photos in place and returns it.
func NewestFirst(photos []models.Photo) []models.Photo {
	slices.Reverse(photos)
	return photos
}

func titleOrDefault(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return DefaultTitle
	}
	return title
}
