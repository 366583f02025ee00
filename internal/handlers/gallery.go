package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"neurogallery/internal/logger"
	"neurogallery/internal/models"
	"neurogallery/internal/services"
	"neurogallery/internal/storage"
)

// PhotoView is a photo as the page and the JSON API present it.
type PhotoView struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Filename   string    `json:"filename"`
	Tag        string    `json:"tag"`
	Confidence string    `json:"confidence"`
	Verified   bool      `json:"verified"`
	URL        string    `json:"url"`
	ThumbURL   string    `json:"thumb_url"`
	CreatedAt  time.Time `json:"created_at"`
}

func NewPhotoView(p models.Photo) PhotoView {
	v := PhotoView{
		ID:         p.ID,
		Title:      p.Title,
		Filename:   p.Filename,
		Tag:        p.Tag,
		Confidence: p.ConfidenceLabel(),
		Verified:   p.Verified,
		URL:        "/uploads/" + p.Key,
		ThumbURL:   "/uploads/" + p.Key,
		CreatedAt:  p.CreatedAt,
	}
	if p.ThumbKey != "" {
		v.ThumbURL = "/uploads/" + p.ThumbKey
	}
	return v
}

func photoViews(photos []models.Photo) []PhotoView {
	out := make([]PhotoView, len(photos))
	for i, p := range photos {
		out[i] = NewPhotoView(p)
	}
	return out
}

// GalleryPage is the data behind the gallery template.
type GalleryPage struct {
	Photos  []PhotoView
	Query   string
	Total   int
	Browser bool
}

func renderGallery(c *fiber.Ctx, gallery *services.GalleryService, query string) error {
	return c.Render("gallery", GalleryPage{
		Photos:  photoViews(gallery.Gallery(query)),
		Query:   query,
		Total:   gallery.Count(),
		Browser: !gallery.ServerSide(),
	})
}

// IndexHandler renders the gallery, newest first, filtered by ?q= when given.
func IndexHandler(gallery *services.GalleryService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return renderGallery(c, gallery, c.Query("q"))
	}
}

// SubmitHandler handles the gallery form: a search when the form carries a
// "search" field, an upload otherwise.
func SubmitHandler(gallery *services.GalleryService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if query, ok := formValue(c, "search"); ok {
			return renderGallery(c, gallery, strings.TrimSpace(query))
		}

		ctx := requestContext(c)
		req, err := uploadRequest(c)
		if err != nil {
			logger.Error(ctx, "failed to read upload", err)
			return fiber.NewError(http.StatusBadRequest, "failed to read photo")
		}
		if _, err := gallery.Upload(ctx, req); err != nil {
			logger.Error(ctx, "upload failed", err, logger.Fields{"filename": req.Filename})
			return fiber.NewError(http.StatusInternalServerError, "failed to process photo")
		}
		return renderGallery(c, gallery, "")
	}
}

// UploadsHandler streams a stored blob by key.
func UploadsHandler(store storage.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Params("key")
		obj, err := store.Open(requestContext(c), key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
				return fiber.ErrNotFound
			}
			logger.Error(requestContext(c), "failed to open upload", err, logger.Fields{"key": key})
			return fiber.ErrInternalServerError
		}

		switch ext := strings.TrimPrefix(filepath.Ext(key), "."); {
		case obj.ContentType != "":
			c.Set(fiber.HeaderContentType, obj.ContentType)
		case ext != "":
			c.Type(ext)
		default:
			c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
		}
		// Keys are content hashes, so a key never changes meaning.
		c.Set(fiber.HeaderCacheControl, "public, max-age=31536000, immutable")
		c.Set(fiber.HeaderXContentTypeOptions, "nosniff")
		return c.SendStream(obj.Body, int(obj.Size))
	}
}

// ListPhotosHandler returns the gallery as JSON, newest first.
func ListPhotosHandler(gallery *services.GalleryService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		photos := photoViews(gallery.Gallery(c.Query("q")))
		return c.JSON(fiber.Map{"photos": photos, "count": len(photos)})
	}
}

// CreatePhotoHandler uploads a photo (field name: "photo") and returns the record.
func CreatePhotoHandler(gallery *services.GalleryService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := requestContext(c)
		req, err := uploadRequest(c)
		if err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "failed to read photo"})
		}
		if req.Filename == "" || len(req.Data) == 0 {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "photo file is required"})
		}

		photo, err := gallery.Upload(ctx, req)
		if err != nil {
			logger.Error(ctx, "upload failed", err, logger.Fields{"filename": req.Filename})
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "failed to process photo"})
		}
		return c.Status(http.StatusCreated).JSON(NewPhotoView(*photo))
	}
}

// HealthHandler reports liveness.
func HealthHandler(gallery *services.GalleryService, feed *FeedManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "photos": gallery.Count(), "subscribers": feed.Count()})
	}
}

// uploadRequest reads title, photo and the browser classification fields.
// A missing file is not an error; the service treats it as a no-op.
func uploadRequest(c *fiber.Ctx) (models.UploadRequest, error) {
	req := models.UploadRequest{Title: c.FormValue("title")}

	tag, hasTag := formValue(c, "ai_tag")
	conf, hasConf := formValue(c, "ai_conf")
	if hasTag || hasConf {
		req.Hint = &models.Hint{Tag: tag, Confidence: conf}
	}

	fileHeader, err := c.FormFile("photo")
	if err != nil {
		return req, nil
	}
	f, err := fileHeader.Open()
	if err != nil {
		return req, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return req, err
	}
	req.Filename = fileHeader.Filename
	req.Data = data
	return req, nil
}

// formValue reports whether key was posted at all, even empty.
func formValue(c *fiber.Ctx, key string) (string, bool) {
	if form, err := c.MultipartForm(); err == nil {
		if vals, ok := form.Value[key]; ok {
			if len(vals) == 0 {
				return "", true
			}
			return vals[0], true
		}
		return "", false
	}
	args := c.Request().PostArgs()
	if args.Has(key) {
		return string(args.Peek(key)), true
	}
	return "", false
}

func requestContext(c *fiber.Ctx) context.Context {
	id, _ := c.Locals("requestid").(string)
	return logger.WithRequestID(c.UserContext(), id)
}
