package services

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"neurogallery/internal/models"
	"neurogallery/internal/registry"
	"neurogallery/internal/storage"
	"neurogallery/internal/storage/disk"
)

type fakeClassifier struct {
	mu    sync.Mutex
	pred  models.Prediction
	err   error
	calls int
}

func (f *fakeClassifier) Classify(ctx context.Context, data []byte) (*models.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p := f.pred
	return &p, nil
}

func (f *fakeClassifier) Name() string { return "fake" }
func (f *fakeClassifier) Close() error { return nil }

type recordingPublisher struct {
	photos []models.Photo
}

func (r *recordingPublisher) Publish(p models.Photo) { r.photos = append(r.photos, p) }

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

type fixture struct {
	svc   *GalleryService
	store *disk.Store
	reg   *registry.Registry
	cls   *fakeClassifier
	pub   *recordingPublisher
}

func newFixture(t *testing.T, serverSide bool) *fixture {
	t.Helper()
	store, err := disk.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		store: store,
		reg:   registry.New(),
		cls:   &fakeClassifier{pred: models.Prediction{Label: "Golden retriever", Confidence: 93.4}},
		pub:   &recordingPublisher{},
	}
	opts := GalleryOptions{
		Publisher:  f.pub,
		Thumbnails: ThumbnailOptions{Width: 32, Height: 24, Quality: 70},
	}
	if serverSide {
		opts.Classifier = f.cls
	}
	f.svc = NewGalleryService(store, f.reg, opts)
	return f
}

func (f *fixture) stored(t *testing.T, key string) []byte {
	t.Helper()
	obj, err := f.store.Open(context.Background(), key)
	if err != nil {
		t.Fatalf("Open(%q) failed: %v", key, err)
	}
	defer obj.Body.Close()
	data, _ := io.ReadAll(obj.Body)
	return data
}

func TestUploadAppendsExactlyOneRecord(t *testing.T) {
	f := newFixture(t, true)
	data := pngBytes(t, color.RGBA{200, 150, 50, 255})

	photo, err := f.svc.Upload(context.Background(), models.UploadRequest{
		Title: "  Rex  ", Filename: "rex.png", Data: data,
	})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if f.svc.Count() != 1 {
		t.Fatalf("Count = %d, want 1", f.svc.Count())
	}
	if photo.Title != "Rex" || photo.Filename != "rex.png" {
		t.Errorf("photo = %+v", photo)
	}
	if photo.Tag != "Golden retriever" || photo.Confidence != 93.4 || !photo.Verified {
		t.Errorf("classification not recorded: %+v", photo)
	}
	if photo.ID == "" || photo.CreatedAt.IsZero() {
		t.Errorf("missing id or timestamp: %+v", photo)
	}
	if !bytes.Equal(f.stored(t, photo.Key), data) {
		t.Error("stored blob differs from upload")
	}
	if photo.ThumbKey != storage.ThumbKey(photo.Key) {
		t.Errorf("ThumbKey = %q", photo.ThumbKey)
	}
	if len(f.stored(t, photo.ThumbKey)) == 0 {
		t.Error("thumbnail is empty")
	}
	if len(f.pub.photos) != 1 || f.pub.photos[0].ID != photo.ID {
		t.Errorf("published %v", f.pub.photos)
	}
}

func TestUploadDefaultsTitle(t *testing.T) {
	f := newFixture(t, true)
	photo, err := f.svc.Upload(context.Background(), models.UploadRequest{
		Filename: "x.png", Data: pngBytes(t, color.White),
	})
	if err != nil {
		t.Fatal(err)
	}
	if photo.Title != DefaultTitle {
		t.Errorf("Title = %q, want %q", photo.Title, DefaultTitle)
	}
}

func TestUploadWithoutPhotoIsNoop(t *testing.T) {
	f := newFixture(t, true)
	tests := []models.UploadRequest{
		{Title: "no name", Data: []byte("data")},
		{Title: "no data", Filename: "a.png"},
		{},
	}
	for _, req := range tests {
		photo, err := f.svc.Upload(context.Background(), req)
		if photo != nil || err != nil {
			t.Errorf("Upload(%+v) = (%v, %v), want (nil, nil)", req, photo, err)
		}
	}
	if f.svc.Count() != 0 {
		t.Errorf("Count = %d, want 0", f.svc.Count())
	}
	if f.cls.calls != 0 {
		t.Errorf("classifier called %d times", f.cls.calls)
	}
	entries, _ := os.ReadDir(f.store.Dir())
	if len(entries) != 0 {
		t.Errorf("storage holds %d files", len(entries))
	}
}

func TestUploadClassificationFailureLeavesNoOrphan(t *testing.T) {
	f := newFixture(t, true)
	f.cls.err = errors.New("model exploded")

	photo, err := f.svc.Upload(context.Background(), models.UploadRequest{
		Filename: "bad.png", Data: pngBytes(t, color.Black),
	})
	if err == nil || photo != nil {
		t.Fatalf("Upload = (%v, %v), want error", photo, err)
	}
	if f.svc.Count() != 0 {
		t.Errorf("Count = %d, want 0", f.svc.Count())
	}
	entries, _ := os.ReadDir(f.store.Dir())
	if len(entries) != 0 {
		t.Errorf("orphaned files left: %d", len(entries))
	}
}

func TestUploadFailureKeepsBlobStillInUse(t *testing.T) {
	f := newFixture(t, true)
	data := pngBytes(t, color.RGBA{1, 2, 3, 255})
	first, err := f.svc.Upload(context.Background(), models.UploadRequest{Filename: "a.png", Data: data})
	if err != nil {
		t.Fatal(err)
	}

	f.cls.err = errors.New("transient")
	if _, err := f.svc.Upload(context.Background(), models.UploadRequest{Filename: "b.png", Data: data}); err == nil {
		t.Fatal("second upload should fail")
	}
	if _, err := os.Stat(filepath.Join(f.store.Dir(), first.Key)); err != nil {
		t.Errorf("blob of the first photo was removed: %v", err)
	}
}

// gatedClassifier holds its first call until release is closed and fails
// every later call.
type gatedClassifier struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (g *gatedClassifier) Classify(ctx context.Context, data []byte) (*models.Prediction, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()
	if !first {
		return nil, errors.New("boom")
	}
	close(g.entered)
	<-g.release
	return &models.Prediction{Label: "Tabby", Confidence: 70}, nil
}

func (g *gatedClassifier) Name() string { return "gated" }
func (g *gatedClassifier) Close() error { return nil }

func TestUploadFailureKeepsBlobOfConcurrentUpload(t *testing.T) {
	store, err := disk.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cls := &gatedClassifier{entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewGalleryService(store, registry.New(), GalleryOptions{Classifier: cls})
	data := pngBytes(t, color.RGBA{9, 8, 7, 255})

	type result struct {
		photo *models.Photo
		err   error
	}
	done := make(chan result, 1)
	go func() {
		p, err := svc.Upload(context.Background(), models.UploadRequest{Filename: "a.png", Data: data})
		done <- result{p, err}
	}()
	<-cls.entered

	if _, err := svc.Upload(context.Background(), models.UploadRequest{Filename: "b.png", Data: data}); err == nil {
		t.Fatal("second upload should fail")
	}
	close(cls.release)

	res := <-done
	if res.err != nil {
		t.Fatalf("first upload failed: %v", res.err)
	}
	obj, err := store.Open(context.Background(), res.photo.Key)
	if err != nil {
		t.Fatalf("photo %s has no blob: %v", res.photo.Key, err)
	}
	obj.Body.Close()

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.inflight) != 0 {
		t.Errorf("inflight = %v, want empty", svc.inflight)
	}
}

func TestUploadSameNameDifferentContent(t *testing.T) {
	f := newFixture(t, true)
	a, _ := f.svc.Upload(context.Background(), models.UploadRequest{Filename: "photo.png", Data: pngBytes(t, color.White)})
	b, _ := f.svc.Upload(context.Background(), models.UploadRequest{Filename: "photo.png", Data: pngBytes(t, color.Black)})

	if a.Key == b.Key {
		t.Fatal("different content under one client name must not collide")
	}
	if bytes.Equal(f.stored(t, a.Key), f.stored(t, b.Key)) {
		t.Error("first upload was overwritten")
	}
}

func TestUploadBrowserHints(t *testing.T) {
	f := newFixture(t, false)
	if f.svc.ServerSide() {
		t.Fatal("service without classifier reports server side")
	}

	photo, err := f.svc.Upload(context.Background(), models.UploadRequest{
		Title: "Car", Filename: "car.jpg", Data: []byte("jpeg-ish bytes"),
		Hint: &models.Hint{Tag: "sports car, sport car", Confidence: "87"},
	})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if photo.Tag != "Sports car" || photo.Confidence != 87 || photo.Verified {
		t.Errorf("hint not recorded as unverified: %+v", photo)
	}
	if photo.ThumbKey != "" {
		t.Errorf("undecodable upload got thumbnail %q", photo.ThumbKey)
	}
}

func TestUploadServerIgnoresHints(t *testing.T) {
	f := newFixture(t, true)
	photo, err := f.svc.Upload(context.Background(), models.UploadRequest{
		Filename: "dog.png", Data: pngBytes(t, color.White),
		Hint: &models.Hint{Tag: "Nuclear submarine", Confidence: "100"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if photo.Tag != "Golden retriever" || !photo.Verified {
		t.Errorf("server classification overridden by hint: %+v", photo)
	}
}

func seed(t *testing.T, f *fixture, entries ...[2]string) {
	t.Helper()
	for i, e := range entries {
		f.cls.pred = models.Prediction{Label: e[1], Confidence: 50}
		data := pngBytes(t, color.RGBA{uint8(i), 0, 0, 255})
		if _, err := f.svc.Upload(context.Background(), models.UploadRequest{Title: e[0], Filename: "p.png", Data: data}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSearch(t *testing.T) {
	f := newFixture(t, true)
	seed(t, f,
		[2]string{"My dog", "Golden retriever"},
		[2]string{"Weekend", "Sports car"},
		[2]string{"CARnival", "Mask"},
	)

	got := f.svc.Search("car")
	if len(got) != 2 || got[0].Tag != "Sports car" || got[1].Title != "CARnival" {
		t.Errorf("Search(car) = %+v", got)
	}

	got = f.svc.Search("RETRIEVER")
	if len(got) != 1 || got[0].Title != "My dog" {
		t.Errorf("Search(RETRIEVER) = %+v", got)
	}

	if got := f.svc.Search("zebra"); len(got) != 0 {
		t.Errorf("Search(zebra) = %+v", got)
	}

	if got := f.svc.Search(""); len(got) != 3 {
		t.Errorf("Search(\"\") returned %d photos, want 3", len(got))
	}
}

func TestSearchTagsOnlyExample(t *testing.T) {
	f := newFixture(t, true)
	seed(t, f, [2]string{"", "Golden retriever"}, [2]string{"", "Sports car"})

	got := f.svc.Search("car")
	if len(got) != 1 || got[0].Tag != "Sports car" {
		t.Errorf("Search(car) = %+v, want only Sports car", got)
	}
}

func TestGalleryNewestFirst(t *testing.T) {
	f := newFixture(t, true)
	seed(t, f, [2]string{"one", "A"}, [2]string{"two", "B"}, [2]string{"three", "C"})

	got := f.svc.Gallery("")
	want := []string{"three", "two", "one"}
	if len(got) != len(want) {
		t.Fatalf("Gallery returned %d photos", len(got))
	}
	for i := range want {
		if got[i].Title != want[i] {
			t.Errorf("Gallery()[%d] = %q, want %q", i, got[i].Title, want[i])
		}
	}

	filtered := f.svc.Gallery("t")
	if len(filtered) != 2 || filtered[0].Title != "three" || filtered[1].Title != "two" {
		t.Errorf("Gallery(t) = %+v", filtered)
	}

	if f.reg.Snapshot()[0].Title != "one" {
		t.Error("Gallery reordered the registry")
	}
}
