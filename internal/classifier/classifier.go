// Package classifier defines the image classification collaborator.
package classifier

import (
	"context"
	"errors"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"neurogallery/internal/models"
)

var ErrUnreadableImage = errors.New("classifier: unreadable image")

// Classifier maps an image to its most likely label.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (*models.Prediction, error)
	Name() string
	Close() error
}

// FormatLabel keeps the first comma-separated synonym of a vocabulary label,
// turns underscores into spaces and capitalizes the first letter.
// "golden_retriever" and "golden retriever, retriever" both become "Golden retriever".
func FormatLabel(raw string) string {
	label := raw
	if i := strings.IndexByte(label, ','); i >= 0 {
		label = label[:i]
	}
	label = strings.TrimSpace(strings.ReplaceAll(label, "_", " "))
	if label == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(label)
	return string(unicode.ToUpper(r)) + label[size:]
}

// Percent converts a probability to a percentage in [0,100] with one decimal.
func Percent(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 1 {
		return 100
	}
	return math.Round(p*1000) / 10
}
