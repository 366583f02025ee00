package models

import (
	"strconv"
	"time"
)

// Photo is one processed upload in the gallery.
type Photo struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Filename   string    `json:"filename"`
	Key        string    `json:"key"`
	ThumbKey   string    `json:"thumb_key,omitempty"`
	Tag        string    `json:"tag"`
	Confidence float64   `json:"confidence"`
	Verified   bool      `json:"verified"`
	CreatedAt  time.Time `json:"created_at"`
}

// ConfidenceLabel renders the confidence the way the gallery shows it:
// one decimal for server classification, whole percent for browser hints.
func (p Photo) ConfidenceLabel() string {
	if p.Verified {
		return strconv.FormatFloat(p.Confidence, 'f', 1, 64)
	}
	return strconv.FormatFloat(p.Confidence, 'f', 0, 64)
}

// Prediction is a classifier result. Confidence is a percentage in [0,100].
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// UploadRequest carries one gallery upload.
type UploadRequest struct {
	Title    string
	Filename string
	Data     []byte
	// Hint is the classification posted by the browser, if any.
	Hint *Hint
}

// Hint is the unverified classification submitted in ai_tag / ai_conf.
type Hint struct {
	Tag        string
	Confidence string
}
