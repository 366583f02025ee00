package services

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"neurogallery/internal/classifier"
	"neurogallery/internal/models"
)

const (
	UnknownTag   = "Unknown"
	maxHintRunes = 64
)

// SanitizeHint turns browser-submitted ai_tag / ai_conf into a prediction.
// The values are untrusted: the tag is trimmed and capped, the confidence is
// clamped to [0,100] and rounded to a whole percent.
func SanitizeHint(h *models.Hint) *models.Prediction {
	pred := &models.Prediction{Label: UnknownTag}
	if h == nil {
		return pred
	}

	tag := classifier.FormatLabel(strings.Map(dropControl, h.Tag))
	if utf8.RuneCountInString(tag) > maxHintRunes {
		tag = string([]rune(tag)[:maxHintRunes])
	}
	if tag != "" {
		pred.Label = tag
	}

	conf, err := strconv.ParseFloat(strings.TrimSpace(h.Confidence), 64)
	if err != nil || math.IsNaN(conf) {
		return pred
	}
	pred.Confidence = math.Round(math.Max(0, math.Min(100, conf)))
	return pred
}

func dropControl(r rune) rune {
	if r < 0x20 || r == 0x7f {
		return -1
	}
	return r
}
