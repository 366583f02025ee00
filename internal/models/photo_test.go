package models

import "testing"

func TestConfidenceLabel(t *testing.T) {
	tests := []struct {
		photo Photo
		want  string
	}{
		{Photo{Confidence: 87.26, Verified: true}, "87.3"},
		{Photo{Confidence: 100, Verified: true}, "100.0"},
		{Photo{Confidence: 42, Verified: false}, "42"},
		{Photo{Confidence: 0}, "0"},
	}
	for _, tt := range tests {
		if got := tt.photo.ConfidenceLabel(); got != tt.want {
			t.Errorf("ConfidenceLabel(%+v) = %q, want %q", tt.photo, got, tt.want)
		}
	}
}
