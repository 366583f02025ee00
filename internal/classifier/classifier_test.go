package classifier

import (
	"math"
	"testing"
)

func TestFormatLabel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"golden retriever", "Golden retriever"},
		{"sports car, sport car", "Sports car"},
		{"  tabby, tabby cat ", "Tabby"},
		{"golden_retriever", "Golden retriever"},
		{"éclair", "Éclair"},
		{"", ""},
		{", leading comma", ""},
	}
	for _, tt := range tests {
		if got := FormatLabel(tt.in); got != tt.want {
			t.Errorf("FormatLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0.87654, 87.7},
		{1, 100},
		{0, 0},
		{1.5, 100},
		{-0.2, 0},
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		if got := Percent(tt.in); got != tt.want {
			t.Errorf("Percent(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
