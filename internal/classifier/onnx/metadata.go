package onnx

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"neurogallery/internal/classifier"
	"neurogallery/internal/models"
	"neurogallery/internal/vision"
)

// Metadata describes the exported network: tensor names and shapes, label
// vocabulary and the preprocessing constants it was trained with.
type Metadata struct {
	InputName   string     `json:"input_name"`
	OutputName  string     `json:"output_name"`
	InputShape  []int64    `json:"input_shape"`
	OutputShape []int64    `json:"output_shape"`
	Classes     []string   `json:"classes"`
	ImageSize   int        `json:"image_size"`
	Mean        [3]float32 `json:"mean"`
	Std         [3]float32 `json:"std"`
	// Softmax is set when the model outputs logits rather than probabilities.
	Softmax bool `json:"softmax"`
}

func LoadMetadata(path string) (*Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	meta.applyDefaults()
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (m *Metadata) applyDefaults() {
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	if m.ImageSize == 0 {
		m.ImageSize = 224
	}
	if m.Mean == ([3]float32{}) {
		m.Mean = vision.ImageNetMean
	}
	if m.Std == ([3]float32{}) {
		m.Std = vision.ImageNetStd
	}
	if len(m.InputShape) == 0 {
		size := int64(m.ImageSize)
		m.InputShape = []int64{1, 3, size, size}
	}
	if len(m.OutputShape) == 0 {
		m.OutputShape = []int64{1, int64(len(m.Classes))}
	}
}

func (m *Metadata) Validate() error {
	if len(m.Classes) == 0 {
		return errors.New("metadata: classes must not be empty")
	}
	for i, s := range m.Std {
		if s == 0 {
			return fmt.Errorf("metadata: std[%d] must not be zero", i)
		}
	}
	want := int64(3 * m.ImageSize * m.ImageSize)
	if got := elements(m.InputShape); got != want {
		return fmt.Errorf("metadata: input shape %v holds %d values, image_size %d needs %d",
			m.InputShape, got, m.ImageSize, want)
	}
	if got := elements(m.OutputShape); got < int64(len(m.Classes)) {
		return fmt.Errorf("metadata: output shape %v is smaller than %d classes", m.OutputShape, len(m.Classes))
	}
	return nil
}

// Predict picks the top class from a raw output vector.
func (m *Metadata) Predict(scores []float32) (*models.Prediction, error) {
	if len(scores) > len(m.Classes) {
		scores = scores[:len(m.Classes)]
	}
	if m.Softmax {
		scores = vision.Softmax(scores)
	}
	idx, p := vision.Top1(scores)
	if idx < 0 {
		return nil, errors.New("inference produced no scores")
	}
	return &models.Prediction{
		Label:      classifier.FormatLabel(m.Classes[idx]),
		Confidence: classifier.Percent(float64(p)),
	}, nil
}

func elements(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
