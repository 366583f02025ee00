package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/alecthomas/kong"

	"neurogallery/internal/utils"
)

const (
	StorageDisk = "disk"
	StorageGCS  = "gcs"

	ClassifierONNX    = "onnx"
	ClassifierOllama  = "ollama"
	ClassifierBrowser = "browser"
)

// Config is the process configuration. Every flag falls back to an
// environment variable, which in turn may come from a .env file.
type Config struct {
	ServiceName string `help:"Service name attached to log lines." default:"neurogallery" env:"SERVICE_NAME"`
	Host        string `help:"Interface to bind." default:"0.0.0.0" env:"HOST"`
	Port        string `help:"Port to listen on." default:"5000" env:"PORT"`

	UploadDir      string `help:"Directory for uploaded images (disk storage)." default:"uploads" env:"UPLOAD_DIR"`
	MaxUploadBytes int    `help:"Maximum request body size in bytes." default:"16777216" env:"MAX_UPLOAD_BYTES"`
	Storage        string `help:"Storage backend." enum:"disk,gcs" default:"disk" env:"STORAGE_BACKEND"`
	GCSBucket      string `help:"Bucket for gcs storage." env:"GCS_BUCKET"`
	GCSPrefix      string `help:"Object name prefix for gcs storage." env:"GCS_PREFIX"`
	GCSEndpoint    string `help:"Override the GCS endpoint (emulators)." env:"GCS_ENDPOINT"`

	Classifier      string        `help:"Classification strategy." enum:"onnx,ollama,browser" default:"onnx" env:"CLASSIFIER"`
	ModelPath       string        `help:"ONNX model file." default:"models/mobilenetv2.onnx" env:"MODEL_PATH"`
	MetadataPath    string        `help:"ONNX model metadata JSON." default:"models/mobilenetv2.json" env:"MODEL_METADATA_PATH"`
	OnnxRuntimeLib  string        `help:"Path to the onnxruntime shared library." env:"ONNXRUNTIME_LIB"`
	OllamaURL       string        `help:"Ollama server URL." default:"http://localhost:11434" env:"OLLAMA_URL"`
	OllamaModel     string        `help:"Ollama vision model." default:"llava" env:"OLLAMA_MODEL"`
	ClassifyTimeout time.Duration `help:"Upper bound for one classification." default:"60s" env:"CLASSIFY_TIMEOUT"`

	ThumbWidth   int `help:"Thumbnail width in pixels." default:"560" env:"THUMB_WIDTH"`
	ThumbHeight  int `help:"Thumbnail height in pixels." default:"400" env:"THUMB_HEIGHT"`
	ThumbQuality int `help:"Thumbnail WebP quality (1-100)." default:"80" env:"THUMB_QUALITY"`
}

// Load reads .env, then parses args with environment fallbacks.
func Load(args []string) (*Config, error) {
	if err := utils.LoadEnv(); err != nil {
		return nil, err
	}

	var cfg Config
	parser, err := kong.New(&cfg,
		kong.Name("neurogallery"),
		kong.Description("Photo gallery with automatic image tagging."),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build flag parser: %w", err)
	}
	if _, err := parser.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints kong cannot express.
func (c *Config) Validate() error {
	if c.Storage == StorageGCS && c.GCSBucket == "" {
		return errors.New("gcs storage requires GCS_BUCKET")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("max upload bytes must be positive")
	}
	if c.ThumbWidth <= 0 || c.ThumbHeight <= 0 {
		return errors.New("thumbnail dimensions must be positive")
	}
	if c.ThumbQuality < 1 || c.ThumbQuality > 100 {
		return errors.New("thumbnail quality must be between 1 and 100")
	}
	if c.ClassifyTimeout <= 0 {
		return errors.New("classify timeout must be positive")
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// ServerSide reports whether uploads are classified in-process.
func (c *Config) ServerSide() bool {
	return c.Classifier != ClassifierBrowser
}
