// Package config loads the detector service configuration from YAML with
// environment overrides.
package config

import (
	"bytes"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/dooh-web/landmark-detector/detections"
	"github.com/dooh-web/landmark-detector/render"
)

const (
	VariantExploratory = "exploratory"
	VariantProduction  = "production"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Model    ModelConfig    `yaml:"model"`
	Pool     PoolConfig     `yaml:"pool"`
	Detector DetectorConfig `yaml:"detector"`
	Labels   render.Labels  `yaml:"labels"`
	Render   RenderConfig   `yaml:"render"`
	Upload   UploadConfig   `yaml:"upload"`
	Retry    RetryConfig    `yaml:"retry"`
}

type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type ModelConfig struct {
	Path           string `yaml:"path"`
	LibraryPath    string `yaml:"library_path"`
	InputName      string `yaml:"input_name"`
	OutputName     string `yaml:"output_name"`
	IntraOpThreads int    `yaml:"intra_op_threads"`
	InterOpThreads int    `yaml:"inter_op_threads"`
}

type PoolConfig struct {
	Size              int           `yaml:"size"`
	AcquireTimeout    time.Duration `yaml:"acquire_timeout"`
	HealthCheckPeriod time.Duration `yaml:"health_check_period"`
}

// DetectorConfig picks a variant preset; any field set here overrides it.
type DetectorConfig struct {
	Variant             string   `yaml:"variant"`
	InputSize           *int     `yaml:"input_size"`
	Schema              *string  `yaml:"schema"`
	Classes             *int     `yaml:"classes"`
	AuxFeatures         *int     `yaml:"aux_features"`
	ConfidenceThreshold *float64 `yaml:"confidence_threshold"`
	IoUThreshold        *float64 `yaml:"iou_threshold"`
	MaxDetections       *int     `yaml:"max_detections"`
	StrictSchema        *bool    `yaml:"strict_schema"`
	ClassAware          *bool    `yaml:"class_aware"`
}

type RenderConfig struct {
	BoxColor       string  `yaml:"box_color"`
	CaptionColor   string  `yaml:"caption_color"`
	HighlightColor string  `yaml:"highlight_color"`
	PanelColor     string  `yaml:"panel_color"`
	PanelOpacity   float64 `yaml:"panel_opacity"`
	BoxWidth       int     `yaml:"box_width"`
	Overlay        bool    `yaml:"overlay"`
	Title          string  `yaml:"title"`
}

type UploadConfig struct {
	MaxDimension int   `yaml:"max_dimension"`
	MaxBytes     int64 `yaml:"max_bytes"`
}

type RetryConfig struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:         "127.0.0.1:8080",
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Log:   LogConfig{Level: "info"},
		Model: ModelConfig{Path: "models/landmarks.onnx"},
		Pool: PoolConfig{
			Size:              4,
			AcquireTimeout:    5 * time.Second,
			HealthCheckPeriod: 60 * time.Second,
		},
		Detector: DetectorConfig{Variant: VariantProduction},
		Labels:   render.TrioLabels(),
		Render: RenderConfig{
			BoxColor:       "#ff0000",
			CaptionColor:   "#ffffff",
			HighlightColor: "#00ff00",
			PanelColor:     "#000000",
			PanelOpacity:   0.8,
			BoxWidth:       3,
			Overlay:        true,
		},
		Upload: UploadConfig{
			MaxDimension: detections.DefaultMaxDimension,
			MaxBytes:     10 << 20,
		},
		Retry: RetryConfig{Attempts: 1, Delay: 100 * time.Millisecond},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse %s", path)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, rejecting unknown keys.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// ApplyEnv overrides fields from DEBUG, DETECTOR_ADDR, DETECTOR_MODEL and
// ORT_LIBRARY_PATH.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if getenv("DEBUG") == "true" {
		c.Log.Level = "debug"
	}
	if v := getenv("DETECTOR_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := getenv("DETECTOR_MODEL"); v != "" {
		c.Model.Path = v
	}
	if v := getenv("ORT_LIBRARY_PATH"); v != "" {
		c.Model.LibraryPath = v
	}
}

// Debug reports whether debug logging is enabled.
func (c Config) Debug() bool {
	return strings.EqualFold(c.Log.Level, "debug")
}

func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Model.Path == "" {
		return errors.New("model.path is required")
	}
	if c.Pool.Size <= 0 {
		return errors.Errorf("pool.size must be positive, got %d", c.Pool.Size)
	}
	if c.Pool.AcquireTimeout <= 0 {
		return errors.Errorf("pool.acquire_timeout must be positive, got %v", c.Pool.AcquireTimeout)
	}
	if c.Upload.MaxDimension < 0 {
		return errors.Errorf("upload.max_dimension must not be negative, got %d", c.Upload.MaxDimension)
	}
	if c.Upload.MaxBytes <= 0 {
		return errors.Errorf("upload.max_bytes must be positive, got %d", c.Upload.MaxBytes)
	}
	if c.Retry.Attempts < 1 {
		return errors.Errorf("retry.attempts must be at least 1, got %d", c.Retry.Attempts)
	}
	if c.Retry.Delay < 0 {
		return errors.Errorf("retry.delay must not be negative, got %v", c.Retry.Delay)
	}
	if _, err := c.DetectorConfig(); err != nil {
		return err
	}
	if _, err := c.Style(); err != nil {
		return err
	}
	if err := c.Labels.Validate(); err != nil {
		return errors.Wrap(err, "labels")
	}
	return nil
}

// DetectorConfig resolves the variant preset and its overrides.
func (c Config) DetectorConfig() (detections.Config, error) {
	d := c.Detector
	var out detections.Config
	switch strings.ToLower(d.Variant) {
	case VariantExploratory:
		out = detections.ExploratoryConfig()
	case VariantProduction, "":
		out = detections.ProductionConfig()
	default:
		return detections.Config{}, errors.Errorf("unknown detector variant %q", d.Variant)
	}

	if d.InputSize != nil {
		out.InputSize = *d.InputSize
	}
	if d.Schema != nil || d.Classes != nil || d.AuxFeatures != nil {
		kind := out.Schema.Kind
		if d.Schema != nil {
			parsed, err := detections.ParseSchemaKind(*d.Schema)
			if err != nil {
				return detections.Config{}, err
			}
			kind = parsed
		}
		aux := out.Schema.AuxFeatures
		if d.AuxFeatures != nil {
			aux = *d.AuxFeatures
		}
		switch kind {
		case detections.SingleClass:
			if d.Classes != nil && *d.Classes != 1 {
				return detections.Config{}, errors.Errorf("detector.classes must be 1 for the single schema, got %d", *d.Classes)
			}
			out.Schema = detections.SingleClassSchema(aux)
		default:
			classes := out.Schema.ClassCount
			if d.Classes != nil {
				classes = *d.Classes
			}
			out.Schema = detections.MultiClassSchema(classes, aux)
		}
	}
	if d.ConfidenceThreshold != nil {
		out.ConfidenceThreshold = *d.ConfidenceThreshold
	}
	if d.IoUThreshold != nil {
		out.IoUThreshold = *d.IoUThreshold
	}
	if d.MaxDetections != nil {
		out.MaxDetections = *d.MaxDetections
	}
	if d.StrictSchema != nil {
		out.StrictSchema = *d.StrictSchema
	}
	if d.ClassAware != nil {
		out.ClassAware = *d.ClassAware
	}

	if err := out.Validate(); err != nil {
		return detections.Config{}, errors.Wrap(err, "detector")
	}
	return out, nil
}

// Style builds the renderer style from the render section.
func (c Config) Style() (render.Style, error) {
	r := c.Render
	style := render.DefaultStyle()

	var err error
	if style.Box, err = render.ParseColor(r.BoxColor, 255); err != nil {
		return render.Style{}, errors.Wrap(err, "render.box_color")
	}
	if style.Caption, err = render.ParseColor(r.CaptionColor, 255); err != nil {
		return render.Style{}, errors.Wrap(err, "render.caption_color")
	}
	if style.Highlight, err = render.ParseColor(r.HighlightColor, 255); err != nil {
		return render.Style{}, errors.Wrap(err, "render.highlight_color")
	}
	if r.PanelOpacity < 0 || r.PanelOpacity > 1 {
		return render.Style{}, errors.Errorf("render.panel_opacity must be in [0,1], got %v", r.PanelOpacity)
	}
	if style.Panel, err = render.ParseColor(r.PanelColor, uint8(r.PanelOpacity*255+0.5)); err != nil {
		return render.Style{}, errors.Wrap(err, "render.panel_color")
	}
	if r.BoxWidth > 0 {
		style.BoxWidth = r.BoxWidth
	}
	style.Overlay = r.Overlay
	style.Title = r.Title
	return style, nil
}
