// Package config handles voicefill configuration from YAML files and the
// environment.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/v0xg/voicefill/internal/crawler"
	"github.com/v0xg/voicefill/internal/executor"
	"github.com/v0xg/voicefill/internal/transport"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

//go:embed registry.yaml
var defaultRegistry []byte

// Config is the top-level voicefill configuration.
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Browser  BrowserConfig  `yaml:"browser"`
	Detect   DetectConfig   `yaml:"detect"`
	Scan     ScanConfig     `yaml:"scan"`
	Fill     FillConfig     `yaml:"fill"`
	Dismiss  DismissConfig  `yaml:"dismiss"`
	Debounce DebounceConfig `yaml:"debounce"`
	Audio    AudioConfig    `yaml:"audio"`
}

// BackendConfig locates the dictation backend.
type BackendConfig struct {
	URL          string        `yaml:"url"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	QueueSize    int           `yaml:"queue_size"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote   string `yaml:"remote"` // DevTools URL of a running Chrome
	Bin      string `yaml:"bin"`
	Profile  string `yaml:"profile"`
	Headless bool   `yaml:"headless"`
	URL      string `yaml:"url"` // page opened on launch
}

// DetectConfig decides when the host form is on screen.
type DetectConfig struct {
	MinNodes int           `yaml:"min_nodes"`
	Attempts int           `yaml:"attempts"`
	Interval time.Duration `yaml:"interval"`
}

// ScanConfig controls field discovery.
type ScanConfig struct {
	Attr           string                          `yaml:"attr"`
	GenericIDs     []string                        `yaml:"generic_ids"`
	RegisteredOnly bool                            `yaml:"registered_only"`
	Registry       map[string]crawler.Registration `yaml:"registry"`
}

// FillConfig controls writes.
type FillConfig struct {
	RetryDelays    []time.Duration   `yaml:"retry_delays"`
	Highlight      time.Duration     `yaml:"highlight"`
	ClickFallbacks map[string]string `yaml:"click_fallbacks"`
}

// DismissConfig controls the confirmation dialog dismisser.
type DismissConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Watch       bool          `yaml:"watch"` // poll for dialogs during the whole run
	ConfirmText string        `yaml:"confirm_text"`
	Interval    time.Duration `yaml:"interval"`
}

// DebounceConfig controls mutation batching.
type DebounceConfig struct {
	Window    time.Duration `yaml:"window"`
	MaxBuffer int           `yaml:"max_buffer"`
}

// AudioConfig selects the microphone.
type AudioConfig struct {
	Device  string `yaml:"device"`
	DumpDir string `yaml:"dump_dir"` // empty disables the WAV dump
}

// DefaultClickFallbacks pairs each preconsultation dropdown item with the
// tab that opens the same screen, in both directions.
func DefaultClickFallbacks() map[string]string {
	pairs := [][2]string{
		{"header-preconsultation-dropdown-item-0", "preconsultation-tab-dilatation"},
		{"header-preconsultation-dropdown-item-1", "preconsultation-tab-vitalSigns"},
		{"header-preconsultation-dropdown-item-2", "preconsultation-tab-eyescreening"},
		{"header-preconsultation-dropdown-item-3", "preconsultation-tab-medicines"},
		{"header-preconsultation-dropdown-item-4", "preconsultation-tab-orthoptic"},
	}
	m := make(map[string]string, 2*len(pairs))
	for _, p := range pairs {
		m[p[0]] = p[1]
		m[p[1]] = p[0]
	}
	return m
}

// DefaultRegistry returns the built-in registered fields.
func DefaultRegistry() map[string]crawler.Registration {
	var reg map[string]crawler.Registration
	if err := yaml.Unmarshal(defaultRegistry, &reg); err != nil {
		panic(fmt.Sprintf("config: embedded registry: %v", err))
	}
	return reg
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{Dismiss: DismissConfig{Enabled: true}}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML configuration file. Unset values take their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration.
func Parse(data []byte) (*Config, error) {
	cfg := Config{Dismiss: DismissConfig{Enabled: true}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// ApplyEnv overlays VOICEFILL_* environment variables.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv("VOICEFILL_BACKEND_URL"); ok && v != "" {
		c.Backend.URL = v
	}
	if v, ok := os.LookupEnv("VOICEFILL_CHROME_PROFILE"); ok && v != "" {
		c.Browser.Profile = v
	}
	if v, ok := os.LookupEnv("VOICEFILL_CHROME_REMOTE"); ok && v != "" {
		c.Browser.Remote = v
	}
	if v, ok := os.LookupEnv("VOICEFILL_AUDIO_DEVICE"); ok && v != "" {
		c.Audio.Device = v
	}
}

func (c *Config) applyDefaults() {
	if c.Backend.URL == "" {
		c.Backend.URL = transport.DefaultURL
	}
	if c.Backend.ReadyTimeout <= 0 {
		c.Backend.ReadyTimeout = 5 * time.Second
	}
	if c.Backend.QueueSize <= 0 {
		c.Backend.QueueSize = 128
	}
	if c.Detect.MinNodes <= 0 {
		c.Detect.MinNodes = 3
	}
	if c.Detect.Attempts <= 0 {
		c.Detect.Attempts = 10
	}
	if c.Detect.Interval <= 0 {
		c.Detect.Interval = 1500 * time.Millisecond
	}
	if c.Scan.Attr == "" {
		c.Scan.Attr = crawler.DefaultAttr
	}
	if c.Scan.GenericIDs == nil {
		c.Scan.GenericIDs = append([]string(nil), crawler.DefaultGenericIDs...)
	}
	if c.Scan.Registry == nil {
		c.Scan.Registry = DefaultRegistry()
	}
	if len(c.Fill.RetryDelays) == 0 {
		c.Fill.RetryDelays = append([]time.Duration(nil), executor.DefaultRetryDelays...)
	}
	if c.Fill.Highlight <= 0 {
		c.Fill.Highlight = executor.DefaultHighlight
	}
	if c.Fill.ClickFallbacks == nil {
		c.Fill.ClickFallbacks = DefaultClickFallbacks()
	}
	if c.Dismiss.ConfirmText == "" {
		c.Dismiss.ConfirmText = "Aceptar"
	}
	if c.Dismiss.Interval <= 0 {
		c.Dismiss.Interval = 400 * time.Millisecond
	}
	if c.Debounce.Window <= 0 {
		c.Debounce.Window = 250 * time.Millisecond
	}
	if c.Debounce.MaxBuffer <= 0 {
		c.Debounce.MaxBuffer = 1000
	}
}

var fieldTypes = map[crawler.FieldType]bool{
	crawler.TypeText:     true,
	crawler.TypeTextarea: true,
	crawler.TypeNumber:   true,
	crawler.TypeSelect:   true,
	crawler.TypeCheckbox: true,
	crawler.TypeRadio:    true,
	crawler.TypeButton:   true,
	crawler.TypeUnknown:  true,
}

// Validate reports the first inconsistent value.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.URL)
	if err != nil {
		return fmt.Errorf("%w: backend url: %v", ErrInvalid, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: backend url must be ws:// or wss://, got %q", ErrInvalid, c.Backend.URL)
	}
	if c.Browser.Remote != "" {
		if _, err := url.Parse(c.Browser.Remote); err != nil {
			return fmt.Errorf("%w: browser remote: %v", ErrInvalid, err)
		}
	}
	for i, d := range c.Fill.RetryDelays {
		if d <= 0 {
			return fmt.Errorf("%w: fill.retry_delays[%d] must be positive", ErrInvalid, i)
		}
	}
	for from, to := range c.Fill.ClickFallbacks {
		if from == "" || to == "" || from == to {
			return fmt.Errorf("%w: click fallback %q -> %q", ErrInvalid, from, to)
		}
	}
	for id, reg := range c.Scan.Registry {
		if reg.Type != "" && !fieldTypes[reg.Type] {
			return fmt.Errorf("%w: registry %s: unknown field_type %q", ErrInvalid, id, reg.Type)
		}
	}
	if c.Scan.RegisteredOnly && len(c.Scan.Registry) == 0 {
		return fmt.Errorf("%w: scan.registered_only needs a registry", ErrInvalid)
	}
	return nil
}
