package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// CameraConfig describes how to reach the camera.
// Type selects a concrete implementation (e.g., "sony_ptpip").
type CameraConfig struct {
	Type              string `yaml:"type"`                // e.g., "sony_ptpip"
	Address           string `yaml:"address"`             // host:port of the PTP/IP responder
	ClientName        string `yaml:"client_name"`         // friendly name sent in the init handshake
	DialTimeoutMs     int    `yaml:"dial_timeout_ms"`     // TCP connect + handshake timeout (ms)
	ResponseTimeoutMs int    `yaml:"response_timeout_ms"` // per-command response timeout (ms)
}

// CaptureConfig holds the capture sequence timing and storage settings.
type CaptureConfig struct {
	FocusWaitMs  int    `yaml:"focus_wait_ms"`  // how long to wait for focus confirmation (ms)
	ObjectWaitMs int    `yaml:"object_wait_ms"` // how long to wait for the object id (ms)
	AwaitObject  *bool  `yaml:"await_object"`   // wait for the object id after release (default true)
	OutputDir    string `yaml:"output_dir"`     // empty = per-invocation temp dir
	ShootingMode string `yaml:"shooting_mode"`  // key used in the captured image index
}

// NotifyConfig configures the image-availability publishers.
type NotifyConfig struct {
	NATSURL string `yaml:"nats_url"` // empty = NATS publishing disabled
	Subject string `yaml:"subject"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
}

// Config aggregates all application configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Capture  CaptureConfig  `yaml:"capture"`
	Notify   NotifyConfig   `yaml:"notify"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, fills defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if cfg.Camera.Type == "" {
		return nil, fmt.Errorf("camera.type is required")
	}
	if cfg.Camera.Address == "" {
		return nil, fmt.Errorf("camera.address is required")
	}
	if _, _, err := net.SplitHostPort(cfg.Camera.Address); err != nil {
		return nil, fmt.Errorf("camera.address must be host:port, got %q: %w", cfg.Camera.Address, err)
	}
	if cfg.Camera.ClientName == "" {
		cfg.Camera.ClientName = "ptpshot"
	}
	if cfg.Camera.DialTimeoutMs <= 0 {
		cfg.Camera.DialTimeoutMs = 5000
	}
	if cfg.Camera.ResponseTimeoutMs <= 0 {
		cfg.Camera.ResponseTimeoutMs = 10000
	}

	if cfg.Capture.FocusWaitMs <= 0 {
		cfg.Capture.FocusWaitMs = 1000 // 1s focus wait
	}
	if cfg.Capture.ObjectWaitMs <= 0 {
		cfg.Capture.ObjectWaitMs = 35000 // 35s object id wait
	}
	if cfg.Capture.ObjectWaitMs < cfg.Capture.FocusWaitMs {
		return nil, fmt.Errorf("capture.object_wait_ms (%d) must be >= focus_wait_ms (%d)",
			cfg.Capture.ObjectWaitMs, cfg.Capture.FocusWaitMs)
	}
	if cfg.Capture.AwaitObject == nil {
		t := true
		cfg.Capture.AwaitObject = &t
	}
	if cfg.Capture.ShootingMode == "" {
		cfg.Capture.ShootingMode = "photo"
	}
	if cfg.Capture.OutputDir != "" {
		cfg.Capture.OutputDir = filepath.Clean(cfg.Capture.OutputDir)
	}

	if cfg.Notify.NATSURL != "" && cfg.Notify.Subject == "" {
		cfg.Notify.Subject = "ptpshot.images"
	}

	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return nil, fmt.Errorf("debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}

	return &cfg, nil
}

// DialTimeout returns the connect + handshake timeout.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Camera.DialTimeoutMs) * time.Millisecond
}

// ResponseTimeout returns the per-command response timeout.
func (c *Config) ResponseTimeout() time.Duration {
	return time.Duration(c.Camera.ResponseTimeoutMs) * time.Millisecond
}

// FocusWait returns the focus confirmation window.
func (c *Config) FocusWait() time.Duration {
	return time.Duration(c.Capture.FocusWaitMs) * time.Millisecond
}

// ObjectWait returns the object id resolution window.
func (c *Config) ObjectWait() time.Duration {
	return time.Duration(c.Capture.ObjectWaitMs) * time.Millisecond
}

// AwaitObject reports whether a capture waits for the object id after release.
func (c *Config) AwaitObject() bool {
	return c.Capture.AwaitObject == nil || *c.Capture.AwaitObject
}
