// Package config loads the service configuration from a JSON file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dj-oyu/checklist-camera/internal/camera"
)

// Duration is a time.Duration that reads and writes as a string ("16ms").
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration must be a string or nanoseconds: %s", b)
		}
		*d = Duration(n)
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Server configures the HTTP monitor.
type Server struct {
	Addr           string   `json:"addr"`
	MetricsAddr    string   `json:"metricsAddr"`
	PprofAddr      string   `json:"pprofAddr"`
	AssetsDir      string   `json:"assetsDir"`
	BuildAssetsDir string   `json:"buildAssetsDir"`
	StatusInterval Duration `json:"statusInterval"`
	MJPEGInterval  Duration `json:"mjpegInterval"`
}

// Camera configures the capture device.
type Camera struct {
	Facing    string            `json:"facing"`
	DeviceIDs map[string]string `json:"deviceIds,omitempty"` // facing mode -> device id
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	FrameRate float64           `json:"frameRate"`
}

// Model describes one ONNX model.
type Model struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	InputName  string `json:"inputName"`
	OutputName string `json:"outputName"`
	InputSize  int    `json:"inputSize"`
	Threads    int    `json:"threads"`
}

// WebRTC configures the data channel fanout.
type WebRTC struct {
	STUNServers []string `json:"stunServers"`
	MaxClients  int      `json:"maxClients"`
}

// Config is the whole service configuration.
type Config struct {
	Server        Server   `json:"server"`
	Camera        Camera   `json:"camera"`
	Models        []Model  `json:"models"`
	ORTLibrary    string   `json:"ortLibrary,omitempty"`
	LabelsFile    string   `json:"labelsFile,omitempty"`
	FrameInterval Duration `json:"frameInterval"`
	WebRTC        WebRTC   `json:"webrtc"`
}

// Default returns the built-in configuration.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.AssetsDir == "" {
		c.Server.AssetsDir = filepath.Clean("web/assets")
	}
	if c.Server.BuildAssetsDir == "" {
		c.Server.BuildAssetsDir = filepath.Clean("web/build")
	}
	if c.Server.StatusInterval <= 0 {
		c.Server.StatusInterval = Duration(2 * time.Second)
	}
	if c.Server.MJPEGInterval <= 0 {
		c.Server.MJPEGInterval = Duration(33 * time.Millisecond)
	}

	if c.Camera.Facing == "" {
		c.Camera.Facing = string(camera.FacingEnvironment)
	}
	if c.Camera.Width <= 0 {
		c.Camera.Width = 640
	}
	if c.Camera.Height <= 0 {
		c.Camera.Height = 480
	}
	if c.Camera.FrameRate <= 0 {
		c.Camera.FrameRate = 30
	}

	if len(c.Models) == 0 {
		c.Models = []Model{
			{Name: "yolov7-tiny_256x256", Path: "models/yolov7-tiny_256x256.onnx", InputSize: 256},
			{Name: "yolov7-tiny_320x320", Path: "models/yolov7-tiny_320x320.onnx", InputSize: 320},
			{Name: "yolov7-tiny_640x640", Path: "models/yolov7-tiny_640x640.onnx", InputSize: 640},
		}
	}
	for i := range c.Models {
		m := &c.Models[i]
		if m.InputName == "" {
			m.InputName = "images"
		}
		if m.OutputName == "" {
			m.OutputName = "output"
		}
		if m.InputSize <= 0 {
			m.InputSize = 640
		}
		if m.Name == "" {
			m.Name = fmt.Sprintf("model-%d", i)
		}
	}

	if c.FrameInterval <= 0 {
		c.FrameInterval = Duration(16 * time.Millisecond)
	}
	if len(c.WebRTC.STUNServers) == 0 {
		c.WebRTC.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}
	if c.WebRTC.MaxClients <= 0 {
		c.WebRTC.MaxClients = 10
	}
}

// Validate reports configuration errors ApplyDefaults cannot fix.
func (c *Config) Validate() error {
	if _, err := camera.ParseFacingMode(c.Camera.Facing); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, m := range c.Models {
		if m.Path == "" {
			return fmt.Errorf("model %q has no path", m.Name)
		}
		if seen[m.Name] {
			return fmt.Errorf("duplicate model name %q", m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

// LoadFile reads path. A missing file yields the defaults.
func LoadFile(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path through a temporary file.
func Save(path string, cfg Config) error {
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	cfg.ApplyDefaults()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// FacingDeviceIDs keys the configured device ids by facing mode.
func (c Camera) FacingDeviceIDs() map[camera.FacingMode]string {
	out := make(map[camera.FacingMode]string, len(c.DeviceIDs))
	for k, v := range c.DeviceIDs {
		if f, err := camera.ParseFacingMode(k); err == nil {
			out[f] = v
		}
	}
	return out
}
