package webmonitor

import (
	"time"
)

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr           string
	AssetsDir      string
	BuildAssetsDir string
	StatusInterval time.Duration
	MJPEGInterval  time.Duration
	HistorySize    int
	// MaxUploadBytes bounds the body of POST /api/upload.
	MaxUploadBytes int64
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		AssetsDir:      "web/assets",
		BuildAssetsDir: "web/build",
		StatusInterval: 2 * time.Second,
		MJPEGInterval:  33 * time.Millisecond,
		HistorySize:    DefaultHistorySize,
		MaxUploadBytes: 20 << 20,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.StatusInterval <= 0 {
		c.StatusInterval = d.StatusInterval
	}
	if c.MJPEGInterval <= 0 {
		c.MJPEGInterval = d.MJPEGInterval
	}
	if c.HistorySize <= 0 {
		c.HistorySize = d.HistorySize
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = d.MaxUploadBytes
	}
}
