package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/dj-oyu/checklist-camera/internal/camera"
	"github.com/dj-oyu/checklist-camera/internal/checklist"
	"github.com/dj-oyu/checklist-camera/internal/classtable"
	"github.com/dj-oyu/checklist-camera/internal/config"
	"github.com/dj-oyu/checklist-camera/internal/frame"
	"github.com/dj-oyu/checklist-camera/internal/inference"
	"github.com/dj-oyu/checklist-camera/internal/inference/onnx"
	"github.com/dj-oyu/checklist-camera/internal/logger"
	"github.com/dj-oyu/checklist-camera/internal/loop"
	"github.com/dj-oyu/checklist-camera/internal/matcher"
	"github.com/dj-oyu/checklist-camera/internal/metrics"
	"github.com/dj-oyu/checklist-camera/internal/timing"
	"github.com/dj-oyu/checklist-camera/internal/webmonitor"
	"github.com/dj-oyu/checklist-camera/internal/webrtc"
)

var (
	// Command-line flags; empty values keep the config file setting.
	configPath  = flag.String("config", "config.json", "Config file (missing file uses defaults)")
	httpAddr    = flag.String("http", "", "HTTP server address")
	metricsAddr = flag.String("metrics", "", "Standalone metrics server address")
	pprofAddr   = flag.String("pprof", "", "pprof server address")
	ortLibrary  = flag.String("ort-lib", "", "Path to the onnxruntime shared library")
	stunServers = flag.String("stun", "", "Comma-separated STUN server URLs")
	maxClients  = flag.Int("max-clients", 0, "Maximum WebRTC clients")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
)

// Server wires the camera, the detection loop and the web monitor.
type Server struct {
	cfg        config.Config
	metrics    *metrics.Metrics
	camera     *camera.Manager
	models     *inference.Registry
	controller *loop.Controller
	webrtc     *webrtc.Server
	monitor    *webmonitor.Server
	httpServer *http.Server
}

func main() {
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, *logColor)
	defer logger.Sync()

	logger.Info("Main", "Checklist camera starting...")
	logger.Info("Main", "Log level: %s", level)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	srv, err := NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}

	logger.Info("Main", "Server stopped")
}

func loadConfig() (config.Config, error) {
	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		return cfg, err
	}
	if *httpAddr != "" {
		cfg.Server.Addr = *httpAddr
	}
	if *metricsAddr != "" {
		cfg.Server.MetricsAddr = *metricsAddr
	}
	if *pprofAddr != "" {
		cfg.Server.PprofAddr = *pprofAddr
	}
	if *ortLibrary != "" {
		cfg.ORTLibrary = *ortLibrary
	}
	if *stunServers != "" {
		cfg.WebRTC.STUNServers = strings.Split(*stunServers, ",")
	}
	if *maxClients > 0 {
		cfg.WebRTC.MaxClients = *maxClients
	}
	return cfg, nil
}

// NewServer builds every component from cfg.
func NewServer(cfg config.Config) (*Server, error) {
	clk := clock.New()
	m := metrics.New()

	facing, err := camera.ParseFacingMode(cfg.Camera.Facing)
	if err != nil {
		return nil, err
	}

	classes := classtable.Default()
	if cfg.LabelsFile != "" {
		loaded, err := classtable.LoadFile(cfg.LabelsFile)
		if err != nil {
			return nil, errors.Wrap(err, "load labels")
		}
		classes = loaded
	}
	logger.Info("Main", "Class table: %d labels", classes.Len())

	if err := onnx.InitEnvironment(cfg.ORTLibrary); err != nil {
		return nil, err
	}
	models, err := loadModels(cfg.Models, classes, clk)
	if err != nil {
		_ = onnx.DestroyEnvironment()
		return nil, err
	}
	logger.Info("Main", "Using %s", models.Current().Name)

	device := &camera.MediaDevice{
		DeviceIDs: cfg.Camera.FacingDeviceIDs(),
		Width:     cfg.Camera.Width,
		Height:    cfg.Camera.Height,
		FrameRate: cfg.Camera.FrameRate,
	}
	cam := camera.NewManager(device, facing)
	frames := frame.NewSource(cam, clk)
	cam.OnResize(frames.Resize)

	rtc := webrtc.NewServer(cfg.WebRTC.STUNServers, cfg.WebRTC.MaxClients)
	rtc.OnClientCountChange(func(n int) { m.WebRTCClients.Store(int64(n)) })

	monitor := webmonitor.NewMonitor(
		webmonitor.NewFrameBroadcaster(time.Duration(cfg.Server.MJPEGInterval)),
		webmonitor.NewEventBroadcaster(rtc.Broadcast, m),
		webmonitor.DefaultHistorySize,
	)

	list := checklist.NewStore(classes)
	controller, err := loop.New(loop.Options{
		Camera:        cam,
		Frames:        frames,
		Models:        models,
		Matcher:       matcher.New(classes, list),
		Checklist:     list,
		Timing:        timing.NewRecorder(clk),
		Observer:      m,
		Sink:          monitor,
		Clock:         clk,
		FrameInterval: time.Duration(cfg.FrameInterval),
	})
	if err != nil {
		return nil, err
	}

	webCfg := webmonitor.DefaultConfig()
	webCfg.Addr = cfg.Server.Addr
	webCfg.AssetsDir = cfg.Server.AssetsDir
	webCfg.BuildAssetsDir = cfg.Server.BuildAssetsDir
	webCfg.StatusInterval = time.Duration(cfg.Server.StatusInterval)
	webCfg.MJPEGInterval = time.Duration(cfg.Server.MJPEGInterval)

	web, err := webmonitor.NewServer(webCfg, webmonitor.Options{
		Controller: controller,
		Camera:     cam,
		Checklist:  list,
		Monitor:    monitor,
		WebRTC:     rtc,
		Metrics:    m,
	})
	if err != nil {
		return nil, err
	}

	return &Server{
		cfg:        cfg,
		metrics:    m,
		camera:     cam,
		models:     models,
		controller: controller,
		webrtc:     rtc,
		monitor:    web,
		httpServer: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           web.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// loadModels opens every configured model. Models that fail to load are
// skipped; at least one must succeed.
func loadModels(cfgs []config.Model, classes *classtable.Table, clk clock.Clock) (*inference.Registry, error) {
	var models []*inference.Model
	var errs error
	for _, mc := range cfgs {
		sess, err := onnx.NewSession(onnx.SessionConfig{
			Path:       mc.Path,
			InputName:  mc.InputName,
			OutputName: mc.OutputName,
			Threads:    mc.Threads,
		}, clk)
		if err != nil {
			logger.Warn("Main", "Skipping model %s: %v", mc.Name, err)
			errs = multierr.Append(errs, errors.Wrapf(err, "model %s", mc.Name))
			continue
		}
		models = append(models, onnx.NewModel(mc.Name, sess, classes, mc.InputSize, mc.InputSize))
		logger.Info("Main", "Loaded model %s (%dx%d)", mc.Name, mc.InputSize, mc.InputSize)
	}
	if len(models) == 0 {
		return nil, fmt.Errorf("no model could be loaded: %w", errs)
	}
	return inference.NewRegistry(models...)
}

// Start opens the camera and begins serving.
func (s *Server) Start() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The service stays up without a camera; uploads still work and Reset retries.
	if err := s.camera.Start(ctx); err != nil {
		logger.Warn("Main", "Camera unavailable: %v", err)
	} else {
		logger.Info("Main", "Camera started (%s)", s.camera.Facing())
	}

	s.monitor.Start()

	if s.cfg.Server.MetricsAddr != "" {
		go func() {
			logger.Info("Main", "Metrics server listening on %s", s.cfg.Server.MetricsAddr)
			if err := s.metrics.StartServer(s.cfg.Server.MetricsAddr); err != nil && err != http.ErrServerClosed {
				logger.Error("Main", "Metrics server error: %v", err)
			}
		}()
	}

	if s.cfg.Server.PprofAddr != "" {
		go func() {
			logger.Info("Main", "pprof server listening on %s", s.cfg.Server.PprofAddr)
			if err := http.ListenAndServe(s.cfg.Server.PprofAddr, http.DefaultServeMux); err != nil {
				logger.Error("Main", "pprof server error: %v", err)
			}
		}()
	}

	go func() {
		logger.Info("Main", "Web monitor listening on %s", s.cfg.Server.Addr)
		logger.Info("Main", "Assets: %s (build: %s)", s.cfg.Server.AssetsDir, s.cfg.Server.BuildAssetsDir)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	return nil
}

// Shutdown stops the loop, disconnects clients and releases the camera and models.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs error
	errs = multierr.Append(errs, s.controller.Close())
	s.monitor.Stop()
	errs = multierr.Append(errs, s.httpServer.Shutdown(ctx))
	errs = multierr.Append(errs, s.webrtc.Close())
	errs = multierr.Append(errs, s.camera.Stop())
	errs = multierr.Append(errs, s.models.Close())
	errs = multierr.Append(errs, onnx.DestroyEnvironment())
	return errs
}
