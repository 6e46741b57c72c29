// Package onnx runs YOLOv7 end-to-end models through ONNX Runtime.
package onnx

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/dj-oyu/checklist-camera/internal/logger"
	"github.com/dj-oyu/checklist-camera/pkg/types"
)

var envMu sync.Mutex

// InitEnvironment loads the ONNX Runtime shared library. libPath may be
// empty to use the platform default.
func InitEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "failed to initialize onnx runtime")
	}
	logger.Info("ONNX", "Runtime initialized")
	return nil
}

// DestroyEnvironment releases the runtime. Sessions must be closed first.
func DestroyEnvironment() error {
	envMu.Lock()
	defer envMu.Unlock()
	if !ort.IsInitialized() {
		return nil
	}
	return errors.Wrap(ort.DestroyEnvironment(), "failed to destroy onnx runtime")
}

// SessionConfig names a model file and its tensors.
type SessionConfig struct {
	Path       string
	InputName  string
	OutputName string
	Threads    int
}

// Session runs one model. Outputs are allocated by the runtime because the
// detection count varies per frame.
type Session struct {
	cfg SessionConfig
	clk clock.Clock

	mu   sync.Mutex
	sess *ort.DynamicAdvancedSession
}

// NewSession loads cfg.Path. InitEnvironment must have been called.
func NewSession(cfg SessionConfig, clk clock.Clock) (*Session, error) {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.InputName == "" {
		cfg.InputName = "images"
	}
	if cfg.OutputName == "" {
		cfg.OutputName = "output"
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session options")
	}
	defer opts.Destroy()

	if cfg.Threads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.Threads); err != nil {
			return nil, errors.Wrap(err, "failed to set thread count")
		}
	}

	sess, err := ort.NewDynamicAdvancedSession(cfg.Path,
		[]string{cfg.InputName}, []string{cfg.OutputName}, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load model %s", cfg.Path)
	}
	logger.Info("ONNX", "Loaded %s (in=%s out=%s)", cfg.Path, cfg.InputName, cfg.OutputName)
	return &Session{cfg: cfg, clk: clk, sess: sess}, nil
}

// Run executes the model on in and reports the wall-clock latency in ms.
func (s *Session) Run(ctx context.Context, in *types.Tensor) (*types.Tensor, float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil, 0, errors.New("session is closed")
	}

	input, err := ort.NewTensor(ort.NewShape(in.Shape...), in.Data)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to create input tensor")
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	start := s.clk.Now()
	if err := s.sess.Run([]ort.Value{input}, outputs); err != nil {
		return nil, 0, errors.Wrap(err, "inference failed")
	}
	latency := float64(s.clk.Since(start).Microseconds()) / 1000
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, 0, errors.Errorf("unexpected output type %T", outputs[0])
	}

	// The runtime owns out's buffer; copy before Destroy.
	shape := out.GetShape()
	data := out.GetData()
	result := &types.Tensor{
		Shape: append([]int64(nil), shape...),
		Data:  append([]float32(nil), data...),
	}
	return result, latency, nil
}

// Close destroys the session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil
	}
	err := s.sess.Destroy()
	s.sess = nil
	return errors.Wrapf(err, "failed to destroy session %s", s.cfg.Path)
}
