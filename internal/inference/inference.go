// Package inference defines the model adapter triple: preprocess, run, postprocess.
package inference

import (
	"context"
	"fmt"
	"image"
	"sync"

	"go.uber.org/multierr"

	"github.com/dj-oyu/checklist-camera/pkg/types"
)

// Preprocessor converts a surface into a model input tensor. It must not
// modify the surface.
type Preprocessor interface {
	Preprocess(img image.Image) (*types.Tensor, error)
}

// Session runs a model. It returns the output tensor and the inference latency in ms.
type Session interface {
	Run(ctx context.Context, in *types.Tensor) (*types.Tensor, float64, error)
}

// Overlay describes what a postprocessor rendered.
type Overlay struct {
	Summary string // Short description, e.g. "3 objects"
	Boxes   int    // Number of boxes drawn
}

// Postprocessor turns a model output into an overlay. It may draw on surface.
// A nil Overlay with a nil error means nothing worth rendering.
type Postprocessor interface {
	Postprocess(out *types.Tensor, inferenceMs float64, surface *image.NRGBA) (*Overlay, error)
}

// Model is one concrete implementation of the triple.
type Model struct {
	Name    string
	Pre     Preprocessor
	Session Session
	Post    Postprocessor
}

func (m *Model) validate() error {
	if m == nil || m.Pre == nil || m.Session == nil || m.Post == nil {
		return fmt.Errorf("model is missing an adapter")
	}
	return nil
}

// Registry holds the configured models and the active one.
type Registry struct {
	mu      sync.Mutex
	models  []*Model
	current int
}

// NewRegistry returns a registry whose first model is active.
func NewRegistry(models ...*Model) (*Registry, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("no models configured")
	}
	for _, m := range models {
		if err := m.validate(); err != nil {
			return nil, fmt.Errorf("model %q: %w", m.Name, err)
		}
	}
	return &Registry{models: models}, nil
}

// Current returns the active model.
func (r *Registry) Current() *Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.models[r.current]
}

// Next activates the following model, wrapping around, and returns it.
func (r *Registry) Next() *Model {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = (r.current + 1) % len(r.models)
	return r.models[r.current]
}

// Names lists model names in order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.models))
	for i, m := range r.models {
		names[i] = m.Name
	}
	return names
}

// Close releases every session that implements io.Closer.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	for _, m := range r.models {
		if c, ok := m.Session.(interface{ Close() error }); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}
