// Package inferencetest provides scripted model adapters for tests.
package inferencetest

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/checklist-camera/internal/inference"
	"github.com/dj-oyu/checklist-camera/pkg/types"
)

// Rows builds an [N,7] detection tensor.
func Rows(rows ...[7]float32) *types.Tensor {
	t := &types.Tensor{Shape: []int64{int64(len(rows)), 7}}
	for _, r := range rows {
		t.Data = append(t.Data, r[:]...)
	}
	return t
}

// Pre produces a 1-element tensor holding the surface width.
type Pre struct {
	Err error
}

func (p *Pre) Preprocess(img image.Image) (*types.Tensor, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return &types.Tensor{Shape: []int64{1}, Data: []float32{float32(img.Bounds().Dx())}}, nil
}

// Session returns Out after Delay and tracks concurrent calls.
type Session struct {
	mu      sync.Mutex
	Out     *types.Tensor
	Latency float64
	Delay   time.Duration
	err     error
	failAt  int64 // Fail the call with this 1-based index; 0 never

	calls       atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
	started     chan struct{}
	release     chan struct{}
}

// NewSession returns a session answering with out.
func NewSession(out *types.Tensor, latencyMs float64) *Session {
	return &Session{Out: out, Latency: latencyMs}
}

// FailWith makes every following call fail with err.
func (s *Session) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// FailAt makes the n-th call (1-based) fail.
func (s *Session) FailAt(n int64) {
	s.mu.Lock()
	s.failAt = n
	s.mu.Unlock()
}

// Gate makes every call block until Release. Started receives once per call.
func (s *Session) Gate() (started <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = make(chan struct{}, 64)
	s.release = make(chan struct{})
	return s.started
}

// Release unblocks gated calls.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.release != nil {
		close(s.release)
		s.release = nil
	}
}

func (s *Session) Run(ctx context.Context, in *types.Tensor) (*types.Tensor, float64, error) {
	n := s.calls.Add(1)
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		max := s.maxInFlight.Load()
		if cur <= max || s.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}

	s.mu.Lock()
	started, release := s.started, s.release
	err, failAt, out, latency, delay := s.err, s.failAt, s.Out, s.Latency, s.Delay
	s.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, 0, err
	}
	if failAt > 0 && n == failAt {
		return nil, 0, errors.New("scripted inference failure")
	}
	return out, latency, nil
}

// Calls returns the number of Run calls.
func (s *Session) Calls() int64 { return s.calls.Load() }

// MaxInFlight returns the largest number of overlapping Run calls observed.
func (s *Session) MaxInFlight() int64 { return s.maxInFlight.Load() }

// Post draws nothing and reports the row count. Empty outputs yield nil.
type Post struct {
	Err error
}

func (p *Post) Postprocess(out *types.Tensor, inferenceMs float64, surface *image.NRGBA) (*inference.Overlay, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	if out.Dim(0) == 0 {
		return nil, nil
	}
	return &inference.Overlay{Summary: "scripted", Boxes: int(out.Dim(0))}, nil
}

// Model bundles the fakes.
func Model(name string, s *Session) *inference.Model {
	return &inference.Model{Name: name, Pre: &Pre{}, Session: s, Post: &Post{}}
}
