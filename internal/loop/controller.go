// Package loop drives continuous detection, single-shot capture and
// uploaded-image processing over one shared inference pipeline.
package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dj-oyu/checklist-camera/internal/camera"
	"github.com/dj-oyu/checklist-camera/internal/checklist"
	"github.com/dj-oyu/checklist-camera/internal/inference"
	"github.com/dj-oyu/checklist-camera/internal/logger"
	"github.com/dj-oyu/checklist-camera/internal/matcher"
	"github.com/dj-oyu/checklist-camera/internal/timing"
	"github.com/dj-oyu/checklist-camera/pkg/types"
)

// DefaultFrameInterval is the pacing yield between live iterations.
const DefaultFrameInterval = 16 * time.Millisecond

var (
	// ErrCapture wraps failures to obtain a frame.
	ErrCapture = errors.New("capture failed")
	// ErrInference wraps failures of preprocess, inference or postprocess.
	ErrInference = errors.New("inference failed")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("controller closed")
)

// Camera is the part of the camera lifecycle the controller drives.
type Camera interface {
	Start(ctx context.Context) error
	Stop() error
	SwitchFacing(ctx context.Context) (camera.FacingMode, error)
}

// Frames supplies surfaces for each kind of pass.
type Frames interface {
	Live(ctx context.Context) (*types.Frame, error)
	Still(ctx context.Context) (*types.Frame, error)
	Uploaded(ctx context.Context) (*types.Frame, error)
	LoadUpload(r io.Reader) error
	ReleaseUpload()
	HasUpload() bool
}

// Options wires a Controller. Camera, Frames, Models, Matcher and Checklist are required.
type Options struct {
	Camera        Camera
	Frames        Frames
	Models        *inference.Registry
	Matcher       *matcher.Matcher
	Checklist     *checklist.Store
	Timing        *timing.Recorder
	Observer      Observer
	Sink          Sink
	Clock         clock.Clock
	FrameInterval time.Duration
}

// Controller owns the loop state.
type Controller struct {
	cam      Camera
	frames   Frames
	models   *inference.Registry
	matcher  *matcher.Matcher
	list     *checklist.Store
	timing   *timing.Recorder
	obs      Observer
	sink     Sink
	clk      clock.Clock
	interval time.Duration

	// Held for the whole of a pass; at most one inference is in flight.
	passMu sync.Mutex

	mu      sync.Mutex
	state   State
	runID   uint64
	cancel  context.CancelFunc
	visible bool
	closed  bool
	latest  *Result
	wg      sync.WaitGroup
}

// New returns an idle controller.
func New(opts Options) (*Controller, error) {
	if opts.Camera == nil || opts.Frames == nil || opts.Models == nil ||
		opts.Matcher == nil || opts.Checklist == nil {
		return nil, fmt.Errorf("loop: missing collaborator")
	}
	c := &Controller{
		cam:      opts.Camera,
		frames:   opts.Frames,
		models:   opts.Models,
		matcher:  opts.Matcher,
		list:     opts.Checklist,
		timing:   opts.Timing,
		obs:      opts.Observer,
		sink:     opts.Sink,
		clk:      opts.Clock,
		interval: opts.FrameInterval,
		visible:  true,
	}
	if c.clk == nil {
		c.clk = clock.New()
	}
	if c.timing == nil {
		c.timing = timing.NewRecorder(c.clk)
	}
	if c.obs == nil {
		c.obs = nopObserver{}
	}
	if c.sink == nil {
		c.sink = nopSink{}
	}
	if c.interval <= 0 {
		c.interval = DefaultFrameInterval
	}
	return c, nil
}

// State returns the current loop state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Toggle flips the loop state and returns the new one.
func (c *Controller) Toggle() (State, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Idle, ErrClosed
	}
	if c.state == Running {
		c.stopLocked()
		c.mu.Unlock()
		c.publishState(Idle)
		return Idle, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.runID++
	id := c.runID
	c.state = Running
	c.cancel = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	c.obs.SetLoopRunning(true)
	c.publishState(Running)
	logger.Info("Loop", "Live detection started (run %d)", id)

	go func() {
		defer c.wg.Done()
		c.run(ctx, id)
	}()
	return Running, nil
}

// Stop forces Idle. It does not wait for an in-flight pass.
func (c *Controller) Stop() {
	c.mu.Lock()
	wasRunning := c.state == Running
	c.stopLocked()
	c.mu.Unlock()
	if wasRunning {
		c.publishState(Idle)
	}
}

func (c *Controller) stopLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.state == Running {
		c.state = Idle
		c.obs.SetLoopRunning(false)
		logger.Info("Loop", "Live detection stopped (run %d)", c.runID)
	}
}

// SetVisible records page visibility. Losing visibility forces Idle.
func (c *Controller) SetVisible(visible bool) {
	c.mu.Lock()
	c.visible = visible
	c.mu.Unlock()
	if !visible {
		logger.Debug("Loop", "Client hidden, stopping")
		c.Stop()
	}
}

func (c *Controller) run(ctx context.Context, id uint64) {
	for {
		// Cancellation is honoured here only; a started pass runs to completion.
		if ctx.Err() != nil {
			return
		}

		start := c.timing.Start()
		if _, err := c.pass(context.WithoutCancel(ctx), c.frames.Live, start); err != nil {
			c.fail(id, err)
			return
		}

		timer := c.clk.Timer(c.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// fail moves run id to Idle. A newer run is left alone.
func (c *Controller) fail(id uint64, err error) {
	c.mu.Lock()
	current := c.runID == id && c.state == Running
	if current {
		c.stopLocked()
	}
	c.mu.Unlock()

	logger.Warn("Loop", "Live detection aborted: %v", err)
	if current {
		c.publishState(Idle)
	}
}

// pass runs capture, preprocess, inference, postprocess and matching once.
func (c *Controller) pass(ctx context.Context, grab func(context.Context) (*types.Frame, error), start time.Time) (*Result, error) {
	c.passMu.Lock()
	defer c.passMu.Unlock()

	f, err := grab(ctx)
	if err != nil {
		return nil, c.failed(fmt.Errorf("%w: %w", ErrCapture, err))
	}

	model := c.models.Current()
	in, err := model.Pre.Preprocess(f.Image)
	if err != nil {
		return nil, c.failed(fmt.Errorf("%w: preprocess: %w", ErrInference, err))
	}
	out, inferenceMs, err := model.Session.Run(ctx, in)
	if err != nil {
		return nil, c.failed(fmt.Errorf("%w: %s: %w", ErrInference, model.Name, err))
	}
	overlay, err := model.Post.Postprocess(out, inferenceMs, f.Image)
	if err != nil {
		return nil, c.failed(fmt.Errorf("%w: postprocess: %w", ErrInference, err))
	}
	match, err := c.matcher.Match(out)
	if err != nil {
		return nil, c.failed(fmt.Errorf("%w: %w", ErrInference, err))
	}

	sample := c.timing.Record(start, inferenceMs)
	res := &Result{
		Source:     f.Kind.String(),
		Seq:        f.Seq,
		Model:      model.Name,
		Detections: match.Detections,
		Labels:     match.Labels,
		Hits:       match.Hits,
		Timing:     sample.Report(),
		Width:      f.Width,
		Height:     f.Height,
		CapturedAt: f.CapturedAt,
		Sample:     sample,
		Image:      f.Image,
	}
	if overlay != nil {
		res.Summary = overlay.Summary
	}

	c.mu.Lock()
	c.latest = res
	c.mu.Unlock()

	c.obs.ObservePass(sample, len(match.Hits))
	now := c.clk.Now()
	c.sink.Publish(Event{Kind: EventResult, At: now, Result: res})
	for _, n := range match.Notifications() {
		c.sink.Publish(Event{Kind: EventNotification, At: now, Notification: &n})
	}
	return res, nil
}

func (c *Controller) failed(err error) error {
	switch {
	case errors.Is(err, ErrCapture):
		c.obs.ObserveCaptureFailure()
	case errors.Is(err, ErrInference):
		c.obs.ObserveInferenceFailure()
	}
	c.sink.Publish(Event{Kind: EventError, At: c.clk.Now(), Err: err})
	return err
}

// ProcessImage stops the loop, clears previous results and runs one pass
// on a still capture. Total time covers the whole operation.
func (c *Controller) ProcessImage(ctx context.Context) (*Result, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	start := c.timing.Start()
	c.Stop()
	c.clearResults()
	return c.pass(ctx, c.frames.Still, start)
}

// ProcessUploadedImage runs one pass on the uploaded image.
func (c *Controller) ProcessUploadedImage(ctx context.Context) (*Result, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	start := c.timing.Start()
	return c.pass(ctx, c.frames.Uploaded, start)
}

// LoadUpload decodes an uploaded image. The loop and the camera are stopped
// while an upload is held.
func (c *Controller) LoadUpload(r io.Reader) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.Stop()
	if err := c.frames.LoadUpload(r); err != nil {
		return fmt.Errorf("%w: %w", ErrCapture, err)
	}
	if err := c.cam.Stop(); err != nil {
		logger.Warn("Loop", "Failed to stop camera for upload: %v", err)
	}
	return nil
}

// ReleaseUpload drops the uploaded image.
func (c *Controller) ReleaseUpload() {
	c.frames.ReleaseUpload()
}

// Reset forces Idle, clears results and the checklist, drops any upload
// and restarts the camera.
func (c *Controller) Reset(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	c.Stop()
	c.clearResults()
	c.list.Reset()
	c.frames.ReleaseUpload()

	if err := c.cam.Stop(); err != nil {
		logger.Warn("Loop", "Camera stop during reset: %v", err)
	}
	if err := c.cam.Start(ctx); err != nil {
		c.sink.Publish(Event{Kind: EventError, At: c.clk.Now(), Err: err})
		return err
	}
	logger.Info("Loop", "Reset complete")
	return nil
}

// ChangeModel resets and activates the next model. The model changes even
// when the camera fails to restart.
func (c *Controller) ChangeModel(ctx context.Context) (string, error) {
	err := c.Reset(ctx)
	if errors.Is(err, ErrClosed) {
		return "", err
	}
	m := c.models.Next()
	logger.Info("Loop", "Using %s", m.Name)
	return m.Name, err
}

// SwitchCamera resets and switches to the opposite facing mode. A camera that
// cannot be reacquired during the reset does not block the switch.
func (c *Controller) SwitchCamera(ctx context.Context) (camera.FacingMode, error) {
	if err := c.Reset(ctx); err != nil && !errors.Is(err, camera.ErrAcquire) {
		return "", err
	}
	return c.cam.SwitchFacing(ctx)
}

func (c *Controller) clearResults() {
	c.mu.Lock()
	c.latest = nil
	c.mu.Unlock()
	c.timing.Reset()
}

func (c *Controller) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

func (c *Controller) publishState(s State) {
	c.sink.Publish(Event{Kind: EventState, At: c.clk.Now(), State: s})
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State     State            `json:"state"`
	Model     string           `json:"model"`
	Models    []string         `json:"models"`
	Visible   bool             `json:"visible"`
	HasUpload bool             `json:"has_upload"`
	Latest    *Result          `json:"latest,omitempty"`
	Timing    *timing.Report   `json:"timing,omitempty"`
	Checklist []checklist.Item `json:"checklist"`
}

// Snapshot returns the current state, latest result and checklist view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s := Snapshot{State: c.state, Visible: c.visible, Latest: c.latest}
	c.mu.Unlock()

	s.Model = c.models.Current().Name
	s.Models = c.models.Names()
	s.HasUpload = c.frames.HasUpload()
	if sample, ok := c.timing.Latest(); ok {
		r := sample.Report()
		s.Timing = &r
	}
	var labels []string
	if s.Latest != nil {
		labels = s.Latest.Labels
	}
	s.Checklist = c.list.View(labels)
	return s
}

// Close stops the loop and waits for the live goroutine to exit.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	wasRunning := c.state == Running
	c.stopLocked()
	c.mu.Unlock()
	if wasRunning {
		c.publishState(Idle)
	}
	c.wg.Wait()
	return nil
}
