package webmonitor

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"net/http"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/dj-oyu/checklist-camera/internal/logger"
)

const (
	sseKeepalive  = 30 * time.Second
	mjpegIdleWait = 5 * time.Second
)

var (
	idleFrameOnce sync.Once
	idleFrame     []byte
	idleFrameErr  error
)

// blankJPEG renders color bars with an "Idle" caption. The frame is built once.
func blankJPEG() ([]byte, error) {
	idleFrameOnce.Do(func() {
		idleFrame, idleFrameErr = renderIdleFrame(640, 480)
	})
	return idleFrame, idleFrameErr
}

func renderIdleFrame(width, height int) ([]byte, error) {
	// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
	colors := []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255},
		{R: 255, G: 255, B: 0, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 0, G: 255, B: 0, A: 255},
		{R: 255, G: 0, B: 255, A: 255},
		{R: 255, G: 0, B: 0, A: 255},
		{R: 0, G: 0, B: 255, A: 255},
		{R: 0, G: 0, B: 0, A: 255},
	}

	dc := gg.NewContext(width, height)
	barWidth := float64(width) / float64(len(colors))
	for i, c := range colors {
		dc.SetColor(c)
		dc.DrawRectangle(float64(i)*barWidth, 0, barWidth+1, float64(height))
		dc.Fill()
	}

	font, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, err
	}
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: 32}))
	dc.SetRGBA(0, 0, 0, 0.7)
	dc.DrawRectangle(0, float64(height)/2-30, float64(width), 60)
	dc.Fill()
	dc.SetRGB(1, 1, 1)
	dc.DrawStringAnchored("Idle", float64(width)/2, float64(height)/2, 0.5, 0.35)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dc.Image(), imaging.JPEG, imaging.JPEGQuality(75)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// streamMJPEGFromChannel streams MJPEG from a channel (fanout pattern).
func streamMJPEGFromChannel(ctx context.Context, w http.ResponseWriter, frameCh <-chan []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	blank, err := blankJPEG()
	if err != nil {
		http.Error(w, "Failed to render frame", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	jpegData := blank
	for {
		if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
			logger.Debug("MJPEG", "Client disconnected during write: %v", err)
			return
		}
		if _, err := w.Write(jpegData); err != nil {
			logger.Debug("MJPEG", "Client disconnected during frame write: %v", err)
			return
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			logger.Debug("MJPEG", "Client disconnected during delimiter write: %v", err)
			return
		}
		flusher.Flush()

		select {
		case <-ctx.Done():
			return
		case data, ok := <-frameCh:
			if !ok {
				return
			}
			jpegData = data
		case <-time.After(mjpegIdleWait):
			// No frame for 5 seconds, send blank to keep connection alive
			jpegData = blank
		}
	}
}

// streamSSEFromChannel streams pre-serialized events to an SSE client.
// initial, when non-nil, is sent before anything from the channel.
func streamSSEFromChannel(ctx context.Context, w http.ResponseWriter, eventCh <-chan *SerializedEvent, initial *SerializedEvent, useProtobuf bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	send := func(event *SerializedEvent) bool {
		data := event.JSONData
		if useProtobuf {
			data = event.ProtobufData
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			logger.Debug("SSE", "Client disconnected during event write: %v", err)
			return false
		}
		flusher.Flush()
		return true
	}

	if initial != nil && !send(initial) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if !send(event) {
				return
			}
		case <-time.After(sseKeepalive):
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
