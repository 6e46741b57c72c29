package camera

import (
	"context"
	"image"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // Registers the platform camera driver
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// MediaDevice opens streams through pion/mediadevices.
type MediaDevice struct {
	// DeviceIDs maps a facing mode to a device id. Missing entries fall back
	// to enumeration order: first video input for environment, last for user.
	DeviceIDs map[FacingMode]string
	Width     int
	Height    int
	FrameRate float64
}

// Open implements Device.
func (d *MediaDevice) Open(ctx context.Context, facing FacingMode) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deviceID, err := d.deviceFor(facing)
	if err != nil {
		return nil, err
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: d.constraints(deviceID),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "get user media for %s", deviceID)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, errors.Errorf("device %s has no video track", deviceID)
	}
	vt, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		closeTracks(tracks)
		return nil, errors.Errorf("device %s returned an unexpected track type %T", deviceID, tracks[0])
	}
	return &mediaStream{tracks: tracks, reader: vt.NewReader(false)}, nil
}

// constraints selects deviceID at the configured size and rate.
func (d *MediaDevice) constraints(deviceID string) mediadevices.MediaOption {
	return func(c *mediadevices.MediaTrackConstraints) {
		c.DeviceID = prop.StringExact(deviceID)
		if d.Width > 0 {
			c.Width = prop.IntExact(d.Width)
		} else {
			c.Width = prop.IntRanged{Min: 0, Ideal: 640, Max: 4096}
		}
		if d.Height > 0 {
			c.Height = prop.IntExact(d.Height)
		} else {
			c.Height = prop.IntRanged{Min: 0, Ideal: 480, Max: 2160}
		}
		if d.FrameRate > 0 {
			c.FrameRate = prop.FloatExact(d.FrameRate)
		}
		c.FrameFormat = prop.FrameFormatOneOf{
			frame.FormatI420,
			frame.FormatYUY2,
			frame.FormatUYVY,
			frame.FormatMJPEG,
			frame.FormatNV12,
			frame.FormatRGBA,
		}
	}
}

func (d *MediaDevice) deviceFor(facing FacingMode) (string, error) {
	if id, ok := d.DeviceIDs[facing]; ok && id != "" {
		return id, nil
	}

	var inputs []mediadevices.MediaDeviceInfo
	for _, info := range mediadevices.EnumerateDevices() {
		if info.Kind == mediadevices.VideoInput {
			inputs = append(inputs, info)
		}
	}
	if len(inputs) == 0 {
		return "", errors.New("no camera devices found")
	}
	if facing == FacingUser {
		return inputs[len(inputs)-1].DeviceID, nil
	}
	return inputs[0].DeviceID, nil
}

type mediaStream struct {
	tracks []mediadevices.Track
	reader video.Reader
}

func (s *mediaStream) Read() (image.Image, func(), error) {
	return s.reader.Read()
}

func (s *mediaStream) Close() error {
	return closeTracks(s.tracks)
}

func closeTracks(tracks []mediadevices.Track) error {
	var err error
	for _, t := range tracks {
		if cerr := t.Close(); cerr != nil {
			err = multierr.Append(err, errors.Wrapf(cerr, "close track %s", t.ID()))
		}
	}
	return err
}
