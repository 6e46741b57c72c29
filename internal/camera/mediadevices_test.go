package camera

import (
	"testing"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/prop"
	"go.viam.com/test"
)

func TestMediaDeviceConstraints(t *testing.T) {
	d := &MediaDevice{Width: 1280, Height: 720, FrameRate: 30}

	var c mediadevices.MediaTrackConstraints
	d.constraints("/dev/video2")(&c)

	test.That(t, c.DeviceID, test.ShouldEqual, prop.StringExact("/dev/video2"))
	test.That(t, c.Width, test.ShouldEqual, prop.IntExact(1280))
	test.That(t, c.Height, test.ShouldEqual, prop.IntExact(720))
	test.That(t, c.FrameRate, test.ShouldEqual, prop.FloatExact(30))

	// Only the selected device satisfies the id constraint.
	_, ok := c.DeviceID.Compare("/dev/video2")
	test.That(t, ok, test.ShouldBeTrue)
	_, ok = c.DeviceID.Compare("/dev/video0")
	test.That(t, ok, test.ShouldBeFalse)
}

func TestMediaDeviceConstraintsDefaults(t *testing.T) {
	var c mediadevices.MediaTrackConstraints
	(&MediaDevice{}).constraints("cam0")(&c)

	test.That(t, c.Width, test.ShouldResemble, prop.IntRanged{Min: 0, Ideal: 640, Max: 4096})
	test.That(t, c.Height, test.ShouldResemble, prop.IntRanged{Min: 0, Ideal: 480, Max: 2160})
	test.That(t, c.FrameRate, test.ShouldBeNil)
	test.That(t, c.FrameFormat, test.ShouldNotBeNil)
}
