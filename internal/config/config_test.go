package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/dj-oyu/checklist-camera/internal/camera"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	test.That(t, cfg.Server.Addr, test.ShouldEqual, ":8080")
	test.That(t, cfg.Camera.Facing, test.ShouldEqual, "environment")
	test.That(t, time.Duration(cfg.FrameInterval), test.ShouldEqual, 16*time.Millisecond)
	test.That(t, cfg.Models, test.ShouldHaveLength, 3)
	test.That(t, cfg.Models[0].InputName, test.ShouldEqual, "images")
	test.That(t, cfg.Validate(), test.ShouldBeNil)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "absent.json"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.WebRTC.MaxClients, test.ShouldEqual, 10)
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
  "camera": {"facing": "user", "deviceIds": {"front": "video1", "back": "video0"}},
  "models": [{"name": "tiny", "path": "tiny.onnx", "inputSize": 320}],
  "frameInterval": "40ms"
}`
	test.That(t, os.WriteFile(path, []byte(data), 0o644), test.ShouldBeNil)

	cfg, err := LoadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Camera.Facing, test.ShouldEqual, "user")
	test.That(t, cfg.Camera.Width, test.ShouldEqual, 640)
	test.That(t, cfg.Models, test.ShouldHaveLength, 1)
	test.That(t, cfg.Models[0].OutputName, test.ShouldEqual, "output")
	test.That(t, time.Duration(cfg.FrameInterval), test.ShouldEqual, 40*time.Millisecond)
	test.That(t, cfg.Camera.FacingDeviceIDs(), test.ShouldResemble, map[camera.FacingMode]string{
		camera.FacingUser:        "video1",
		camera.FacingEnvironment: "video0",
	})
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.json")
	test.That(t, os.WriteFile(bad, []byte(`{"camera": {"facing": "sideways"}}`), 0o644), test.ShouldBeNil)
	_, err := LoadFile(bad)
	test.That(t, err, test.ShouldNotBeNil)

	dup := filepath.Join(dir, "dup.json")
	test.That(t, os.WriteFile(dup, []byte(`{"models": [{"name": "a", "path": "a.onnx"}, {"name": "a", "path": "b.onnx"}]}`), 0o644), test.ShouldBeNil)
	_, err = LoadFile(dup)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "duplicate")

	garbage := filepath.Join(dir, "garbage.json")
	test.That(t, os.WriteFile(garbage, []byte(`{`), 0o644), test.ShouldBeNil)
	_, err = LoadFile(garbage)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Server.Addr = ":9090"
	test.That(t, Save(path, cfg), test.ShouldBeNil)

	loaded, err := LoadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, loaded, test.ShouldResemble, cfg)
}
