package main

import (
	"context"
	"testing"

	"go.viam.com/test"

	"github.com/dj-oyu/checklist-camera/internal/camera"
	"github.com/dj-oyu/checklist-camera/internal/config"
)

func TestPickModel(t *testing.T) {
	models := config.Default().Models

	m, err := pickModel(models, "")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Name, test.ShouldEqual, models[0].Name)

	m, err = pickModel(models, "yolov7-tiny_640x640")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.InputSize, test.ShouldEqual, 640)

	_, err = pickModel(models, "resnet")
	test.That(t, err, test.ShouldNotBeNil)

	_, err = pickModel(nil, "")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNoCameraRefusesToStart(t *testing.T) {
	test.That(t, noCamera{}.Start(context.Background()), test.ShouldEqual, camera.ErrAcquire)
	test.That(t, noCamera{}.Stop(), test.ShouldBeNil)
	_, err := noCamera{}.SwitchFacing(context.Background())
	test.That(t, err, test.ShouldEqual, camera.ErrAcquire)
}
