// Command detect-image runs one detection pass on an image file, writes the
// annotated image and prints the labels, checklist hits and timing.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
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
)

// noCamera stands in for the device; only the uploaded-image path runs.
type noCamera struct{}

func (noCamera) Start(context.Context) error { return camera.ErrAcquire }

func (noCamera) Stop() error { return nil }

func (noCamera) SwitchFacing(context.Context) (camera.FacingMode, error) {
	return "", camera.ErrAcquire
}

func main() {
	var (
		configPath = flag.String("config", "config.json", "Config file (missing file uses defaults)")
		modelName  = flag.String("model", "", "Model name from the config (default: first)")
		outPath    = flag.String("out", "detections.png", "Annotated output image")
		items      = flag.String("checklist", "", "Comma-separated checklist labels")
		ortLibrary = flag.String("ort-lib", "", "Path to the onnxruntime shared library")
		logLevel   = flag.String("log-level", "warn", "Log level (debug, info, warn, error, silent)")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] IMAGE\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, false)
	defer logger.Sync()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *ortLibrary != "" {
		cfg.ORTLibrary = *ortLibrary
	}

	if err := run(cfg, flag.Arg(0), *modelName, *outPath, *items); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(cfg config.Config, imagePath, modelName, outPath, items string) (err error) {
	mc, err := pickModel(cfg.Models, modelName)
	if err != nil {
		return err
	}

	classes := classtable.Default()
	if cfg.LabelsFile != "" {
		if classes, err = classtable.LoadFile(cfg.LabelsFile); err != nil {
			return errors.Wrap(err, "load labels")
		}
	}

	if err := onnx.InitEnvironment(cfg.ORTLibrary); err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, onnx.DestroyEnvironment()) }()

	clk := clock.New()
	sess, err := onnx.NewSession(onnx.SessionConfig{
		Path:       mc.Path,
		InputName:  mc.InputName,
		OutputName: mc.OutputName,
		Threads:    mc.Threads,
	}, clk)
	if err != nil {
		return err
	}
	models, err := inference.NewRegistry(onnx.NewModel(mc.Name, sess, classes, mc.InputSize, mc.InputSize))
	if err != nil {
		return multierr.Append(err, sess.Close())
	}
	defer func() { err = multierr.Append(err, models.Close()) }()

	list := checklist.NewStore(classes)
	for _, label := range strings.Split(items, ",") {
		if strings.TrimSpace(label) == "" {
			continue
		}
		if _, err := list.Add(label); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", label, err)
		}
	}

	ctrl, err := loop.New(loop.Options{
		Camera:    noCamera{},
		Frames:    frame.NewSource(nil, clk),
		Models:    models,
		Matcher:   matcher.New(classes, list),
		Checklist: list,
		Clock:     clk,
	})
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, ctrl.Close()) }()

	f, err := os.Open(imagePath)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := ctrl.LoadUpload(f); err != nil {
		return err
	}

	res, err := ctrl.ProcessUploadedImage(context.Background())
	if err != nil {
		return err
	}
	if err := imaging.Save(res.Image, outPath); err != nil {
		return errors.Wrapf(err, "write %s", outPath)
	}

	fmt.Printf("Using %s\n", res.Model)
	if res.Summary != "" {
		fmt.Println(res.Summary)
	}
	for _, d := range res.Detections {
		fmt.Printf("%-16s %5.1f%%  [%d %d %d %d]\n",
			d.Label, d.Percent(), d.BBox.X, d.BBox.Y, d.BBox.W, d.BBox.H)
	}
	for _, hit := range res.Hits {
		fmt.Println(matcher.NewNotification(hit).Message)
	}
	for _, line := range res.Timing.Lines() {
		fmt.Println(line)
	}
	fmt.Printf("Annotated image written to %s\n", outPath)
	return nil
}

func pickModel(models []config.Model, name string) (config.Model, error) {
	if len(models) == 0 {
		return config.Model{}, errors.New("no models configured")
	}
	if name == "" {
		return models[0], nil
	}
	for _, m := range models {
		if m.Name == name {
			return m, nil
		}
	}
	return config.Model{}, errors.Errorf("unknown model %q", name)
}
