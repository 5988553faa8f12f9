package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pancreasprep/pkg/config"
	"pancreasprep/pkg/dicomconv"
	"pancreasprep/pkg/distfield"
	"pancreasprep/pkg/loader"
	"pancreasprep/pkg/manifest"
	"pancreasprep/pkg/resample"
	"pancreasprep/pkg/visualization"
	"pancreasprep/pkg/volume"
)

var errUsage = errors.New("missing required flag")

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func runConvert(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("convert")
	dicomDir := fs.String("dicom", "", "Directory holding one DICOM series")
	out := fs.String("out", "", "Output NIfTI file (.nii or .nii.gz)")
	cores := fs.Int("cores", e.cfg.Resample.NumCores, "Number of files parsed in parallel")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dicomDir == "" || *out == "" {
		fs.Usage()
		return errUsage
	}

	start := time.Now()
	img, err := dicomconv.ConvertSeries(ctx, *dicomDir, *out, dicomconv.Options{Workers: *cores, Logger: e.logger})
	if err != nil {
		return err
	}
	fmt.Printf("Converted %s -> %s\n", *dicomDir, *out)
	fmt.Printf("Size: %v  Spacing: %.3f x %.3f x %.3f mm  (%.2fs)\n",
		img.Volume.Dims, img.Geometry.Spacing[0], img.Geometry.Spacing[1], img.Geometry.Spacing[2], time.Since(start).Seconds())
	return nil
}

func runResample(_ context.Context, e *env, args []string) error {
	fs := newFlagSet("resample")
	in := fs.String("in", "", "Input volume")
	out := fs.String("out", "", "Output volume")
	spacing := fs.Float64("spacing", e.cfg.Resample.TargetSpacing, "Isotropic voxel side length in mm")
	cores := fs.Int("cores", e.cfg.Resample.NumCores, "Number of CPU cores to use")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		fs.Usage()
		return errUsage
	}
	if *out == "" {
		*out = loader.TrimExtension(*in) + "_isotropic.nii.gz"
	}

	start := time.Now()
	if err := resample.File(*in, *out, resample.Options{Spacing: *spacing, Workers: *cores, Logger: e.logger}); err != nil {
		return err
	}
	fmt.Printf("Isotropic file created: %s (%.2fs)\n", *out, time.Since(start).Seconds())
	return nil
}

func fieldOptions(cfg *config.Config, e *env) distfield.Options {
	df := cfg.DistanceFields
	return distfield.Options{
		PositiveName: df.PositiveName,
		NegativeName: df.NegativeName,
		SignedName:   df.SignedName,
		SeedIndex:    df.SeedIndex,
		SnapSeed:     df.SnapSeed,
		StoppingTime: df.StoppingTime,
		OutsideValue: df.OutsideValue,
		Logger:       e.logger,
	}
}

func runEDT(_ context.Context, e *env, args []string) error {
	fs := newFlagSet("edt")
	caseDir := fs.String("case", "", "Case directory holding the segmentation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *caseDir == "" {
		fs.Usage()
		return errUsage
	}

	seg := filepath.Join(*caseDir, e.cfg.DistanceFields.SegmentationName)
	paths, err := distfield.ComputeEuclidean(seg, *caseDir, fieldOptions(e.cfg, e))
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Println("Written:", p)
	}
	return nil
}

func runGDT(_ context.Context, e *env, args []string) error {
	fs := newFlagSet("gdt")
	caseDir := fs.String("case", "", "Case directory holding the segmentation and landmarks")
	snap := fs.Bool("snap", e.cfg.DistanceFields.SnapSeed, "Snap a background seed onto the segmentation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *caseDir == "" {
		fs.Usage()
		return errUsage
	}

	opts := fieldOptions(e.cfg, e)
	opts.SnapSeed = *snap
	df := e.cfg.DistanceFields
	out := filepath.Join(*caseDir, df.GeodesicName)
	err := distfield.ComputeGeodesic(
		filepath.Join(*caseDir, df.SegmentationName),
		filepath.Join(*caseDir, df.LandmarkName),
		out, opts)
	if err != nil {
		return err
	}
	fmt.Println("Written:", out)
	return nil
}

func runManifest(_ context.Context, e *env, args []string) error {
	df := e.cfg.DistanceFields
	fs := newFlagSet("manifest")
	root := fs.String("root", "", "Dataset root with one directory per case")
	out := fs.String("out", "filenames", "Directory for the manifest files")
	image := fs.String("image", "*_isotropic.nii.gz", "Image file pattern")
	edt := fs.String("edt", df.SignedName, "EDT file pattern")
	gdt := fs.String("gdt", df.GeodesicName, "GDT file pattern")
	lm := fs.String("landmark", df.LandmarkName, "Landmark file pattern")
	imagesOnly := fs.Bool("images-only", false, "Collect only the image list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *root == "" {
		fs.Usage()
		return errUsage
	}

	p := manifest.Patterns{Image: *image}
	if !*imagesOnly {
		p.EDT, p.GDT, p.Landmark = *edt, *gdt, *lm
	}
	m, err := manifest.Collect(*root, p)
	if err != nil {
		return err
	}
	paths, err := manifest.WriteAll(*out, m)
	if err != nil {
		return err
	}
	fmt.Printf("Collected %d cases\n", m.Len())
	for _, p := range paths {
		fmt.Println("Written:", p)
	}
	return nil
}

func runSample(ctx context.Context, e *env, args []string) error {
	ds := e.cfg.Dataset
	fs := newFlagSet("sample")
	n := fs.Int("n", 1, "Number of samples to draw")
	agents := fs.Int("agents", ds.Agents, "Agents sharing each scan")
	noLandmarks := fs.Bool("no-landmarks", !ds.ReturnLandmarks, "Load images only")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := *e.cfg
	cfg.Dataset.ReturnLandmarks = !*noLandmarks
	gen, err := loader.New(loader.Options{
		Manifests:       cfg.Manifests(),
		ReturnLandmarks: !*noLandmarks,
		Agents:          *agents,
		CheckFiles:      ds.CheckFiles,
		Logger:          e.logger,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%d cases, %d agents\n", gen.Len(), gen.Agents())

	if *n <= 0 {
		return nil
	}
	drawn := 0
	for s, err := range gen.Samples() {
		if ctx.Err() != nil {
			break
		}
		drawn++
		if err != nil {
			fmt.Printf("[%d] error: %v\n", drawn, err)
			if drawn == *n {
				break
			}
			continue
		}
		line := fmt.Sprintf("[%d] case %d %s shape=%v spacing=%.3g,%.3g,%.3g",
			drawn, s.Index, s.Filenames[0], s.Images[0].Shape(), s.Spacing[0], s.Spacing[1], s.Spacing[2])
		if s.Landmarks != nil {
			line += fmt.Sprintf(" landmarks=%d", len(s.Landmarks))
		}
		if e.cfg.Output.Verbose {
			line += " " + volume.Summarize(s.Images[0]).String()
		}
		fmt.Println(line)
		if drawn == *n {
			break
		}
	}
	return ctx.Err()
}

func runPreview(_ context.Context, e *env, args []string) error {
	fs := newFlagSet("preview")
	in := fs.String("in", "", "Volume to preview")
	out := fs.String("out", "preview", "Output directory")
	axis := fs.String("axis", "mid", "x, y or z for every slice along that axis; mid for the three central slices")
	window := fs.String("window", "", "Display window low,high (default: data range)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		fs.Usage()
		return errUsage
	}

	_, vol, err := volume.NewDecoder(e.logger).Decode(*in)
	if err != nil {
		return err
	}
	viewer := visualization.NewViewer(vol)
	if *window != "" {
		low, high, err := parseWindow(*window)
		if err != nil {
			return err
		}
		if err := viewer.SetWindow(low, high); err != nil {
			return err
		}
	}

	var paths []string
	if *axis == "mid" {
		paths, err = viewer.SaveMidSlices(*out)
	} else {
		paths, err = viewer.SaveSliceSequence(*axis, filepath.Join(*out, *axis))
	}
	if err != nil {
		return err
	}
	fmt.Printf("Saved %d slices to %s\n", len(paths), *out)
	return nil
}

func parseWindow(s string) (low, high float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("window %q: want low,high", s)
	}
	if low, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64); err != nil {
		return 0, 0, fmt.Errorf("window %q: %w", s, err)
	}
	if high, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err != nil {
		return 0, 0, fmt.Errorf("window %q: %w", s, err)
	}
	return low, high, nil
}

func runInitConfig(_ context.Context, _ *env, args []string) error {
	fs := newFlagSet("init-config")
	out := fs.String("out", "config.yaml", "Where to write the configuration")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := config.CreateDefaultConfigFile(*out); err != nil {
		return err
	}
	fmt.Println("Default configuration written to", *out)
	return nil
}
