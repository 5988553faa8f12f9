package dicomconv

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"pancreasprep/internal/logging"
	"pancreasprep/internal/models"
	"pancreasprep/pkg/dataerr"
	"pancreasprep/pkg/volume"
)

// Options configures ConvertSeries.
type Options struct {
	// Workers bounds concurrent file parsing; 0 means GOMAXPROCS.
	Workers int
	Logger  *logging.Logger
}

// ReadSeries parses every regular file in dir. Files that are not readable
// DICOM images are skipped and logged.
func ReadSeries(ctx context.Context, dir string, opts Options) ([]*Slice, error) {
	logger := logging.OrNoop(opts.Logger)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, dataerr.NewMissingInput(dir, "reading DICOM directory", err)
	}

	var paths []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	slices := make([]*Slice, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := ReadSlice(p)
			if err != nil {
				logger.WithPath(p).DebugContext(ctx, "skipping file", "error", err)
				return nil
			}
			slices[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := slices[:0]
	for _, s := range slices {
		if s != nil {
			out = append(out, s)
		}
	}
	logger.InfoContext(ctx, "DICOM directory read", "dir", dir, "files", len(paths), "slices", len(out))
	return out, nil
}

// ConvertSeries converts the dominant series in dir into a reoriented volume
// and writes it to out.
func ConvertSeries(ctx context.Context, dir, out string, opts Options) (*models.Image, error) {
	slices, err := ReadSeries(ctx, dir, opts)
	if err != nil {
		return nil, err
	}
	img, err := Assemble(slices)
	if err != nil {
		if len(slices) == 0 {
			return nil, dataerr.NewDecode(dir, "no usable DICOM slices", err)
		}
		return nil, err
	}
	img = Reorient(img)
	img.Volume.Name = out

	if err := volume.WriteLogged(out, img, opts.Logger); err != nil {
		return nil, err
	}
	return img, nil
}
