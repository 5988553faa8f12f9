// Package loader turns a resolved dataset manifest into an endless, lazy
// stream of training samples for landmark-guided agents.
//
// The generator holds nothing but the manifest lists and a cursor. Every
// call to Next decodes one case from disk, so datasets larger than memory
// can be iterated; the caller decides when to stop.
package loader

import (
	"context"
	"iter"
	"path/filepath"
	"strings"

	"pancreasprep/internal/logging"
	"pancreasprep/internal/models"
	"pancreasprep/pkg/dataerr"
	"pancreasprep/pkg/landmarks"
	"pancreasprep/pkg/manifest"
	"pancreasprep/pkg/volume"
)

// VolumeDecoder decodes one volume file into its image handle and record.
type VolumeDecoder interface {
	Decode(path string) (*models.Image, *models.Volume, error)
}

// LandmarkReader parses one landmark file.
type LandmarkReader interface {
	Read(path string) ([]models.Point3D, error)
}

// Options configures a Generator.
type Options struct {
	// Manifests lists the manifest files: the image list alone, or image,
	// EDT, GDT and landmark lists in that order
	Manifests []string

	// ReturnLandmarks loads distance fields and landmarks with every
	// sample (training and evaluation); when false only images are read
	ReturnLandmarks bool

	// Agents is the number of agents sharing each scan; 0 means 1
	Agents int

	// CheckFiles verifies every listed file exists before iteration starts
	CheckFiles bool

	// Decoder and Landmarks default to the NIfTI decoder and the Slicer
	// markups reader
	Decoder   VolumeDecoder
	Landmarks LandmarkReader

	Logger *logging.Logger
}

// DefaultOptions returns options for a single agent with landmarks.
func DefaultOptions(manifests ...string) Options {
	return Options{
		Manifests:       manifests,
		ReturnLandmarks: true,
		Agents:          1,
	}
}

// Generator cycles through the cases of a manifest in a fixed order,
// 0..N-1 and again from 0, indefinitely. It is not safe for concurrent use.
type Generator struct {
	manifest        *manifest.Manifest
	returnLandmarks bool
	agents          int
	decoder         VolumeDecoder
	landmarks       LandmarkReader
	logger          *logging.Logger

	cursor int
}

// New resolves the manifests and validates the configuration. Every
// configuration error surfaces here, before the first sample is pulled.
func New(opts Options) (*Generator, error) {
	if opts.Agents < 0 {
		return nil, dataerr.NewConsistency("agent count must not be negative, got %d", opts.Agents)
	}
	agents := opts.Agents
	if agents == 0 {
		agents = 1
	}

	paths := opts.Manifests
	if len(paths) == 0 {
		return nil, dataerr.NewMissingInput("", "there is no file given", nil)
	}
	if opts.ReturnLandmarks {
		if len(paths) != 4 {
			return nil, dataerr.NewMissingInput("", "landmarks requested: need image, EDT, GDT and landmark manifests", nil)
		}
	} else {
		// image-only iteration never touches the other lists
		paths = paths[:1]
	}

	m, err := manifest.Resolve(paths...)
	if err != nil {
		return nil, err
	}
	if m.Len() == 0 {
		return nil, dataerr.NewMissingInput(paths[0], "manifest lists no cases", nil)
	}
	if opts.CheckFiles {
		if err := m.Validate(); err != nil {
			return nil, err
		}
	}

	logger := logging.OrNoop(opts.Logger)
	g := &Generator{
		manifest:        m,
		returnLandmarks: opts.ReturnLandmarks,
		agents:          agents,
		decoder:         opts.Decoder,
		landmarks:       opts.Landmarks,
		logger:          logger,
	}
	if g.decoder == nil {
		g.decoder = volume.NewDecoder(logger)
	}
	if g.landmarks == nil {
		g.landmarks = landmarks.Reader{}
	}
	return g, nil
}

// Len returns the number of cases in one cycle.
func (g *Generator) Len() int {
	return g.manifest.Len()
}

// Agents returns the number of image copies per sample.
func (g *Generator) Agents() int {
	return g.agents
}

// Manifest returns the resolved manifest. It must not be modified.
func (g *Generator) Manifest() *manifest.Manifest {
	return g.manifest
}

// Reset restarts the cycle at the first case.
func (g *Generator) Reset() {
	g.cursor = 0
}

// Next decodes the case under the cursor and advances it. The cursor moves
// on even when decoding fails, so a caller may skip a broken case.
func (g *Generator) Next() (*models.Sample, error) {
	idx := g.cursor
	g.cursor = (g.cursor + 1) % g.manifest.Len()
	return g.load(idx)
}

// Samples returns an endless sequence over Next. Stop by breaking out of
// the range loop.
func (g *Generator) Samples() iter.Seq2[*models.Sample, error] {
	return func(yield func(*models.Sample, error) bool) {
		for {
			s, err := g.Next()
			if !yield(s, err) {
				return
			}
		}
	}
}

func (g *Generator) load(idx int) (*models.Sample, error) {
	c := g.manifest.Case(idx)

	img, vol, err := g.decoder.Decode(c.Image)
	if err != nil {
		return nil, err
	}

	s := &models.Sample{
		Index:     idx,
		Images:    make([]*models.Volume, g.agents),
		Filenames: make([]string, g.agents),
		Spacing:   img.Geometry.Spacing,
	}

	if g.returnLandmarks {
		if _, s.EDT, err = g.decoder.Decode(c.EDT); err != nil {
			return nil, err
		}
		if _, s.GDT, err = g.decoder.Decode(c.GDT); err != nil {
			return nil, err
		}
		// all landmarks are handed to every agent
		if s.Landmarks, err = g.landmarks.Read(c.Landmark); err != nil {
			return nil, err
		}
	}

	name := TrimExtension(c.Image)
	for i := 0; i < g.agents; i++ {
		s.Images[i] = vol
		s.Filenames[i] = name
	}

	g.logger.WithCase(idx).LogSample(context.Background(), g.agents, g.returnLandmarks)
	return s, nil
}

// TrimExtension strips the volume extension from path: the 7 characters of
// ".nii.gz", or the last extension otherwise.
func TrimExtension(path string) string {
	if strings.HasSuffix(path, ".nii.gz") {
		return path[:len(path)-len(".nii.gz")]
	}
	return strings.TrimSuffix(path, filepath.Ext(path))
}
