package manifest

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"pancreasprep/pkg/dataerr"
)

// Default manifest file names written by WriteAll.
const (
	ImageList    = "image_files.txt"
	EDTList      = "EDT_files.txt"
	GDTList      = "GDT_files.txt"
	LandmarkList = "landmark_files.txt"
)

// Patterns are filepath.Match patterns applied to base names when
// collecting a dataset. Empty EDT, GDT and Landmark patterns collect an
// image-only manifest.
type Patterns struct {
	Image    string
	EDT      string
	GDT      string
	Landmark string
}

func (p Patterns) withLandmarks() bool {
	return p.Landmark != "" || p.EDT != "" || p.GDT != ""
}

// Collect walks root and builds a manifest with one row per directory that
// holds an image. When landmark patterns are set, the same directory must
// hold exactly one match for each of them. Rows are sorted by directory.
func Collect(root string, p Patterns) (*Manifest, error) {
	if p.Image == "" {
		return nil, dataerr.NewMissingInput("", "no image pattern", nil)
	}
	if p.withLandmarks() && (p.EDT == "" || p.GDT == "" || p.Landmark == "") {
		return nil, dataerr.NewMissingInput("", "EDT, GDT and landmark patterns must be given together", nil)
	}
	for _, pat := range []string{p.Image, p.EDT, p.GDT, p.Landmark} {
		if _, err := filepath.Match(pat, ""); err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pat, err)
		}
	}

	// directory -> pattern -> matches
	found := map[string]map[string][]string{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		for _, pat := range []string{p.Image, p.EDT, p.GDT, p.Landmark} {
			if pat == "" {
				continue
			}
			if ok, _ := filepath.Match(pat, d.Name()); ok {
				dir := filepath.Dir(path)
				if found[dir] == nil {
					found[dir] = map[string][]string{}
				}
				found[dir][pat] = append(found[dir][pat], path)
			}
		}
		return nil
	})
	if err != nil {
		return nil, dataerr.NewMissingInput(root, "walking dataset", err)
	}

	var dirs []string
	for dir, byPattern := range found {
		if len(byPattern[p.Image]) > 0 {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)

	m := &Manifest{}
	if p.withLandmarks() {
		m.EDT, m.GDT, m.Landmarks = []string{}, []string{}, []string{}
	}
	for _, dir := range dirs {
		byPattern := found[dir]
		images := byPattern[p.Image]
		sort.Strings(images)
		if !p.withLandmarks() {
			m.Images = append(m.Images, images...)
			continue
		}

		row := make([]string, 4)
		for i, pat := range []string{p.Image, p.EDT, p.GDT, p.Landmark} {
			if n := len(byPattern[pat]); n != 1 {
				return nil, dataerr.NewConsistency("%s: %d files match %q, want 1", dir, n, pat)
			}
			row[i] = byPattern[pat][0]
		}
		m.Images = append(m.Images, row[0])
		m.EDT = append(m.EDT, row[1])
		m.GDT = append(m.GDT, row[2])
		m.Landmarks = append(m.Landmarks, row[3])
	}
	return m, nil
}

// WriteAll writes the manifest lists into dir under the default names and
// returns their paths in the order Resolve expects.
func WriteAll(dir string, m *Manifest) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("error creating manifest directory: %w", err)
	}

	type list struct {
		name  string
		lines []string
	}
	lists := []list{{ImageList, m.Images}}
	if m.HasLandmarks() {
		lists = append(lists, list{EDTList, m.EDT}, list{GDTList, m.GDT}, list{LandmarkList, m.Landmarks})
	}

	paths := make([]string, 0, len(lists))
	for _, l := range lists {
		path := filepath.Join(dir, l.name)
		if err := WriteLines(path, l.lines); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteLines writes one entry per line with a trailing newline.
func WriteLines(path string, lines []string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
