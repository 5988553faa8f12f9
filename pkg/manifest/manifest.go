// Package manifest resolves the plain-text file lists (one path per line)
// that enumerate the images, distance fields and landmarks of a dataset.
package manifest

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"pancreasprep/pkg/dataerr"
)

// Manifest holds one ordered path list per modality. Row i of every
// non-empty list refers to the same subject.
type Manifest struct {
	Images    []string
	EDT       []string
	GDT       []string
	Landmarks []string
}

// Case is the set of paths of one manifest row. Fields are empty when the
// manifest has no such list.
type Case struct {
	Image    string
	EDT      string
	GDT      string
	Landmark string
}

// Resolve reads the manifests at paths. One path gives an image-only
// manifest; four give images, EDT fields, GDT fields and landmarks, in that
// order, and all four lists must have the same length.
func Resolve(paths ...string) (*Manifest, error) {
	switch len(paths) {
	case 0:
		return nil, dataerr.NewMissingInput("", "no manifest given", nil)
	case 1, 4:
	default:
		return nil, dataerr.NewMissingInput("", fmt.Sprintf("expected 1 or 4 manifests, got %d", len(paths)), nil)
	}

	lists := make([][]string, len(paths))
	for i, p := range paths {
		if p == "" {
			return nil, dataerr.NewMissingInput("", fmt.Sprintf("manifest %d has an empty path", i), nil)
		}
		lines, err := ReadLines(p)
		if err != nil {
			return nil, dataerr.NewMissingInput(p, "reading manifest", err)
		}
		lists[i] = lines
	}

	m := &Manifest{Images: lists[0]}
	if len(lists) == 4 {
		m.EDT, m.GDT, m.Landmarks = lists[1], lists[2], lists[3]
		if err := m.checkLengths(paths); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// checkLengths verifies every list has as many rows as the image list.
func (m *Manifest) checkLengths(paths []string) error {
	others := []struct {
		name  string
		lines []string
		path  string
	}{
		{"landmark", m.Landmarks, paths[3]},
		{"EDT", m.EDT, paths[1]},
		{"GDT", m.GDT, paths[2]},
	}
	for _, o := range others {
		if len(o.lines) != len(m.Images) {
			return dataerr.NewConsistency("number of image files (%d, %s) is not equal to number of %s files (%d, %s)",
				len(m.Images), paths[0], o.name, len(o.lines), o.path)
		}
	}
	return nil
}

// Len returns the number of cases.
func (m *Manifest) Len() int {
	return len(m.Images)
}

// HasLandmarks reports whether the manifest carries distance fields and
// landmarks.
func (m *Manifest) HasLandmarks() bool {
	return m.Landmarks != nil
}

// Case returns the paths of row i.
func (m *Manifest) Case(i int) Case {
	c := Case{Image: m.Images[i]}
	if m.HasLandmarks() {
		c.EDT, c.GDT, c.Landmark = m.EDT[i], m.GDT[i], m.Landmarks[i]
	}
	return c
}

// Files returns every path listed in the manifest, row by row.
func (m *Manifest) Files() []string {
	files := make([]string, 0, 4*m.Len())
	for i := 0; i < m.Len(); i++ {
		c := m.Case(i)
		files = append(files, c.Image)
		if m.HasLandmarks() {
			files = append(files, c.EDT, c.GDT, c.Landmark)
		}
	}
	return files
}

// Validate checks that every listed file exists.
func (m *Manifest) Validate() error {
	for _, f := range m.Files() {
		if _, err := os.Stat(f); err != nil {
			return dataerr.NewMissingInput(f, "listed file", err)
		}
	}
	return nil
}

// ReadLines reads a manifest file: one entry per line, line terminators
// stripped, blank lines skipped.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lines := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
