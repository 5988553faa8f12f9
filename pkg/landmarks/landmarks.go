// Package landmarks reads and writes 3D Slicer markup files (*.mrk.json).
//
// Only the structure the pipeline depends on is modelled: a list of markups,
// each holding a list of control points with a 3-element position. Any other
// field in the document is ignored on read.
package landmarks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"pancreasprep/internal/models"
	"pancreasprep/pkg/dataerr"
)

// schemaURL is the markups schema Slicer writes into every document.
const schemaURL = "https://raw.githubusercontent.com/slicer/slicer/master/Modules/Loadable/Markups/Resources/Schema/markups-schema-v1.0.3.json#"

// Document is the subset of a Slicer markups file used here.
type Document struct {
	Schema  string   `json:"@schema,omitempty"`
	Markups []Markup `json:"markups"`
}

// Markup is one markup node of a document.
type Markup struct {
	Type             string         `json:"type,omitempty"`
	CoordinateSystem string         `json:"coordinateSystem,omitempty"`
	ControlPoints    []ControlPoint `json:"controlPoints"`
}

// ControlPoint is one named point of a markup.
type ControlPoint struct {
	ID       string    `json:"id,omitempty"`
	Label    string    `json:"label,omitempty"`
	Position []float64 `json:"position"`
}

// Reader parses landmark files. It is stateless; the zero value is ready to
// use.
type Reader struct{}

// Read implements the landmark reader used by the sample generator.
func (Reader) Read(path string) ([]models.Point3D, error) {
	return Read(path)
}

// Read returns the control points of the first markup in path, in document
// order.
func Read(path string) ([]models.Point3D, error) {
	doc, err := ReadDocument(path)
	if err != nil {
		return nil, err
	}
	return Points(path, doc)
}

// ReadDocument decodes the markups document at path.
func ReadDocument(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, dataerr.NewParse(path, "opening landmark file", err)
	}

	// Unmarshal rejects anything but whitespace after the document.
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, dataerr.NewParse(path, "decoding JSON", err)
	}
	return &doc, nil
}

// Points extracts the control point positions of the first markup of doc.
// path is only used in error messages.
func Points(path string, doc *Document) ([]models.Point3D, error) {
	if len(doc.Markups) == 0 {
		return nil, dataerr.NewParse(path, "document has no markups", nil)
	}
	cps := doc.Markups[0].ControlPoints
	if cps == nil {
		return nil, dataerr.NewParse(path, "first markup has no controlPoints", nil)
	}

	points := make([]models.Point3D, 0, len(cps))
	for i, cp := range cps {
		if len(cp.Position) != 3 {
			return nil, dataerr.NewParse(path, fmt.Sprintf("control point %d has %d coordinates", i, len(cp.Position)), nil)
		}
		points = append(points, models.Point3D{X: cp.Position[0], Y: cp.Position[1], Z: cp.Position[2]})
	}
	return points, nil
}

// Write stores points as a single fiducial markup. Labels are F-1, F-2, ...
// matching the naming used when the landmarks were placed.
func Write(path string, points []models.Point3D, coordinateSystem string) error {
	m := Markup{Type: "Fiducial", CoordinateSystem: coordinateSystem, ControlPoints: make([]ControlPoint, len(points))}
	for i, p := range points {
		m.ControlPoints[i] = ControlPoint{
			ID:       fmt.Sprintf("%d", i+1),
			Label:    fmt.Sprintf("F-%d", i+1),
			Position: []float64{p.X, p.Y, p.Z},
		}
	}
	doc := Document{Schema: schemaURL, Markups: []Markup{m}}

	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("error marshaling landmarks: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating landmark directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
