// Package calibfile persists calibration results. JSON, YAML and SQLite files share one logical schema,
// Document, and any of them round-trips a transform.CalibrationResult without loss.
package calibfile

import (
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/camcalib/rimage/transform"
)

const (
	// FormatVersion is written to every file.
	FormatVersion = "1.0"
	// FormatType identifies calibration files.
	FormatType = "vision-calib"
)

// supportedVersions accepts any 1.x file.
var supportedVersions = mustConstraint("^1")

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return constraint
}

// timestampLayouts are tried in order when reading metadata.timestamp. The zone-less layout reads files
// whose timestamps were written in local ISO 8601 form; those are taken as UTC.
var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"}

// Document is the on-disk form of a calibration result.
type Document struct {
	FormatVersion  string        `json:"format_version" yaml:"format_version" jsonschema:"required,default=1.0"`
	FormatType     string        `json:"format_type" yaml:"format_type" jsonschema:"required,enum=vision-calib"`
	Intrinsic      *IntrinsicDoc `json:"intrinsic" yaml:"intrinsic" jsonschema:"required"`
	Extrinsic      *ExtrinsicDoc `json:"extrinsic,omitempty" yaml:"extrinsic,omitempty"`
	Metadata       MetadataDoc   `json:"metadata" yaml:"metadata"`
	PerImageErrors []float64     `json:"per_image_errors,omitempty" yaml:"per_image_errors,omitempty"`
}

// IntrinsicDoc holds the camera matrix and lens model. Fx, Fy, Cx and Cy duplicate the camera matrix for
// readers that want them by name; they are ignored on load.
type IntrinsicDoc struct {
	CameraMatrix      [][]float64 `json:"camera_matrix" yaml:"camera_matrix" jsonschema:"required,minItems=3,maxItems=3"`
	DistortionCoeffs  []float64   `json:"distortion_coeffs" yaml:"distortion_coeffs"`
	ImageSize         []int       `json:"image_size" yaml:"image_size" jsonschema:"minItems=2,maxItems=2"`
	ReprojectionError float64     `json:"reprojection_error" yaml:"reprojection_error"`
	Fx                float64     `json:"fx" yaml:"fx"`
	Fy                float64     `json:"fy" yaml:"fy"`
	Cx                float64     `json:"cx" yaml:"cx"`
	Cy                float64     `json:"cy" yaml:"cy"`
}

// ExtrinsicDoc holds a camera pose. Only the rotation and translation vectors are read back; the matrix
// and camera position are derived.
type ExtrinsicDoc struct {
	RotationVector    []float64   `json:"rotation_vector" yaml:"rotation_vector" jsonschema:"required,minItems=3,maxItems=3"`
	TranslationVector []float64   `json:"translation_vector" yaml:"translation_vector" jsonschema:"required,minItems=3,maxItems=3"`
	RotationMatrix    [][]float64 `json:"rotation_matrix,omitempty" yaml:"rotation_matrix,omitempty"`
	CameraPosition    []float64   `json:"camera_position,omitempty" yaml:"camera_position,omitempty"`
}

// MetadataDoc describes the session that produced a result.
type MetadataDoc struct {
	Timestamp       string           `json:"timestamp" yaml:"timestamp"`
	Checkerboard    *CheckerboardDoc `json:"checkerboard,omitempty" yaml:"checkerboard,omitempty"`
	NumImagesUsed   int              `json:"num_images_used" yaml:"num_images_used"`
	SoftwareVersion string           `json:"software_version" yaml:"software_version"`
	Notes           string           `json:"notes" yaml:"notes"`
}

// CheckerboardDoc is the calibration target.
type CheckerboardDoc struct {
	Rows         int     `json:"rows" yaml:"rows"`
	Cols         int     `json:"cols" yaml:"cols"`
	SquareSizeMM float64 `json:"square_size_mm" yaml:"square_size_mm"`
}

// NewDocument converts a result to its file form.
func NewDocument(res *transform.CalibrationResult) (*Document, error) {
	if res == nil || res.Intrinsic == nil {
		return nil, transform.NewInvalidParameterError("calibration result has no intrinsic parameters")
	}
	intr := res.Intrinsic
	doc := &Document{
		FormatVersion: FormatVersion,
		FormatType:    FormatType,
		Intrinsic: &IntrinsicDoc{
			CameraMatrix:      rows3(intr.CameraMatrix),
			DistortionCoeffs:  append([]float64{}, intr.Distortion...),
			ImageSize:         []int{intr.ImageSize.Width, intr.ImageSize.Height},
			ReprojectionError: intr.ReprojectionError,
			Fx:                intr.Fx(),
			Fy:                intr.Fy(),
			Cx:                intr.Cx(),
			Cy:                intr.Cy(),
		},
		Metadata: MetadataDoc{
			Timestamp:       res.Timestamp.Format(time.RFC3339Nano),
			NumImagesUsed:   res.NumImagesUsed,
			SoftwareVersion: res.SoftwareVersion,
			Notes:           res.Notes,
		},
	}
	if ext := res.Extrinsic; ext != nil {
		rm := ext.RotationMatrix()
		var m [3][3]float64
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				m[i][j] = rm.At(i, j)
			}
		}
		doc.Extrinsic = &ExtrinsicDoc{
			RotationVector:    vec(ext.RotationVector),
			TranslationVector: vec(ext.Translation),
			RotationMatrix:    rows3(m),
			CameraPosition:    vec(ext.CameraPosition()),
		}
	}
	if res.Checkerboard.Rows > 0 || res.Checkerboard.Cols > 0 {
		doc.Metadata.Checkerboard = &CheckerboardDoc{
			Rows:         res.Checkerboard.Rows,
			Cols:         res.Checkerboard.Cols,
			SquareSizeMM: res.Checkerboard.SquareSize,
		}
	}
	if res.PerImageErrors != nil {
		doc.PerImageErrors = append([]float64{}, res.PerImageErrors...)
	}
	return doc, nil
}

// Result validates the document and converts it back to a calibration result. path only labels errors.
// The camera matrix is checked before anything else is read.
func (doc *Document) Result(path string) (*transform.CalibrationResult, error) {
	if doc.Intrinsic == nil {
		return nil, transform.NewFileFormatError(path, "missing intrinsic section")
	}
	k, err := matrix3(doc.Intrinsic.CameraMatrix)
	if err != nil {
		return nil, transform.NewFileFormatError(path, "camera_matrix: "+err.Error())
	}
	if err := checkVersion(doc.FormatVersion); err != nil {
		return nil, transform.NewFileFormatError(path, err.Error())
	}
	if doc.FormatType != "" && doc.FormatType != FormatType {
		return nil, transform.NewFileFormatError(path, "unexpected format_type "+doc.FormatType)
	}

	var size transform.ImageSize
	switch len(doc.Intrinsic.ImageSize) {
	case 0:
	case 2:
		size = transform.ImageSize{Width: doc.Intrinsic.ImageSize[0], Height: doc.Intrinsic.ImageSize[1]}
	default:
		return nil, transform.NewFileFormatError(path, "image_size must be [width, height]")
	}
	intr, err := transform.NewCameraIntrinsic(k, doc.Intrinsic.DistortionCoeffs, size, doc.Intrinsic.ReprojectionError)
	if err != nil {
		return nil, transform.NewFileFormatError(path, err.Error())
	}

	res := &transform.CalibrationResult{
		Intrinsic:       intr,
		NumImagesUsed:   doc.Metadata.NumImagesUsed,
		SoftwareVersion: doc.Metadata.SoftwareVersion,
		Notes:           doc.Metadata.Notes,
	}
	if res.SoftwareVersion == "" {
		res.SoftwareVersion = "unknown"
	}
	if ext := doc.Extrinsic; ext != nil {
		rvec, err := vector3(ext.RotationVector)
		if err != nil {
			return nil, transform.NewFileFormatError(path, "rotation_vector: "+err.Error())
		}
		tvec, err := vector3(ext.TranslationVector)
		if err != nil {
			return nil, transform.NewFileFormatError(path, "translation_vector: "+err.Error())
		}
		res.Extrinsic = &transform.CameraExtrinsic{RotationVector: rvec, Translation: tvec}
	}
	if cb := doc.Metadata.Checkerboard; cb != nil {
		res.Checkerboard = transform.CheckerboardConfig{Rows: cb.Rows, Cols: cb.Cols, SquareSize: cb.SquareSizeMM}
	}
	if doc.PerImageErrors != nil {
		res.PerImageErrors = append([]float64{}, doc.PerImageErrors...)
	}
	if ts := doc.Metadata.Timestamp; ts != "" {
		if res.Timestamp, err = parseTimestamp(ts); err != nil {
			return nil, transform.NewFileFormatError(path, err.Error())
		}
	}
	return res, nil
}

func checkVersion(v string) error {
	if v == "" {
		return errors.New("missing format_version")
	}
	version, err := semver.NewVersion(v)
	if err != nil {
		return errors.Wrapf(err, "format_version %q", v)
	}
	if !supportedVersions.Check(version) {
		return errors.Errorf("unsupported format_version %s", v)
	}
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, errors.Errorf("unparseable timestamp %q", s)
}

func rows3(m [3][3]float64) [][]float64 {
	return [][]float64{m[0][:], m[1][:], m[2][:]}
}

func matrix3(rows [][]float64) ([3][3]float64, error) {
	var m [3][3]float64
	if len(rows) == 0 {
		return m, errors.New("missing")
	}
	if len(rows) != 3 {
		return m, errors.Errorf("expected 3 rows, got %d", len(rows))
	}
	for i, row := range rows {
		if len(row) != 3 {
			return m, errors.Errorf("row %d has %d values, expected 3", i, len(row))
		}
		copy(m[i][:], row)
	}
	return m, nil
}

func vec(v r3.Vector) []float64 {
	return []float64{v.X, v.Y, v.Z}
}

func vector3(vals []float64) (r3.Vector, error) {
	if len(vals) != 3 {
		return r3.Vector{}, errors.Errorf("expected 3 values, got %d", len(vals))
	}
	return r3.Vector{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}
