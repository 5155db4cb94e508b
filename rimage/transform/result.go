package transform

import (
	"fmt"
	"strings"
	"time"
)

// SoftwareVersion is stamped on every calibration result this package produces.
const SoftwareVersion = "1.0.0"

// CalibrationResult bundles an intrinsic model, an optional pose and the metadata of the session that
// produced them. Treat it as immutable; WithExtrinsic returns a copy.
type CalibrationResult struct {
	Intrinsic       *CameraIntrinsic
	Extrinsic       *CameraExtrinsic
	Checkerboard    CheckerboardConfig
	NumImagesUsed   int
	PerImageErrors  []float64
	Timestamp       time.Time
	SoftwareVersion string
	Notes           string
}

// NewCalibrationResult returns a result stamped with the current software version.
func NewCalibrationResult(intr *CameraIntrinsic, board CheckerboardConfig, perImageErrors []float64, ts time.Time) *CalibrationResult {
	return &CalibrationResult{
		Intrinsic:       intr,
		Checkerboard:    board,
		NumImagesUsed:   len(perImageErrors),
		PerImageErrors:  perImageErrors,
		Timestamp:       ts,
		SoftwareVersion: SoftwareVersion,
	}
}

// HasExtrinsic reports whether a camera pose is attached.
func (res *CalibrationResult) HasExtrinsic() bool {
	return res.Extrinsic != nil
}

// WithExtrinsic returns a copy of the result with ext attached. The receiver is unchanged.
func (res *CalibrationResult) WithExtrinsic(ext CameraExtrinsic) *CalibrationResult {
	cp := *res
	cp.Extrinsic = &ext
	if res.PerImageErrors != nil {
		cp.PerImageErrors = append([]float64(nil), res.PerImageErrors...)
	}
	return &cp
}

// WithNotes returns a copy of the result with its notes replaced.
func (res *CalibrationResult) WithNotes(notes string) *CalibrationResult {
	cp := *res
	cp.Notes = notes
	return &cp
}

// Summary renders the result as a human readable block.
func (res *CalibrationResult) Summary() string {
	var sb strings.Builder
	rule := strings.Repeat("=", 50)
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(&sb, format+"\n", args...)
	}

	line(rule)
	line("Camera Calibration Result")
	line(rule)
	line("Timestamp: %s", res.Timestamp.Format("2006-01-02 15:04:05"))
	line("Software Version: %s", res.SoftwareVersion)
	if intr := res.Intrinsic; intr != nil {
		d := intr.Coefficients()
		line("")
		line("Intrinsic Parameters:")
		line("  Image Size: %d x %d", intr.ImageSize.Width, intr.ImageSize.Height)
		line("  Focal Length: fx=%.2f, fy=%.2f", intr.Fx(), intr.Fy())
		line("  Principal Point: cx=%.2f, cy=%.2f", intr.Cx(), intr.Cy())
		line("  Reprojection Error: %.4f pixels", intr.ReprojectionError)
		line("")
		line("Distortion Coefficients:")
		line("  k1=%.6f, k2=%.6f", d.K1, d.K2)
		line("  p1=%.6f, p2=%.6f", d.P1, d.P2)
		line("  k3=%.6f", d.K3)
		if d.Rational {
			line("  k4=%.6f, k5=%.6f, k6=%.6f", d.K4, d.K5, d.K6)
		}
	}
	if res.Checkerboard.Rows > 0 {
		line("")
		line("Checkerboard Configuration:")
		line("  Pattern: %d x %d", res.Checkerboard.Cols, res.Checkerboard.Rows)
		line("  Square Size: %g mm", res.Checkerboard.SquareSize)
	}
	if ext := res.Extrinsic; ext != nil {
		pos := ext.CameraPosition()
		line("")
		line("Extrinsic Parameters:")
		line("  Rotation Vector: [%.6f %.6f %.6f]", ext.RotationVector.X, ext.RotationVector.Y, ext.RotationVector.Z)
		line("  Translation Vector: [%.4f %.4f %.4f]", ext.Translation.X, ext.Translation.Y, ext.Translation.Z)
		line("  Camera Position: [%.4f %.4f %.4f]", pos.X, pos.Y, pos.Z)
	}
	if res.Notes != "" {
		line("")
		line("Notes: %s", res.Notes)
	}
	line("")
	line("Images Used: %d", res.NumImagesUsed)
	sb.WriteString(rule)
	return sb.String()
}
