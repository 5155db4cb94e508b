package calibfile

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/invopop/jsonschema"
	"go.uber.org/multierr"

	"go.viam.com/camcalib/logging"
	"go.viam.com/camcalib/rimage/transform"
)

type options struct {
	logger logging.Logger
	clock  clock.Clock
	notes  *string
}

// Option configures Save, SaveAs and Load.
type Option func(*options)

// WithLogger logs file operations to logger instead of the global logger.
func WithLogger(logger logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock stamps results that have no timestamp with clk's time.
func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		o.clock = clk
	}
}

// WithNotes replaces the result's notes in the saved file.
func WithNotes(notes string) Option {
	return func(o *options) {
		o.notes = &notes
	}
}

func newOptions(opts []Option) *options {
	o := &options{clock: clock.New()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.Global().Sublogger("calibfile")
	}
	return o
}

// Save writes res to path in the format named by its extension. A path without a known extension gets
// ".json" appended. It returns the path written.
func Save(path string, res *transform.CalibrationResult, opts ...Option) (string, error) {
	f, ok := FormatFromExtension(path)
	if !ok {
		f = FormatJSON
		path += f.Extension()
	}
	return path, SaveAs(path, f, res, opts...)
}

// SaveAs writes res to path as f regardless of path's extension. The file is written to a temporary
// sibling and renamed into place, so a failed save leaves any previous file untouched.
func SaveAs(path string, f Format, res *transform.CalibrationResult, opts ...Option) (err error) {
	o := newOptions(opts)
	c, err := codecFor(f)
	if err != nil {
		return err
	}
	if res != nil && res.Timestamp.IsZero() {
		cp := *res
		cp.Timestamp = o.clock.Now()
		res = &cp
	}
	if res != nil && o.notes != nil {
		res = res.WithNotes(*o.notes)
	}
	doc, err := NewDocument(res)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return transform.NewFileFormatError(path, err.Error())
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return transform.NewFileFormatError(path, err.Error())
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			err = multierr.Combine(err, removeIfExists(tmpPath))
		}
	}()
	if err := tmp.Close(); err != nil {
		return transform.NewFileFormatError(path, err.Error())
	}
	if err := c.write(tmpPath, doc); err != nil {
		return transform.NewFileFormatError(path, err.Error())
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return transform.NewFileFormatError(path, err.Error())
	}
	o.logger.Infow("saved calibration", "path", path, "format", f)
	return nil
}

// SaveAll writes res once per format next to base, replacing base's extension. It returns the paths written;
// a format that fails does not stop the others.
func SaveAll(base string, res *transform.CalibrationResult, opts ...Option) ([]string, error) {
	base = strings.TrimSuffix(base, filepath.Ext(base))
	var paths []string
	var errs error
	for _, f := range []Format{FormatJSON, FormatYAML, FormatSQLite} {
		path := base + f.Extension()
		if err := SaveAs(path, f, res, opts...); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		paths = append(paths, path)
	}
	return paths, errs
}

// Load reads a calibration result, detecting the format from the extension or the content. Any failure
// returns a nil result and an error wrapping transform.ErrFileFormat.
func Load(path string, opts ...Option) (*transform.CalibrationResult, error) {
	o := newOptions(opts)
	if _, err := os.Stat(path); err != nil {
		return nil, transform.NewFileFormatError(path, err.Error())
	}
	f, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	c, err := codecFor(f)
	if err != nil {
		return nil, err
	}
	doc, err := c.read(path)
	if err != nil {
		return nil, transform.NewFileFormatError(path, "invalid "+string(f)+": "+err.Error())
	}
	res, err := doc.Result(path)
	if err != nil {
		return nil, err
	}
	o.logger.Infow("loaded calibration", "path", path, "format", f)
	return res, nil
}

// IsValidFile reports whether path loads as a calibration file.
func IsValidFile(path string) bool {
	res, err := Load(path, WithLogger(logging.NewBlankLogger("calibfile")))
	return err == nil && res != nil
}

// Schema returns the JSON Schema describing Document.
func Schema() *jsonschema.Schema {
	return jsonschema.Reflect(&Document{})
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
