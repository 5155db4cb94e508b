package calibfile

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go.viam.com/camcalib/rimage/transform"
)

// codec moves a document to and from a file at path.
type codec interface {
	write(path string, doc *Document) error
	read(path string) (*Document, error)
}

func codecFor(f Format) (codec, error) {
	switch f {
	case FormatJSON:
		return textCodec{marshal: marshalJSON, unmarshal: json.Unmarshal}, nil
	case FormatYAML:
		return textCodec{marshal: marshalYAML, unmarshal: yaml.Unmarshal}, nil
	case FormatSQLite:
		return sqliteCodec{}, nil
	default:
		return nil, transform.NewInvalidParameterError("unknown calibration file format %q", f)
	}
}

type textCodec struct {
	marshal   func(doc *Document) ([]byte, error)
	unmarshal func(data []byte, v interface{}) error
}

func (c textCodec) write(path string, doc *Document) error {
	data, err := c.marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c textCodec) read(path string) (*Document, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := c.unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func marshalJSON(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func marshalYAML(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Marshal renders res in a text format. SQLite has no in-memory form.
func Marshal(res *transform.CalibrationResult, f Format) ([]byte, error) {
	doc, err := NewDocument(res)
	if err != nil {
		return nil, err
	}
	switch f {
	case FormatJSON:
		return marshalJSON(doc)
	case FormatYAML:
		return marshalYAML(doc)
	default:
		return nil, transform.NewInvalidParameterError("cannot marshal %q to bytes", f)
	}
}

// Unmarshal parses a JSON or YAML calibration document. YAML being a superset of JSON, FormatYAML reads
// either.
func Unmarshal(data []byte, f Format) (*transform.CalibrationResult, error) {
	var doc Document
	var err error
	switch f {
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	default:
		return nil, transform.NewInvalidParameterError("cannot unmarshal %q from bytes", f)
	}
	if err != nil {
		return nil, transform.NewFileFormatError("", errors.Wrapf(err, "invalid %s", f).Error())
	}
	return doc.Result("")
}
