package calibfile

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"go.viam.com/camcalib/rimage/transform"
)

// Format is a calibration file serialization.
type Format string

// The supported serializations.
const (
	FormatJSON   Format = "json"
	FormatYAML   Format = "yaml"
	FormatSQLite Format = "sqlite"
)

// sqliteHeader starts every SQLite database file.
const sqliteHeader = "SQLite format 3\x00"

var formatsByExtension = map[string]Format{
	".json":    FormatJSON,
	".yaml":    FormatYAML,
	".yml":     FormatYAML,
	".db":      FormatSQLite,
	".sqlite":  FormatSQLite,
	".sqlite3": FormatSQLite,
}

// Extension is the preferred file extension for the format.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return ".json"
	case FormatYAML:
		return ".yaml"
	case FormatSQLite:
		return ".db"
	default:
		return ""
	}
}

// ParseFormat maps a user supplied name or extension ("yml", ".sqlite3", "JSON") to a format.
func ParseFormat(name string) (Format, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !strings.HasPrefix(name, ".") {
		name = "." + name
	}
	if f, ok := formatsByExtension[name]; ok {
		return f, nil
	}
	return "", transform.NewInvalidParameterError("unknown calibration file format %q", strings.TrimPrefix(name, "."))
}

// SupportedExtensions lists every extension Save and Load recognize.
func SupportedExtensions() []string {
	return []string{".json", ".yaml", ".yml", ".db", ".sqlite", ".sqlite3"}
}

// FormatFromExtension returns the format named by path's extension, if any.
func FormatFromExtension(path string) (Format, bool) {
	f, ok := formatsByExtension[strings.ToLower(filepath.Ext(path))]
	return f, ok
}

// DetectFormat picks the format of an existing file, by extension when it is a known one and otherwise by
// content: the SQLite header selects SQLite, a leading '{' selects JSON and anything else is read as YAML.
func DetectFormat(path string) (Format, error) {
	if f, ok := FormatFromExtension(path); ok {
		return f, nil
	}
	//nolint:gosec
	file, err := os.Open(path)
	if err != nil {
		return "", transform.NewFileFormatError(path, err.Error())
	}
	defer func() {
		_ = file.Close()
	}()
	return probe(file)
}

func probe(r io.Reader) (Format, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(sqliteHeader))
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if bytes.Equal(head, []byte(sqliteHeader)) {
		return FormatSQLite, nil
	}
	for {
		b, err := br.ReadByte()
		if err != nil {
			return FormatYAML, nil
		}
		switch b {
		case ' ', '\t', '\r', '\n', 0xef, 0xbb, 0xbf:
			continue
		case '{':
			return FormatJSON, nil
		default:
			return FormatYAML, nil
		}
	}
}
