package config

import (
	"bytes"
	"io"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go.viam.com/camcalib/logging"
)

// Read reads a config from the given file, expanding ${VAR} references from the environment first.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
// JSON and YAML are both accepted. Fields the file leaves out keep their Default values.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	raw := map[string]interface{}{}
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "failed to decode Config")
	}

	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, errors.Wrapf(err, "failed to decode Config")
	}
	cfg.ConfigFilePath = originalPath

	if err := cfg.Validate(""); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	logger.Debugw("config loaded", "path", originalPath, "checkerboard", cfg.Checkerboard, "backend", cfg.Detection.Backend)
	return cfg, nil
}
