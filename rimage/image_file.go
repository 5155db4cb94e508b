// Package rimage loads calibration images and provides the grayscale and convolution helpers used by
// the corner detectors.
package rimage

import (
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	// register the qoi decoder with image.Decode.
	_ "github.com/xfmoulet/qoi"
	"go.viam.com/utils"
)

// ErrImageNotFound is returned when an image path does not exist.
var ErrImageNotFound = errors.New("image not found")

// SupportedExtensions lists the lower-case file extensions ReadImageFromFile accepts.
var SupportedExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".qoi", ".ppm"}

// IsSupportedImage reports whether path has a supported image extension.
func IsSupportedImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, supported := range SupportedExtensions {
		if ext == supported {
			return true
		}
	}
	return false
}

// ReadImageFromFile decodes the image at path. Paths may contain any unicode characters.
func ReadImageFromFile(path string) (image.Image, error) {
	if !IsSupportedImage(path) {
		return nil, errors.Errorf("unsupported image format %q", filepath.Ext(path))
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrap(ErrImageNotFound, path)
		}
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".ppm":
		//nolint:gosec
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer utils.UncheckedErrorFunc(f.Close)
		img, err := ppm.Decode(f)
		if err != nil {
			return nil, errors.Wrapf(err, "decoding %q", path)
		}
		return img, nil
	default:
		img, err := imaging.Open(path, imaging.AutoOrientation(true))
		if err != nil {
			return nil, errors.Wrapf(err, "decoding %q", path)
		}
		return img, nil
	}
}

// WriteImageToFile writes the image to a file; the format is picked from the extension.
func WriteImageToFile(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return imaging.Save(img, path)
}

// ListImages returns the supported images directly inside dir, sorted by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !IsSupportedImage(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}
