package rimage

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func gradientImage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{uint8(x * 10)})
		}
	}
	return img
}

func TestReadWriteImage(t *testing.T) {
	dir := t.TempDir()
	// unicode names must round trip
	path := filepath.Join(dir, "標定圖像", "棋盤_01.png")
	test.That(t, WriteImageToFile(path, gradientImage(20, 10)), test.ShouldBeNil)

	img, err := ReadImageFromFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 20)
	test.That(t, img.Bounds().Dy(), test.ShouldEqual, 10)

	gray := ToGray(img)
	test.That(t, gray.GrayAt(5, 3).Y, test.ShouldEqual, uint8(50))

	paths, err := ListImages(filepath.Dir(path))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, paths, test.ShouldResemble, []string{path})
}

func TestReadImageErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := ReadImageFromFile(filepath.Join(dir, "missing.jpg"))
	test.That(t, errors.Is(err, ErrImageNotFound), test.ShouldBeTrue)

	txt := filepath.Join(dir, "notes.txt")
	test.That(t, os.WriteFile(txt, []byte("hi"), 0o600), test.ShouldBeNil)
	_, err = ReadImageFromFile(txt)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unsupported image format")

	bad := filepath.Join(dir, "bad.png")
	test.That(t, os.WriteFile(bad, []byte("not a png"), 0o600), test.ShouldBeNil)
	_, err = ReadImageFromFile(bad)
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, IsSupportedImage("A.JPG"), test.ShouldBeTrue)
	test.That(t, IsSupportedImage("a.gif"), test.ShouldBeFalse)
}

func TestConvolveSobel(t *testing.T) {
	m := GrayToDense(gradientImage(8, 6))
	sobelX := GetSobelX()
	gx, err := ConvolveGrayFloat64(m, &sobelX)
	test.That(t, err, test.ShouldBeNil)
	// interior of a ramp of slope 10: (1+2+1)*(10+10)
	test.That(t, gx.At(3, 4), test.ShouldEqual, 80.)
	// reflected border has zero horizontal gradient
	test.That(t, gx.At(3, 0), test.ShouldEqual, 0.)

	sobelY := GetSobelY()
	gy, err := ConvolveGrayFloat64(m, &sobelY)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.Max(gy), test.ShouldEqual, 0.)
	test.That(t, mat.Min(gy), test.ShouldEqual, 0.)

	_, err = ConvolveGrayFloat64(m, &Kernel{[][]float64{{1, 1}}, 2, 1})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestBilinearGray(t *testing.T) {
	gray := gradientImage(8, 6)
	test.That(t, BilinearGray(gray, 2.5, 1.25), test.ShouldAlmostEqual, 25.)
	test.That(t, BilinearGray(gray, -3, 2), test.ShouldAlmostEqual, 0.)
	test.That(t, BilinearGray(gray, 100, 2), test.ShouldAlmostEqual, 70.)
}
