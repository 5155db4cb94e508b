package grid

import (
	"bytes"
	"image"
	"strings"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/camcalib/rimage/transform"
)

func TestParseDirection(t *testing.T) {
	for in, want := range map[string]Direction{
		"+col":    PlusCol,
		"-col":    MinusCol,
		" +ROW ":  PlusRow,
		"-row":    MinusRow,
		"+column": PlusCol,
		"-Column": MinusCol,
	} {
		got, err := ParseDirection(in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, want)
	}
	_, err := ParseDirection("up")
	test.That(t, errors.Is(err, transform.ErrInvalidParameter), test.ShouldBeTrue)
}

func TestGenerateCentered(t *testing.T) {
	pts, err := Generate(Config{Rows: 3, Cols: 3, OriginIndex: 5, Spacing: 10, XAxis: PlusCol, YAxis: PlusRow})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pts, test.ShouldHaveLength, 9)
	test.That(t, pts[0].ID, test.ShouldEqual, 1)
	test.That(t, pts[0].Physical, test.ShouldResemble, r2.Point{X: -10, Y: -10})
	test.That(t, pts[4].Physical, test.ShouldResemble, r2.Point{X: 0, Y: 0})
	test.That(t, pts[8].ID, test.ShouldEqual, 9)
	test.That(t, pts[8].Grid, test.ShouldResemble, image.Point{X: 2, Y: 2})
	test.That(t, pts[8].Physical, test.ShouldResemble, r2.Point{X: 10, Y: 10})
}

func TestGenerateRotatedAxes(t *testing.T) {
	// x follows the rows downward, y runs against the columns
	cfg := Config{
		Rows: 2, Cols: 3, OriginIndex: 1, Spacing: 5,
		Origin: r2.Point{X: 100, Y: 200},
		XAxis:  PlusRow, YAxis: MinusCol,
	}
	pts, err := Generate(cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pts[0].Physical, test.ShouldResemble, r2.Point{X: 100, Y: 200})
	// one column right is one step against y
	test.That(t, pts[1].Physical.X, test.ShouldAlmostEqual, 100)
	test.That(t, pts[1].Physical.Y, test.ShouldAlmostEqual, 195)
	// one row down is one step along x
	test.That(t, pts[3].Physical.X, test.ShouldAlmostEqual, 105)
	test.That(t, pts[3].Physical.Y, test.ShouldAlmostEqual, 200)
}

func TestGenerateErrors(t *testing.T) {
	base := Config{Rows: 3, Cols: 4, OriginIndex: 1, Spacing: 1, XAxis: PlusCol, YAxis: PlusRow}

	degenerate := base
	degenerate.YAxis = MinusCol
	pts, err := Generate(degenerate)
	test.That(t, errors.Is(err, transform.ErrDegenerateAxes), test.ShouldBeTrue)
	test.That(t, pts, test.ShouldBeNil)

	same := base
	same.YAxis = PlusCol
	_, err = Generate(same)
	test.That(t, errors.Is(err, transform.ErrDegenerateAxes), test.ShouldBeTrue)

	for _, mod := range []func(*Config){
		func(c *Config) { c.OriginIndex = 0 },
		func(c *Config) { c.OriginIndex = 13 },
		func(c *Config) { c.Spacing = 0 },
		func(c *Config) { c.Rows = 0 },
		func(c *Config) { c.XAxis = "sideways" },
	} {
		cfg := base
		mod(&cfg)
		_, err := Generate(cfg)
		test.That(t, errors.Is(err, transform.ErrInvalidParameter), test.ShouldBeTrue)
	}
}

func TestPairAndSplit(t *testing.T) {
	pts, err := Generate(Config{Rows: 2, Cols: 2, OriginIndex: 1, Spacing: 10, XAxis: PlusCol, YAxis: PlusRow})
	test.That(t, err, test.ShouldBeNil)
	corners := []r2.Point{{X: 1, Y: 1}, {X: 2, Y: 1}, {X: 1, Y: 2}, {X: 2, Y: 2}}

	corr, err := Pair(corners, pts, 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, corr[3], test.ShouldResemble, Correspondence{ID: 4, Image: r2.Point{X: 2, Y: 2}, World: r3.Vector{X: 10, Y: 10, Z: 3}})

	img, world := Split(corr)
	test.That(t, img, test.ShouldResemble, corners)
	test.That(t, world[1], test.ShouldResemble, r3.Vector{X: 10, Y: 0, Z: 3})

	_, err = Pair(corners[:3], pts, 0)
	test.That(t, errors.Is(err, transform.ErrInvalidParameter), test.ShouldBeTrue)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	test.That(t, WriteCornersCSV(&buf, []r2.Point{{X: 1.5, Y: 2}, {X: 3, Y: 4.25}}, false), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldEqual, "id,x,y\n0,1.5,2\n1,3,4.25\n")

	buf.Reset()
	pts, err := Generate(Config{Rows: 1, Cols: 2, OriginIndex: 1, Spacing: 2.5, XAxis: PlusCol, YAxis: PlusRow})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, WriteWorldCSV(&buf, pts, true), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldEqual, "id,world_x,world_y\n1,0,0\n2,2.5,0\n")
}

func TestCorrespondencesCSV(t *testing.T) {
	in := []Correspondence{
		{ID: 1, Image: r2.Point{X: 10.5, Y: 20}, World: r3.Vector{X: 1, Y: 2, Z: 0}},
		{ID: 2, Image: r2.Point{X: 30, Y: 40.25}, World: r3.Vector{X: 3, Y: 4, Z: -1.5}},
	}
	var buf bytes.Buffer
	test.That(t, WriteCorrespondencesCSV(&buf, in), test.ShouldBeNil)
	out, err := ReadCorrespondencesCSV(&buf)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldResemble, in)

	// aliases, float ids and no z column
	out, err = ReadCorrespondencesCSV(strings.NewReader("ID,image_x,image_y,world_x,world_y\n7.0,1,2,3,4\n"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldResemble, []Correspondence{{ID: 7, Image: r2.Point{X: 1, Y: 2}, World: r3.Vector{X: 3, Y: 4}}})

	// ids default to the row number
	out, err = ReadCorrespondencesCSV(strings.NewReader("u,v,x,y\n1,2,3,4\n5,6,7,8\n"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out[1].ID, test.ShouldEqual, 2)

	_, err = ReadCorrespondencesCSV(strings.NewReader("u,v,x\n1,2,3\n"))
	test.That(t, errors.Is(err, transform.ErrInvalidParameter), test.ShouldBeTrue)

	_, err = ReadCorrespondencesCSV(strings.NewReader("u,v,x,y\n1,2,three,4\n"))
	test.That(t, errors.Is(err, transform.ErrInvalidParameter), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "line 2")

	_, err = ReadCorrespondencesCSV(strings.NewReader(""))
	test.That(t, errors.Is(err, transform.ErrInvalidParameter), test.ShouldBeTrue)
}
