package grid

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"go.viam.com/camcalib/rimage/transform"
)

// Column aliases accepted by ReadCorrespondencesCSV, lower-cased.
var (
	idColumns = []string{"id"}
	uColumns  = []string{"u", "image_x", "img_x"}
	vColumns  = []string{"v", "image_y", "img_y"}
	xColumns  = []string{"x", "world_x"}
	yColumns  = []string{"y", "world_y"}
	zColumns  = []string{"z", "world_z"}
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func csvID(k int, oneBased bool) string {
	if oneBased {
		k++
	}
	return strconv.Itoa(k)
}

// WriteCornersCSV writes corners as id,x,y rows numbered from 0 or 1.
func WriteCornersCSV(w io.Writer, corners []r2.Point, oneBased bool) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "x", "y"}); err != nil {
		return err
	}
	for k, c := range corners {
		if err := cw.Write([]string{csvID(k, oneBased), formatFloat(c.X), formatFloat(c.Y)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteWorldCSV writes generated points as id,world_x,world_y rows numbered from 0 or 1.
func WriteWorldCSV(w io.Writer, points []Point, oneBased bool) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "world_x", "world_y"}); err != nil {
		return err
	}
	for k, p := range points {
		if err := cw.Write([]string{csvID(k, oneBased), formatFloat(p.Physical.X), formatFloat(p.Physical.Y)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCorrespondencesCSV writes pairs in the id,u,v,x,y,z layout ReadCorrespondencesCSV reads.
func WriteCorrespondencesCSV(w io.Writer, corr []Correspondence) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "u", "v", "x", "y", "z"}); err != nil {
		return err
	}
	for _, c := range corr {
		row := []string{
			strconv.Itoa(c.ID),
			formatFloat(c.Image.X), formatFloat(c.Image.Y),
			formatFloat(c.World.X), formatFloat(c.World.Y), formatFloat(c.World.Z),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCorrespondencesCSV reads manually measured pixel/world pairs. The header must name u, v, x and y
// columns; id and z are optional and default to the 1-based row number and 0.
func ReadCorrespondencesCSV(r io.Reader) ([]Correspondence, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, transform.NewInvalidParameterError("correspondence csv is empty")
		}
		return nil, err
	}
	cols := map[string]int{}
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	find := func(aliases []string) int {
		for _, a := range aliases {
			if i, ok := cols[a]; ok {
				return i
			}
		}
		return -1
	}
	idCol, zCol := find(idColumns), find(zColumns)
	required := map[string]int{"u": find(uColumns), "v": find(vColumns), "x": find(xColumns), "y": find(yColumns)}
	for name, i := range required {
		if i < 0 {
			return nil, transform.NewInvalidParameterError("correspondence csv has no %q column", name)
		}
	}

	var out []Correspondence
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		field := func(i int) (float64, error) {
			v, err := cast.ToFloat64E(strings.TrimSpace(rec[i]))
			if err != nil {
				return 0, transform.NewInvalidParameterError("line %d column %q: %v", line, header[i], err)
			}
			return v, nil
		}
		var vals [4]float64
		for k, name := range []string{"u", "v", "x", "y"} {
			if vals[k], err = field(required[name]); err != nil {
				return nil, err
			}
		}
		c := Correspondence{
			ID:    len(out) + 1,
			Image: r2.Point{X: vals[0], Y: vals[1]},
			World: r3.Vector{X: vals[2], Y: vals[3]},
		}
		if zCol >= 0 && strings.TrimSpace(rec[zCol]) != "" {
			if c.World.Z, err = field(zCol); err != nil {
				return nil, err
			}
		}
		if idCol >= 0 {
			// ids are often written as floats
			id, err := field(idCol)
			if err != nil {
				return nil, err
			}
			c.ID = cast.ToInt(id)
		}
		out = append(out, c)
	}
	return out, nil
}
