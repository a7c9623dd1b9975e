package meshio

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/EliCDavis/polyform/formats/pts"
	"github.com/banshee-data/roomscan/internal/geometry"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// XYZColumns names the per-line layout of a whitespace separated XYZ file.
type XYZColumns int

const (
	// XYZPositions reads "x y z" and ignores any trailing columns.
	XYZPositions XYZColumns = iota
	// XYZNormals reads "x y z nx ny nz".
	XYZNormals
	// XYZColors reads "x y z r g b" with channels in [0, 1].
	XYZColors
)

// ReadXYZ decodes a plain text point list. Blank lines and lines starting
// with '#' are skipped.
func ReadXYZ(r io.Reader, columns XYZColumns) (*geometry.PointCloud, error) {
	want := 3
	if columns != XYZPositions {
		want = 6
	}

	pc := &geometry.PointCloud{}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < want {
			return nil, errors.Errorf("read xyz: line %d has %d columns, want %d", line, len(fields), want)
		}
		vals, err := parseFloats(fields[:want])
		if err != nil {
			return nil, errors.Wrapf(err, "read xyz: line %d", line)
		}
		pc.Points = append(pc.Points, r3.Vec{X: vals[0], Y: vals[1], Z: vals[2]})
		switch columns {
		case XYZNormals:
			pc.Normals = append(pc.Normals, r3.Vec{X: vals[3], Y: vals[4], Z: vals[5]})
		case XYZColors:
			pc.Colors = append(pc.Colors, colorful.Color{R: vals[3], G: vals[4], B: vals[5]}.Clamped())
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "read xyz")
	}
	if err := pc.Validate(); err != nil {
		return nil, errors.Wrap(err, "read xyz")
	}
	return pc, nil
}

// ReadPTS decodes a Leica PTS file: a point count line followed by
// "x y z [intensity] [r g b]" records with 0..255 color channels.
func ReadPTS(r io.Reader) (*geometry.PointCloud, error) {
	mesh, err := pts.ReadPointCloud(r)
	if err != nil {
		return nil, errors.Wrap(err, "read pts")
	}
	pc, err := fromModeling(*mesh)
	if err != nil {
		return nil, errors.Wrap(err, "read pts")
	}
	return pc, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
