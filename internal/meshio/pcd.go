package meshio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/roomscan/internal/geometry"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// pcdHeader is the subset of a PCD v0.7 header the reader needs.
type pcdHeader struct {
	fields []string
	sizes  []int
	types  []string
	counts []int
	points int
	data   string
}

func (h *pcdHeader) index(name string) int {
	for i, f := range h.fields {
		if f == name {
			return i
		}
	}
	return -1
}

// ReadPCD decodes a Point Cloud Library file with ascii or uncompressed
// binary data. x, y and z are required; a packed rgb field and
// normal_x/normal_y/normal_z are carried over when present.
func ReadPCD(r io.Reader) (*geometry.PointCloud, error) {
	br := bufio.NewReader(r)
	h, err := readPCDHeader(br)
	if err != nil {
		return nil, errors.Wrap(err, "read pcd")
	}

	ix, iy, iz := h.index("x"), h.index("y"), h.index("z")
	if ix < 0 || iy < 0 || iz < 0 {
		return nil, errors.New("read pcd: x, y and z fields are required")
	}
	irgb := h.index("rgb")
	if irgb < 0 {
		irgb = h.index("rgba")
	}
	inx, iny, inz := h.index("normal_x"), h.index("normal_y"), h.index("normal_z")
	hasNormals := inx >= 0 && iny >= 0 && inz >= 0

	var records [][]float64
	switch h.data {
	case "ascii":
		records, err = readPCDASCII(br, h)
	case "binary":
		records, err = readPCDBinary(br, h)
	default:
		err = errors.Errorf("unsupported DATA %q", h.data)
	}
	if err != nil {
		return nil, errors.Wrap(err, "read pcd")
	}

	pc := &geometry.PointCloud{Points: make([]r3.Vec, len(records))}
	if irgb >= 0 {
		pc.Colors = make([]colorful.Color, len(records))
	}
	if hasNormals {
		pc.Normals = make([]r3.Vec, len(records))
	}
	for i, rec := range records {
		pc.Points[i] = r3.Vec{X: rec[ix], Y: rec[iy], Z: rec[iz]}
		if pc.Colors != nil {
			pc.Colors[i] = unpackRGB(rec[irgb], h.types[irgb])
		}
		if hasNormals {
			pc.Normals[i] = r3.Vec{X: rec[inx], Y: rec[iny], Z: rec[inz]}
		}
	}
	if err := pc.Validate(); err != nil {
		return nil, errors.Wrap(err, "read pcd")
	}
	return pc, nil
}

func readPCDHeader(br *bufio.Reader) (*pcdHeader, error) {
	h := &pcdHeader{points: -1}
	width, height := -1, 1
	for h.data == "" {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(err, "header")
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		key, vals := strings.ToUpper(fields[0]), fields[1:]
		switch key {
		case "VERSION", "VIEWPOINT":
		case "FIELDS":
			h.fields = vals
		case "SIZE":
			if h.sizes, err = atois(vals); err != nil {
				return nil, errors.Wrap(err, "SIZE")
			}
		case "TYPE":
			h.types = vals
		case "COUNT":
			if h.counts, err = atois(vals); err != nil {
				return nil, errors.Wrap(err, "COUNT")
			}
		case "WIDTH", "HEIGHT", "POINTS":
			if len(vals) != 1 {
				return nil, errors.Errorf("%s wants one value", key)
			}
			n, err := strconv.Atoi(vals[0])
			if err != nil || n < 0 {
				return nil, errors.Errorf("bad %s %q", key, vals[0])
			}
			switch key {
			case "WIDTH":
				width = n
			case "HEIGHT":
				height = n
			default:
				h.points = n
			}
		case "DATA":
			if len(vals) != 1 {
				return nil, errors.New("DATA wants one value")
			}
			h.data = strings.ToLower(vals[0])
		default:
			return nil, errors.Errorf("unknown header line %q", line)
		}
	}

	n := len(h.fields)
	if n == 0 {
		return nil, errors.New("missing FIELDS")
	}
	if h.counts == nil {
		h.counts = make([]int, n)
		for i := range h.counts {
			h.counts[i] = 1
		}
	}
	if len(h.sizes) != n || len(h.types) != n || len(h.counts) != n {
		return nil, errors.New("FIELDS, SIZE, TYPE and COUNT disagree in length")
	}
	for _, c := range h.counts {
		if c != 1 {
			return nil, errors.New("multi-count fields are not supported")
		}
	}
	if h.points < 0 {
		if width < 0 {
			return nil, errors.New("missing POINTS and WIDTH")
		}
		h.points = width * height
	}
	return h, nil
}

func readPCDASCII(br *bufio.Reader, h *pcdHeader) ([][]float64, error) {
	records := make([][]float64, 0, h.points)
	scanner := bufio.NewScanner(br)
	for scanner.Scan() && len(records) < h.points {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != len(h.fields) {
			return nil, errors.Errorf("point %d has %d values, want %d", len(records), len(fields), len(h.fields))
		}
		vals, err := parseFloats(fields)
		if err != nil {
			return nil, errors.Wrapf(err, "point %d", len(records))
		}
		records = append(records, vals)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(records) != h.points {
		return nil, errors.Errorf("got %d points, header says %d", len(records), h.points)
	}
	return records, nil
}

func readPCDBinary(br *bufio.Reader, h *pcdHeader) ([][]float64, error) {
	stride := 0
	for _, s := range h.sizes {
		stride += s
	}
	buf := make([]byte, stride)
	records := make([][]float64, h.points)
	for i := range records {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, errors.Wrapf(err, "point %d", i)
		}
		rec := make([]float64, len(h.fields))
		off := 0
		for f := range h.fields {
			v, err := decodePCDValue(buf[off:off+h.sizes[f]], h.types[f])
			if err != nil {
				return nil, errors.Wrap(err, h.fields[f])
			}
			rec[f] = v
			off += h.sizes[f]
		}
		records[i] = rec
	}
	return records, nil
}

func decodePCDValue(b []byte, typ string) (float64, error) {
	le := binary.LittleEndian
	switch {
	case typ == "F" && len(b) == 4:
		return float64(math.Float32frombits(le.Uint32(b))), nil
	case typ == "F" && len(b) == 8:
		return math.Float64frombits(le.Uint64(b)), nil
	case typ == "U" && len(b) == 1:
		return float64(b[0]), nil
	case typ == "U" && len(b) == 2:
		return float64(le.Uint16(b)), nil
	case typ == "U" && len(b) == 4:
		return float64(le.Uint32(b)), nil
	case typ == "I" && len(b) == 1:
		return float64(int8(b[0])), nil
	case typ == "I" && len(b) == 2:
		return float64(int16(le.Uint16(b))), nil
	case typ == "I" && len(b) == 4:
		return float64(int32(le.Uint32(b))), nil
	}
	return 0, errors.Errorf("unsupported field type %s%d", typ, len(b))
}

// unpackRGB splits a packed 0xRRGGBB value. PCL stores it either as an
// integer or as the bit pattern of a float32.
func unpackRGB(v float64, typ string) colorful.Color {
	var bits uint32
	if typ == "F" {
		bits = math.Float32bits(float32(v))
	} else {
		bits = uint32(int64(v))
	}
	return colorful.Color{
		R: float64((bits>>16)&0xff) / 255,
		G: float64((bits>>8)&0xff) / 255,
		B: float64(bits&0xff) / 255,
	}
}

func packRGB(c colorful.Color) uint32 {
	r, g, b := c.Clamped().RGB255()
	return uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}

// WritePCD encodes pc as an ascii PCD v0.7 file with packed integer rgb
// and normals when the cloud carries them.
func WritePCD(w io.Writer, pc *geometry.PointCloud) error {
	if pc.Len() == 0 {
		return errors.Wrap(geometry.ErrEmptyInput, "write pcd")
	}
	fields, sizes, types := []string{"x", "y", "z"}, []string{"4", "4", "4"}, []string{"F", "F", "F"}
	if pc.HasColors() {
		fields, sizes, types = append(fields, "rgb"), append(sizes, "4"), append(types, "U")
	}
	if pc.HasNormals() {
		fields = append(fields, "normal_x", "normal_y", "normal_z")
		sizes = append(sizes, "4", "4", "4")
		types = append(types, "F", "F", "F")
	}
	counts := strings.TrimSpace(strings.Repeat("1 ", len(fields)))

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "VERSION .7\n"+
		"FIELDS %s\n"+
		"SIZE %s\n"+
		"TYPE %s\n"+
		"COUNT %s\n"+
		"WIDTH %d\n"+
		"HEIGHT 1\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n"+
		"DATA ascii\n",
		strings.Join(fields, " "), strings.Join(sizes, " "), strings.Join(types, " "), counts,
		pc.Len(), pc.Len())
	for i, p := range pc.Points {
		fmt.Fprintf(bw, "%g %g %g", p.X, p.Y, p.Z)
		if pc.HasColors() {
			fmt.Fprintf(bw, " %d", packRGB(pc.Colors[i]))
		}
		if pc.HasNormals() {
			n := pc.Normals[i]
			fmt.Fprintf(bw, " %g %g %g", n.X, n.Y, n.Z)
		}
		bw.WriteByte('\n')
	}
	return errors.Wrap(bw.Flush(), "write pcd")
}

func atois(vals []string) ([]int, error) {
	out := make([]int, len(vals))
	for i, v := range vals {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
