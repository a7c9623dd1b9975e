package meshio

import (
	"io"

	"github.com/EliCDavis/polyform/formats/ply"
	"github.com/EliCDavis/polyform/modeling"
	"github.com/EliCDavis/vector/vector3"
	"github.com/banshee-data/roomscan/internal/geometry"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"
)

// ReadPointCloud decodes a PLY stream into a point cloud. Point and
// triangle topologies are both accepted; for a mesh only the vertices are
// kept. Colors and normals are carried over when every vertex has them.
func ReadPointCloud(r io.Reader) (*geometry.PointCloud, error) {
	mesh, err := ply.ReadMesh(r)
	if err != nil {
		return nil, errors.Wrap(err, "read ply")
	}
	pc, err := fromModeling(*mesh)
	if err != nil {
		return nil, errors.Wrap(err, "read ply")
	}
	return pc, nil
}

// fromModeling copies the position, color and normal attributes of a
// polyform mesh into a point cloud.
func fromModeling(mesh modeling.Mesh) (*geometry.PointCloud, error) {
	switch mesh.Topology() {
	case modeling.PointTopology, modeling.TriangleTopology:
	default:
		return nil, errors.Errorf("unsupported topology %d", mesh.Topology())
	}
	if !mesh.HasFloat3Attribute(modeling.PositionAttribute) {
		return nil, geometry.ErrEmptyInput
	}
	positions := mesh.Float3Attribute(modeling.PositionAttribute)
	n := positions.Len()
	if n == 0 {
		return nil, geometry.ErrEmptyInput
	}

	pc := &geometry.PointCloud{Points: make([]r3.Vec, n)}
	for i := 0; i < n; i++ {
		pc.Points[i] = toVec(positions.At(i))
	}
	if mesh.HasFloat3Attribute(modeling.ColorAttribute) {
		if colors := mesh.Float3Attribute(modeling.ColorAttribute); colors.Len() == n {
			pc.Colors = make([]colorful.Color, n)
			for i := 0; i < n; i++ {
				c := colors.At(i)
				pc.Colors[i] = colorful.Color{R: c.X(), G: c.Y(), B: c.Z()}.Clamped()
			}
		}
	}
	if mesh.HasFloat3Attribute(modeling.NormalAttribute) {
		if normals := mesh.Float3Attribute(modeling.NormalAttribute); normals.Len() == n {
			pc.Normals = make([]r3.Vec, n)
			for i := 0; i < n; i++ {
				pc.Normals[i] = toVec(normals.At(i))
			}
		}
	}
	if err := pc.Validate(); err != nil {
		return nil, err
	}
	return pc, nil
}

// WritePointCloud encodes pc as a binary PLY with point topology.
func WritePointCloud(w io.Writer, pc *geometry.PointCloud) error {
	if pc.Len() == 0 {
		return errors.Wrap(geometry.ErrEmptyInput, "write point cloud")
	}
	data := map[string][]vector3.Float64{
		modeling.PositionAttribute: toVectors(pc.Points),
	}
	if pc.HasColors() {
		colors := make([]vector3.Float64, len(pc.Colors))
		for i, c := range pc.Colors {
			c = c.Clamped()
			colors[i] = vector3.New(c.R, c.G, c.B)
		}
		data[modeling.ColorAttribute] = colors
	}
	if pc.HasNormals() {
		data[modeling.NormalAttribute] = toVectors(pc.Normals)
	}

	cloud := modeling.NewPointCloud(data, nil, nil, nil)
	return errors.Wrap(ply.WriteBinary(w, cloud), "write point cloud")
}

// WriteMeshPLY encodes mesh as a binary PLY with triangle topology and
// per-vertex normals when present.
func WriteMeshPLY(w io.Writer, mesh *geometry.Mesh) error {
	if mesh.TriangleCount() == 0 {
		return errors.Wrap(geometry.ErrEmptyInput, "write mesh")
	}
	if err := mesh.Validate(); err != nil {
		return errors.Wrap(err, "write mesh")
	}
	return errors.Wrap(ply.WriteBinary(w, toModelingMesh(mesh)), "write mesh")
}

// toModelingMesh converts mesh into a polyform triangle mesh carrying
// positions and, when present, per-vertex normals.
func toModelingMesh(mesh *geometry.Mesh) modeling.Mesh {
	indices := make([]int, 0, 3*len(mesh.Triangles))
	for _, t := range mesh.Triangles {
		indices = append(indices, t[0], t[1], t[2])
	}
	out := modeling.NewTriangleMesh(indices).
		SetFloat3Attribute(modeling.PositionAttribute, toVectors(mesh.Vertices))
	if len(mesh.Normals) == len(mesh.Vertices) {
		out = out.SetFloat3Attribute(modeling.NormalAttribute, toVectors(mesh.Normals))
	}
	return out
}

func toVec(v vector3.Float64) r3.Vec {
	return r3.Vec{X: v.X(), Y: v.Y(), Z: v.Z()}
}

func toVectors(vs []r3.Vec) []vector3.Float64 {
	out := make([]vector3.Float64, len(vs))
	for i, v := range vs {
		out[i] = vector3.New(v.X, v.Y, v.Z)
	}
	return out
}
