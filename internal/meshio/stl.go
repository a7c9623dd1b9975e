package meshio

import (
	"github.com/banshee-data/roomscan/internal/geometry"
	"github.com/pkg/errors"
	"github.com/unixpickle/model3d/model3d"
)

// toModel3D converts mesh into a model3d mesh, one triangle per face.
func toModel3D(mesh *geometry.Mesh) *model3d.Mesh {
	out := model3d.NewMesh()
	for _, t := range mesh.Triangles {
		var tri model3d.Triangle
		for i, v := range t {
			p := mesh.Vertices[v]
			tri[i] = model3d.Coord3D{X: p.X, Y: p.Y, Z: p.Z}
		}
		out.Add(&tri)
	}
	return out
}

// WriteMeshSTL saves mesh as a binary STL file at path.
func WriteMeshSTL(path string, mesh *geometry.Mesh) error {
	if mesh.TriangleCount() == 0 {
		return errors.Wrap(geometry.ErrEmptyInput, "write stl")
	}
	if err := mesh.Validate(); err != nil {
		return errors.Wrap(err, "write stl")
	}
	return errors.Wrapf(toModel3D(mesh).SaveGroupedSTL(path), "write stl %s", path)
}
