package meshio

import (
	"io"

	"github.com/EliCDavis/polyform/formats/gltf"
	"github.com/EliCDavis/polyform/formats/obj"
	"github.com/banshee-data/roomscan/internal/geometry"
	"github.com/pkg/errors"
)

// WriteMeshOBJ encodes mesh as a Wavefront OBJ without a material library.
func WriteMeshOBJ(w io.Writer, mesh *geometry.Mesh) error {
	if mesh.TriangleCount() == 0 {
		return errors.Wrap(geometry.ErrEmptyInput, "write obj")
	}
	if err := mesh.Validate(); err != nil {
		return errors.Wrap(err, "write obj")
	}
	return errors.Wrap(obj.WriteMesh(toModelingMesh(mesh), "", w), "write obj")
}

// WriteMeshGLTF encodes mesh as a single-node glTF scene named name. With
// binary set the output is a GLB container, otherwise JSON with the buffer
// embedded as base64.
func WriteMeshGLTF(w io.Writer, name string, mesh *geometry.Mesh, binary bool) error {
	if mesh.TriangleCount() == 0 {
		return errors.Wrap(geometry.ErrEmptyInput, "write gltf")
	}
	if err := mesh.Validate(); err != nil {
		return errors.Wrap(err, "write gltf")
	}
	scene := gltf.PolyformScene{
		Models: []gltf.PolyformModel{{Name: name, Mesh: toModelingMesh(mesh)}},
	}
	if binary {
		return errors.Wrap(gltf.WriteBinary(scene, w), "write glb")
	}
	return errors.Wrap(gltf.WriteText(scene, w), "write gltf")
}
