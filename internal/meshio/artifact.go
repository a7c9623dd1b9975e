package meshio

import (
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/banshee-data/roomscan/internal/geometry"
	"github.com/pkg/errors"
)

// Supported file extensions.
const (
	ExtPLY    = ".ply"
	ExtSTL    = ".stl"
	ExtOBJ    = ".obj"
	ExtGLTF   = ".gltf"
	ExtGLB    = ".glb"
	ExtPCD    = ".pcd"
	ExtPTS    = ".pts"
	ExtXYZ    = ".xyz"
	ExtXYZN   = ".xyzn"
	ExtXYZRGB = ".xyzrgb"
)

// Extensions lists every extension SaveArtifact understands.
var Extensions = []string{ExtPLY, ExtSTL, ExtOBJ, ExtGLTF, ExtGLB, ExtPCD}

// InputExtensions lists every extension ReadPointCloudFile understands.
var InputExtensions = []string{ExtPLY, ExtPCD, ExtPTS, ExtXYZ, ExtXYZN, ExtXYZRGB}

// ErrUnsupportedFormat is returned for an extension that cannot be read or
// written, or for an artifact the format cannot hold.
var ErrUnsupportedFormat = errors.New("unsupported artifact format")

// MeshOnly reports whether the extension of path holds meshes but not
// point clouds.
func MeshOnly(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtSTL, ExtOBJ, ExtGLTF, ExtGLB:
		return true
	}
	return false
}

// CloudOnly reports whether the extension of path holds point clouds but
// not meshes.
func CloudOnly(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ExtPCD
}

// ReadPointCloudFile loads a point cloud, picking the decoder from the
// extension of path.
func ReadPointCloudFile(path string) (*geometry.PointCloud, error) {
	var decode func(io.Reader) (*geometry.PointCloud, error)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ExtPLY:
		decode = ReadPointCloud
	case ExtPCD:
		decode = ReadPCD
	case ExtPTS:
		decode = ReadPTS
	case ExtXYZ, ExtXYZN, ExtXYZRGB:
		columns := map[string]XYZColumns{ExtXYZ: XYZPositions, ExtXYZN: XYZNormals, ExtXYZRGB: XYZColors}[ext]
		decode = func(r io.Reader) (*geometry.PointCloud, error) { return ReadXYZ(r, columns) }
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "input extension %q", ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open point cloud")
	}
	defer f.Close()

	pc, err := decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return pc, nil
}

// SaveArtifact writes the terminal artifact of a run to path, picking the
// format from its extension. A non-nil mesh wins over the cloud. STL, OBJ
// and glTF hold meshes only; PCD holds clouds only.
func SaveArtifact(path string, cloud *geometry.PointCloud, mesh *geometry.Mesh) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(Extensions, ext) {
		return errors.Wrapf(ErrUnsupportedFormat, "extension %q", ext)
	}
	if mesh == nil && MeshOnly(path) {
		return errors.Wrapf(ErrUnsupportedFormat, "a point cloud cannot be saved as %s", ext)
	}
	if mesh != nil && CloudOnly(path) {
		return errors.Wrapf(ErrUnsupportedFormat, "a mesh cannot be saved as %s", ext)
	}
	if ext == ExtSTL {
		return WriteMeshSTL(path, mesh)
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create artifact")
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch {
	case ext == ExtOBJ:
		err = WriteMeshOBJ(f, mesh)
	case ext == ExtGLTF || ext == ExtGLB:
		err = WriteMeshGLTF(f, name, mesh, ext == ExtGLB)
	case ext == ExtPCD:
		err = WritePCD(f, cloud)
	case mesh != nil:
		err = WriteMeshPLY(f, mesh)
	default:
		err = WritePointCloud(f, cloud)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}

// FallbackPath returns path with its extension switched to .ply. The CLI
// uses it when a mesh was requested but only a cloud is available.
func FallbackPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ExtPLY
}
