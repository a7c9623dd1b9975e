// Package meshio reads and writes point clouds and meshes.
//
// PLY, PTS, OBJ and glTF go through polyform, binary STL through model3d.
// PCD and XYZ text are decoded here. The core packages never import
// meshio; only the commands do.
package meshio
