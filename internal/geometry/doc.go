// Package geometry owns the in-memory artifacts threaded through the
// reconstruction pipeline.
//
// Responsibilities: point clouds with optional colors and normals, indexed
// triangle meshes, and the error taxonomy shared by every stage.
// Key types: PointCloud, Mesh, Triangle.
//
// Dependency rule: geometry depends on no other internal package. It never
// touches the filesystem.
package geometry
