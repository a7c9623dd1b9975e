// Package meshproc repairs and decimates triangle meshes.
//
// Clean makes a reconstructed mesh topologically valid: coincident
// vertices merged, duplicate and degenerate triangles dropped, every edge
// shared by at most two triangles. Simplify reduces the triangle count with
// quadric error metric edge collapses. Both return a new mesh and leave
// their input untouched.
package meshproc
